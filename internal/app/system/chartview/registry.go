package chartview

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Registry keeps the live views, one per browser and class, keyed by view ID.
// It is safe for concurrent use.
type Registry struct {
	src          Source
	fetchTimeout time.Duration
	log          *zap.Logger

	mu    sync.Mutex
	views map[string]*View
}

// NewRegistry returns a registry whose views query src, each fetch bounded
// by fetchTimeout.
func NewRegistry(src Source, fetchTimeout time.Duration, logger *zap.Logger) *Registry {
	return &Registry{
		src:          src,
		fetchTimeout: fetchTimeout,
		log:          logger,
		views:        make(map[string]*View),
	}
}

// Open returns the live view with id when it belongs to classID. Otherwise
// it starts a new view for classID; created reports which happened.
func (r *Registry) Open(id, classID string) (v *View, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.views[id]; ok && v.ClassID() == classID && !v.Stopped() {
		v.Touch()
		return v, false
	}

	v = New(classID, r.src, r.fetchTimeout, r.log)
	r.views[v.ID()] = v
	v.Start()
	r.log.Debug("chart view opened",
		zap.String("view_id", v.ID()),
		zap.String("class", classID),
		zap.Int("live_views", len(r.views)))
	return v, true
}

// Get returns the live view with id.
func (r *Registry) Get(id string) (*View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.views[id]
	if !ok || v.Stopped() {
		return nil, false
	}
	v.Touch()
	return v, true
}

// Len returns the number of registered views.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.views)
}

// Sweep stops and removes views untouched for longer than idle that have no
// subscribers. It returns how many were removed.
func (r *Registry) Sweep(idle time.Duration) int {
	cutoff := time.Now().Add(-idle)

	r.mu.Lock()
	var stale []*View
	for id, v := range r.views {
		if v.Stopped() || (v.LastSeen().Before(cutoff) && v.Subscribers() == 0) {
			stale = append(stale, v)
			delete(r.views, id)
		}
	}
	r.mu.Unlock()

	for _, v := range stale {
		v.Stop()
	}
	return len(stale)
}

// Close stops every view.
func (r *Registry) Close() {
	r.mu.Lock()
	views := r.views
	r.views = make(map[string]*View)
	r.mu.Unlock()

	for _, v := range views {
		v.Stop()
	}
}
