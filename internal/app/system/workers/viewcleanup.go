// internal/app/system/workers/viewcleanup.go
package workers

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sweeper removes views idle for longer than the given duration and reports
// how many it removed. *chartview.Registry satisfies it.
type Sweeper interface {
	Sweep(idle time.Duration) int
}

// ViewCleanup is a background worker that stops chart views nobody is using.
type ViewCleanup struct {
	views         Sweeper
	log           *zap.Logger
	interval      time.Duration
	idleThreshold time.Duration
	stopCh        chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
}

// NewViewCleanup creates a new view cleanup worker.
//
// Parameters:
//   - views: the registry to sweep
//   - logger: zap logger for logging
//   - interval: how often to sweep (e.g., 1 minute)
//   - idleThreshold: how long a view must be untouched before it is stopped (e.g., 30 minutes)
func NewViewCleanup(views Sweeper, logger *zap.Logger, interval, idleThreshold time.Duration) *ViewCleanup {
	return &ViewCleanup{
		views:         views,
		log:           logger,
		interval:      interval,
		idleThreshold: idleThreshold,
		stopCh:        make(chan struct{}),
	}
}

// Start begins the background sweep loop.
func (w *ViewCleanup) Start() {
	w.wg.Add(1)
	go w.run()
	w.log.Info("view cleanup worker started",
		zap.Duration("interval", w.interval),
		zap.Duration("idle_threshold", w.idleThreshold))
}

// Stop signals the worker to stop and waits for it to finish.
// It is safe to call more than once.
func (w *ViewCleanup) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.wg.Wait()
		w.log.Info("view cleanup worker stopped")
	})
}

func (w *ViewCleanup) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.cleanup()
		}
	}
}

func (w *ViewCleanup) cleanup() {
	if n := w.views.Sweep(w.idleThreshold); n > 0 {
		w.log.Info("stopped idle chart views", zap.Int("count", n))
	}
}
