// Package chartview holds the attendance chart view: the state behind one
// browser's date/period dropdowns and attendance table for a class.
//
// A View is an event loop. Selections and fetch results are posted to its
// queue and applied by a single goroutine, which derives the next fetches
// from what changed:
//
//   - start:           load every sheet of the class (ordered by period)
//   - date changed:    load the sheets for that date and re-derive both lists
//   - selection ready: load the sheets for date+period and flatten their marks
//
// Every dispatched fetch carries a per-stage token. A result whose token is
// no longer the latest for its stage is dropped, so a slow response for an
// old selection never overwrites a newer one.
package chartview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dalemusser/rollchart/internal/domain/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrStopped is returned when posting to a view that has been stopped.
var ErrStopped = errors.New("chart view stopped")

// Source is the document store a View reads sheets from.
type Source interface {
	Find(ctx context.Context, classID string, f models.ChartFilter) ([]models.ChartRecord, error)
}

// Phase names how far the view has progressed for its current selection.
type Phase int

const (
	// Idle: the initial load has not been applied.
	Idle Phase = iota
	// DatesLoaded: dates are known; the current date has not been filtered.
	DatesLoaded
	// DateFiltered: dates and periods come from the current date's sheets.
	DateFiltered
	// AttendanceLoaded: rows hold the marks for the current date and period.
	AttendanceLoaded
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case DatesLoaded:
		return "dates_loaded"
	case DateFiltered:
		return "date_filtered"
	case AttendanceLoaded:
		return "attendance_loaded"
	}
	return "unknown"
}

// MarshalText renders the phase by name in JSON.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a phase name written by MarshalText.
func (p *Phase) UnmarshalText(b []byte) error {
	for _, q := range []Phase{Idle, DatesLoaded, DateFiltered, AttendanceLoaded} {
		if q.String() == string(b) {
			*p = q
			return nil
		}
	}
	return fmt.Errorf("unknown chart phase %q", b)
}

// Stage identifies which fetch produced a result or a failure.
type Stage string

const (
	StageDates      Stage = "dates"
	StageDateFilter Stage = "date_filter"
	StageAttendance Stage = "attendance"
)

// Failure records the last failed fetch of a stage. It is cleared when the
// same stage next succeeds.
type Failure struct {
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
}

// State is a snapshot of a view. Slices in a published State are never
// modified afterwards, so snapshots can be shared freely.
type State struct {
	ClassID        string               `json:"class_id"`
	Phase          Phase                `json:"phase"`
	Dates          []string             `json:"dates"`
	Periods        []string             `json:"periods"`
	SelectedDate   string               `json:"selected_date"`
	SelectedPeriod string               `json:"selected_period"`
	Rows           []models.StudentMark `json:"rows"`
	Loading        bool                 `json:"loading"`
	Failure        *Failure             `json:"failure,omitempty"`
	Version        uint64               `json:"version"`
}

// Ready reports whether both a date and a period are selected.
func (s State) Ready() bool {
	return s.SelectedDate != "" && s.SelectedPeriod != ""
}

type selection struct {
	date   string
	period string
}

type selectDate struct{ date string }

type selectPeriod struct{ period string }

type settleReq struct{ reply chan State }

type fetchDone struct {
	stage   Stage
	token   uint64
	sel     selection
	records []models.ChartRecord
	err     error
}

// View is the attendance chart state for one class, driven by its own
// goroutine between Start and Stop.
type View struct {
	id      string
	classID string
	src     Source
	timeout time.Duration
	log     *zap.Logger

	events    chan any
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc

	// Owned by the loop goroutine.
	state    State
	tokens   map[Stage]uint64
	inflight int
	loaded   bool // initial load applied
	filtered bool // current date's sheets applied
	rowsFor  selection
	waiters  []chan State

	mu       sync.Mutex
	snap     State
	subs     map[int]chan State
	nextSub  int
	closed   bool
	lastSeen time.Time
}

// New builds a view for classID. Each fetch is bounded by fetchTimeout
// (zero means no bound). The view does nothing until Start.
func New(classID string, src Source, fetchTimeout time.Duration, logger *zap.Logger) *View {
	id := uuid.NewString()
	v := &View{
		id:       id,
		classID:  classID,
		src:      src,
		timeout:  fetchTimeout,
		log:      logger.With(zap.String("view_id", id), zap.String("class", classID)),
		events:   make(chan any, 16),
		done:     make(chan struct{}),
		state:    State{ClassID: classID},
		tokens:   make(map[Stage]uint64),
		subs:     make(map[int]chan State),
		lastSeen: time.Now(),
	}
	v.snap = v.state
	return v
}

func (v *View) ID() string      { return v.id }
func (v *View) ClassID() string { return v.classID }

// Start runs the event loop and dispatches the initial load. Later calls
// are no-ops.
func (v *View) Start() {
	v.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		v.cancel = cancel
		go v.run(ctx)
	})
}

// Stop cancels in-flight fetches, ends the loop and closes every
// subscription. It blocks until the loop has exited.
func (v *View) Stop() {
	v.stopOnce.Do(func() {
		// A view that never started has no loop to wait for.
		v.startOnce.Do(func() { close(v.done) })
		if v.cancel != nil {
			v.cancel()
		}
		<-v.done

		v.mu.Lock()
		v.closed = true
		for id, ch := range v.subs {
			close(ch)
			delete(v.subs, id)
		}
		v.mu.Unlock()
	})
}

// Stopped reports whether the loop has exited.
func (v *View) Stopped() bool {
	select {
	case <-v.done:
		return true
	default:
		return false
	}
}

// SelectDate sets the selected date, as picking it from the date dropdown.
func (v *View) SelectDate(ctx context.Context, date string) error {
	v.Touch()
	return v.send(ctx, selectDate{date: date})
}

// SelectPeriod sets the selected period, as picking it from the period dropdown.
func (v *View) SelectPeriod(ctx context.Context, period string) error {
	v.Touch()
	return v.send(ctx, selectPeriod{period: period})
}

// Settle waits until every event posted before it has been applied and no
// fetch is in flight, then returns the resulting state.
func (v *View) Settle(ctx context.Context) (State, error) {
	reply := make(chan State, 1)
	if err := v.send(ctx, settleReq{reply: reply}); err != nil {
		return v.Snapshot(), err
	}
	select {
	case s, ok := <-reply:
		if !ok {
			return v.Snapshot(), ErrStopped
		}
		return s, nil
	case <-ctx.Done():
		return v.Snapshot(), ctx.Err()
	}
}

// Snapshot returns the most recently published state.
func (v *View) Snapshot() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snap
}

// Subscribe returns a channel that always holds the latest state: the
// current one immediately, then each change. Undelivered older states are
// replaced. The channel is closed by the returned cancel func or by Stop.
func (v *View) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		close(ch)
		return ch, func() {}
	}
	id := v.nextSub
	v.nextSub++
	v.subs[id] = ch
	ch <- v.snap

	return ch, func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if c, ok := v.subs[id]; ok {
			delete(v.subs, id)
			close(c)
		}
	}
}

// Subscribers returns the number of open subscriptions.
func (v *View) Subscribers() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.subs)
}

// Touch marks the view as in use.
func (v *View) Touch() {
	v.mu.Lock()
	v.lastSeen = time.Now()
	v.mu.Unlock()
}

// LastSeen returns when the view was last touched.
func (v *View) LastSeen() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastSeen
}

func (v *View) send(ctx context.Context, ev any) error {
	select {
	case <-v.done:
		return ErrStopped
	default:
	}
	select {
	case v.events <- ev:
		return nil
	case <-v.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

/*─────────────────────────────────────────────────────────────────────────────*
| Event loop                                                                  |
*─────────────────────────────────────────────────────────────────────────────*/

func (v *View) run(ctx context.Context) {
	defer close(v.done)

	v.dispatch(ctx, StageDates, selection{}, models.ChartFilter{SortByPeriod: true})
	v.publish()

	for {
		select {
		case <-ctx.Done():
			for _, w := range v.waiters {
				close(w)
			}
			v.waiters = nil
			return
		case ev := <-v.events:
			v.handle(ctx, ev)
		}
	}
}

func (v *View) handle(ctx context.Context, ev any) {
	switch ev := ev.(type) {
	case settleReq:
		if v.inflight == 0 {
			ev.reply <- v.state
			return
		}
		v.waiters = append(v.waiters, ev.reply)
		return
	case selectDate:
		v.setSelection(ctx, selection{date: ev.date, period: v.state.SelectedPeriod})
	case selectPeriod:
		v.setSelection(ctx, selection{date: v.state.SelectedDate, period: ev.period})
	case fetchDone:
		v.inflight--
		v.apply(ctx, ev)
	}

	v.state.Phase = v.phase()
	v.publish()

	if v.inflight == 0 {
		for _, w := range v.waiters {
			w <- v.state
		}
		v.waiters = nil
	}
}

// setSelection moves to next and dispatches whatever the change triggers.
// Setting a selection to its current value triggers nothing.
func (v *View) setSelection(ctx context.Context, next selection) {
	prev := selection{date: v.state.SelectedDate, period: v.state.SelectedPeriod}
	v.state.SelectedDate, v.state.SelectedPeriod = next.date, next.period

	if next.date != prev.date {
		v.filtered = false
		if next.date != "" {
			v.dispatch(ctx, StageDateFilter, next, models.ChartFilter{Date: next.date, SortByPeriod: true})
		} else {
			v.tokens[StageDateFilter]++
		}
	}

	if next == prev {
		return
	}
	v.rowsFor = selection{}
	if next.date != "" && next.period != "" {
		v.state.Loading = true
		v.dispatch(ctx, StageAttendance, next, models.ChartFilter{Date: next.date, Period: next.period})
		return
	}
	v.tokens[StageAttendance]++
	v.state.Rows = nil
	v.state.Loading = false
}

func (v *View) apply(ctx context.Context, ev fetchDone) {
	if latest := v.tokens[ev.stage]; ev.token != latest {
		v.log.Debug("dropping stale fetch result",
			zap.String("stage", string(ev.stage)),
			zap.Uint64("token", ev.token),
			zap.Uint64("latest", latest))
		return
	}

	if ev.err != nil {
		v.log.Error("chart fetch failed",
			zap.String("stage", string(ev.stage)),
			zap.String("date", ev.sel.date),
			zap.String("period", ev.sel.period),
			zap.Error(ev.err))
		v.state.Failure = &Failure{Stage: ev.stage, Message: ev.err.Error()}
		if ev.stage == StageAttendance {
			v.state.Rows = nil
			v.state.Loading = false
		}
		return
	}
	if v.state.Failure != nil && v.state.Failure.Stage == ev.stage {
		v.state.Failure = nil
	}

	switch ev.stage {
	case StageDates:
		v.loaded = true
		dates := distinct(ev.records, func(r models.ChartRecord) string { return r.Date })
		v.state.Dates = dates
		v.state.Periods = append([]string(nil), models.Periods...)
		v.setSelection(ctx, selection{date: first(dates), period: models.Periods[0]})

	case StageDateFilter:
		dates := distinct(ev.records, func(r models.ChartRecord) string { return r.Date })
		periods := distinct(ev.records, func(r models.ChartRecord) string { return r.Period })
		v.state.Dates = dates
		v.state.Periods = periods
		v.setSelection(ctx, selection{date: first(dates), period: first(periods)})
		// Still current unless the reset moved to another date.
		v.filtered = v.tokens[StageDateFilter] == ev.token

	case StageAttendance:
		v.state.Rows = flatten(ev.records)
		v.state.Loading = false
		v.rowsFor = ev.sel
	}
}

func (v *View) phase() Phase {
	cur := selection{date: v.state.SelectedDate, period: v.state.SelectedPeriod}
	switch {
	case !v.loaded:
		return Idle
	case !v.filtered:
		return DatesLoaded
	case v.state.Ready() && !v.state.Loading && v.rowsFor == cur:
		return AttendanceLoaded
	default:
		return DateFiltered
	}
}

func (v *View) dispatch(ctx context.Context, stage Stage, sel selection, f models.ChartFilter) {
	v.tokens[stage]++
	token := v.tokens[stage]
	v.inflight++

	v.log.Debug("dispatching chart fetch",
		zap.String("stage", string(stage)),
		zap.Uint64("token", token),
		zap.String("date", f.Date),
		zap.String("period", f.Period))

	go func() {
		fctx, cancel := ctx, context.CancelFunc(func() {})
		if v.timeout > 0 {
			fctx, cancel = context.WithTimeout(ctx, v.timeout)
		}
		defer cancel()

		records, err := v.src.Find(fctx, v.classID, f)
		select {
		case v.events <- fetchDone{stage: stage, token: token, sel: sel, records: records, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (v *View) publish() {
	v.state.Version++
	s := v.state

	v.mu.Lock()
	defer v.mu.Unlock()
	v.snap = s
	for _, ch := range v.subs {
		select {
		case ch <- s:
		default:
			// Replace the undelivered older state.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}

/*─────────────────────────────────────────────────────────────────────────────*
| Derivations                                                                 |
*─────────────────────────────────────────────────────────────────────────────*/

// distinct returns key(r) for each record in result order, first occurrence wins.
func distinct(records []models.ChartRecord, key func(models.ChartRecord) string) []string {
	out := make([]string, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		k := key(r)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// flatten concatenates every record's marks in result order.
func flatten(records []models.ChartRecord) []models.StudentMark {
	n := 0
	for _, r := range records {
		n += len(r.List)
	}
	out := make([]models.StudentMark, 0, n)
	for _, r := range records {
		out = append(out, r.List...)
	}
	return out
}

func first(xs []string) string {
	if len(xs) == 0 {
		return ""
	}
	return xs[0]
}
