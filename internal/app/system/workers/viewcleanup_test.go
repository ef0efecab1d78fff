package workers_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/dalemusser/rollchart/internal/app/system/workers"
	"go.uber.org/zap"
)

type countingSweeper struct {
	calls atomic.Int32
	idle  atomic.Int64
}

func (s *countingSweeper) Sweep(idle time.Duration) int {
	s.calls.Add(1)
	s.idle.Store(int64(idle))
	return 1
}

func TestViewCleanup_SweepsOnInterval(t *testing.T) {
	sw := &countingSweeper{}
	w := workers.NewViewCleanup(sw, zap.NewNop(), 5*time.Millisecond, time.Minute)
	w.Start()

	deadline := time.Now().Add(2 * time.Second)
	for sw.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	w.Stop()

	if sw.calls.Load() < 2 {
		t.Fatalf("expected at least 2 sweeps, got %d", sw.calls.Load())
	}
	if time.Duration(sw.idle.Load()) != time.Minute {
		t.Errorf("idle threshold = %v, want 1m", time.Duration(sw.idle.Load()))
	}
}

func TestViewCleanup_StopIsIdempotent(t *testing.T) {
	w := workers.NewViewCleanup(&countingSweeper{}, zap.NewNop(), time.Hour, time.Minute)
	w.Start()
	w.Stop()
	w.Stop()
}
