package pdp

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestAnnouncementSchedulerFloorCoercion(t *testing.T) {
	e := newTestEngine(t)
	cfg := DefaultDiscoveryConfig
	cfg.InitialAnnouncements.Period = 0

	s := newAnnouncementScheduler(e, cfg)
	if s.initialPeriod != minAnnouncementPeriod {
		t.Errorf("non-positive initial period should coerce to the floor, got %v", s.initialPeriod)
	}
}

func TestAnnouncementSchedulerTicksAtLeastOnce(t *testing.T) {
	e := newTestEngine(t)
	e.localGUID = testGUID(1)
	guard, err := e.AddParticipantProxy(e.localGUID, false)
	if err != nil {
		t.Fatalf("AddParticipantProxy: %v", err)
	}
	guard.Unlock()

	var ticks atomic.Int32
	e.builtin = &BuiltinEndpoints{Writer: &countingWriter{count: &ticks}, Reader: newMemoryCacheChangeReader()}

	e.hasChangedLocalPDP.Store(true)

	cfg := DefaultDiscoveryConfig
	cfg.InitialAnnouncements = InitialAnnouncements{Count: 1, Period: 5 * time.Millisecond}
	cfg.LeaseDurationAnnouncementPeriod = 50 * time.Millisecond

	s := newAnnouncementScheduler(e, cfg)
	start := time.Now()
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if ticks.Load() > 0 {
			elapsed := time.Since(start)
			if elapsed > 20*time.Millisecond {
				t.Errorf("expected the first announcement to fire near t=0, took %v", elapsed)
			}
			return
		}
		time.Sleep(1 * time.Millisecond)
	}
	t.Errorf("expected at least one announcement tick within 200ms")
}

type countingWriter struct {
	count *atomic.Int32
}

func (w *countingWriter) AddChange(c CacheChange) error {
	w.count.Add(1)
	return nil
}
func (w *countingWriter) RemoveMinChange() bool { return false }
func (w *countingWriter) HistorySize() int      { return 0 }
