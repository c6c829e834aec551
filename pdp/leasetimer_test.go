package pdp

import (
	"testing"
	"time"
)

func newTestEngine(t *testing.T) *PDPEngine {
	t.Helper()
	pool := NewProxyPool()
	e := NewPDPEngine(pool, DefaultAllocation)
	return e
}

// armLease mirrors what OnAliveSample does after AddParticipantProxy: set
// the lease duration, then restart the attached (still-unarmed) timer.
func armLease(pp *ParticipantProxy, d time.Duration) {
	pp.ppd.Data().mu.Lock()
	pp.ppd.Data().LeaseDuration = d
	pp.ppd.Data().mu.Unlock()
	pp.leaseTimer().Restart(d)
}

func TestLeaseTimerFiresAndRemovesOnExpiry(t *testing.T) {
	e := newTestEngine(t)
	e.localGUID = testGUID(1)

	guard, err := e.AddParticipantProxy(testGUID(2), true)
	if err != nil {
		t.Fatalf("AddParticipantProxy: %v", err)
	}
	guid := guard.PPD.GUID
	guard.Unlock()

	e.mu.Lock()
	w := e.ppIndex[guid.Prefix().String()]
	pp := e.pps[w.index].pp
	e.mu.Unlock()

	armLease(pp, 10*time.Millisecond)

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		e.mu.Lock()
		_, stillPresent := e.ppIndex[guid.Prefix().String()]
		e.mu.Unlock()
		if !stillPresent {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("expected lease expiry to remove the participant within 500ms")
}

func TestLeaseTimerRestartDefersExpiry(t *testing.T) {
	e := newTestEngine(t)
	e.localGUID = testGUID(1)

	guard, err := e.AddParticipantProxy(testGUID(3), true)
	if err != nil {
		t.Fatalf("AddParticipantProxy: %v", err)
	}
	guid := guard.PPD.GUID
	guard.Unlock()

	e.mu.Lock()
	w := e.ppIndex[guid.Prefix().String()]
	pp := e.pps[w.index].pp
	e.mu.Unlock()

	armLease(pp, 40*time.Millisecond)

	// Keep asserting liveliness faster than the lease period; the
	// participant must still be present after the original deadline passes.
	stop := time.Now().Add(120 * time.Millisecond)
	for time.Now().Before(stop) {
		pp.AssertLiveliness(time.Now())
		time.Sleep(10 * time.Millisecond)
	}

	e.mu.Lock()
	_, present := e.ppIndex[guid.Prefix().String()]
	e.mu.Unlock()
	if !present {
		t.Errorf("repeated liveliness assertions should have kept the participant alive")
	}

	pp.leaseTimer().Stop()
}

func TestNoLeaseTimerForSelf(t *testing.T) {
	e := newTestEngine(t)
	e.localGUID = testGUID(1)

	guard, err := e.AddParticipantProxy(e.localGUID, false)
	if err != nil {
		t.Fatalf("AddParticipantProxy: %v", err)
	}
	guard.Unlock()

	e.mu.Lock()
	w := e.ppIndex[e.localGUID.Prefix().String()]
	pp := e.pps[w.index].pp
	e.mu.Unlock()

	if pp.leaseTimer() != nil {
		t.Errorf("the local participant's own proxy must never carry a lease timer")
	}
}
