package pdp

import (
	"sync"
	"time"

	"github.com/liamstask/go-rtps-pdp/rtps"
)

// LeaseTimer is a single-shot, re-armable timer per remote ParticipantProxy,
// built on time.AfterFunc. Its callback captures only a
// weak (index, generation) handle into the owning PDPEngine's participant
// table, never a strong *ParticipantProxy, so an already-removed PP is never
// kept alive by its own expired timer.
type LeaseTimer struct {
	mu            sync.Mutex
	timer         *time.Timer
	engine        *PDPEngine
	weak          weakHandle
	guid          rtps.GUID
	leaseDuration time.Duration
	stopped       bool
}

// newLeaseTimer constructs a stopped timer for guid. The initial interval is
// zero ("fire at first scheduling"); callers are expected to populate the PP
// and call UpdateInterval/Start before the timer matters.
func newLeaseTimer(engine *PDPEngine, weak weakHandle, guid rtps.GUID) *LeaseTimer {
	return &LeaseTimer{engine: engine, weak: weak, guid: guid}
}

// Start arms the timer for the first time, at the currently configured
// interval (zero means "fire immediately", matching the contract above).
func (lt *LeaseTimer) Start() {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if lt.stopped {
		return
	}
	lt.timer = time.AfterFunc(lt.leaseDuration, lt.fire)
}

// UpdateInterval sets the lease interval used by future reschedules. It does
// not itself restart the timer; call Restart for that.
func (lt *LeaseTimer) UpdateInterval(d time.Duration) {
	lt.mu.Lock()
	lt.leaseDuration = d
	lt.mu.Unlock()
}

// Restart schedules the timer to fire leaseDuration from now, replacing any
// currently pending firing.
func (lt *LeaseTimer) Restart(leaseDuration time.Duration) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if lt.stopped {
		return
	}
	lt.leaseDuration = leaseDuration
	if lt.timer != nil {
		lt.timer.Stop()
	}
	lt.timer = time.AfterFunc(leaseDuration, lt.fire)
}

// Stop cancels any pending firing; the timer will never fire again.
func (lt *LeaseTimer) Stop() {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	lt.stopped = true
	if lt.timer != nil {
		lt.timer.Stop()
	}
}

// fire runs on the timer's own goroutine. It computes
// deadline = lastReceivedMessageTimestamp + leaseDuration and either removes
// the remote participant (deadline passed) or re-arms for the remainder.
func (lt *LeaseTimer) fire() {
	lt.mu.Lock()
	if lt.stopped {
		lt.mu.Unlock()
		return
	}
	leaseDuration := lt.leaseDuration
	guid := lt.guid
	weak := lt.weak
	lt.mu.Unlock()

	pp, ok := lt.engine.upgradeParticipant(weak)
	if !ok {
		// Already removed from the table; nothing to do. Matches the
		// "never keep a removed PP alive" rule by not even trying.
		return
	}

	pp.mu.Lock()
	last := pp.LastReceivedMessageTimestamp
	pp.mu.Unlock()

	now := time.Now()
	deadline := last.Add(leaseDuration)
	if !now.Before(deadline) {
		if _, err := lt.engine.RemoveRemoteParticipant(guid, Dropped); err != nil {
			lt.engine.log.Warn().Err(err).Str("guid", guid.String()).Msg("lease expiry removal failed")
		}
		return
	}

	lt.mu.Lock()
	if !lt.stopped {
		lt.timer = time.AfterFunc(deadline.Sub(now), lt.fire)
	}
	lt.mu.Unlock()
}
