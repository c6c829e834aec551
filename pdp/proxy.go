package pdp

import (
	"sync"
	"time"

	"github.com/liamstask/go-rtps-pdp/rtps"
)

// ParticipantProxy (PP) is the local wrapper for one PPD as seen by one
// local PDPEngine. Equality and lookup are by GUID prefix.
type ParticipantProxy struct {
	mu sync.Mutex

	ppd StrongPPD

	Readers []StrongRPD
	Writers []StrongWPD

	BuiltinReaders []StrongRPD
	BuiltinWriters []StrongWPD

	lease *LeaseTimer

	ShouldCheckLeaseDuration     bool
	LastReceivedMessageTimestamp time.Time
}

// GUID returns the participant's GUID (entity id is always
// rtps.ENTITYID_PARTICIPANT for a PP's own PPD).
func (pp *ParticipantProxy) GUID() rtps.GUID {
	return pp.ppd.GUID()
}

// PPD returns the PP's pooled PPD data pointer. Callers must take its own
// mutex before reading or writing fields.
func (pp *ParticipantProxy) PPD() *ParticipantProxyData {
	return pp.ppd.Data()
}

// AssertLiveliness updates LastReceivedMessageTimestamp to now and, if a
// LeaseTimer is attached, reschedules it from the fresh timestamp.
func (pp *ParticipantProxy) AssertLiveliness(now time.Time) {
	pp.mu.Lock()
	pp.LastReceivedMessageTimestamp = now
	lease := pp.lease
	strong := pp.ppd
	pp.mu.Unlock()

	if lease == nil || strong.slot == nil {
		return
	}

	ppd := strong.Data()
	ppd.mu.Lock()
	leaseDuration := ppd.LeaseDuration
	ppd.mu.Unlock()

	lease.Restart(leaseDuration)
}

// SetLeaseEvent attaches the LeaseTimer that fires on missed liveliness.
func (pp *ParticipantProxy) SetLeaseEvent(t *LeaseTimer) {
	pp.mu.Lock()
	pp.lease = t
	pp.mu.Unlock()
}

func (pp *ParticipantProxy) leaseTimer() *LeaseTimer {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return pp.lease
}

// Clear drops every strong reference held by this PP (releasing the PPD and
// all endpoint proxies back to the pool when their last reference goes away)
// and stops the LeaseTimer. Called from RemoveRemoteParticipant step 7,
// strictly after the engine mutex has been released, so none of these
// Release() calls ever runs while the pool mutex is held by this call path.
func (pp *ParticipantProxy) Clear() {
	pp.mu.Lock()
	lease := pp.lease
	ppd := pp.ppd
	readers := pp.Readers
	writers := pp.Writers
	builtinReaders := pp.BuiltinReaders
	builtinWriters := pp.BuiltinWriters
	pp.lease = nil
	pp.ppd = StrongPPD{}
	pp.Readers = nil
	pp.Writers = nil
	pp.BuiltinReaders = nil
	pp.BuiltinWriters = nil
	pp.ShouldCheckLeaseDuration = false
	pp.mu.Unlock()

	if lease != nil {
		lease.Stop()
	}
	for _, r := range readers {
		r.Release()
	}
	for _, w := range writers {
		w.Release()
	}
	for _, r := range builtinReaders {
		r.Release()
	}
	for _, w := range builtinWriters {
		w.Release()
	}
	if ppd.slot != nil {
		ppd.Release()
	}
}

// findReader returns the index of the StrongRPD in pp.Readers whose GUID
// matches, or -1.
func (pp *ParticipantProxy) findReader(guid rtps.GUID) int {
	for i, r := range pp.Readers {
		if guidEqual(r.Data().GUID, guid) {
			return i
		}
	}
	return -1
}

func (pp *ParticipantProxy) findWriter(guid rtps.GUID) int {
	for i, w := range pp.Writers {
		if guidEqual(w.Data().GUID, guid) {
			return i
		}
	}
	return -1
}

func (pp *ParticipantProxy) findBuiltinReader(eid rtps.EntityID) int {
	for i, r := range pp.BuiltinReaders {
		if r.Data().GUID.EntityID() == eid {
			return i
		}
	}
	return -1
}

func (pp *ParticipantProxy) findBuiltinWriter(eid rtps.EntityID) int {
	for i, w := range pp.BuiltinWriters {
		if w.Data().GUID.EntityID() == eid {
			return i
		}
	}
	return -1
}

func guidEqual(a, b rtps.GUID) bool {
	return a.EntityID() == b.EntityID() && a.Prefix().String() == b.Prefix().String()
}
