package pdp

import (
	"testing"

	"github.com/liamstask/go-rtps-pdp/rtps"
)

func TestSnapshotLockedIsIndependentCopy(t *testing.T) {
	ppd := NewParticipantProxyData()
	ppd.GUID = testGUID(1)
	ppd.ParticipantName = "original"
	ppd.DefaultUnicastLocators = []rtps.Locator{rtps.NewUDPv4Locator(nil, 1)}

	ppd.mu.Lock()
	snap := ppd.snapshotLocked()
	ppd.mu.Unlock()

	ppd.mu.Lock()
	ppd.ParticipantName = "mutated"
	ppd.DefaultUnicastLocators[0] = rtps.NewUDPv4Locator(nil, 2)
	ppd.mu.Unlock()

	if snap.ParticipantName != "original" {
		t.Errorf("snapshot should not observe later mutation of ParticipantName, got %q", snap.ParticipantName)
	}
	if snap.DefaultUnicastLocators[0].Port != 1 {
		t.Errorf("snapshot's locator slice should be an independent copy, got port %d", snap.DefaultUnicastLocators[0].Port)
	}
}

func TestInstanceKeyDerivedFromGUID(t *testing.T) {
	a := instanceKeyFromGUID(testGUID(5))
	b := instanceKeyFromGUID(testGUID(5))
	c := instanceKeyFromGUID(testGUID(6))

	if a != b {
		t.Errorf("instanceKeyFromGUID should be deterministic for the same GUID")
	}
	if a == c {
		t.Errorf("instanceKeyFromGUID should differ across distinct GUIDs")
	}
}

func TestResetClearsVersionBackToInitial(t *testing.T) {
	ppd := NewParticipantProxyData()
	ppd.GUID = testGUID(1)
	ppd.Version = 42
	ppd.reset()

	if ppd.Version != newPPDInitialVersion() {
		t.Errorf("reset should restore the initial version, got %v", ppd.Version)
	}
	if !ppd.GUID.Unknown() {
		t.Errorf("reset should clear the GUID back to unknown")
	}
}
