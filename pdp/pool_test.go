package pdp

import (
	"errors"
	"sync"
	"testing"

	"github.com/liamstask/go-rtps-pdp/rtps"
)

func testGUID(b byte) rtps.GUID {
	prefix := make(rtps.GUIDPrefix, 12)
	prefix[11] = b
	return rtps.NewGUID(prefix, rtps.ENTITYID_PARTICIPANT)
}

func TestAcquireParticipantInterns(t *testing.T) {
	p := NewProxyPool()
	p.InitializeOrGrow(DefaultAllocation)

	guid := testGUID(1)

	s1, created1, err := p.AcquireParticipant(guid.Prefix())
	if err != nil {
		t.Fatalf("AcquireParticipant: %v", err)
	}
	if !created1 {
		t.Errorf("expected created=true on first acquire")
	}

	s2, created2, err := p.AcquireParticipant(guid.Prefix())
	if err != nil {
		t.Fatalf("AcquireParticipant (second): %v", err)
	}
	if created2 {
		t.Errorf("expected created=false on re-acquire of the same prefix")
	}
	if s1.Data() != s2.Data() {
		t.Errorf("re-acquiring the same prefix should return the same pooled PPD")
	}

	s1.Release()
	s2.Release()
}

func TestParticipantPoolExhausted(t *testing.T) {
	p := NewProxyPool()
	p.InitializeOrGrow(Allocation{
		Participants: ParticipantAllocation{Initial: 1, Maximum: 1},
	})

	s1, _, err := p.AcquireParticipant(testGUID(1).Prefix())
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	_, _, err = p.AcquireParticipant(testGUID(2).Prefix())
	if err == nil {
		t.Fatalf("expected PoolExhaustedError at the maximum ceiling")
	}
	var poolErr *PoolExhaustedError
	if !errors.As(err, &poolErr) {
		t.Errorf("expected *PoolExhaustedError, got %T", err)
	} else if poolErr.Kind() != KindPoolExhausted {
		t.Errorf("expected Kind()==KindPoolExhausted, got %v", poolErr.Kind())
	}

	s1.Release()
}

func TestWeakHandleSoundnessAfterRelease(t *testing.T) {
	p := NewProxyPool()
	p.InitializeOrGrow(DefaultAllocation)

	guid := testGUID(3)
	strong, _, err := p.AcquireParticipant(guid.Prefix())
	if err != nil {
		t.Fatalf("AcquireParticipant: %v", err)
	}
	weak := strong.Weak()

	strong.Release()

	if _, ok := p.upgradeParticipant(weak); ok {
		t.Errorf("upgradeParticipant should fail once the slot's generation has moved on")
	}
}

func TestCloneKeepsSlotAliveUntilBothReleased(t *testing.T) {
	p := NewProxyPool()
	p.InitializeOrGrow(DefaultAllocation)

	guid := testGUID(4)
	strong, _, err := p.AcquireParticipant(guid.Prefix())
	if err != nil {
		t.Fatalf("AcquireParticipant: %v", err)
	}
	clone := strong.Clone()
	weak := strong.Weak()

	strong.Release()
	// upgradeParticipant hands back a strong reference of its own; drop it so
	// the clone is the only holder left.
	if up, ok := p.upgradeParticipant(weak); !ok {
		t.Errorf("slot should still be alive while the clone holds a reference")
	} else {
		up.Release()
	}

	clone.Release()
	if _, ok := p.upgradeParticipant(weak); ok {
		t.Errorf("slot should be returned to the pool once the last clone releases")
	}
}

func TestReleaseIfLastRejectsLeakedHandles(t *testing.T) {
	p := NewProxyPool()
	p.InitializeOrGrow(DefaultAllocation)

	strong, _, err := p.AcquireParticipant(testGUID(5).Prefix())
	if err != nil {
		t.Fatalf("AcquireParticipant: %v", err)
	}

	if err := p.ReleaseIfLast(); err == nil {
		t.Errorf("expected ReleaseIfLast to report the outstanding strong handle")
	}

	strong.Release()
}

func TestReleaseIfLastSucceedsWhenClean(t *testing.T) {
	p := NewProxyPool()
	p.InitializeOrGrow(DefaultAllocation)

	strong, _, err := p.AcquireParticipant(testGUID(6).Prefix())
	if err != nil {
		t.Fatalf("AcquireParticipant: %v", err)
	}
	strong.Release()

	if err := p.ReleaseIfLast(); err != nil {
		t.Errorf("ReleaseIfLast should succeed once every strong handle is released: %v", err)
	}
}

func TestAcquireParticipantConcurrentSameGUID(t *testing.T) {
	p := NewProxyPool()
	p.InitializeOrGrow(DefaultAllocation)

	guid := testGUID(7)

	const n = 32
	var wg sync.WaitGroup
	results := make([]StrongPPD, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, _, err := p.AcquireParticipant(guid.Prefix())
			if err != nil {
				t.Errorf("AcquireParticipant[%d]: %v", i, err)
				return
			}
			results[i] = s
		}(i)
	}
	wg.Wait()

	first := results[0].Data()
	for i, s := range results {
		if s.Data() != first {
			t.Errorf("concurrent acquire[%d] returned a different pooled PPD", i)
		}
	}
	for _, s := range results {
		s.Release()
	}
}
