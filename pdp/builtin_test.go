package pdp

import (
	"testing"

	"github.com/liamstask/go-rtps-pdp/rtps"
)

func TestMemoryCacheChangeWriterTrimsToMaxLen(t *testing.T) {
	w := newMemoryCacheChangeWriter(2)
	for i := 0; i < 5; i++ {
		if err := w.AddChange(CacheChange{SeqNum: rtps.SeqNum(i)}); err != nil {
			t.Fatalf("AddChange: %v", err)
		}
	}
	if w.HistorySize() != 2 {
		t.Errorf("expected history trimmed to 2, got %d", w.HistorySize())
	}
}

func TestMemoryCacheChangeReaderRemoveChangeByKey(t *testing.T) {
	r := newMemoryCacheChangeReader()
	keyA := [16]byte{1}
	keyB := [16]byte{2}
	r.changes = []CacheChange{{InstanceKey: keyA}, {InstanceKey: keyB}}

	r.RemoveChange(keyA)

	var remaining []CacheChange
	r.Iterate(func(c CacheChange) bool {
		remaining = append(remaining, c)
		return true
	})
	if len(remaining) != 1 || remaining[0].InstanceKey != keyB {
		t.Errorf("expected only keyB to remain, got %v", remaining)
	}
}
