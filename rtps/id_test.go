package rtps

import (
	"bytes"
	"testing"
)

func TestGUIDBytesRoundtrip(t *testing.T) {
	cases := []struct{ eid EntityID }{
		{ENTITYID_PARTICIPANT},
		{ENTITYID_SPDP_BUILTIN_PARTICIPANT_WRITER},
		{EntityID(ENTITYID_ALLOCSTEP | ENTITYID_KIND_READER_NO_KEY)},
	}

	prefix := NewGUIDPrefix()
	for i := range prefix {
		prefix[i] = byte(i + 1)
	}

	for i, c := range cases {
		g := NewGUID(prefix, c.eid)
		out := GUIDFromBytes(g.Bytes())
		if !out.Equal(&g) {
			t.Errorf("[%d] roundtrip mismatch, got %v want %v", i, out.String(), g.String())
		}
		if !bytes.Equal(out.Prefix(), prefix) {
			t.Errorf("[%d] prefix mismatch, got %v", i, out.Prefix())
		}
		if out.EntityID() != c.eid {
			t.Errorf("[%d] entity id mismatch, got 0x%x want 0x%x", i, out.EntityID(), c.eid)
		}
	}
}

func TestGUIDUnknown(t *testing.T) {
	var zero GUID
	if !zero.Unknown() {
		t.Errorf("zero-value GUID should be unknown")
	}

	known := NewGUID(NewGUIDPrefix(), ENTITYID_PARTICIPANT)
	if known.Unknown() {
		t.Errorf("a participant GUID should never be unknown")
	}
}
