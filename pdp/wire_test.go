package pdp

import (
	"net"
	"testing"
	"time"

	"github.com/liamstask/go-rtps-pdp/rtps"
)

func TestParticipantProxyDataSerializationRoundtrip(t *testing.T) {
	ppd := NewParticipantProxyData()
	ppd.GUID = testGUID(42)
	ppd.Key = instanceKeyFromGUID(ppd.GUID)
	ppd.ProtoVer = rtps.ProtoVersion{Major: 2, Minor: 3}
	ppd.VendorID = rtps.VendorID(0x010f)
	ppd.ParticipantName = "test-participant"
	ppd.LeaseDuration = 17 * time.Second
	ppd.BuiltinEndpoints = rtps.BuiltinEndpointParticipantAnnouncer | rtps.BuiltinEndpointParticipantDetector
	ppd.DefaultUnicastLocators = []rtps.Locator{rtps.NewUDPv4Locator(net.IPv4(127, 0, 0, 1), 7410)}
	ppd.MetatrafficUnicastLocators = []rtps.Locator{rtps.NewUDPv4Locator(net.IPv4(239, 255, 0, 1), 7411)}

	payload, err := SerializeParticipantProxyData(ppd, wireByteOrder)
	if err != nil {
		t.Fatalf("SerializeParticipantProxyData: %v", err)
	}

	decoded, err := DeserializeParticipantProxyData(payload)
	if err != nil {
		t.Fatalf("DeserializeParticipantProxyData: %v", err)
	}

	if decoded.GUID.String() != ppd.GUID.String() {
		t.Errorf("GUID mismatch: got %v, want %v", decoded.GUID, ppd.GUID)
	}
	if decoded.ParticipantName != ppd.ParticipantName {
		t.Errorf("ParticipantName mismatch: got %q, want %q", decoded.ParticipantName, ppd.ParticipantName)
	}
	if decoded.LeaseDuration != ppd.LeaseDuration {
		t.Errorf("LeaseDuration mismatch: got %v, want %v", decoded.LeaseDuration, ppd.LeaseDuration)
	}
	if decoded.BuiltinEndpoints != ppd.BuiltinEndpoints {
		t.Errorf("BuiltinEndpoints mismatch: got %x, want %x", decoded.BuiltinEndpoints, ppd.BuiltinEndpoints)
	}
	if decoded.VendorID != ppd.VendorID {
		t.Errorf("VendorID mismatch: got %x, want %x", decoded.VendorID, ppd.VendorID)
	}
	if len(decoded.DefaultUnicastLocators) != 1 || decoded.DefaultUnicastLocators[0].Port != ppd.DefaultUnicastLocators[0].Port {
		t.Errorf("DefaultUnicastLocators mismatch: got %v, want %v", decoded.DefaultUnicastLocators, ppd.DefaultUnicastLocators)
	}
	if len(decoded.MetatrafficUnicastLocators) != 1 {
		t.Errorf("MetatrafficUnicastLocators mismatch: got %v", decoded.MetatrafficUnicastLocators)
	}
}

func TestDeserializeRejectsShortPayload(t *testing.T) {
	if _, err := DeserializeParticipantProxyData([]byte{0x01, 0x02}); err == nil {
		t.Errorf("expected an error decoding a too-short payload")
	}
}
