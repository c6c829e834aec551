package pdp

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/liamstask/go-rtps-pdp/rtps"
)

// wireByteOrder is the byte order PDP samples are encoded at: always
// little-endian, whatever the host platform's endianness. The encapsulation
// scheme byte records it, and the decoder reads the sample by that scheme.
var wireByteOrder = binary.LittleEndian

func schemeForOrder(order binary.ByteOrder) uint16 {
	if order == binary.LittleEndian {
		return rtps.SCHEME_PL_CDR_LE
	}
	return rtps.SCHEME_PL_CDR_BE
}

// SerializeParticipantProxyData encodes ppd as a PL_CDR parameter list,
// built on the rtps package's parameter-list primitives. Inline-QoS is disabled, matching the fixed discovery QoS.
func SerializeParticipantProxyData(ppd *ParticipantProxyData, order binary.ByteOrder) ([]byte, error) {
	var buf bytes.Buffer

	scheme := rtps.EncapsulationScheme{Scheme: schemeForOrder(order), Options: 0}
	scheme.WriteTo(&buf)

	pv := make([]byte, 4)
	pv[0], pv[1] = ppd.ProtoVer.Major, ppd.ProtoVer.Minor
	writeItem(&buf, rtps.PID_PROTOCOL_VERSION, pv)

	vid := make([]byte, 4)
	order.PutUint16(vid, uint16(ppd.VendorID))
	writeItem(&buf, rtps.PID_VENDOR_ID, vid)

	writeItem(&buf, rtps.PID_PARTICIPANT_GUID, ppd.GUID.Bytes())

	if ppd.ParticipantName != "" {
		writeItem(&buf, rtps.PID_PARTICIPANT_NAME, rtps.PackParamString(order, ppd.ParticipantName))
	}

	writeItem(&buf, rtps.PID_PARTICIPANT_LEASE_DURATION, rtps.DurationToBytes(ppd.LeaseDuration, order))

	beSet := make([]byte, 4)
	order.PutUint32(beSet, uint32(ppd.BuiltinEndpoints))
	writeItem(&buf, rtps.PID_BUILTIN_ENDPOINT_SET, beSet)

	for _, loc := range ppd.DefaultUnicastLocators {
		writeItem(&buf, rtps.PID_DEFAULT_UNICAST_LOCATOR, loc.Bytes())
	}
	for _, loc := range ppd.DefaultMulticastLocators {
		writeItem(&buf, rtps.PID_DEFAULT_MULTICAST_LOCATOR, loc.Bytes())
	}
	for _, loc := range ppd.MetatrafficUnicastLocators {
		writeItem(&buf, rtps.PID_METATRAFFIC_UNICAST_LOCATOR, loc.Bytes())
	}
	for _, loc := range ppd.MetatrafficMulticastLocators {
		writeItem(&buf, rtps.PID_METATRAFFIC_MULTICAST_LOCATOR, loc.Bytes())
	}

	writeSentinel(&buf)

	return buf.Bytes(), nil
}

func writeItem(buf *bytes.Buffer, pid rtps.ParamID, value []byte) {
	item := rtps.ParamListItem{Pid: pid, Value: value}
	item.WriteTo(buf)
}

func writeSentinel(buf *bytes.Buffer) {
	item := rtps.ParamListItem{Pid: rtps.PID_SENTINEL, Value: nil}
	item.WriteTo(buf)
}

// DeserializeParticipantProxyData decodes the PL_CDR parameter list produced
// by SerializeParticipantProxyData. The returned PPD is freshly constructed
// and never shared, so callers are free to read/write its fields directly
// before handing it to PDPEngine.OnAliveSample.
func DeserializeParticipantProxyData(b []byte) (*ParticipantProxyData, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("pdp: participant proxy data too short for encapsulation header")
	}
	scheme := rtps.NewSchemeFromBytes(binary.LittleEndian, b)
	order := orderForScheme(scheme.Scheme)
	body := b[4:]

	items, _, err := rtps.NewParamList(order, body)
	if err != nil {
		return nil, fmt.Errorf("pdp: decoding parameter list: %w", err)
	}

	ppd := NewParticipantProxyData()
	for _, item := range items {
		switch item.Pid {
		case rtps.PID_PROTOCOL_VERSION:
			if len(item.Value) >= 2 {
				ppd.ProtoVer = rtps.ProtoVersion{Major: item.Value[0], Minor: item.Value[1]}
			}
		case rtps.PID_VENDOR_ID:
			if len(item.Value) >= 2 {
				ppd.VendorID = rtps.VendorID(order.Uint16(item.Value))
			}
		case rtps.PID_PARTICIPANT_GUID:
			if len(item.Value) >= 16 {
				ppd.GUID = rtps.GUIDFromBytes(item.Value)
				ppd.Key = instanceKeyFromGUID(ppd.GUID)
			}
		case rtps.PID_PARTICIPANT_NAME:
			name, err := item.ValToString(order)
			if err == nil {
				ppd.ParticipantName = name
			}
		case rtps.PID_PARTICIPANT_LEASE_DURATION:
			d, err := rtps.DurationFromBytes(order, item.Value)
			if err == nil {
				ppd.LeaseDuration = d
			}
		case rtps.PID_BUILTIN_ENDPOINT_SET:
			if len(item.Value) >= 4 {
				ppd.BuiltinEndpoints = rtps.BuiltinEndpointSet(order.Uint32(item.Value))
			}
		case rtps.PID_DEFAULT_UNICAST_LOCATOR:
			if loc, err := rtps.NewUDPv4LocatorFromBytes(order, item.Value); err == nil {
				ppd.DefaultUnicastLocators = append(ppd.DefaultUnicastLocators, loc)
			}
		case rtps.PID_DEFAULT_MULTICAST_LOCATOR:
			if loc, err := rtps.NewUDPv4LocatorFromBytes(order, item.Value); err == nil {
				ppd.DefaultMulticastLocators = append(ppd.DefaultMulticastLocators, loc)
			}
		case rtps.PID_METATRAFFIC_UNICAST_LOCATOR:
			if loc, err := rtps.NewUDPv4LocatorFromBytes(order, item.Value); err == nil {
				ppd.MetatrafficUnicastLocators = append(ppd.MetatrafficUnicastLocators, loc)
			}
		case rtps.PID_METATRAFFIC_MULTICAST_LOCATOR:
			if loc, err := rtps.NewUDPv4LocatorFromBytes(order, item.Value); err == nil {
				ppd.MetatrafficMulticastLocators = append(ppd.MetatrafficMulticastLocators, loc)
			}
		}
	}

	return ppd, nil
}

func orderForScheme(scheme uint16) binary.ByteOrder {
	if scheme == rtps.SCHEME_PL_CDR_LE || scheme == rtps.SCHEME_CDR_LE {
		return binary.LittleEndian
	}
	return binary.BigEndian
}
