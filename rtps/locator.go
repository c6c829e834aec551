package rtps

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

const (
	LOCATOR_KIND_INVALID  = -1
	LOCATOR_KIND_RESERVED = 0
	LOCATOR_KIND_UDPV4    = 1
	LOCATOR_KIND_UDPV6    = 2
	LOCATOR_KIND_TCPv4    = 4
	LOCATOR_KIND_TCPv6    = 8
	LOCATOR_PORT_INVALID  = 0
)

// Locator is an RTPS locator: a transport kind, port, and address. PDP carries
// these opaquely in ParticipantProxyData/ReaderProxyData/WriterProxyData without
// interpreting them beyond what's needed for PL_CDR (de)serialization.
type Locator struct {
	Kind int32
	Port uint32
	Addr net.IP
}

func NewUDPv4Locator(ip net.IP, port uint16) Locator {
	return Locator{
		Kind: LOCATOR_KIND_UDPV4,
		Port: uint32(port),
		Addr: ip,
	}
}

func NewUDPv4LocatorFromBytes(bin binary.ByteOrder, b []byte) (Locator, error) {
	if len(b) < 4+4+16 {
		return Locator{}, io.EOF
	}
	return Locator{
		Kind: int32(bin.Uint32(b[0:])),
		Port: bin.Uint32(b[4:]),
		Addr: net.IPv4(b[20], b[21], b[22], b[23]), // xxx: ipv6 support
	}, nil
}

func (loc Locator) Bytes() []byte {
	buf := make([]byte, 8+len(loc.Addr))
	binary.LittleEndian.PutUint32(buf, uint32(loc.Kind))
	binary.LittleEndian.PutUint32(buf[4:], loc.Port)
	// XXX: net.IP instances keep non-zero bytes in the ipv6 portion of the address
	//      even for ipv4 addresses, so just copy out the last 4 bytes
	//      be smarter to support ipv6
	copy(buf[8+12:], loc.Addr[12:])
	return buf
}

func (loc Locator) IsValid() bool {
	return loc.Kind != LOCATOR_KIND_INVALID && loc.Kind != LOCATOR_KIND_RESERVED
}

func (loc Locator) String() string {
	return fmt.Sprintf("%s:%d", loc.Addr.String(), loc.Port)
}
