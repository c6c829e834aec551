package rtps

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	UDPGuidPrefixLen  = 12
	Magic             = 0x52545053 // RTPS in ASCII
	MY_RTPS_VENDOR_ID = 0x1234
)

const (
	ENTITYID_UNKNOWN                                = 0x0
	ENTITYID_PARTICIPANT                            = 0x1c1
	ENTITYID_SEDP_BUILTIN_TOPIC_WRITER              = 0x2c2
	ENTITYID_SEDP_BUILTIN_TOPIC_READER              = 0x2c7
	ENTITYID_SEDP_BUILTIN_PUBLICATIONS_WRITER       = 0x3c2
	ENTITYID_SEDP_BUILTIN_PUBLICATIONS_READER       = 0x3c7
	ENTITYID_SEDP_BUILTIN_SUBSCRIPTIONS_WRITER      = 0x4c2
	ENTITYID_SEDP_BUILTIN_SUBSCRIPTIONS_READER      = 0x4c7
	ENTITYID_SPDP_BUILTIN_PARTICIPANT_WRITER        = 0x100c2
	ENTITYID_SPDP_BUILTIN_PARTICIPANT_READER        = 0x100c7
	ENTITYID_P2P_BUILTIN_PARTICIPANT_MESSAGE_WRITER = 0x200c2
	ENTITYID_P2P_BUILTIN_PARTICIPANT_MESSAGE_READER = 0x200c7
	ENTITYID_SOURCE_MASK                            = 0xc0
	ENTITYID_SOURCE_USER                            = 0x00
	ENTITYID_SOURCE_BUILTIN                         = 0xc0
	ENTITYID_SOURCE_VENDOR                          = 0x40
	ENTITYID_KIND_MASK                              = 0x3f
	ENTITYID_KIND_WRITER_WITH_KEY                   = 0x02
	ENTITYID_KIND_WRITER_NO_KEY                     = 0x03
	ENTITYID_KIND_READER_NO_KEY                     = 0x04
	ENTITYID_KIND_READER_WITH_KEY                   = 0x07
	ENTITYID_ALLOCSTEP                              = 0x100
)

var (
	unknownGUIDPrefix = GUIDPrefix{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
)

// EntityID is an entity id.
// NB: always encoded big endian, regardless of submessage endian flag
type EntityID uint32

type VendorID uint16
type GUIDPrefix []byte

func newGUIDPrefix() GUIDPrefix {
	return make([]byte, UDPGuidPrefixLen)
}

func (gp GUIDPrefix) String() string {
	if gp == nil {
		return "<nil guid>"
	}
	return fmt.Sprintf("%02x%02x%02x%02x-%02x%02x%02x%02x-%02x%02x%02x%02x",
		gp[0], gp[1], gp[2], gp[3], gp[4], gp[5], gp[6], gp[7], gp[8], gp[9], gp[10], gp[11])
}

type GUID struct {
	prefix GUIDPrefix
	eid    EntityID
}

func guidFromBytes(b []byte) GUID {
	return GUID{
		prefix: b[:UDPGuidPrefixLen],
		eid:    EntityID(binary.BigEndian.Uint32(b[UDPGuidPrefixLen:])),
	}
}

// NewGUID builds a GUID from a prefix and entity id. Exported for callers
// outside this package (the pdp package's proxy data model).
func NewGUID(prefix GUIDPrefix, eid EntityID) GUID {
	return GUID{prefix: prefix, eid: eid}
}

// GUIDFromBytes decodes a 16-byte wire GUID (12-byte prefix + big-endian entity id).
func GUIDFromBytes(b []byte) GUID {
	return guidFromBytes(b)
}

func (g GUID) Prefix() GUIDPrefix {
	return g.prefix
}

func (g GUID) EntityID() EntityID {
	return g.eid
}

// NewGUIDPrefix allocates a zeroed guid prefix of the wire-mandated length.
func NewGUIDPrefix() GUIDPrefix {
	return newGUIDPrefix()
}

func (g *GUID) Bytes() []byte {
	b := make([]byte, 16)
	copy(b, g.prefix)
	binary.BigEndian.PutUint32(b[UDPGuidPrefixLen:], uint32(g.eid))
	return b
}

func (g *GUID) Equal(other *GUID) bool {
	return g.eid == other.eid && bytes.Equal(g.prefix, other.prefix)
}

func (g *GUID) Unknown() bool {
	return g.eid == ENTITYID_UNKNOWN && (g.prefix == nil || bytes.Equal(g.prefix, unknownGUIDPrefix))
}

func (g *GUID) String() string {
	return fmt.Sprintf("[%s : 0x%x]", g.prefix.String(), g.eid)
}
