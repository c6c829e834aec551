package rtps

import (
	"encoding/binary"
	"io"
	"time"
)

// XXX: too much copying, use zero copy buffers

var (
	SeqNumUnknown = newSeqNum(^uint32(0), 0)
)

const (
	FRUDP_FLAGS_LITTLE_ENDIAN = 0x01
	FRUDP_FLAGS_INLINE_QOS    = 0x02
	FRUDP_FLAGS_DATA_PRESENT  = 0x04

	FLAGS_SM_ENDIAN = 0x01 // applies to all submessages

	FLAGS_INFOTS_INVALIDATE = 0x2

	FLAGS_DATA_INLINE_QOS = 0x02
	FLAGS_DATA_DATAFLAG   = 0x04
	FLAGS_DATA_KEYFLAG    = 0x08

	FLAGS_ACKNACK_FINAL = 0x02

	FLAGS_HEARTBEAT_FLAG_FINAL      = 0x02
	FLAGS_HEARTBEAT_FLAG_LIVELINESS = 0x04

	SUBMSG_ID_PAD            = 0x01
	SUBMSG_ID_ACKNACK        = 0x06
	SUBMSG_ID_HEARTBEAT      = 0x07
	SUBMSG_ID_GAP            = 0x08
	SUBMSG_ID_INFO_TS        = 0x09
	SUBMSG_ID_INFO_SRC       = 0x0c
	SUBMSG_ID_INFO_REPLY_IP4 = 0x0d
	SUBMSG_ID_INFO_DST       = 0x0e
	SUBMSG_ID_INFO_REPLY     = 0x0f
	SUBMSG_ID_NACK_FRAG      = 0x12
	SUBMSG_ID_HEARTBEAT_FRAG = 0x13
	SUBMSG_ID_DATA           = 0x15
	SUBMSG_ID_DATA_FRAG      = 0x16
	/* vendor-specific sub messages (0x80 .. 0xff) */
	SUBMSG_ID_PT_INFO_CONTAINER = 0x80
	SUBMSG_ID_PT_MSG_LEN        = 0x81
	SUBMSG_ID_PT_ENTITY_ID      = 0x82

	SCHEME_CDR_LE    = 0x0001
	SCHEME_CDR_BE    = 0x0000
	SCHEME_PL_CDR_LE = 0x0003
	SCHEME_PL_CDR_BE = 0x0002

	MY_RTPS_VERSION_MAJOR = 2
	MY_RTPS_VERSION_MINOR = 1
)

// Parameter IDs used by PL_CDR-encoded PDP/SEDP parameter lists.
const (
	PID_PAD                           = 0x0000
	PID_SENTINEL                      = 0x0001
	PID_PARTICIPANT_LEASE_DURATION    = 0x0002
	PID_TOPIC_NAME                    = 0x0005
	PID_TYPE_NAME                     = 0x0007
	PID_PROTOCOL_VERSION              = 0x0015
	PID_VENDOR_ID                     = 0x0016
	PID_RELIABILITY                   = 0x001a
	PID_LIVELINESS                    = 0x001b
	PID_DURABILITY                    = 0x001d
	PID_PRESENTATION                  = 0x0021
	PID_PARTITION                     = 0x0029
	PID_DEFAULT_UNICAST_LOCATOR       = 0x0031
	PID_METATRAFFIC_UNICAST_LOCATOR   = 0x0032
	PID_METATRAFFIC_MULTICAST_LOCATOR = 0x0033
	PID_HISTORY                       = 0x0040
	PID_DEFAULT_MULTICAST_LOCATOR     = 0x0048
	PID_TRANSPORT_PRIORITY            = 0x0049
	PID_PARTICIPANT_GUID              = 0x0050
	PID_BUILTIN_ENDPOINT_SET          = 0x0058
	PID_PROPERTY_LIST                 = 0x0059
	PID_ENDPOINT_GUID                 = 0x005a
	PID_KEY_HASH                      = 0x0070
	PID_PARTICIPANT_NAME              = 0x0044
)

const (
	FRUDP_BUILTIN_EP_PARTICIPANT_ANNOUNCER           = 0x00000001
	FRUDP_BUILTIN_EP_PARTICIPANT_DETECTOR            = 0x00000002
	FRUDP_BUILTIN_EP_PUBLICATION_ANNOUNCER           = 0x00000004
	FRUDP_BUILTIN_EP_PUBLICATION_DETECTOR            = 0x00000008
	FRUDP_BUILTIN_EP_SUBSCRIPTION_ANNOUNCER          = 0x00000010
	FRUDP_BUILTIN_EP_SUBSCRIPTION_DETECTOR           = 0x00000020
	FRUDP_BUILTIN_EP_PARTICIPANT_PROXY_ANNOUNCER     = 0x00000040
	FRUDP_BUILTIN_EP_PARTICIPANT_PROXY_DETECTOR      = 0x00000080
	FRUDP_BUILTIN_EP_PARTICIPANT_STATE_ANNOUNCER     = 0x00000100
	FRUDP_BUILTIN_EP_PARTICIPANT_STATE_DETECTOR      = 0x00000200
	FRUDP_BUILTIN_EP_PARTICIPANT_MESSAGE_DATA_WRITER = 0x00000400
	FRUDP_BUILTIN_EP_PARTICIPANT_MESSAGE_DATA_READER = 0x00000800
)

const (
	MaxSeqNum = 0x7fffffffffffffff
)

type SeqNum int64

func newSeqNum(hi uint32, lo uint32) SeqNum {
	return SeqNum(int64(hi)<<32 + int64(lo))
}

type ProtoVersion struct {
	Major uint8
	Minor uint8
}

// CurrentProtoVersion is the RTPS protocol version this package speaks.
var CurrentProtoVersion = ProtoVersion{MY_RTPS_VERSION_MAJOR, MY_RTPS_VERSION_MINOR}

type Header struct {
	Magic      uint32 // RTPS in ASCII
	ProtoVer   ProtoVersion
	VendorID   VendorID
	GUIDPrefix GUIDPrefix
}

func NewHeader(guidPrefix GUIDPrefix) *Header {
	return &Header{
		Magic:      Magic,
		ProtoVer:   CurrentProtoVersion,
		VendorID:   MY_RTPS_VENDOR_ID,
		GUIDPrefix: guidPrefix,
	}
}

func (h *Header) WriteTo(w io.Writer) {
	b := make([]byte, 8)
	binary.BigEndian.PutUint32(b[0:], h.Magic)
	b[4], b[5] = h.ProtoVer.Major, h.ProtoVer.Minor
	binary.BigEndian.PutUint16(b[6:], uint16(h.VendorID))
	w.Write(b)
	w.Write(h.GUIDPrefix)
	// XXX: err...
}

func NewHeaderFromBytes(b []byte) (*Header, error) {
	if len(b) < 8+UDPGuidPrefixLen {
		return nil, io.EOF
	}

	hdr := &Header{
		Magic:      binary.BigEndian.Uint32(b[0:]),
		ProtoVer:   ProtoVersion{Major: b[4], Minor: b[5]},
		VendorID:   VendorID(binary.BigEndian.Uint16(b[6:])),
		GUIDPrefix: b[8 : 8+UDPGuidPrefixLen],
	}

	return hdr, nil
}

type Msg struct {
	hdr  Header
	data []uint8 // []submsg
}

type SeqNumSet struct {
	bitmapBase SeqNum   // first sequence number in the set
	numBits    uint32   // total bit count
	bitmap     []uint32 // as many uint32s required by numBits
}

func (sns *SeqNumSet) Valid() bool {
	if sns.bitmapBase <= 0 {
		return false
	}
	if sns.numBits <= 0 || sns.numBits > 256 {
		return false
	}
	return true
}

func (sns *SeqNumSet) BitMapWords() int {
	return int((sns.numBits + 31) / 32)
}

type SubmsgHeader struct {
	ID    uint8
	Flags uint8
	Sz    uint16
}

func (s *SubmsgHeader) Write(b []byte) {
	b[0], b[1] = s.ID, s.Flags
	binary.LittleEndian.PutUint16(b[2:], s.Sz)
}

func (s *SubmsgHeader) WriteTo(w io.Writer) {
	b := make([]byte, 4)
	b[0], b[1] = s.ID, s.Flags
	binary.LittleEndian.PutUint16(b[2:], s.Sz)
	w.Write(b)
	// XXX: err...
}

type SubMsg struct {
	Hdr  SubmsgHeader
	Bin  binary.ByteOrder // relevant for packing/unpacking
	Data []uint8
}

func NewSubMsgFromBytes(b []byte) (*SubMsg, error) {
	sm := &SubMsg{
		Hdr: SubmsgHeader{
			ID:    b[0],
			Flags: b[1],
		},
	}
	if sm.Hdr.Flags&FLAGS_SM_ENDIAN != 0 {
		sm.Bin = binary.LittleEndian
	} else {
		sm.Bin = binary.BigEndian
	}
	sm.Hdr.Sz = sm.Bin.Uint16(b[2:])

	// make sure we can trust sm.Hdr.Sz
	if len(b) < int(sm.Hdr.Sz)+4 {
		return nil, io.EOF
	}

	sm.Data = b[4 : 4+sm.Hdr.Sz]
	return sm, nil
}

// NewTsSubMsg builds a submessage of type SUBMSG_ID_INFO_TS.
func NewTsSubMsg(t time.Time, order binary.ByteOrder) *SubMsg {
	return &SubMsg{
		Hdr: SubmsgHeader{
			ID:    SUBMSG_ID_INFO_TS,
			Flags: FRUDP_FLAGS_LITTLE_ENDIAN,
			Sz:    8,
		},
		Data: timeToBytes(t, order),
	}
}

func (s *SubMsg) WriteTo(w io.Writer) {
	s.Hdr.WriteTo(w)
	w.Write(s.Data)
}

type SubmsgData struct {
	Hdr               SubmsgHeader
	ExtraFlags        uint16
	OctetsToInlineQos uint16
	ReaderID          EntityID
	WriterID          EntityID
	WriterSeqNum      SeqNum
	Data              []uint8
}

func (s *SubmsgData) WriteTo(w io.Writer) {
	s.Hdr.WriteTo(w)

	b := make([]byte, 20)
	binary.LittleEndian.PutUint16(b[0:], s.ExtraFlags)
	binary.LittleEndian.PutUint16(b[2:], s.OctetsToInlineQos)
	binary.LittleEndian.PutUint32(b[4:], uint32(s.ReaderID))
	binary.LittleEndian.PutUint32(b[8:], uint32(s.WriterID))
	binary.LittleEndian.PutUint64(b[12:], uint64(s.WriterSeqNum))
	w.Write(b)
	w.Write(s.Data)
}

type SubmsgHeartbeat struct {
	Hdr         SubmsgHeader
	ReaderEID   EntityID
	WriterEID   EntityID
	FirstSeqNum SeqNum
	LastSeqNum  SeqNum
	Count       uint32
}

func (s *SubmsgHeartbeat) WriteTo(w io.Writer) {
	s.Hdr.WriteTo(w)

	b := make([]byte, 28)
	binary.LittleEndian.PutUint32(b[0:], uint32(s.ReaderEID))
	binary.LittleEndian.PutUint32(b[4:], uint32(s.WriterEID))
	binary.LittleEndian.PutUint64(b[8:], uint64(s.FirstSeqNum))
	binary.LittleEndian.PutUint64(b[16:], uint64(s.LastSeqNum))
	binary.LittleEndian.PutUint32(b[24:], s.Count)
	w.Write(b)
}

type SubmsgAckNack struct {
	Hdr           SubmsgHeader
	ReaderEID     EntityID
	WriterEID     EntityID
	ReaderSNState SeqNumSet
	Count         uint32
}

func (s *SubmsgAckNack) WriteTo(w io.Writer) {
	s.Hdr.WriteTo(w)

	sz := 24 + s.ReaderSNState.BitMapWords()*4
	b := make([]byte, sz)
	binary.LittleEndian.PutUint32(b[0:], uint32(s.ReaderEID))
	binary.LittleEndian.PutUint32(b[4:], uint32(s.WriterEID))

	binary.LittleEndian.PutUint64(b[8:], uint64(s.ReaderSNState.bitmapBase))
	binary.LittleEndian.PutUint32(b[16:], uint32(s.ReaderSNState.numBits))
	for i, n := range s.ReaderSNState.bitmap {
		binary.LittleEndian.PutUint32(b[20+i*4:], n)
	}
	binary.LittleEndian.PutUint32(b[sz-4:], s.Count)
	w.Write(b)
}

// ParamID is a PL_CDR parameter-list parameter identifier (PID_*).
type ParamID uint16

// ParamListItem is one entry in a PL_CDR parameter list.
type ParamListItem struct {
	Pid   ParamID
	Value []uint8 // must be 32-bit aligned
}

func (p *ParamListItem) WriteTo(w io.Writer) {
	var buf [4]byte
	binary.LittleEndian.PutUint16(buf[:], uint16(p.Pid))
	binary.LittleEndian.PutUint16(buf[2:], uint16(len(p.Value)))
	w.Write(buf[:])
	w.Write(p.Value)
}

func NewParamListItemFromBytes(bin binary.ByteOrder, b []byte) (*ParamListItem, error) {
	if len(b) < 4 {
		return nil, io.EOF
	}
	sz := bin.Uint16(b[2:])
	if len(b) < int(sz+4) {
		return nil, io.EOF
	}

	return &ParamListItem{
		Pid:   ParamID(bin.Uint16(b[0:])),
		Value: b[4 : 4+sz],
	}, nil
}

func (p *ParamListItem) ValToString(bin binary.ByteOrder) (string, error) {
	if len(p.Value) < 4 {
		return "", io.EOF
	}
	sz := int(bin.Uint32(p.Value[0:]))
	if len(p.Value) < 4+sz {
		return "", io.EOF
	}
	s := p.Value[4 : 4+sz]
	// The CDR length counts the terminating NUL, which is not part of the string.
	if n := len(s); n > 0 && s[n-1] == 0 {
		s = s[:n-1]
	}
	return string(s), nil
}

// PackParamString encodes s as a length-prefixed, NUL-terminated,
// 32-bit-aligned CDR string, suitable as a ParamListItem.Value.
func PackParamString(bin binary.ByteOrder, s string) []byte {
	b := make([]byte, (4+len(s)+1+3) & ^0x3) // must be 32-bit aligned
	bin.PutUint32(b[0:], uint32(len(s)+1))
	copy(b[4:], []byte(s))
	b[4+len(s)] = 0
	return b
}

// NewParamList decodes a PL_CDR parameter list from b, stopping at
// PID_SENTINEL. Returns the decoded items and the number of bytes consumed.
func NewParamList(bin binary.ByteOrder, b []byte) ([]*ParamListItem, int, error) {
	var plist []*ParamListItem
	n := 0

	for len(b) >= 4 {
		p, err := NewParamListItemFromBytes(bin, b)
		if err != nil {
			return nil, 0, err
		}
		b = b[4+len(p.Value):]
		n += 4 + len(p.Value)
		if p.Pid == PID_SENTINEL {
			break
		}
		plist = append(plist, p)
	}
	return plist, n, nil
}

// EncapsulationScheme is the 4-byte PL_CDR/CDR encapsulation header that
// precedes every PDP/SEDP sample payload.
type EncapsulationScheme struct {
	Scheme  uint16
	Options uint16
}

func (es *EncapsulationScheme) WriteTo(w io.Writer) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf, es.Scheme)
	binary.LittleEndian.PutUint16(buf[2:], es.Options)
	w.Write(buf)
}

func NewSchemeFromBytes(bin binary.ByteOrder, b []byte) EncapsulationScheme {
	return EncapsulationScheme{
		Scheme:  binary.BigEndian.Uint16(b[0:]), // seems to always be BigEndian (?)
		Options: bin.Uint16(b[2:]),
	}
}
