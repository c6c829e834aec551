package pdp

import (
	"sync"
	"time"

	"github.com/liamstask/go-rtps-pdp/rtps"
)

// ParticipantProxyData is the canonical, pool-shared description of one
// participant in the domain, local or remote. It is never copied by value
// across goroutines except through snapshotLocked copies (listener
// notifications, announcements, LocalParticipantProxyDataSnapshot and
// ParticipantProxyDataSerialized), all of which take the mutex first.
type ParticipantProxyData struct {
	mu sync.Mutex

	GUID             rtps.GUID
	VendorID         rtps.VendorID
	ProtoVer         rtps.ProtoVersion
	BuiltinEndpoints rtps.BuiltinEndpointSet

	DefaultUnicastLocators       []rtps.Locator
	DefaultMulticastLocators     []rtps.Locator
	MetatrafficUnicastLocators   []rtps.Locator
	MetatrafficMulticastLocators []rtps.Locator

	ParticipantName string
	UserData        []byte

	// Key is the instance handle: derived deterministically from GUID.
	Key [16]byte

	LeaseDuration time.Duration

	// PersistenceGUID and security fields are optional; security itself is
	// out of scope but the fields are carried so a
	// security manager collaborator can be wired without reshaping PPD.
	PersistenceGUID *rtps.GUID
	SecurityTokens  []byte

	// Version is the announcement sequence number, starting at (0,1) and
	// monotonically non-decreasing across outbound announcements from the
	// local participant.
	Version rtps.SeqNum
}

// NewParticipantProxyData returns a zeroed PPD with Version seeded at its
// starting sequence number. Used by ProxyPool when handing out a fresh slot.
func NewParticipantProxyData() *ParticipantProxyData {
	return &ParticipantProxyData{Version: newPPDInitialVersion()}
}

func newPPDInitialVersion() rtps.SeqNum {
	// (0, 1): high 32 bits zero, low 32 bits one.
	return rtps.SeqNum(1)
}

// reset clears a PPD back to its post-construction state so the slot can be
// reused for a different GUID. Called only by ProxyPool.returnParticipant,
// which already holds the pool mutex; it does not take ppd.mu itself because
// by the time a slot returns to the pool no strong holder remains. Fields
// are cleared one by one rather than by struct assignment, which would copy
// the embedded mutex.
func (p *ParticipantProxyData) reset() {
	p.GUID = rtps.GUID{}
	p.VendorID = 0
	p.ProtoVer = rtps.ProtoVersion{}
	p.BuiltinEndpoints = 0
	p.DefaultUnicastLocators = nil
	p.DefaultMulticastLocators = nil
	p.MetatrafficUnicastLocators = nil
	p.MetatrafficMulticastLocators = nil
	p.ParticipantName = ""
	p.UserData = nil
	p.Key = [16]byte{}
	p.LeaseDuration = 0
	p.PersistenceGUID = nil
	p.SecurityTokens = nil
	p.Version = newPPDInitialVersion()
}

// instanceKeyFromGUID derives PPD.Key the way the original computes an
// instance handle: the GUID bytes verbatim, since a participant GUID is
// already a 16-byte globally unique value.
func instanceKeyFromGUID(g rtps.GUID) [16]byte {
	var key [16]byte
	copy(key[:], g.Bytes())
	return key
}

// snapshotLocked returns a value copy of p's fields, excluding its mutex.
// Caller must already hold p.mu. Used anywhere a PPD needs to cross a
// goroutine boundary without sharing the live mutex-guarded object.
func (p *ParticipantProxyData) snapshotLocked() ParticipantProxyData {
	return ParticipantProxyData{
		GUID:                         p.GUID,
		VendorID:                     p.VendorID,
		ProtoVer:                     p.ProtoVer,
		BuiltinEndpoints:             p.BuiltinEndpoints,
		DefaultUnicastLocators:       append([]rtps.Locator(nil), p.DefaultUnicastLocators...),
		DefaultMulticastLocators:     append([]rtps.Locator(nil), p.DefaultMulticastLocators...),
		MetatrafficUnicastLocators:   append([]rtps.Locator(nil), p.MetatrafficUnicastLocators...),
		MetatrafficMulticastLocators: append([]rtps.Locator(nil), p.MetatrafficMulticastLocators...),
		ParticipantName:              p.ParticipantName,
		UserData:                     append([]byte(nil), p.UserData...),
		Key:                          p.Key,
		LeaseDuration:                p.LeaseDuration,
		PersistenceGUID:              p.PersistenceGUID,
		SecurityTokens:               append([]byte(nil), p.SecurityTokens...),
		Version:                      p.Version,
	}
}

func (p *ParticipantProxyData) lock() *lockedPPDGuard {
	p.mu.Lock()
	return &lockedPPDGuard{ppd: p}
}

// lockedPPDGuard is the internal building block for LockedPPD: it bundles a
// PPD with its held lock so ownership transfer across a function boundary is
// visible in the type and impossible to forget to release.
type lockedPPDGuard struct {
	ppd *ParticipantProxyData
}

func (g *lockedPPDGuard) Unlock() {
	g.ppd.mu.Unlock()
}

// LockedPPD is the guard value returned by AddParticipantProxy: the PPD plus
// its held mutex, bundled so the caller's defer guard.Unlock() is the only
// way to release it.
type LockedPPD struct {
	PPD *ParticipantProxyData
	g   *lockedPPDGuard
}

func (l *LockedPPD) Unlock() {
	l.g.Unlock()
}

// ReaderProxyData is the per-endpoint descriptor for a remote reader. Shared
// across local participants the same way PPD is.
type ReaderProxyData struct {
	mu sync.Mutex

	GUID              rtps.GUID
	UnicastLocators   []rtps.Locator
	MulticastLocators []rtps.Locator
	TopicName         string
	TypeName          string
	QoS               ReaderQoS
	ContentFilter     *ContentFilterProperty
}

// WriterProxyData is the per-endpoint descriptor for a remote writer.
type WriterProxyData struct {
	mu sync.Mutex

	GUID              rtps.GUID
	UnicastLocators   []rtps.Locator
	MulticastLocators []rtps.Locator
	TopicName         string
	TypeName          string
	QoS               WriterQoS
}

// ReaderQoS and WriterQoS carry the subset of QoS policies PDP/SEDP need to
// move opaquely; EDP interprets them, PDP only stores and forwards.
type ReaderQoS struct {
	ReliabilityKind         uint32
	DurabilityKind          uint32
	LivelinessKind          uint32
	LivelinessLeaseDuration time.Duration
	OwnershipKind           uint32
}

type WriterQoS struct {
	ReliabilityKind         uint32
	DurabilityKind          uint32
	LivelinessKind          uint32
	LivelinessLeaseDuration time.Duration
	OwnershipKind           uint32
	OwnershipStrength       int32
}

// ContentFilterProperty is carried opaquely; PDP never evaluates a filter.
type ContentFilterProperty struct {
	ContentFilteredTopicName string
	RelatedTopicName         string
	FilterClassName          string
	FilterExpression         string
	ExpressionParameters     []string
}

func (r *ReaderProxyData) reset() {
	r.GUID = rtps.GUID{}
	r.UnicastLocators = nil
	r.MulticastLocators = nil
	r.TopicName = ""
	r.TypeName = ""
	r.QoS = ReaderQoS{}
	r.ContentFilter = nil
}

func (w *WriterProxyData) reset() {
	w.GUID = rtps.GUID{}
	w.UnicastLocators = nil
	w.MulticastLocators = nil
	w.TopicName = ""
	w.TypeName = ""
	w.QoS = WriterQoS{}
}

// snapshotLocked returns a value copy of r's fields, excluding its mutex.
// Caller must already hold r.mu.
func (r *ReaderProxyData) snapshotLocked() ReaderProxyData {
	return ReaderProxyData{
		GUID:              r.GUID,
		UnicastLocators:   append([]rtps.Locator(nil), r.UnicastLocators...),
		MulticastLocators: append([]rtps.Locator(nil), r.MulticastLocators...),
		TopicName:         r.TopicName,
		TypeName:          r.TypeName,
		QoS:               r.QoS,
		ContentFilter:     r.ContentFilter,
	}
}

// snapshotLocked returns a value copy of w's fields, excluding its mutex.
// Caller must already hold w.mu.
func (w *WriterProxyData) snapshotLocked() WriterProxyData {
	return WriterProxyData{
		GUID:              w.GUID,
		UnicastLocators:   append([]rtps.Locator(nil), w.UnicastLocators...),
		MulticastLocators: append([]rtps.Locator(nil), w.MulticastLocators...),
		TopicName:         w.TopicName,
		TypeName:          w.TypeName,
		QoS:               w.QoS,
	}
}

// LockedRPD bundles a ReaderProxyData with its held mutex, mirroring LockedPPD.
type LockedRPD struct {
	RPD *ReaderProxyData
}

func (l *LockedRPD) Unlock() {
	l.RPD.mu.Unlock()
}

// LockedWPD bundles a WriterProxyData with its held mutex, mirroring LockedPPD.
type LockedWPD struct {
	WPD *WriterProxyData
}

func (l *LockedWPD) Unlock() {
	l.WPD.mu.Unlock()
}
