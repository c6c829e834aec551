package pdp

import (
	"sync"

	"github.com/liamstask/go-rtps-pdp/rtps"
)

// RTPSParticipantImpl is the downward collaborator PDP uses to reach the
// owning RTPS participant: its attributes, its own GUID, the builtin
// reader/writer factory, and (stubbed, since security is out of scope) a
// security manager. It exposes no timer resource or listener: PDP timers run
// on time.AfterFunc and the engine's listener comes from WithListener.
type RTPSParticipantImpl interface {
	Attributes() rtps.ParticipantAttributes
	GUID() rtps.GUID
	CreateWriter(eid rtps.EntityID) (CacheChangeWriter, error)
	CreateReader(eid rtps.EntityID) (CacheChangeReader, error)
	SecurityManager() SecurityManager
}

// BuiltinProtocols exposes the metatraffic locator lists and the WLP handle
// a freshly-initialized PDPEngine needs to wire up.
type BuiltinProtocols interface {
	MetatrafficUnicastLocators() []rtps.Locator
	MetatrafficMulticastLocators() []rtps.Locator
	WLP() WLP
	UpdateMetatrafficLocators(unicast []rtps.Locator)
}

// EDP is the Endpoint Discovery Protocol collaborator PDP invokes at
// well-defined points; PDP never implements endpoint matching itself.
type EDP interface {
	UnpairReader(participantGUID, readerGUID rtps.GUID)
	UnpairWriter(participantGUID, writerGUID rtps.GUID)
	// AssignRemoteEndpoints seeds endpoint discovery from a just-discovered
	// or just-updated remote participant's proxy data.
	AssignRemoteEndpoints(ppd *ParticipantProxyData)
	RemoveRemoteEndpoints(ppd *ParticipantProxyData)
}

// WLP is the Writer Liveliness Protocol collaborator.
type WLP interface {
	// AssignRemoteEndpoints seeds liveliness tracking from a just-discovered
	// or just-updated remote participant's proxy data.
	AssignRemoteEndpoints(ppd *ParticipantProxyData)
	RemoveRemoteEndpoints(ppd *ParticipantProxyData)
}

// SecurityManager is a stub collaborator; security verification itself is
// out of scope, but RemoveRemoteParticipant still needs a
// notification point for when one is attached.
type SecurityManager interface {
	OnParticipantRemoved(guid rtps.GUID)
}

// CacheChangeKind mirrors the RTPS change-kind enumeration PDP needs for its
// own announce path.
type CacheChangeKind int

const (
	ChangeAlive CacheChangeKind = iota
	ChangeNotAliveDisposedUnregistered
)

// CacheChange is one sample traveling through a writer or reader history.
type CacheChange struct {
	Kind        CacheChangeKind
	InstanceKey [16]byte
	Payload     []byte
	SeqNum      rtps.SeqNum
}

// CacheChangeWriter is the minimal writer-history surface PDP's own announce
// path needs: add a change, trim to a maximum depth, report current size.
type CacheChangeWriter interface {
	AddChange(c CacheChange) error
	RemoveMinChange() bool
	HistorySize() int
}

// CacheChangeReader is the minimal reader-history surface PDP needs to
// evict cached PDP samples belonging to a removed participant.
type CacheChangeReader interface {
	Iterate(fn func(c CacheChange) bool)
	RemoveChange(instanceKey [16]byte)
}

// memoryCacheChangeWriter is a small in-memory writer history, used when the
// participant supplies no transport-backed history of its own.
type memoryCacheChangeWriter struct {
	mu      sync.Mutex
	changes []CacheChange
	maxLen  int
}

func newMemoryCacheChangeWriter(maxLen int) *memoryCacheChangeWriter {
	return &memoryCacheChangeWriter{maxLen: maxLen}
}

func (w *memoryCacheChangeWriter) AddChange(c CacheChange) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.changes = append(w.changes, c)
	for w.maxLen > 0 && len(w.changes) > w.maxLen {
		w.changes = w.changes[1:]
	}
	return nil
}

func (w *memoryCacheChangeWriter) RemoveMinChange() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.changes) == 0 {
		return false
	}
	w.changes = w.changes[1:]
	return true
}

func (w *memoryCacheChangeWriter) HistorySize() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.changes)
}

type memoryCacheChangeReader struct {
	mu      sync.Mutex
	changes []CacheChange
}

func newMemoryCacheChangeReader() *memoryCacheChangeReader {
	return &memoryCacheChangeReader{}
}

func (r *memoryCacheChangeReader) Iterate(fn func(c CacheChange) bool) {
	r.mu.Lock()
	changes := append([]CacheChange(nil), r.changes...)
	r.mu.Unlock()
	for _, c := range changes {
		if !fn(c) {
			return
		}
	}
}

func (r *memoryCacheChangeReader) RemoveChange(instanceKey [16]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.changes[:0]
	for _, c := range r.changes {
		if c.InstanceKey != instanceKey {
			kept = append(kept, c)
		}
	}
	r.changes = kept
}

// BuiltinEndpoints is the thin adapter bridging PDPEngine to the RTPS
// writer/reader pair that physically carries PDP samples, plus the
// serialization trigger for outbound announces.
type BuiltinEndpoints struct {
	Writer CacheChangeWriter
	Reader CacheChangeReader

	WriterEID rtps.EntityID
	ReaderEID rtps.EntityID
}

// newBuiltinEndpoints builds the fixed discovery endpoint pair carrying PDP
// samples: a reliable writer and a reliable-or-stateless
// reader with a small fixed-depth in-memory history. The actual RTPS
// writer/reader QoS knobs (heartbeat period, nack-response, etc.) belong to
// the transport layer behind CreateWriter/CreateReader,
// which this module treats as an external collaborator.
func newBuiltinEndpoints(rtpsParticipant RTPSParticipantImpl) (*BuiltinEndpoints, error) {
	w, err := rtpsParticipant.CreateWriter(rtps.ENTITYID_SPDP_BUILTIN_PARTICIPANT_WRITER)
	if err != nil {
		return nil, &EndpointCreateFailedError{Cause: err}
	}
	r, err := rtpsParticipant.CreateReader(rtps.ENTITYID_SPDP_BUILTIN_PARTICIPANT_READER)
	if err != nil {
		return nil, &EndpointCreateFailedError{Cause: err}
	}

	var writerHistory CacheChangeWriter = w
	if w == nil {
		writerHistory = newMemoryCacheChangeWriter(1)
	}
	var readerHistory CacheChangeReader = r
	if r == nil {
		readerHistory = newMemoryCacheChangeReader()
	}

	return &BuiltinEndpoints{
		Writer:    writerHistory,
		Reader:    readerHistory,
		WriterEID: rtps.ENTITYID_SPDP_BUILTIN_PARTICIPANT_WRITER,
		ReaderEID: rtps.ENTITYID_SPDP_BUILTIN_PARTICIPANT_READER,
	}, nil
}
