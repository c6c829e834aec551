package pdp

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/liamstask/go-rtps-pdp/rtps"
)

// ppTableSlot is one arena entry in a PDPEngine's local participant table,
// mirroring the pool's own arena+generational-index design at engine scope.
type ppTableSlot struct {
	pp         *ParticipantProxy
	generation uint32
	inUse      bool
}

// PDPEngine is the top-level coordinator: it owns a local participant
// table, mediates every mutation, runs initialization, and notifies the
// user listener.
type PDPEngine struct {
	mu         sync.Mutex
	callbackMu sync.Mutex

	log zerolog.Logger

	pool       *ProxyPool
	allocation Allocation

	discoveryConfig DiscoveryConfig

	listener Listener
	edp      EDP
	wlp      WLP
	bp       BuiltinProtocols

	pps     []ppTableSlot
	ppFree  []uint32
	ppIndex map[string]weakHandle // keyed by GUIDPrefix.String()

	ignored map[string]bool // keyed by GUIDPrefix.String()

	rtpsParticipant RTPSParticipantImpl
	builtin         *BuiltinEndpoints
	scheduler       *AnnouncementScheduler

	localGUID rtps.GUID

	hasChangedLocalPDP atomic.Bool

	initialized bool

	shutdownOnce sync.Once
}

// NewPDPEngine constructs an engine sharing pool with every other engine in
// the process. It reserves the local PP free-list to
// allocation.Participants.Initial and grows the shared pool to match; a
// WithAllocation option replaces allocation for all of this.
func NewPDPEngine(pool *ProxyPool, allocation Allocation, opts ...Option) *PDPEngine {
	e := &PDPEngine{
		pool:            pool,
		allocation:      allocation,
		discoveryConfig: DefaultDiscoveryConfig,
		listener:        NopListener{},
		ppIndex:         make(map[string]weakHandle),
		ignored:         make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = newSubLogger(e.log, "pdpengine")

	pool.InitializeOrGrow(e.allocation)
	e.growPPTable(e.allocation.Participants.Initial)

	return e
}

func (e *PDPEngine) growPPTable(target int) {
	for len(e.pps) < target {
		e.ppFree = append(e.ppFree, uint32(len(e.pps)))
		e.pps = append(e.pps, ppTableSlot{})
	}
}

// Init builds the builtin discovery endpoints, seeds the local
// ParticipantProxyData, and starts the AnnouncementScheduler.
func (e *PDPEngine) Init(rtpsParticipant RTPSParticipantImpl) error {
	e.mu.Lock()
	if e.initialized {
		e.mu.Unlock()
		return &DuplicateInitError{}
	}
	e.initialized = true
	e.rtpsParticipant = rtpsParticipant
	e.localGUID = rtpsParticipant.GUID()
	e.mu.Unlock()

	builtin, err := newBuiltinEndpoints(rtpsParticipant)
	if err != nil {
		e.log.Error().Err(err).Msg("failed to create PDP builtin endpoints")
		return err
	}
	e.builtin = builtin

	if e.bp != nil {
		if e.wlp == nil {
			e.wlp = e.bp.WLP()
		}
		if loc := rtpsParticipant.Attributes().MetaUcastLoc; loc.IsValid() {
			e.bp.UpdateMetatrafficLocators([]rtps.Locator{loc})
		}
	}

	guard, err := e.AddParticipantProxy(e.localGUID, false)
	if err != nil {
		return err
	}
	e.initializeLocalParticipantProxyData(guard.PPD, rtpsParticipant.Attributes())
	guard.Unlock()

	e.hasChangedLocalPDP.Store(true)

	e.scheduler = newAnnouncementScheduler(e, e.discoveryConfig)
	e.scheduler.Start()

	e.log.Info().Str("guid", e.localGUID.String()).Msg("pdp engine initialized")
	return nil
}

// initializeLocalParticipantProxyData populates the local PPD from the
// participant's attributes. Caller must already hold ppd's mutex.
func (e *PDPEngine) initializeLocalParticipantProxyData(ppd *ParticipantProxyData, attrs rtps.ParticipantAttributes) {
	ppd.VendorID = attrs.VendorID
	ppd.ProtoVer = attrs.ProtoVer
	ppd.BuiltinEndpoints = attrs.BuiltinEndpoints
	if e.discoveryConfig.UseWriterLivelinessProtocol {
		ppd.BuiltinEndpoints |= rtps.BuiltinEndpointParticipantMessageWriter | rtps.BuiltinEndpointParticipantMessageReader
	}
	ppd.ParticipantName = attrs.ParticipantName
	ppd.LeaseDuration = e.discoveryConfig.LeaseDuration
	if attrs.DefaultUcastLoc.IsValid() {
		ppd.DefaultUnicastLocators = []rtps.Locator{attrs.DefaultUcastLoc}
	}
	if attrs.DefaultMcastLoc.IsValid() {
		ppd.DefaultMulticastLocators = []rtps.Locator{attrs.DefaultMcastLoc}
	}
	if attrs.MetaUcastLoc.IsValid() {
		ppd.MetatrafficUnicastLocators = []rtps.Locator{attrs.MetaUcastLoc}
	}
	// Metatraffic multicast locators are populated only if multicast isn't
	// being avoided, or unicast is empty.
	if attrs.MetaMcastLoc.IsValid() && (!e.discoveryConfig.AvoidBuiltinMulticast || len(ppd.MetatrafficUnicastLocators) == 0) {
		ppd.MetatrafficMulticastLocators = []rtps.Locator{attrs.MetaMcastLoc}
	}
}

// AddParticipantProxy interns the PPD for guid (via the shared pool) and
// installs or reuses this engine's ParticipantProxy for it. On success it
// returns a *LockedPPD guard: the PPD plus its held lock, transferred to the
// caller. The caller
// must release it with guard.Unlock().
func (e *PDPEngine) AddParticipantProxy(guid rtps.GUID, withLease bool) (*LockedPPD, error) {
	strong, created, err := e.pool.AcquireParticipant(guid.Prefix())
	if err != nil {
		e.log.Warn().Err(err).Str("guid", guid.String()).Msg("participant pool exhausted")
		return nil, err
	}

	guard := strong.Data().lock()
	if created {
		guard.ppd.GUID = guid
		guard.ppd.Key = instanceKeyFromGUID(guid)
	}

	if _, err := e.addParticipantProxy(strong, guard.ppd, withLease); err != nil {
		guard.Unlock()
		return nil, err
	}

	return &LockedPPD{PPD: guard.ppd, g: guard}, nil
}

// addParticipantProxy is the engine-mutex-guarded inner half of
// AddParticipantProxy. Caller must already hold ppd's mutex.
func (e *PDPEngine) addParticipantProxy(strong StrongPPD, ppd *ParticipantProxyData, withLease bool) (*ParticipantProxy, error) {
	e.mu.Lock()

	prefixKey := ppd.GUID.Prefix().String()
	if w, ok := e.ppIndex[prefixKey]; ok {
		slot := &e.pps[w.index]
		if slot.inUse && slot.generation == w.generation {
			pp := slot.pp
			e.mu.Unlock()
			// Idempotent re-discovery: the extra strong ref this call just
			// acquired is surplus to the existing PP's reference. Released
			// only after the engine mutex is dropped, keeping the pool mutex
			// strictly above the engine mutex in the lock order.
			strong.Release()
			return pp, nil
		}
		delete(e.ppIndex, prefixKey)
	}

	idx, err := e.takePPSlotLocked()
	if err != nil {
		e.mu.Unlock()
		strong.Release()
		e.log.Warn().Err(err).Msg("local participant table at capacity")
		return nil, err
	}

	pp := &ParticipantProxy{}
	pp.ppd = strong
	pp.ShouldCheckLeaseDuration = withLease
	pp.LastReceivedMessageTimestamp = time.Now()

	isSelf := guidEqual(ppd.GUID, e.localGUID)
	if !isSelf && withLease {
		// The timer is attached but left unarmed: ppd.LeaseDuration may
		// still be its zero value at this point (OnAliveSample sets it
		// right after AddParticipantProxy returns, then calls Restart,
		// which performs the first real arming).
		weak := weakHandle{index: idx, generation: e.pps[idx].generation}
		lease := newLeaseTimer(e, weak, ppd.GUID)
		pp.SetLeaseEvent(lease)
	}

	e.pps[idx].pp = pp
	e.pps[idx].inUse = true
	e.ppIndex[prefixKey] = weakHandle{index: idx, generation: e.pps[idx].generation}
	e.mu.Unlock()

	return pp, nil
}

func (e *PDPEngine) takePPSlotLocked() (uint32, error) {
	// The cap bounds proxies in use, not arena size: pre-reserved free slots
	// above Maximum must not defeat enforcement.
	if max := e.allocation.Participants.Maximum; max > 0 && len(e.pps)-len(e.ppFree) >= max {
		return 0, &PoolExhaustedError{Resource: "participant", Max: max}
	}
	if len(e.ppFree) > 0 {
		idx := e.ppFree[len(e.ppFree)-1]
		e.ppFree = e.ppFree[:len(e.ppFree)-1]
		return idx, nil
	}
	idx := uint32(len(e.pps))
	e.pps = append(e.pps, ppTableSlot{})
	return idx, nil
}

// upgradeParticipant recovers a *ParticipantProxy from a weak handle,
// failing if the slot has since been reused (LeaseTimer's only way to reach
// a PP, so an expired timer can never resurrect a removed one).
func (e *PDPEngine) upgradeParticipant(w weakHandle) (*ParticipantProxy, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if int(w.index) >= len(e.pps) {
		return nil, false
	}
	slot := &e.pps[w.index]
	if !slot.inUse || slot.generation != w.generation {
		return nil, false
	}
	return slot.pp, true
}

func (e *PDPEngine) findParticipantLocked(prefix rtps.GUIDPrefix) *ParticipantProxy {
	w, ok := e.ppIndex[prefix.String()]
	if !ok {
		return nil
	}
	slot := &e.pps[w.index]
	if !slot.inUse || slot.generation != w.generation {
		return nil
	}
	return slot.pp
}

// HasReaderProxy reports whether guid is a known reader within any tracked
// participant.
func (e *PDPEngine) HasReaderProxy(guid rtps.GUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	pp := e.findParticipantLocked(guid.Prefix())
	return pp != nil && pp.findReader(guid) >= 0
}

// HasWriterProxyData reports whether guid is a known writer within any
// tracked participant.
func (e *PDPEngine) HasWriterProxyData(guid rtps.GUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	pp := e.findParticipantLocked(guid.Prefix())
	return pp != nil && pp.findWriter(guid) >= 0
}

// LookupReaderProxyData returns a value copy of the ReaderProxyData for
// guid, locking the per-proxy mutex around the copy.
func (e *PDPEngine) LookupReaderProxyData(guid rtps.GUID) (ReaderProxyData, bool) {
	e.mu.Lock()
	pp := e.findParticipantLocked(guid.Prefix())
	if pp == nil {
		e.mu.Unlock()
		return ReaderProxyData{}, false
	}
	i := pp.findReader(guid)
	if i < 0 {
		e.mu.Unlock()
		return ReaderProxyData{}, false
	}
	rpd := pp.Readers[i].Data()
	e.mu.Unlock()

	rpd.mu.Lock()
	cp := rpd.snapshotLocked()
	rpd.mu.Unlock()
	return cp, true
}

// LookupWriterProxyData returns a value copy of the WriterProxyData for guid.
func (e *PDPEngine) LookupWriterProxyData(guid rtps.GUID) (WriterProxyData, bool) {
	e.mu.Lock()
	pp := e.findParticipantLocked(guid.Prefix())
	if pp == nil {
		e.mu.Unlock()
		return WriterProxyData{}, false
	}
	i := pp.findWriter(guid)
	if i < 0 {
		e.mu.Unlock()
		return WriterProxyData{}, false
	}
	wpd := pp.Writers[i].Data()
	e.mu.Unlock()

	wpd.mu.Lock()
	cp := wpd.snapshotLocked()
	wpd.mu.Unlock()
	return cp, true
}

// LookupParticipantName returns the announced name of the participant with
// the given GUID prefix.
func (e *PDPEngine) LookupParticipantName(prefix rtps.GUIDPrefix) (string, bool) {
	e.mu.Lock()
	pp := e.findParticipantLocked(prefix)
	e.mu.Unlock()
	if pp == nil {
		return "", false
	}
	ppd := pp.PPD()
	ppd.mu.Lock()
	name := ppd.ParticipantName
	ppd.mu.Unlock()
	return name, true
}

// LookupParticipantKey returns the instance key of the participant with the
// given GUID prefix.
func (e *PDPEngine) LookupParticipantKey(prefix rtps.GUIDPrefix) ([16]byte, bool) {
	e.mu.Lock()
	pp := e.findParticipantLocked(prefix)
	e.mu.Unlock()
	if pp == nil {
		return [16]byte{}, false
	}
	ppd := pp.PPD()
	ppd.mu.Lock()
	key := ppd.Key
	ppd.mu.Unlock()
	return key, true
}

// ReaderProxyDataInitializer populates/updates an RPD. isUpdate reports
// whether rpd already existed; ppd is the owning participant's PPD (locked).
// Returning false aborts the add/update with no side effect observed by any
// other goroutine.
type ReaderProxyDataInitializer func(rpd *ReaderProxyData, isUpdate bool, ppd *ParticipantProxyData) bool

// WriterProxyDataInitializer is the writer-side analogue of
// ReaderProxyDataInitializer.
type WriterProxyDataInitializer func(wpd *WriterProxyData, isUpdate bool, ppd *ParticipantProxyData) bool

// AddReaderProxyData inserts or updates the RPD for guid within the
// participant guid.Prefix identifies.
func (e *PDPEngine) AddReaderProxyData(guid rtps.GUID, init ReaderProxyDataInitializer) (*LockedRPD, rtps.GUID, error) {
	e.mu.Lock()
	pp := e.findParticipantLocked(guid.Prefix())
	if pp == nil {
		e.mu.Unlock()
		return nil, rtps.GUID{}, &ParticipantNotFoundError{Prefix: guid.Prefix()}
	}

	if i := pp.findReader(guid); i >= 0 {
		strong := pp.Readers[i]
		participantGUID := pp.GUID()
		e.mu.Unlock()

		ownerPPD := pp.PPD()
		ownerPPD.mu.Lock()
		rpd := strong.Data()
		rpd.mu.Lock()
		ok := init(rpd, true, ownerPPD)
		if !ok {
			rpd.mu.Unlock()
			ownerPPD.mu.Unlock()
			return nil, rtps.GUID{}, nil
		}
		ownerPPD.mu.Unlock()

		e.notifyReaderLocked(participantGUID, rpd, ChangedQos)
		return &LockedRPD{RPD: rpd}, participantGUID, nil
	}

	participantGUID := pp.GUID()
	e.mu.Unlock()

	strong, _, err := e.pool.AcquireReader(guid)
	if err != nil {
		e.log.Warn().Err(err).Str("guid", guid.String()).Msg("reader pool exhausted")
		return nil, rtps.GUID{}, err
	}

	e.mu.Lock()
	pp = e.findParticipantLocked(guid.Prefix())
	if pp == nil {
		e.mu.Unlock()
		strong.Release()
		return nil, rtps.GUID{}, &ParticipantNotFoundError{Prefix: guid.Prefix()}
	}
	if pp.findReader(guid) >= 0 {
		// Lost an insert race while the engine mutex was dropped around the
		// pool acquire; retry as an update so at most one entry per
		// endpoint GUID ever exists.
		e.mu.Unlock()
		strong.Release()
		return e.AddReaderProxyData(guid, init)
	}
	pp.Readers = append(pp.Readers, strong)
	e.mu.Unlock()

	ownerPPD := pp.PPD()
	ownerPPD.mu.Lock()
	rpd := strong.Data()
	rpd.mu.Lock()
	ok := init(rpd, false, ownerPPD)
	if !ok {
		rpd.mu.Unlock()
		ownerPPD.mu.Unlock()

		e.mu.Lock()
		if i := pp.findReader(guid); i >= 0 {
			pp.Readers = append(pp.Readers[:i], pp.Readers[i+1:]...)
		}
		e.mu.Unlock()
		strong.Release()
		return nil, rtps.GUID{}, nil
	}
	ownerPPD.mu.Unlock()

	e.notifyReaderLocked(participantGUID, rpd, Discovered)
	return &LockedRPD{RPD: rpd}, participantGUID, nil
}

// AddWriterProxyData is the writer-side symmetric twin of AddReaderProxyData.
func (e *PDPEngine) AddWriterProxyData(guid rtps.GUID, init WriterProxyDataInitializer) (*LockedWPD, rtps.GUID, error) {
	e.mu.Lock()
	pp := e.findParticipantLocked(guid.Prefix())
	if pp == nil {
		e.mu.Unlock()
		return nil, rtps.GUID{}, &ParticipantNotFoundError{Prefix: guid.Prefix()}
	}

	if i := pp.findWriter(guid); i >= 0 {
		strong := pp.Writers[i]
		participantGUID := pp.GUID()
		e.mu.Unlock()

		ownerPPD := pp.PPD()
		ownerPPD.mu.Lock()
		wpd := strong.Data()
		wpd.mu.Lock()
		ok := init(wpd, true, ownerPPD)
		if !ok {
			wpd.mu.Unlock()
			ownerPPD.mu.Unlock()
			return nil, rtps.GUID{}, nil
		}
		ownerPPD.mu.Unlock()

		e.notifyWriterLocked(participantGUID, wpd, ChangedQos)
		return &LockedWPD{WPD: wpd}, participantGUID, nil
	}

	participantGUID := pp.GUID()
	e.mu.Unlock()

	strong, _, err := e.pool.AcquireWriter(guid)
	if err != nil {
		e.log.Warn().Err(err).Str("guid", guid.String()).Msg("writer pool exhausted")
		return nil, rtps.GUID{}, err
	}

	e.mu.Lock()
	pp = e.findParticipantLocked(guid.Prefix())
	if pp == nil {
		e.mu.Unlock()
		strong.Release()
		return nil, rtps.GUID{}, &ParticipantNotFoundError{Prefix: guid.Prefix()}
	}
	if pp.findWriter(guid) >= 0 {
		e.mu.Unlock()
		strong.Release()
		return e.AddWriterProxyData(guid, init)
	}
	pp.Writers = append(pp.Writers, strong)
	e.mu.Unlock()

	ownerPPD := pp.PPD()
	ownerPPD.mu.Lock()
	wpd := strong.Data()
	wpd.mu.Lock()
	ok := init(wpd, false, ownerPPD)
	if !ok {
		wpd.mu.Unlock()
		ownerPPD.mu.Unlock()

		e.mu.Lock()
		if i := pp.findWriter(guid); i >= 0 {
			pp.Writers = append(pp.Writers[:i], pp.Writers[i+1:]...)
		}
		e.mu.Unlock()
		strong.Release()
		return nil, rtps.GUID{}, nil
	}
	ownerPPD.mu.Unlock()

	e.notifyWriterLocked(participantGUID, wpd, Discovered)
	return &LockedWPD{WPD: wpd}, participantGUID, nil
}

// AddBuiltinReaderProxyData registers rdata's contents into the builtin
// reader list of the participant guid.Prefix identifies. Builtin endpoints
// are never surfaced to the user listener. rdata is a
// freshly built, never-shared descriptor; passed by pointer to avoid a copy.
func (e *PDPEngine) AddBuiltinReaderProxyData(guid rtps.GUID, rdata *ReaderProxyData) (*ReaderProxyData, error) {
	e.mu.Lock()
	pp := e.findParticipantLocked(guid.Prefix())
	if pp == nil {
		e.mu.Unlock()
		return nil, &ParticipantNotFoundError{Prefix: guid.Prefix()}
	}
	if i := pp.findBuiltinReader(guid.EntityID()); i >= 0 {
		existing := pp.BuiltinReaders[i].Data()
		e.mu.Unlock()
		return existing, nil
	}
	e.mu.Unlock()

	strong, created, err := e.pool.AcquireReader(guid)
	if err != nil {
		return nil, err
	}
	if created {
		rpd := strong.Data()
		rpd.mu.Lock()
		rpd.UnicastLocators = rdata.UnicastLocators
		rpd.MulticastLocators = rdata.MulticastLocators
		rpd.TopicName = rdata.TopicName
		rpd.TypeName = rdata.TypeName
		rpd.QoS = rdata.QoS
		rpd.ContentFilter = rdata.ContentFilter
		rpd.GUID = guid
		rpd.mu.Unlock()
	}

	e.mu.Lock()
	pp = e.findParticipantLocked(guid.Prefix())
	if pp == nil {
		e.mu.Unlock()
		strong.Release()
		return nil, &ParticipantNotFoundError{Prefix: guid.Prefix()}
	}
	if i := pp.findBuiltinReader(guid.EntityID()); i >= 0 {
		existing := pp.BuiltinReaders[i].Data()
		e.mu.Unlock()
		strong.Release()
		return existing, nil
	}
	pp.BuiltinReaders = append(pp.BuiltinReaders, strong)
	e.mu.Unlock()

	return strong.Data(), nil
}

// AddBuiltinWriterProxyData is the writer-side twin of AddBuiltinReaderProxyData.
func (e *PDPEngine) AddBuiltinWriterProxyData(guid rtps.GUID, wdata *WriterProxyData) (*WriterProxyData, error) {
	e.mu.Lock()
	pp := e.findParticipantLocked(guid.Prefix())
	if pp == nil {
		e.mu.Unlock()
		return nil, &ParticipantNotFoundError{Prefix: guid.Prefix()}
	}
	if i := pp.findBuiltinWriter(guid.EntityID()); i >= 0 {
		existing := pp.BuiltinWriters[i].Data()
		e.mu.Unlock()
		return existing, nil
	}
	e.mu.Unlock()

	strong, created, err := e.pool.AcquireWriter(guid)
	if err != nil {
		return nil, err
	}
	if created {
		wpd := strong.Data()
		wpd.mu.Lock()
		wpd.UnicastLocators = wdata.UnicastLocators
		wpd.MulticastLocators = wdata.MulticastLocators
		wpd.TopicName = wdata.TopicName
		wpd.TypeName = wdata.TypeName
		wpd.QoS = wdata.QoS
		wpd.GUID = guid
		wpd.mu.Unlock()
	}

	e.mu.Lock()
	pp = e.findParticipantLocked(guid.Prefix())
	if pp == nil {
		e.mu.Unlock()
		strong.Release()
		return nil, &ParticipantNotFoundError{Prefix: guid.Prefix()}
	}
	if i := pp.findBuiltinWriter(guid.EntityID()); i >= 0 {
		existing := pp.BuiltinWriters[i].Data()
		e.mu.Unlock()
		strong.Release()
		return existing, nil
	}
	pp.BuiltinWriters = append(pp.BuiltinWriters, strong)
	e.mu.Unlock()

	return strong.Data(), nil
}

// RemoveReaderProxyData removes the reader guid from its owning participant,
// unpairing it from EDP first.
func (e *PDPEngine) RemoveReaderProxyData(guid rtps.GUID) error {
	e.mu.Lock()
	pp := e.findParticipantLocked(guid.Prefix())
	if pp == nil {
		e.mu.Unlock()
		return &ParticipantNotFoundError{Prefix: guid.Prefix()}
	}
	i := pp.findReader(guid)
	if i < 0 {
		e.mu.Unlock()
		return nil
	}
	strong := pp.Readers[i]
	participantGUID := pp.GUID()
	e.mu.Unlock()

	if e.edp != nil {
		e.edp.UnpairReader(participantGUID, guid)
	}
	e.notifyReader(participantGUID, strong.Data(), Removed)

	e.mu.Lock()
	if i := pp.findReader(guid); i >= 0 {
		pp.Readers = append(pp.Readers[:i], pp.Readers[i+1:]...)
	}
	e.mu.Unlock()

	strong.Release()
	return nil
}

// RemoveWriterProxyData removes the writer guid from its owning participant.
// Per the Open Question resolution, the WPD's own lock is
// held across the listener notification, symmetric with the reader path.
func (e *PDPEngine) RemoveWriterProxyData(guid rtps.GUID) error {
	e.mu.Lock()
	pp := e.findParticipantLocked(guid.Prefix())
	if pp == nil {
		e.mu.Unlock()
		return &ParticipantNotFoundError{Prefix: guid.Prefix()}
	}
	i := pp.findWriter(guid)
	if i < 0 {
		e.mu.Unlock()
		return nil
	}
	strong := pp.Writers[i]
	participantGUID := pp.GUID()
	e.mu.Unlock()

	if e.edp != nil {
		e.edp.UnpairWriter(participantGUID, guid)
	}

	wpd := strong.Data()
	wpd.mu.Lock()
	e.notifyWriterLocked(participantGUID, wpd, Removed)
	wpd.mu.Unlock()

	e.mu.Lock()
	if i := pp.findWriter(guid); i >= 0 {
		pp.Writers = append(pp.Writers[:i], pp.Writers[i+1:]...)
	}
	e.mu.Unlock()

	strong.Release()
	return nil
}

func (e *PDPEngine) notifyReader(participantGUID rtps.GUID, rpd *ReaderProxyData, status Status) {
	rpd.mu.Lock()
	defer rpd.mu.Unlock()
	e.notifyReaderLocked(participantGUID, rpd, status)
}

func (e *PDPEngine) notifyReaderLocked(participantGUID rtps.GUID, rpd *ReaderProxyData, status Status) {
	info := ReaderDiscoveryInfo{GUID: rpd.GUID, Status: status, RPD: rpd.snapshotLocked()}
	e.callbackMu.Lock()
	e.listener.OnReaderDiscovery(e, info)
	e.callbackMu.Unlock()
}

func (e *PDPEngine) notifyWriter(participantGUID rtps.GUID, wpd *WriterProxyData, status Status) {
	wpd.mu.Lock()
	defer wpd.mu.Unlock()
	e.notifyWriterLocked(participantGUID, wpd, status)
}

func (e *PDPEngine) notifyWriterLocked(participantGUID rtps.GUID, wpd *WriterProxyData, status Status) {
	info := WriterDiscoveryInfo{GUID: wpd.GUID, Status: status, WPD: wpd.snapshotLocked()}
	e.callbackMu.Lock()
	e.listener.OnWriterDiscovery(e, info)
	e.callbackMu.Unlock()
}

// RemoveRemoteParticipant refuses to remove the local participant (returns
// false, no side effects) and otherwise performs the
// ordered teardown: detach, unpair, collaborator cleanup, history eviction,
// listener notification, clear, slot recycle.
func (e *PDPEngine) RemoveRemoteParticipant(guid rtps.GUID, reason Status) (bool, error) {
	if guidEqual(guid, e.localGUID) {
		return false, nil
	}

	// Step 1: detach from the table under the engine mutex, then release it.
	e.mu.Lock()
	w, ok := e.ppIndex[guid.Prefix().String()]
	if !ok {
		e.mu.Unlock()
		return false, &ParticipantNotFoundError{Prefix: guid.Prefix()}
	}
	slot := &e.pps[w.index]
	pp := slot.pp
	delete(e.ppIndex, guid.Prefix().String())
	slot.pp = nil
	e.mu.Unlock()

	// Step 2: unpair every endpoint from EDP, notifying the listener.
	if e.edp != nil {
		for _, r := range pp.Readers {
			e.edp.UnpairReader(guid, r.Data().GUID)
			e.notifyReader(guid, r.Data(), Removed)
		}
		for _, w := range pp.Writers {
			e.edp.UnpairWriter(guid, w.Data().GUID)
			e.notifyWriter(guid, w.Data(), Removed)
		}
	}

	ppd := pp.PPD()
	ppd.mu.Lock()

	// Step 3: tell WLP/EDP to drop remote endpoints keyed by this PPD.
	if e.wlp != nil {
		e.wlp.RemoveRemoteEndpoints(ppd)
	}
	if e.edp != nil {
		e.edp.RemoveRemoteEndpoints(ppd)
	}

	// Step 4: security manager notification (stubbed collaborator).
	if e.rtpsParticipant != nil {
		if sm := e.rtpsParticipant.SecurityManager(); sm != nil {
			sm.OnParticipantRemoved(guid)
		}
	}

	// Step 5: evict cached PDP samples for this instance from the reader history.
	if e.builtin != nil && e.builtin.Reader != nil {
		e.builtin.Reader.RemoveChange(ppd.Key)
	}

	// Step 6: notify the user listener under callbackMu + the PPD mutex.
	removedSnapshot := ppd.snapshotLocked()
	e.callbackMu.Lock()
	e.listener.OnParticipantDiscovery(e, ParticipantDiscoveryInfo{GUID: guid, Status: reason, PPD: removedSnapshot})
	e.callbackMu.Unlock()
	ppd.mu.Unlock()

	// Step 7: release every strong reference this PP held.
	pp.Clear()

	// Step 8: return the table slot to the free-list. Re-index into e.pps:
	// the backing array may have been reallocated by a concurrent grow since
	// step 1 detached the PP.
	e.mu.Lock()
	slot = &e.pps[w.index]
	slot.inUse = false
	slot.generation++
	e.ppFree = append(e.ppFree, w.index)
	e.mu.Unlock()

	e.log.Info().Str("guid", guid.String()).Str("reason", reason.String()).Msg("remote participant removed")
	return true, nil
}

// AnnounceParticipantState builds and hands off the local PPD announcement.
func (e *PDPEngine) AnnounceParticipantState(newChange bool, dispose bool) error {
	e.mu.Lock()
	w, ok := e.ppIndex[e.localGUID.Prefix().String()]
	if !ok {
		e.mu.Unlock()
		return &ParticipantNotFoundError{Prefix: e.localGUID.Prefix()}
	}
	pp := e.pps[w.index].pp
	e.mu.Unlock()

	if !dispose {
		changed := e.hasChangedLocalPDP.Swap(false)
		if !changed && !newChange {
			return nil
		}
	}

	ppd := pp.PPD()
	ppd.mu.Lock()
	ppd.Version++
	snapshot := ppd.snapshotLocked()
	ppd.mu.Unlock()

	payload, err := SerializeParticipantProxyData(&snapshot, wireByteOrder)
	if err != nil {
		e.log.Error().Err(err).Msg("participant proxy data serialization failed")
		return &SerializationFailedError{Cause: err}
	}

	for e.builtin.Writer.HistorySize() >= 1 {
		if !e.builtin.Writer.RemoveMinChange() {
			break
		}
	}

	kind := ChangeAlive
	if dispose {
		kind = ChangeNotAliveDisposedUnregistered
	}

	return e.builtin.Writer.AddChange(CacheChange{
		Kind:        kind,
		InstanceKey: snapshot.Key,
		Payload:     payload,
		SeqNum:      snapshot.Version,
	})
}

// ParticipantProxyDataSerialized is a debug/introspection accessor returning
// the current wire bytes of a participant's PPD without triggering a new
// announce cycle.
func (e *PDPEngine) ParticipantProxyDataSerialized(prefix rtps.GUIDPrefix) ([]byte, error) {
	e.mu.Lock()
	pp := e.findParticipantLocked(prefix)
	e.mu.Unlock()
	if pp == nil {
		return nil, &ParticipantNotFoundError{Prefix: prefix}
	}

	ppd := pp.PPD()
	ppd.mu.Lock()
	snapshot := ppd.snapshotLocked()
	ppd.mu.Unlock()

	return SerializeParticipantProxyData(&snapshot, wireByteOrder)
}

// AssertRemoteParticipantLiveliness explicitly asserts liveliness for prefix,
// for use when a transport layer observes any traffic (not just PDP
// samples) from a remote prefix.
func (e *PDPEngine) AssertRemoteParticipantLiveliness(prefix rtps.GUIDPrefix) error {
	e.mu.Lock()
	pp := e.findParticipantLocked(prefix)
	e.mu.Unlock()
	if pp == nil {
		return &ParticipantNotFoundError{Prefix: prefix}
	}
	pp.AssertLiveliness(time.Now())
	return nil
}

// IgnoreParticipant administratively ignores prefix: inbound samples for it
// are rejected before reaching AddParticipantProxy, and any already-known
// participant is removed with reason Ignored.
func (e *PDPEngine) IgnoreParticipant(prefix rtps.GUIDPrefix) {
	e.mu.Lock()
	e.ignored[prefix.String()] = true
	_, known := e.ppIndex[prefix.String()]
	e.mu.Unlock()

	if known {
		guid := rtps.NewGUID(prefix, rtps.ENTITYID_PARTICIPANT)
		if _, err := e.RemoveRemoteParticipant(guid, Ignored); err != nil {
			e.log.Warn().Err(err).Str("prefix", prefix.String()).Msg("failed to remove newly ignored participant")
		}
	}
}

// IsIgnored reports whether prefix is on the ignore list.
func (e *PDPEngine) IsIgnored(prefix rtps.GUIDPrefix) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ignored[prefix.String()]
}

// LocalParticipantProxyDataSnapshot returns a lock-protected value copy of
// the local PPD, for use by EDP/WLP wiring and tests without exposing the
// live mutex-guarded object.
func (e *PDPEngine) LocalParticipantProxyDataSnapshot() ParticipantProxyData {
	e.mu.Lock()
	w := e.ppIndex[e.localGUID.Prefix().String()]
	pp := e.pps[w.index].pp
	e.mu.Unlock()

	ppd := pp.PPD()
	ppd.mu.Lock()
	snapshot := ppd.snapshotLocked()
	ppd.mu.Unlock()
	return snapshot
}

// OnAliveSample handles an inbound ALIVE PDP sample: discover-or-update the
// remote participant, refresh its liveliness, and notify EDP/WLP/listener.
// remote is a freshly deserialized, never-shared PPD
// (see DeserializeParticipantProxyData); passed by pointer purely to avoid
// an unnecessary copy, not because it is shared with another goroutine.
func (e *PDPEngine) OnAliveSample(remote *ParticipantProxyData) error {
	if e.IsIgnored(remote.GUID.Prefix()) {
		return nil
	}

	e.mu.Lock()
	_, existed := e.ppIndex[remote.GUID.Prefix().String()]
	e.mu.Unlock()

	guard, err := e.AddParticipantProxy(remote.GUID, true)
	if err != nil {
		return err
	}
	guard.PPD.VendorID = remote.VendorID
	guard.PPD.ProtoVer = remote.ProtoVer
	guard.PPD.BuiltinEndpoints = remote.BuiltinEndpoints
	guard.PPD.ParticipantName = remote.ParticipantName
	guard.PPD.UserData = remote.UserData
	guard.PPD.DefaultUnicastLocators = remote.DefaultUnicastLocators
	guard.PPD.DefaultMulticastLocators = remote.DefaultMulticastLocators
	guard.PPD.MetatrafficUnicastLocators = remote.MetatrafficUnicastLocators
	guard.PPD.MetatrafficMulticastLocators = remote.MetatrafficMulticastLocators
	guard.PPD.LeaseDuration = remote.LeaseDuration
	snapshot := guard.PPD.snapshotLocked()
	guard.Unlock()

	e.mu.Lock()
	w := e.ppIndex[remote.GUID.Prefix().String()]
	pp := e.pps[w.index].pp
	e.mu.Unlock()
	pp.AssertLiveliness(time.Now())
	if lt := pp.leaseTimer(); lt != nil {
		lt.Restart(remote.LeaseDuration)
	}

	// Seed EDP/WLP from the just-discovered-or-updated proxy data so they can
	// start matching/tracking the remote participant's endpoints.
	ppd := pp.PPD()
	ppd.mu.Lock()
	if e.wlp != nil {
		e.wlp.AssignRemoteEndpoints(ppd)
	}
	if e.edp != nil {
		e.edp.AssignRemoteEndpoints(ppd)
	}
	ppd.mu.Unlock()

	status := Discovered
	if existed {
		status = ChangedQos
	}
	e.callbackMu.Lock()
	e.listener.OnParticipantDiscovery(e, ParticipantDiscoveryInfo{GUID: remote.GUID, Status: status, PPD: snapshot})
	e.callbackMu.Unlock()

	return nil
}

// OnDisposedSample handles an inbound NOT_ALIVE_DISPOSED_UNREGISTERED PDP
// sample by removing the remote participant.
func (e *PDPEngine) OnDisposedSample(guid rtps.GUID) error {
	_, err := e.RemoveRemoteParticipant(guid, Removed)
	return err
}

// StopParticipantAnnouncement cancels the AnnouncementScheduler timer; no
// further periodic announcements fire until ResetParticipantAnnouncement.
func (e *PDPEngine) StopParticipantAnnouncement() {
	if e.scheduler != nil {
		e.scheduler.Stop()
	}
}

// ResetParticipantAnnouncement restarts the announcement cadence from the
// steady-state period.
func (e *PDPEngine) ResetParticipantAnnouncement() {
	if e.scheduler != nil {
		e.scheduler.Reset()
	}
}

// Close tears down the engine: stops the AnnouncementScheduler and every
// LeaseTimer (the Stop calls run on an errgroup, which Close waits for),
// frees every ParticipantProxy (dropping their pooled strong references),
// then releases this engine's reference on the shared pool. Stop only
// cancels pending firings: a timer callback already running when its timer
// is stopped is not waited for.
func (e *PDPEngine) Close() error {
	var outerErr error
	e.shutdownOnce.Do(func() {
		var g errgroup.Group

		if e.scheduler != nil {
			g.Go(func() error {
				e.scheduler.Stop()
				return nil
			})
		}

		e.mu.Lock()
		timers := make([]*LeaseTimer, 0, len(e.pps))
		for i := range e.pps {
			if e.pps[i].inUse && e.pps[i].pp != nil {
				if lt := e.pps[i].pp.leaseTimer(); lt != nil {
					timers = append(timers, lt)
				}
			}
		}
		e.mu.Unlock()

		for _, lt := range timers {
			lt := lt
			g.Go(func() error {
				lt.Stop()
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			outerErr = fmt.Errorf("pdp: close: %w", err)
		}

		// Detach every PP from the table, then drop its strong references
		// with the engine mutex free (pool returns must never run under it).
		e.mu.Lock()
		var pps []*ParticipantProxy
		for i := range e.pps {
			if e.pps[i].inUse && e.pps[i].pp != nil {
				pps = append(pps, e.pps[i].pp)
			}
			e.pps[i] = ppTableSlot{generation: e.pps[i].generation + 1}
		}
		e.ppIndex = make(map[string]weakHandle)
		e.ppFree = e.ppFree[:0]
		for i := range e.pps {
			e.ppFree = append(e.ppFree, uint32(i))
		}
		e.mu.Unlock()
		for _, pp := range pps {
			pp.Clear()
		}

		if err := e.pool.ReleaseIfLast(); err != nil {
			e.log.Warn().Err(err).Msg("pool release at engine close reported a problem")
		}
	})
	return outerErr
}
