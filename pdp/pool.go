package pdp

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/liamstask/go-rtps-pdp/rtps"
)

// ppdSlot is one arena entry for a ParticipantProxyData. generation is bumped
// every time the slot is returned to the free-list, so a stale (index,
// generation) pair fails to upgrade rather than silently aliasing whatever
// GUID now occupies the slot.
type ppdSlot struct {
	data       *ParticipantProxyData
	generation uint32
	refCount   int32 // atomic; accessed only via sync/atomic
	inUse      bool
}

type rpdSlot struct {
	data       *ReaderProxyData
	generation uint32
	refCount   int32
	inUse      bool
}

type wpdSlot struct {
	data       *WriterProxyData
	generation uint32
	refCount   int32
	inUse      bool
}

type weakHandle struct {
	index      uint32
	generation uint32
}

// ProxyPool is the process-wide intern table for proxy data:
// one mutex guarding three arenas (participant/reader/writer), their
// free-lists, allocation ceilings, and the GUID-keyed weak indices used to
// deduplicate proxy objects across every PDPEngine in the process.
type ProxyPool struct {
	mu sync.Mutex

	log zerolog.Logger

	allocation Allocation

	// The arenas hold slot pointers, not slot values: strong handles keep a
	// stable *slot for their lock-free refcount ops, which a growth-triggered
	// append must never invalidate.
	participants     []*ppdSlot
	participantFree  []uint32
	participantIndex map[string]weakHandle // keyed by GUIDPrefix.String()

	readers     []*rpdSlot
	readerFree  []uint32
	readerIndex map[string]weakHandle // keyed by GUID bytes

	writers     []*wpdSlot
	writerFree  []uint32
	writerIndex map[string]weakHandle

	// engineRefCount tracks how many PDPEngines have called InitializeOrGrow
	// without a matching ReleaseIfLast; the pool's backing arenas are only
	// actually dropped when this reaches zero.
	engineRefCount int32

	// deferred holds handle-release thunks queued by deferRelease; it is a
	// safety valve drained, with the pool mutex released while the thunks
	// run, on the way out of every Acquire*/Return*/InitializeOrGrow call. No current call path in this package needs it
	// (see DESIGN.md), but a future addition that cannot preserve the
	// "Release() never runs while the pool mutex is held" ordering can use it
	// instead of introducing a reentrant mutex.
	deferred []func()
}

// NewProxyPool constructs an empty pool. Callers construct one *ProxyPool
// and pass it to every PDPEngine in the process; there is no package-level
// singleton.
func NewProxyPool(opts ...PoolOption) *ProxyPool {
	p := &ProxyPool{
		participantIndex: make(map[string]weakHandle),
		readerIndex:      make(map[string]weakHandle),
		writerIndex:      make(map[string]weakHandle),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PoolOption configures a ProxyPool at construction.
type PoolOption func(*ProxyPool)

// WithPoolLogger attaches a logger to the pool, sub-scoped like every other
// component logger in this package.
func WithPoolLogger(l zerolog.Logger) PoolOption {
	return func(p *ProxyPool) {
		p.log = newSubLogger(l, "proxypool")
	}
}

// drainDeferred is deferred after p.mu.Lock, so it runs with the mutex held;
// it releases the mutex around the queued thunks (which may call Release and
// so re-enter the pool) and re-acquires it for the caller's deferred Unlock.
func (p *ProxyPool) drainDeferred() {
	for len(p.deferred) > 0 {
		fn := p.deferred[len(p.deferred)-1]
		p.deferred = p.deferred[:len(p.deferred)-1]
		p.mu.Unlock()
		fn()
		p.mu.Lock()
	}
}

// deferRelease queues fn to run, with the pool mutex released, at the end of
// the next Acquire*/Return*/InitializeOrGrow call. Unused
// by any call path in this package today; kept as the escape hatch for a
// future path that cannot release with the pool mutex free.
func (p *ProxyPool) deferRelease(fn func()) {
	p.mu.Lock()
	p.deferred = append(p.deferred, fn)
	p.mu.Unlock()
}

// InitializeOrGrow is idempotent: it pre-reserves at least allocation.Initial
// items per kind, growing existing arenas rather than shrinking them if
// called again with a smaller allocation. May be called by every PDPEngine
// sharing this pool at construction.
func (p *ProxyPool) InitializeOrGrow(a Allocation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.drainDeferred()

	p.engineRefCount++

	p.growParticipants(a.Participants.Initial)
	p.growReaders(a.Readers.Initial)
	p.growWriters(a.Writers.Initial)

	if a.Participants.Maximum > p.allocation.Participants.Maximum {
		p.allocation.Participants.Maximum = a.Participants.Maximum
	}
	if a.Readers.Maximum > p.allocation.Readers.Maximum {
		p.allocation.Readers.Maximum = a.Readers.Maximum
	}
	if a.Writers.Maximum > p.allocation.Writers.Maximum {
		p.allocation.Writers.Maximum = a.Writers.Maximum
	}
	p.allocation.Locators = a.Locators
}

func (p *ProxyPool) growParticipants(target int) {
	for len(p.participants) < target {
		p.participantFree = append(p.participantFree, uint32(len(p.participants)))
		p.participants = append(p.participants, &ppdSlot{})
	}
}

func (p *ProxyPool) growReaders(target int) {
	for len(p.readers) < target {
		p.readerFree = append(p.readerFree, uint32(len(p.readers)))
		p.readers = append(p.readers, &rpdSlot{})
	}
}

func (p *ProxyPool) growWriters(target int) {
	for len(p.writers) < target {
		p.writerFree = append(p.writerFree, uint32(len(p.writers)))
		p.writers = append(p.writers, &wpdSlot{})
	}
}

// StrongPPD is a refcounted handle to a pooled ParticipantProxyData. Every
// copy must go through Clone(), never struct assignment, so the type itself
// makes "this holds a pool reference" explicit. The slot
// pointer is stable across arena growth, so the refcount ops need no lock.
type StrongPPD struct {
	pool       *ProxyPool
	slot       *ppdSlot
	index      uint32
	generation uint32
}

func (h StrongPPD) GUID() rtps.GUID {
	return h.slot.data.GUID
}

func (h StrongPPD) Data() *ParticipantProxyData {
	return h.slot.data
}

// Weak returns a non-owning (index, generation) pair for use by callers
// (e.g. LeaseTimer) that must not keep the PPD alive by holding a strong ref.
func (h StrongPPD) Weak() weakHandle {
	return weakHandle{index: h.index, generation: h.generation}
}

// Clone bumps the slot's strong-reference count and returns an independent
// handle to the same slot.
func (h StrongPPD) Clone() StrongPPD {
	atomic.AddInt32(&h.slot.refCount, 1)
	return h
}

// Release decrements the slot's strong-reference count and, on reaching
// zero, returns the slot to the pool's free-list. Release always acquires
// the pool mutex fresh; by construction it is never
// called while the caller already holds it.
func (h StrongPPD) Release() {
	if atomic.AddInt32(&h.slot.refCount, -1) == 0 {
		h.pool.returnParticipant(h.index, h.generation)
	}
}

// upgradeParticipant attempts to recover a StrongPPD from a weak handle,
// failing if the slot's generation has since moved on.
func (p *ProxyPool) upgradeParticipant(w weakHandle) (StrongPPD, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if int(w.index) >= len(p.participants) {
		return StrongPPD{}, false
	}
	slot := p.participants[w.index]
	if !slot.inUse || slot.generation != w.generation {
		return StrongPPD{}, false
	}
	atomic.AddInt32(&slot.refCount, 1)
	return StrongPPD{pool: p, slot: slot, index: w.index, generation: w.generation}, true
}

// AcquireParticipant interns the PPD for guidPrefix: if the weak index
// already has a live entry it is returned with created=false; otherwise a
// free slot is taken (growing the arena if the ceiling allows) and a fresh
// PPD is registered. Fails with PoolExhaustedError once the allocation
// ceiling is hit and the free-list is empty.
func (p *ProxyPool) AcquireParticipant(prefix rtps.GUIDPrefix) (StrongPPD, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.drainDeferred()

	key := prefix.String()
	if w, ok := p.participantIndex[key]; ok {
		slot := p.participants[w.index]
		if slot.inUse && slot.generation == w.generation {
			atomic.AddInt32(&slot.refCount, 1)
			return StrongPPD{pool: p, slot: slot, index: w.index, generation: w.generation}, false, nil
		}
		delete(p.participantIndex, key)
	}

	idx, err := p.takeParticipantSlot()
	if err != nil {
		return StrongPPD{}, false, err
	}

	slot := p.participants[idx]
	slot.inUse = true
	if slot.data == nil {
		slot.data = NewParticipantProxyData()
	}
	// Record the prefix now so returnParticipant can erase this index entry
	// even if the caller never populates the PPD further.
	slot.data.GUID = rtps.NewGUID(append(rtps.GUIDPrefix(nil), prefix...), rtps.ENTITYID_PARTICIPANT)
	atomic.StoreInt32(&slot.refCount, 1)

	p.participantIndex[key] = weakHandle{index: idx, generation: slot.generation}
	return StrongPPD{pool: p, slot: slot, index: idx, generation: slot.generation}, true, nil
}

func (p *ProxyPool) takeParticipantSlot() (uint32, error) {
	// The ceiling bounds proxies in use, not arena size: a pre-reserved
	// free-list larger than Maximum must not defeat enforcement.
	if max := p.allocation.Participants.Maximum; max > 0 && len(p.participants)-len(p.participantFree) >= max {
		return 0, &PoolExhaustedError{Resource: "participant", Max: max}
	}
	if len(p.participantFree) > 0 {
		idx := p.participantFree[len(p.participantFree)-1]
		p.participantFree = p.participantFree[:len(p.participantFree)-1]
		return idx, nil
	}
	idx := uint32(len(p.participants))
	p.participants = append(p.participants, &ppdSlot{})
	return idx, nil
}

func (p *ProxyPool) returnParticipant(index, generation uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.drainDeferred()

	slot := p.participants[index]
	if !slot.inUse || slot.generation != generation {
		return // already returned or superseded; double-release guarded
	}

	if slot.data != nil {
		if !slot.data.GUID.Unknown() {
			delete(p.participantIndex, slot.data.GUID.Prefix().String())
		}
		slot.data.reset()
	}

	slot.inUse = false
	slot.generation++
	p.participantFree = append(p.participantFree, index)
}

// StrongRPD is a refcounted handle to a pooled ReaderProxyData.
type StrongRPD struct {
	pool       *ProxyPool
	slot       *rpdSlot
	index      uint32
	generation uint32
}

func (h StrongRPD) Data() *ReaderProxyData { return h.slot.data }

func (h StrongRPD) Clone() StrongRPD {
	atomic.AddInt32(&h.slot.refCount, 1)
	return h
}

func (h StrongRPD) Release() {
	if atomic.AddInt32(&h.slot.refCount, -1) == 0 {
		h.pool.returnReader(h.index, h.generation)
	}
}

// AcquireReader interns the RPD for guid, analogous to AcquireParticipant.
func (p *ProxyPool) AcquireReader(guid rtps.GUID) (StrongRPD, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.drainDeferred()

	key := guidKey(guid)
	if w, ok := p.readerIndex[key]; ok {
		slot := p.readers[w.index]
		if slot.inUse && slot.generation == w.generation {
			atomic.AddInt32(&slot.refCount, 1)
			return StrongRPD{pool: p, slot: slot, index: w.index, generation: w.generation}, false, nil
		}
		delete(p.readerIndex, key)
	}

	idx, err := p.takeReaderSlot()
	if err != nil {
		return StrongRPD{}, false, err
	}
	slot := p.readers[idx]
	slot.inUse = true
	if slot.data == nil {
		slot.data = &ReaderProxyData{}
	}
	slot.data.GUID = guid
	atomic.StoreInt32(&slot.refCount, 1)

	p.readerIndex[key] = weakHandle{index: idx, generation: slot.generation}
	return StrongRPD{pool: p, slot: slot, index: idx, generation: slot.generation}, true, nil
}

func (p *ProxyPool) takeReaderSlot() (uint32, error) {
	if max := p.allocation.Readers.Maximum; max > 0 && len(p.readers)-len(p.readerFree) >= max {
		return 0, &PoolExhaustedError{Resource: "reader", Max: max}
	}
	if len(p.readerFree) > 0 {
		idx := p.readerFree[len(p.readerFree)-1]
		p.readerFree = p.readerFree[:len(p.readerFree)-1]
		return idx, nil
	}
	idx := uint32(len(p.readers))
	p.readers = append(p.readers, &rpdSlot{})
	return idx, nil
}

func (p *ProxyPool) returnReader(index, generation uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.drainDeferred()

	slot := p.readers[index]
	if !slot.inUse || slot.generation != generation {
		return
	}
	if slot.data != nil {
		delete(p.readerIndex, guidKey(slot.data.GUID))
		slot.data.reset()
	}
	slot.inUse = false
	slot.generation++
	p.readerFree = append(p.readerFree, index)
}

// StrongWPD is a refcounted handle to a pooled WriterProxyData.
type StrongWPD struct {
	pool       *ProxyPool
	slot       *wpdSlot
	index      uint32
	generation uint32
}

func (h StrongWPD) Data() *WriterProxyData { return h.slot.data }

func (h StrongWPD) Clone() StrongWPD {
	atomic.AddInt32(&h.slot.refCount, 1)
	return h
}

func (h StrongWPD) Release() {
	if atomic.AddInt32(&h.slot.refCount, -1) == 0 {
		h.pool.returnWriter(h.index, h.generation)
	}
}

// AcquireWriter interns the WPD for guid, analogous to AcquireParticipant.
func (p *ProxyPool) AcquireWriter(guid rtps.GUID) (StrongWPD, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.drainDeferred()

	key := guidKey(guid)
	if w, ok := p.writerIndex[key]; ok {
		slot := p.writers[w.index]
		if slot.inUse && slot.generation == w.generation {
			atomic.AddInt32(&slot.refCount, 1)
			return StrongWPD{pool: p, slot: slot, index: w.index, generation: w.generation}, false, nil
		}
		delete(p.writerIndex, key)
	}

	idx, err := p.takeWriterSlot()
	if err != nil {
		return StrongWPD{}, false, err
	}
	slot := p.writers[idx]
	slot.inUse = true
	if slot.data == nil {
		slot.data = &WriterProxyData{}
	}
	slot.data.GUID = guid
	atomic.StoreInt32(&slot.refCount, 1)

	p.writerIndex[key] = weakHandle{index: idx, generation: slot.generation}
	return StrongWPD{pool: p, slot: slot, index: idx, generation: slot.generation}, true, nil
}

func (p *ProxyPool) takeWriterSlot() (uint32, error) {
	if max := p.allocation.Writers.Maximum; max > 0 && len(p.writers)-len(p.writerFree) >= max {
		return 0, &PoolExhaustedError{Resource: "writer", Max: max}
	}
	if len(p.writerFree) > 0 {
		idx := p.writerFree[len(p.writerFree)-1]
		p.writerFree = p.writerFree[:len(p.writerFree)-1]
		return idx, nil
	}
	idx := uint32(len(p.writers))
	p.writers = append(p.writers, &wpdSlot{})
	return idx, nil
}

func (p *ProxyPool) returnWriter(index, generation uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.drainDeferred()

	slot := p.writers[index]
	if !slot.inUse || slot.generation != generation {
		return
	}
	if slot.data != nil {
		delete(p.writerIndex, guidKey(slot.data.GUID))
		slot.data.reset()
	}
	slot.inUse = false
	slot.generation++
	p.writerFree = append(p.writerFree, index)
}

// ReleaseIfLast decrements the process-wide PDPEngine refcount on this pool;
// on reaching zero it verifies the weak indices are empty (a live GUID at
// shutdown indicates a leaked strong handle) and drops the backing arenas.
// Returns an error rather than panicking, since this runs during shutdown of
// a possibly still-draining process.
func (p *ProxyPool) ReleaseIfLast() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.engineRefCount == 0 {
		return fmt.Errorf("pdp: ReleaseIfLast called with no outstanding engine reference")
	}
	p.engineRefCount--
	if p.engineRefCount > 0 {
		return nil
	}

	if len(p.participantIndex) != 0 || len(p.readerIndex) != 0 || len(p.writerIndex) != 0 {
		return fmt.Errorf("pdp: ReleaseIfLast: weak index non-empty at last engine teardown (participants=%d readers=%d writers=%d)",
			len(p.participantIndex), len(p.readerIndex), len(p.writerIndex))
	}

	p.participants = nil
	p.participantFree = nil
	p.readers = nil
	p.readerFree = nil
	p.writers = nil
	p.writerFree = nil
	return nil
}

func guidKey(g rtps.GUID) string {
	b := g // local copy so Bytes() can take its address
	return string(b.Bytes())
}
