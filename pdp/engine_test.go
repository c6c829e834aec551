package pdp

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/liamstask/go-rtps-pdp/rtps"
)

type recordingListener struct {
	mu           sync.Mutex
	participants []ParticipantDiscoveryInfo
	readers      []ReaderDiscoveryInfo
	writers      []WriterDiscoveryInfo
}

func (l *recordingListener) OnParticipantDiscovery(_ *PDPEngine, info ParticipantDiscoveryInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.participants = append(l.participants, info)
}

func (l *recordingListener) OnReaderDiscovery(_ *PDPEngine, info ReaderDiscoveryInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readers = append(l.readers, info)
}

func (l *recordingListener) OnWriterDiscovery(_ *PDPEngine, info WriterDiscoveryInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writers = append(l.writers, info)
}

func newTestEngineWithListener(t *testing.T, l Listener) *PDPEngine {
	t.Helper()
	pool := NewProxyPool()
	e := NewPDPEngine(pool, DefaultAllocation, WithListener(l))
	return e
}

func TestAddReaderProxyDataInsertThenUpdate(t *testing.T) {
	l := &recordingListener{}
	e := newTestEngineWithListener(t, l)
	e.localGUID = testGUID(1)
	guard, err := e.AddParticipantProxy(testGUID(2), true)
	if err != nil {
		t.Fatalf("AddParticipantProxy: %v", err)
	}
	participantGUID := guard.PPD.GUID
	guard.Unlock()

	readerGUID := rtps.NewGUID(participantGUID.Prefix(), rtps.EntityID(0x201))

	lrpd, _, err := e.AddReaderProxyData(readerGUID, func(rpd *ReaderProxyData, isUpdate bool, ppd *ParticipantProxyData) bool {
		if isUpdate {
			t.Errorf("first add should not be reported as an update")
		}
		rpd.TopicName = "chatter"
		rpd.TypeName = "std_msgs/String"
		return true
	})
	if err != nil {
		t.Fatalf("AddReaderProxyData: %v", err)
	}
	lrpd.Unlock()

	lrpd2, _, err := e.AddReaderProxyData(readerGUID, func(rpd *ReaderProxyData, isUpdate bool, ppd *ParticipantProxyData) bool {
		if !isUpdate {
			t.Errorf("second add for the same GUID should be reported as an update")
		}
		rpd.TopicName = "chatter2"
		return true
	})
	if err != nil {
		t.Fatalf("AddReaderProxyData (update): %v", err)
	}
	lrpd2.Unlock()

	rpd, ok := e.LookupReaderProxyData(readerGUID)
	if !ok {
		t.Fatalf("expected reader proxy data to be discoverable after insert")
	}
	if rpd.TopicName != "chatter2" {
		t.Errorf("expected update to take effect, got topic %q", rpd.TopicName)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.readers) != 2 {
		t.Fatalf("expected 2 reader notifications (Discovered, ChangedQos), got %d", len(l.readers))
	}
	if l.readers[0].Status != Discovered {
		t.Errorf("first notification should be Discovered, got %v", l.readers[0].Status)
	}
	if l.readers[1].Status != ChangedQos {
		t.Errorf("second notification should be ChangedQos, got %v", l.readers[1].Status)
	}
}

func TestAddReaderProxyDataUnknownParticipant(t *testing.T) {
	e := newTestEngine(t)
	e.localGUID = testGUID(1)

	readerGUID := rtps.NewGUID(testGUID(99).Prefix(), rtps.EntityID(0x201))
	_, _, err := e.AddReaderProxyData(readerGUID, func(rpd *ReaderProxyData, isUpdate bool, ppd *ParticipantProxyData) bool {
		return true
	})
	var notFoundErr *ParticipantNotFoundError
	if !errors.As(err, &notFoundErr) {
		t.Errorf("expected ParticipantNotFoundError, got %v", err)
	} else if notFoundErr.Kind() != KindParticipantNotFound {
		t.Errorf("expected Kind()==KindParticipantNotFound, got %v", notFoundErr.Kind())
	}
}

func TestAddReaderProxyDataInitializerRejectionRollsBack(t *testing.T) {
	e := newTestEngine(t)
	e.localGUID = testGUID(1)
	guard, err := e.AddParticipantProxy(testGUID(2), true)
	if err != nil {
		t.Fatalf("AddParticipantProxy: %v", err)
	}
	participantGUID := guard.PPD.GUID
	guard.Unlock()

	readerGUID := rtps.NewGUID(participantGUID.Prefix(), rtps.EntityID(0x201))
	_, _, err = e.AddReaderProxyData(readerGUID, func(rpd *ReaderProxyData, isUpdate bool, ppd *ParticipantProxyData) bool {
		return false
	})
	if err != nil {
		t.Fatalf("AddReaderProxyData: %v", err)
	}

	if e.HasReaderProxy(readerGUID) {
		t.Errorf("a rejected initializer must leave no trace of the reader")
	}
}

func TestRemoveRemoteParticipantRefusesSelf(t *testing.T) {
	e := newTestEngine(t)
	e.localGUID = testGUID(1)
	guard, err := e.AddParticipantProxy(e.localGUID, false)
	if err != nil {
		t.Fatalf("AddParticipantProxy: %v", err)
	}
	guard.Unlock()

	ok, err := e.RemoveRemoteParticipant(e.localGUID, Dropped)
	if err != nil {
		t.Fatalf("RemoveRemoteParticipant: %v", err)
	}
	if ok {
		t.Errorf("RemoveRemoteParticipant must refuse to remove the local participant")
	}

	e.mu.Lock()
	_, stillPresent := e.ppIndex[e.localGUID.Prefix().String()]
	e.mu.Unlock()
	if !stillPresent {
		t.Errorf("refused self-removal must leave the local participant in place")
	}
}

func TestRemoveRemoteParticipantNotifiesListener(t *testing.T) {
	l := &recordingListener{}
	e := newTestEngineWithListener(t, l)
	e.localGUID = testGUID(1)

	guard, err := e.AddParticipantProxy(testGUID(2), true)
	if err != nil {
		t.Fatalf("AddParticipantProxy: %v", err)
	}
	remoteGUID := guard.PPD.GUID
	guard.Unlock()

	ok, err := e.RemoveRemoteParticipant(remoteGUID, Dropped)
	if err != nil {
		t.Fatalf("RemoveRemoteParticipant: %v", err)
	}
	if !ok {
		t.Errorf("expected RemoveRemoteParticipant to succeed for a known remote")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.participants) != 1 {
		t.Fatalf("expected exactly one participant notification, got %d", len(l.participants))
	}
	if l.participants[0].Status != Dropped {
		t.Errorf("expected Dropped status, got %v", l.participants[0].Status)
	}

	e.mu.Lock()
	_, stillPresent := e.ppIndex[remoteGUID.Prefix().String()]
	e.mu.Unlock()
	if stillPresent {
		t.Errorf("participant should be gone from the table after removal")
	}
}

func TestIgnoreParticipantRemovesKnownAndBlocksFuture(t *testing.T) {
	e := newTestEngine(t)
	e.localGUID = testGUID(1)

	guard, err := e.AddParticipantProxy(testGUID(2), true)
	if err != nil {
		t.Fatalf("AddParticipantProxy: %v", err)
	}
	remoteGUID := guard.PPD.GUID
	guard.Unlock()

	e.IgnoreParticipant(remoteGUID.Prefix())

	if !e.IsIgnored(remoteGUID.Prefix()) {
		t.Errorf("expected prefix to be marked ignored")
	}

	e.mu.Lock()
	_, stillPresent := e.ppIndex[remoteGUID.Prefix().String()]
	e.mu.Unlock()
	if stillPresent {
		t.Errorf("ignoring a known participant must remove it")
	}

	remote := NewParticipantProxyData()
	remote.GUID = remoteGUID
	if err := e.OnAliveSample(remote); err != nil {
		t.Fatalf("OnAliveSample: %v", err)
	}
	e.mu.Lock()
	_, reappeared := e.ppIndex[remoteGUID.Prefix().String()]
	e.mu.Unlock()
	if reappeared {
		t.Errorf("an ignored prefix must not be rediscovered via OnAliveSample")
	}
}

type recordingWriter struct {
	mu      sync.Mutex
	changes []CacheChange
}

func (w *recordingWriter) AddChange(c CacheChange) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.changes = append(w.changes, c)
	return nil
}
func (w *recordingWriter) RemoveMinChange() bool { return false }
func (w *recordingWriter) HistorySize() int      { return 0 }

func TestAnnounceParticipantStateAliveAndDispose(t *testing.T) {
	e := newTestEngine(t)
	e.localGUID = testGUID(1)
	guard, err := e.AddParticipantProxy(e.localGUID, false)
	if err != nil {
		t.Fatalf("AddParticipantProxy: %v", err)
	}
	localKey := guard.PPD.Key
	guard.Unlock()

	w := &recordingWriter{}
	e.builtin = &BuiltinEndpoints{Writer: w, Reader: newMemoryCacheChangeReader()}

	e.hasChangedLocalPDP.Store(true)
	if err := e.AnnounceParticipantState(false, false); err != nil {
		t.Fatalf("AnnounceParticipantState: %v", err)
	}
	// Dirty flag consumed: a second periodic tick with nothing changed is a no-op.
	if err := e.AnnounceParticipantState(false, false); err != nil {
		t.Fatalf("AnnounceParticipantState (clean): %v", err)
	}

	w.mu.Lock()
	n := len(w.changes)
	w.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected exactly one change after one dirty announce, got %d", n)
	}

	if err := e.AnnounceParticipantState(true, false); err != nil {
		t.Fatalf("AnnounceParticipantState (forced): %v", err)
	}
	if err := e.AnnounceParticipantState(false, true); err != nil {
		t.Fatalf("AnnounceParticipantState (dispose): %v", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.changes) != 3 {
		t.Fatalf("expected 3 changes (alive, forced alive, dispose), got %d", len(w.changes))
	}
	if w.changes[0].Kind != ChangeAlive || w.changes[1].Kind != ChangeAlive {
		t.Errorf("first two changes should be ALIVE, got %v then %v", w.changes[0].Kind, w.changes[1].Kind)
	}
	if w.changes[1].SeqNum <= w.changes[0].SeqNum {
		t.Errorf("consecutive announcements must carry strictly increasing versions: %v then %v",
			w.changes[0].SeqNum, w.changes[1].SeqNum)
	}
	last := w.changes[2]
	if last.Kind != ChangeNotAliveDisposedUnregistered {
		t.Errorf("dispose announce should produce a NOT_ALIVE_DISPOSED_UNREGISTERED change, got %v", last.Kind)
	}
	if last.InstanceKey != localKey {
		t.Errorf("dispose change must carry the local participant's instance key")
	}
}

func TestParticipantCapBlocksFurtherDiscovery(t *testing.T) {
	pool := NewProxyPool()
	alloc := DefaultAllocation
	alloc.Participants = ParticipantAllocation{Initial: 2, Maximum: 2}
	e := NewPDPEngine(pool, alloc)
	e.localGUID = testGUID(1)

	g, err := e.AddParticipantProxy(e.localGUID, false)
	if err != nil {
		t.Fatalf("AddParticipantProxy (self): %v", err)
	}
	g.Unlock()

	g, err = e.AddParticipantProxy(testGUID(2), true)
	if err != nil {
		t.Fatalf("AddParticipantProxy (first remote): %v", err)
	}
	g.Unlock()

	_, err = e.AddParticipantProxy(testGUID(3), true)
	var poolErr *PoolExhaustedError
	if !errors.As(err, &poolErr) {
		t.Fatalf("expected PoolExhaustedError past the participant cap, got %v", err)
	}

	blockedReader := rtps.NewGUID(testGUID(3).Prefix(), rtps.EntityID(0x204))
	if e.HasReaderProxy(blockedReader) {
		t.Errorf("a blocked participant must leave no reader proxies behind")
	}
	if _, ok := e.LookupParticipantKey(testGUID(3).Prefix()); ok {
		t.Errorf("a blocked participant must not appear in the table")
	}
}

func TestPoolSharedAcrossTwoEngines(t *testing.T) {
	pool := NewProxyPool()
	e1 := NewPDPEngine(pool, DefaultAllocation)
	e1.localGUID = testGUID(1)
	e2 := NewPDPEngine(pool, DefaultAllocation)
	e2.localGUID = testGUID(2)

	remote := testGUID(7)

	g1, err := e1.AddParticipantProxy(remote, true)
	if err != nil {
		t.Fatalf("e1 AddParticipantProxy: %v", err)
	}
	ppd1 := g1.PPD
	g1.Unlock()

	g2, err := e2.AddParticipantProxy(remote, true)
	if err != nil {
		t.Fatalf("e2 AddParticipantProxy: %v", err)
	}
	ppd2 := g2.PPD
	g2.Unlock()

	if ppd1 != ppd2 {
		t.Fatalf("both engines must intern the same pooled PPD for one remote GUID")
	}

	if _, err := e1.RemoveRemoteParticipant(remote, Removed); err != nil {
		t.Fatalf("e1 RemoveRemoteParticipant: %v", err)
	}
	if _, ok := e2.LookupParticipantKey(remote.Prefix()); !ok {
		t.Errorf("e2's view of the shared remote must survive e1's removal")
	}

	if _, err := e2.RemoveRemoteParticipant(remote, Removed); err != nil {
		t.Fatalf("e2 RemoveRemoteParticipant: %v", err)
	}
	pool.mu.Lock()
	_, present := pool.participantIndex[remote.Prefix().String()]
	pool.mu.Unlock()
	if present {
		t.Errorf("the last strong drop must erase the pool's weak-index entry")
	}
}

func TestCloseReleasesPoolCleanly(t *testing.T) {
	pool := NewProxyPool()
	e := NewPDPEngine(pool, DefaultAllocation)
	e.localGUID = testGUID(1)

	g, err := e.AddParticipantProxy(e.localGUID, false)
	if err != nil {
		t.Fatalf("AddParticipantProxy (self): %v", err)
	}
	g.Unlock()
	g, err = e.AddParticipantProxy(testGUID(2), true)
	if err != nil {
		t.Fatalf("AddParticipantProxy (remote): %v", err)
	}
	g.Unlock()

	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	pool.mu.Lock()
	n := len(pool.participantIndex)
	pool.mu.Unlock()
	if n != 0 {
		t.Errorf("Close must return every pooled proxy; %d weak-index entries remain", n)
	}
}

func TestOnAliveSampleDiscoversThenUpdates(t *testing.T) {
	l := &recordingListener{}
	e := newTestEngineWithListener(t, l)
	e.localGUID = testGUID(1)

	remote := NewParticipantProxyData()
	remote.GUID = testGUID(2)
	remote.ParticipantName = "remote-one"
	remote.LeaseDuration = 100 * time.Millisecond

	if err := e.OnAliveSample(remote); err != nil {
		t.Fatalf("OnAliveSample: %v", err)
	}

	name, ok := e.LookupParticipantName(remote.GUID.Prefix())
	if !ok || name != "remote-one" {
		t.Fatalf("expected discovered participant name 'remote-one', got %q (ok=%v)", name, ok)
	}

	remote2 := NewParticipantProxyData()
	remote2.GUID = testGUID(2)
	remote2.ParticipantName = "remote-one-renamed"
	remote2.LeaseDuration = 100 * time.Millisecond
	if err := e.OnAliveSample(remote2); err != nil {
		t.Fatalf("OnAliveSample (update): %v", err)
	}

	name, ok = e.LookupParticipantName(remote.GUID.Prefix())
	if !ok || name != "remote-one-renamed" {
		t.Fatalf("expected updated name 'remote-one-renamed', got %q (ok=%v)", name, ok)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.participants) != 2 {
		t.Fatalf("expected Discovered then ChangedQos notifications, got %d", len(l.participants))
	}
	if l.participants[0].Status != Discovered {
		t.Errorf("first notification should be Discovered, got %v", l.participants[0].Status)
	}
	if l.participants[1].Status != ChangedQos {
		t.Errorf("second notification should be ChangedQos, got %v", l.participants[1].Status)
	}
}
