package pdp

import "github.com/liamstask/go-rtps-pdp/rtps"

// Status classifies a listener notification. Not every value is valid for
// every callback: OnParticipantDiscovery additionally accepts Dropped and
// Ignored; OnReaderDiscovery/OnWriterDiscovery only ever see Discovered,
// ChangedQos, Removed.
type Status int

const (
	Discovered Status = iota
	ChangedQos
	Removed
	Dropped
	Ignored
)

func (s Status) String() string {
	switch s {
	case Discovered:
		return "Discovered"
	case ChangedQos:
		return "ChangedQos"
	case Removed:
		return "Removed"
	case Dropped:
		return "Dropped"
	case Ignored:
		return "Ignored"
	default:
		return "Unknown"
	}
}

// ParticipantDiscoveryInfo is passed to Listener.OnParticipantDiscovery.
type ParticipantDiscoveryInfo struct {
	GUID   rtps.GUID
	Status Status
	PPD    ParticipantProxyData
}

// ReaderDiscoveryInfo is passed to Listener.OnReaderDiscovery.
type ReaderDiscoveryInfo struct {
	GUID   rtps.GUID
	Status Status
	RPD    ReaderProxyData
}

// WriterDiscoveryInfo is passed to Listener.OnWriterDiscovery.
type WriterDiscoveryInfo struct {
	GUID   rtps.GUID
	Status Status
	WPD    WriterProxyData
}

// Listener is the upward notification surface a PDPEngine drives. A given
// remote GUID's callback sequence always matches
// "Discovered (ChangedQos)* (Removed|Dropped|Ignored)?"; a given endpoint GUID's sequence is Discovered before any
// ChangedQos, which precedes Removed.
type Listener interface {
	OnParticipantDiscovery(engine *PDPEngine, info ParticipantDiscoveryInfo)
	OnReaderDiscovery(engine *PDPEngine, info ReaderDiscoveryInfo)
	OnWriterDiscovery(engine *PDPEngine, info WriterDiscoveryInfo)
}

// NopListener is a Listener that discards every notification; used when no
// WithListener option is supplied.
type NopListener struct{}

func (NopListener) OnParticipantDiscovery(*PDPEngine, ParticipantDiscoveryInfo) {}
func (NopListener) OnReaderDiscovery(*PDPEngine, ReaderDiscoveryInfo)           {}
func (NopListener) OnWriterDiscovery(*PDPEngine, WriterDiscoveryInfo)           {}
