package pdp

import (
	"time"

	"github.com/rs/zerolog"
)

// ParticipantAllocation bounds the local participant table.
type ParticipantAllocation struct {
	Initial int
	Maximum int // 0 means unbounded
}

// LocatorAllocation bounds the per-proxy locator lists.
type LocatorAllocation struct {
	MaxUnicastLocators   int
	MaxMulticastLocators int
}

// Allocation is the full resource-reservation surface accepted by
// ProxyPool.InitializeOrGrow and PDPEngine's construction.
type Allocation struct {
	Participants ParticipantAllocation
	Readers      ParticipantAllocation
	Writers      ParticipantAllocation
	Locators     LocatorAllocation
}

// DefaultAllocation keeps reservations small, grown on demand up to Maximum
// (0 == unbounded).
var DefaultAllocation = Allocation{
	Participants: ParticipantAllocation{Initial: 4, Maximum: 0},
	Readers:      ParticipantAllocation{Initial: 8, Maximum: 0},
	Writers:      ParticipantAllocation{Initial: 8, Maximum: 0},
	Locators:     LocatorAllocation{MaxUnicastLocators: 4, MaxMulticastLocators: 1},
}

// InitialAnnouncements configures the AnnouncementScheduler's burst phase.
type InitialAnnouncements struct {
	Count  int
	Period time.Duration
}

// DiscoveryConfig carries the discovery-protocol tunables a participant
// announces and schedules by.
type DiscoveryConfig struct {
	LeaseDuration                   time.Duration
	LeaseDurationAnnouncementPeriod time.Duration
	InitialAnnouncements            InitialAnnouncements
	AvoidBuiltinMulticast           bool
	UseWriterLivelinessProtocol     bool
}

// DefaultDiscoveryConfig mirrors the standard PDP defaults.
var DefaultDiscoveryConfig = DiscoveryConfig{
	LeaseDuration:                   20 * time.Second,
	LeaseDurationAnnouncementPeriod: 5 * time.Second,
	InitialAnnouncements:            InitialAnnouncements{Count: 3, Period: 1 * time.Second},
	AvoidBuiltinMulticast:           false,
	UseWriterLivelinessProtocol:     true,
}

// minAnnouncementPeriod is the floor a non-positive initial announcement
// period is coerced to.
const minAnnouncementPeriod = 1 * time.Millisecond

// Option configures a PDPEngine at construction time.
type Option func(*PDPEngine)

// WithLogger overrides the engine's base logger. Pass a disabled zerolog
// logger to silence output entirely; omitting this option does the same,
// since the zero-value logger used internally is disabled by default.
func WithLogger(l zerolog.Logger) Option {
	return func(e *PDPEngine) {
		e.log = l
	}
}

// WithAllocation overrides the allocation passed to NewPDPEngine.
func WithAllocation(a Allocation) Option {
	return func(e *PDPEngine) {
		e.allocation = a
	}
}

// WithDiscoveryConfig overrides DefaultDiscoveryConfig.
func WithDiscoveryConfig(c DiscoveryConfig) Option {
	return func(e *PDPEngine) {
		e.discoveryConfig = c
	}
}

// WithListener registers the upward listener surface.
func WithListener(l Listener) Option {
	return func(e *PDPEngine) {
		e.listener = l
	}
}

// WithEDP wires the Endpoint Discovery Protocol collaborator. PDP only ever
// invokes EDP through this interface; it never implements EDP itself.
func WithEDP(edp EDP) Option {
	return func(e *PDPEngine) {
		e.edp = edp
	}
}

// WithWLP wires the Writer Liveliness Protocol collaborator.
func WithWLP(wlp WLP) Option {
	return func(e *PDPEngine) {
		e.wlp = wlp
	}
}

// WithBuiltinProtocols wires the BuiltinProtocols collaborator; Init uses it
// to publish the actual metatraffic unicast locators and, when no WithWLP
// option was given, to obtain the WLP handle.
func WithBuiltinProtocols(bp BuiltinProtocols) Option {
	return func(e *PDPEngine) {
		e.bp = bp
	}
}

// FileConfig is the shape of the demo YAML configuration file consumed by
// cmd/pdpdemo, decoded with gopkg.in/yaml.v3.
type FileConfig struct {
	DomainID  int `yaml:"domainId"`
	Discovery struct {
		LeaseDurationSeconds      int `yaml:"leaseDurationSeconds"`
		AnnouncementPeriodSeconds int `yaml:"announcementPeriodSeconds"`
		InitialAnnouncements      struct {
			Count        int `yaml:"count"`
			PeriodMillis int `yaml:"periodMillis"`
		} `yaml:"initialAnnouncements"`
		AvoidBuiltinMulticast       bool `yaml:"avoidBuiltinMulticast"`
		UseWriterLivelinessProtocol bool `yaml:"useWriterLivelinessProtocol"`
	} `yaml:"discovery"`
	Participants struct {
		Initial int `yaml:"initial"`
		Maximum int `yaml:"maximum"`
	} `yaml:"participants"`
}

// ToDiscoveryConfig converts the decoded file shape into a DiscoveryConfig,
// applying the same non-positive-period coercion AnnouncementScheduler does
// at construction.
func (fc FileConfig) ToDiscoveryConfig() DiscoveryConfig {
	period := time.Duration(fc.Discovery.InitialAnnouncements.PeriodMillis) * time.Millisecond
	if period <= 0 {
		period = minAnnouncementPeriod
	}
	return DiscoveryConfig{
		LeaseDuration:                   time.Duration(fc.Discovery.LeaseDurationSeconds) * time.Second,
		LeaseDurationAnnouncementPeriod: time.Duration(fc.Discovery.AnnouncementPeriodSeconds) * time.Second,
		InitialAnnouncements: InitialAnnouncements{
			Count:  fc.Discovery.InitialAnnouncements.Count,
			Period: period,
		},
		AvoidBuiltinMulticast:       fc.Discovery.AvoidBuiltinMulticast,
		UseWriterLivelinessProtocol: fc.Discovery.UseWriterLivelinessProtocol,
	}
}

func (fc FileConfig) ToAllocation() Allocation {
	a := DefaultAllocation
	if fc.Participants.Initial > 0 {
		a.Participants.Initial = fc.Participants.Initial
	}
	a.Participants.Maximum = fc.Participants.Maximum
	return a
}
