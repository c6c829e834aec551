package pdp

import (
	"sync"
	"time"
)

// AnnouncementScheduler drives outbound AnnounceParticipantState at a
// cadence with two phases: an initial burst at a short period, then a
// steady-state period for the remainder of the engine's life.
type AnnouncementScheduler struct {
	mu sync.Mutex

	engine *PDPEngine
	timer  *time.Timer

	remainingInitial int
	initialPeriod    time.Duration
	steadyPeriod     time.Duration

	stopped bool
}

// newAnnouncementScheduler applies the 1ms floor coercion once, at
// construction; later interval updates do not re-validate.
func newAnnouncementScheduler(engine *PDPEngine, cfg DiscoveryConfig) *AnnouncementScheduler {
	initialPeriod := cfg.InitialAnnouncements.Period
	if initialPeriod <= 0 {
		engine.log.Warn().
			Err(&InvalidConfigurationError{Field: "initial_announcements.period", Value: initialPeriod, Coerce: minAnnouncementPeriod}).
			Msg("initial announcement period non-positive, coercing to floor")
		initialPeriod = minAnnouncementPeriod
	}

	return &AnnouncementScheduler{
		engine:           engine,
		remainingInitial: cfg.InitialAnnouncements.Count,
		initialPeriod:    initialPeriod,
		steadyPeriod:     cfg.LeaseDurationAnnouncementPeriod,
	}
}

// Start arms the first tick: at (near) t=0 when an initial burst is
// configured, or one steady-state period out when InitialAnnouncements.Count
// is zero. Every later tick uses nextIntervalLocked.
func (s *AnnouncementScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	first := time.Duration(0)
	if s.remainingInitial <= 0 {
		first = s.steadyPeriod
	}
	s.timer = time.AfterFunc(first, s.tick)
}

func (s *AnnouncementScheduler) nextIntervalLocked() time.Duration {
	if s.remainingInitial > 0 {
		return s.initialPeriod
	}
	return s.steadyPeriod
}

func (s *AnnouncementScheduler) tick() {
	s.engine.AnnounceParticipantState(false, false)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.remainingInitial > 0 {
		s.remainingInitial--
	}
	s.timer = time.AfterFunc(s.nextIntervalLocked(), s.tick)
}

// Stop cancels the pending tick; the scheduler does not fire again until
// Reset re-arms it.
func (s *AnnouncementScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
	}
}

// Reset restarts the scheduler from the steady-state period, used by
// ResetParticipantAnnouncement.
func (s *AnnouncementScheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = false
	if s.timer != nil {
		s.timer.Stop()
	}
	s.remainingInitial = 0
	s.timer = time.AfterFunc(s.steadyPeriod, s.tick)
}
