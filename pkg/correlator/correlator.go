// Package correlator owns the only mutably shared state in the engine:
// the set of keys currently believed to be held on the target device, and
// the two decision functions the Host Stream Tap calls synchronously to
// decide whether to block or pass a host keystroke event.
package correlator

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Defaults for the two timing windows. Both are overridable — §4.F notes
// INITIAL_WINDOW in particular must allow tuning — but the defaults here
// are the conservative operating values from the source.
const (
	DefaultHoldTTL       = 10 * time.Second
	DefaultInitialWindow = 80 * time.Millisecond
	DefaultJanitorPeriod = 5 * time.Second
	DefaultJanitorMaxAge = 30 * time.Second
	DefaultJanitorMaxEntries = 50
)

// Direction of a keystroke or host event transition.
type Direction int

const (
	Down Direction = iota
	Up
)

// Decision is the Correlator's verdict on a HostEvent.
type Decision int

const (
	Pass Decision = iota
	Block
)

// Config holds the Correlator's tunable timing constants.
type Config struct {
	HoldTTL          time.Duration
	InitialWindow    time.Duration
	JanitorPeriod    time.Duration
	JanitorMaxAge    time.Duration
	JanitorMaxEntries int
}

// DefaultConfig returns the conservative operating values.
func DefaultConfig() Config {
	return Config{
		HoldTTL:           DefaultHoldTTL,
		InitialWindow:     DefaultInitialWindow,
		JanitorPeriod:     DefaultJanitorPeriod,
		JanitorMaxAge:     DefaultJanitorMaxAge,
		JanitorMaxEntries: DefaultJanitorMaxEntries,
	}
}

// State is the shared CorrelatorState: pressed, plus the last-seen HID
// down/up timestamp per key. One mutex guards all three so the Device
// Stream (writer, from the HID thread) and the Host Stream Tap (reader
// and writer, from the tap thread) never race.
type State struct {
	mu   sync.Mutex
	log  zerolog.Logger
	cfg  Config
	now  func() time.Time

	pressed      map[int]struct{}
	lastHIDDown  map[int]time.Time
	lastHIDUp    map[int]time.Time

	janitorStop chan struct{}
	janitorDone chan struct{}
}

// New builds a State with the given config. now is injected so tests can
// control monotonic time deterministically; production callers pass
// time.Now.
func New(log zerolog.Logger, cfg Config, now func() time.Time) *State {
	if now == nil {
		now = time.Now
	}
	return &State{
		log:         log,
		cfg:         cfg,
		now:         now,
		pressed:     make(map[int]struct{}),
		lastHIDDown: make(map[int]time.Time),
		lastHIDUp:   make(map[int]time.Time),
	}
}

// RecordHIDDown is called by the Device Stream (D) synchronously for every
// emitted Keystroke(Down): it stamps the down time that ShouldBlockDown
// checks against INITIAL_WINDOW and HOLD_TTL. It does not touch pressed;
// a key enters pressed only when ShouldBlockDown blocks its first host Down.
func (s *State) RecordHIDDown(key int, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHIDDown[key] = at
}

// RecordHIDUp is called by the Device Stream for every emitted
// Keystroke(Up): it stamps the up time only. pressed is left as it is, so a
// host Up that arrives after the HID Up is still blocked by ShouldBlockUp;
// a key leaves pressed through ShouldBlockUp or the HOLD_TTL stale check.
func (s *State) RecordHIDUp(key int, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHIDUp[key] = at
}

// ShouldBlockDown is the O(1) decision function for a HostEvent(Down).
func (s *State) ShouldBlockDown(key int, at time.Time) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, held := s.pressed[key]; held {
		if at.Sub(s.lastHIDDown[key]) > s.cfg.HoldTTL {
			delete(s.pressed, key)
			s.log.Warn().Int("key_code", key).Msg("correlator: stale held key, passing through")
			return Pass
		}
		return Block
	}

	if at.Sub(s.lastHIDDown[key]) <= s.cfg.InitialWindow {
		s.pressed[key] = struct{}{}
		return Block
	}

	return Pass
}

// ShouldBlockUp is the O(1) decision function for a HostEvent(Up).
func (s *State) ShouldBlockUp(key int) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, held := s.pressed[key]; held {
		delete(s.pressed, key)
		return Block
	}
	return Pass
}

// IsPressed reports whether key is currently believed held, for tests and
// status reporting.
func (s *State) IsPressed(key int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pressed[key]
	return ok
}

// StartJanitor launches the periodic prune task. Stop must be called to
// release it; it is idempotent to call StartJanitor at most once per
// State, mirroring the Session's one-janitor-per-session lifecycle.
func (s *State) StartJanitor() {
	s.janitorStop = make(chan struct{})
	s.janitorDone = make(chan struct{})
	go func() {
		defer close(s.janitorDone)
		ticker := time.NewTicker(s.cfg.JanitorPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-s.janitorStop:
				return
			case <-ticker.C:
				s.prune()
			}
		}
	}()
}

// StopJanitor halts the periodic prune task and waits for it to exit, so
// callers have the Session Supervisor's guarantee that no further mutation
// happens after Stop returns.
func (s *State) StopJanitor() {
	if s.janitorStop == nil {
		return
	}
	close(s.janitorStop)
	<-s.janitorDone
}

// prune removes entries older than JanitorMaxAge from both timestamp maps
// and enforces the hard size cap by evicting the oldest entries, so no
// session degrades under hours of uptime or rapid key churn.
func (s *State) prune() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.cfg.JanitorMaxAge)
	for k, t := range s.lastHIDDown {
		if t.Before(cutoff) {
			delete(s.lastHIDDown, k)
		}
	}
	for k, t := range s.lastHIDUp {
		if t.Before(cutoff) {
			delete(s.lastHIDUp, k)
		}
	}

	evictOldest(s.lastHIDDown, s.cfg.JanitorMaxEntries)
	evictOldest(s.lastHIDUp, s.cfg.JanitorMaxEntries)
}

func evictOldest(m map[int]time.Time, max int) {
	for len(m) > max {
		var oldestKey int
		var oldestTime time.Time
		first := true
		for k, t := range m {
			if first || t.Before(oldestTime) {
				oldestKey, oldestTime, first = k, t, false
			}
		}
		delete(m, oldestKey)
	}
}

// MapSizes returns the current size of both timestamp maps, for the
// universal invariant that neither exceeds JanitorMaxEntries while the
// janitor runs.
func (s *State) MapSizes() (downs, ups int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lastHIDDown), len(s.lastHIDUp)
}
