// Package session implements the Session Supervisor: the state machine
// that owns one capture session's lifecycle from Idle through Preparing,
// Active, Draining and back to Idle, wiring the Device Stream, Host Stream
// Tap and Correlator together and tearing them down in the order that
// keeps the Correlator authoritative until the last moment.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/loopvm/kbtap/pkg/codemap"
	"github.com/loopvm/kbtap/pkg/correlator"
	"github.com/loopvm/kbtap/pkg/events"
	"github.com/loopvm/kbtap/pkg/guest"
	"github.com/loopvm/kbtap/pkg/hosttap"
	"github.com/loopvm/kbtap/pkg/keystream"
)

// State is the Supervisor's state machine position.
type State int

const (
	Idle State = iota
	Preparing
	Active
	Draining
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Preparing:
		return "preparing"
	case Active:
		return "active"
	case Draining:
		return "draining"
	default:
		return "unknown"
	}
}

// Mode mirrors keystream.Mode at the session boundary so callers of this
// package don't need to import keystream just to name a mode.
type Mode = keystream.Mode

const (
	CaptureOnly = keystream.CaptureOnly
	Relay       = keystream.Relay
)

// Params supplies everything Idle->Preparing needs.
type Params struct {
	DeviceKeys  []string
	Mode        Mode
	GuestTarget string
	Deadline    time.Time // zero value means no deadline
}

// Status is a read-only snapshot for a UI or CLI `status` command.
type Status struct {
	SessionID   string
	State       State
	DeviceKeys  []string
	Mode        Mode
	StartedAt   time.Time
	Deadline    time.Time
	Degraded    bool
	DegradedWhy string
}

// Supervisor owns one Session's D/E/F wiring. A Supervisor is reused
// across Sessions; Idle is its quiescent state between them.
type Supervisor struct {
	baseLog   zerolog.Logger
	log       zerolog.Logger
	table     *codemap.Table
	cfg       correlator.Config
	forwarder *guest.Forwarder
	bus       *events.Bus

	mu          sync.Mutex
	state       State
	sessionID   string
	params      Params
	startedAt   time.Time
	degraded    bool
	degradedWhy string

	correlatorState *correlator.State
	stream          *keystream.Stream
	tap             hosttap.Tap

	logMu        sync.Mutex
	keystrokeLog []keystream.Keystroke

	cancel    context.CancelFunc
	deadlineT *time.Timer

	newStream func(log zerolog.Logger, table *codemap.Table, state *correlator.State, deviceKeys []string, mode Mode, guestTarget string, forwarder *guest.Forwarder) *keystream.Stream
	newTap    func(log zerolog.Logger, table *codemap.Table, state *correlator.State, deviceKeys []string) hosttap.Tap
}

// New builds a Supervisor. forwarder may be nil for CaptureOnly-only use;
// bus may be nil to disable domain-event publication.
func New(log zerolog.Logger, table *codemap.Table, cfg correlator.Config, forwarder *guest.Forwarder, bus *events.Bus) *Supervisor {
	return &Supervisor{
		baseLog: log, log: log, table: table, cfg: cfg, forwarder: forwarder, bus: bus, state: Idle,
		newStream: keystream.NewForPlatform,
		newTap:    hosttap.New,
	}
}

// withFactories overrides the Device Stream and Host Stream Tap
// constructors, used only by this package's tests to exercise the state
// machine without a real HID subsystem.
func (s *Supervisor) withFactories(
	newStream func(log zerolog.Logger, table *codemap.Table, state *correlator.State, deviceKeys []string, mode Mode, guestTarget string, forwarder *guest.Forwarder) *keystream.Stream,
	newTap func(log zerolog.Logger, table *codemap.Table, state *correlator.State, deviceKeys []string) hosttap.Tap,
) *Supervisor {
	s.newStream = newStream
	s.newTap = newTap
	return s
}

// Start drives Idle -> Preparing -> Active. It brings up the Device Stream
// and the Host Stream Tap, in that order, arming the safety timer if
// Params.Deadline is set. There is no separate dry run of the tap: a
// failure of the tap's one Start call (missing permission included) is
// what puts the session in capture-only degraded mode.
func (s *Supervisor) Start(params Params) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Idle {
		return fmt.Errorf("session: Start called in state %s, want idle", s.state)
	}
	s.state = Preparing
	s.sessionID = uuid.NewString()
	s.log = s.baseLog.With().Str("session_id", s.sessionID).Logger()
	s.params = params
	s.degraded = false
	s.degradedWhy = ""

	s.logMu.Lock()
	s.keystrokeLog = nil
	s.logMu.Unlock()

	s.correlatorState = correlator.New(s.log, s.cfg, nil)
	s.correlatorState.StartJanitor()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.stream = s.newStream(s.log, s.table, s.correlatorState, params.DeviceKeys, params.Mode, params.GuestTarget, s.forwarder)
	streamErr := s.stream.Start(ctx)
	if streamErr != nil {
		s.log.Warn().Err(streamErr).Msg("session: device stream failed to start, continuing in block-only degraded mode")
	} else {
		go s.pumpKeystrokes(ctx)
	}

	s.tap = s.newTap(s.log, s.table, s.correlatorState, params.DeviceKeys)
	tapErr := s.tap.Start()
	if tapErr != nil {
		s.log.Warn().Err(tapErr).Msg("session: host stream tap failed to start, continuing in capture-only degraded mode")
	}

	if streamErr != nil && tapErr != nil {
		s.correlatorState.StopJanitor()
		cancel()
		s.state = Idle
		return fmt.Errorf("session: both device stream and host stream tap failed to start: stream=%v tap=%v", streamErr, tapErr)
	}
	if streamErr != nil || tapErr != nil {
		s.degraded = true
		switch {
		case streamErr != nil:
			s.degradedWhy = "device stream unavailable: " + streamErr.Error()
		default:
			s.degradedWhy = "host stream tap unavailable: " + tapErr.Error()
		}
	}

	if s.forwarder != nil {
		s.forwarder.OnResult(s.onRelayResult)
		go s.forwarder.Run(ctx)
	}

	s.startedAt = time.Now()
	s.state = Active
	s.postTransition(Preparing, Active)

	if !params.Deadline.IsZero() {
		d := time.Until(params.Deadline)
		if d < 0 {
			d = 0
		}
		s.deadlineT = time.AfterFunc(d, func() { _ = s.Stop() })
	}
	return nil
}

// maxKeystrokeLog bounds CopyKeystrokeLog's backing store: long-running
// sessions must not grow this without limit, and an operator diagnosing a
// problem only ever needs the recent tail.
const maxKeystrokeLog = 10000

// pumpKeystrokes appends every captured Keystroke to the in-memory log
// copy_keystroke_log reads, and mirrors it onto the domain event bus when
// one is wired — the log is kept regardless of whether a UI is attached.
func (s *Supervisor) pumpKeystrokes(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ks, ok := <-s.stream.Keystrokes():
			if !ok {
				return
			}
			s.logMu.Lock()
			s.keystrokeLog = append(s.keystrokeLog, ks)
			if len(s.keystrokeLog) > maxKeystrokeLog {
				s.keystrokeLog = s.keystrokeLog[len(s.keystrokeLog)-maxKeystrokeLog:]
			}
			s.logMu.Unlock()

			if s.bus == nil {
				continue
			}
			dir := "down"
			if ks.Direction == correlator.Up {
				dir = "up"
			}
			s.bus.Post(events.Event{Kind: events.KeystrokeCaptured, At: ks.At, KeyCode: ks.KeyCode, Direction: dir})
		}
	}
}

// CopyKeystrokeLog returns a snapshot of every Keystroke captured during
// the current or most recent Session, the operator surface's
// copy_keystroke_log operation.
func (s *Supervisor) CopyKeystrokeLog() []keystream.Keystroke {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	out := make([]keystream.Keystroke, len(s.keystrokeLog))
	copy(out, s.keystrokeLog)
	return out
}

func (s *Supervisor) onRelayResult(intent guest.RelayIntent, err error) {
	if s.bus == nil {
		return
	}
	if err != nil {
		s.bus.Post(events.Event{Kind: events.RelayFailed, At: time.Now(), Intent: intent, Err: err})
		return
	}
	s.bus.Post(events.Event{Kind: events.RelaySucceeded, At: time.Now(), Intent: intent})
}

// Stop drives Active -> Draining -> Idle. The tap is torn down before the
// Device Stream so a handful of in-flight host events still see an
// authoritative Correlator; tearing down in the other order risks stray
// Ups for held keys leaking to the host during teardown.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Active {
		return fmt.Errorf("session: Stop called in state %s, want active", s.state)
	}
	s.state = Draining
	s.postTransition(Active, Draining)

	if s.deadlineT != nil {
		s.deadlineT.Stop()
		s.deadlineT = nil
	}

	if s.tap != nil {
		if err := s.tap.Stop(); err != nil {
			s.log.Warn().Err(err).Msg("session: error stopping host stream tap")
		}
	}
	if s.stream != nil {
		if err := s.stream.Close(); err != nil {
			s.log.Warn().Err(err).Msg("session: error closing device stream")
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.correlatorState != nil {
		s.correlatorState.StopJanitor()
	}

	s.state = Idle
	s.postTransition(Draining, Idle)
	return nil
}

func (s *Supervisor) postTransition(from, to State) {
	if s.bus == nil {
		return
	}
	s.bus.Post(events.Event{Kind: events.StateTransitioned, At: time.Now(), FromState: from.String(), ToState: to.String()})
}

// NotifyDeviceVanished is the Hotplug Watcher's entry point into the
// Supervisor: when a fresh enumeration no longer contains any device_key
// from the active Selection, the Watcher calls this instead of reaching
// into Supervisor state directly. A no-op outside Active.
func (s *Supervisor) NotifyDeviceVanished(reason string) {
	s.mu.Lock()
	active := s.state == Active
	s.mu.Unlock()
	if !active {
		return
	}
	s.log.Warn().Str("reason", reason).Msg("session: active device vanished, stopping session")
	if err := s.Stop(); err != nil {
		s.log.Warn().Err(err).Msg("session: error stopping session after device vanished")
	}
}

// ActiveDeviceKeys returns the device keys of the current or most recent
// Selection, used by the Hotplug Watcher to check a fresh enumeration
// against without reaching into Supervisor internals.
func (s *Supervisor) ActiveDeviceKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params.DeviceKeys
}

// IsActive reports whether the Supervisor currently owns a live Session.
func (s *Supervisor) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Active
}

// StatusSnapshot returns a read-only view of the current session, safe to
// call from any goroutine.
func (s *Supervisor) StatusSnapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		SessionID:   s.sessionID,
		State:       s.state,
		DeviceKeys:  s.params.DeviceKeys,
		Mode:        s.params.Mode,
		StartedAt:   s.startedAt,
		Deadline:    s.params.Deadline,
		Degraded:    s.degraded,
		DegradedWhy: s.degradedWhy,
	}
}
