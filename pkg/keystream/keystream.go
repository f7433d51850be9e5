// Package keystream implements the Device Stream: the per-selected-device
// HID reader that turns raw state reports into press/release transitions
// and stamps the Correlator's HID down/up times for the target device.
package keystream

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/loopvm/kbtap/pkg/codemap"
	"github.com/loopvm/kbtap/pkg/correlator"
	"github.com/loopvm/kbtap/pkg/guest"
)

// Keystroke is a press/release transition derived from a HID state
// report, tagged with the physical key code and the device it came from.
type Keystroke struct {
	KeyCode         int
	Direction       correlator.Direction
	At              time.Time
	SourceDeviceKey string
}

// RawValue is one HID usage/value report as delivered by a platform
// backend, tagged with the device key that produced it so multi-interface
// managers sharing one callback can be filtered down to the selection.
// Exported so the Identity Detector can listen on the same platform
// backend this package uses, across every enumerated keyboard rather than
// one Session's selection.
type RawValue struct {
	DeviceKey string
	Usage     uint32
	Value     int32
	At        time.Time
}

// Source is what a platform backend provides: a channel of raw HID values
// for every matched keyboard, open/close lifecycle included.
type Source interface {
	Open(deviceKeys []string) (<-chan RawValue, error)
	Close() error
}

// Mode selects whether a Session only captures, or also relays to a guest.
type Mode int

const (
	CaptureOnly Mode = iota
	Relay
)

// Stream is the Device Stream for one Session's selected device keys.
type Stream struct {
	log         zerolog.Logger
	table       *codemap.Table
	state       *correlator.State
	deviceKeys  map[string]struct{}
	mode        Mode
	guestTarget string
	forwarder   *guest.Forwarder

	source Source
	prev   map[int]bool // per-key previous pressed state, D's transition filter

	captured chan Keystroke
}

// New builds a Stream scoped to deviceKeys, using source as the platform
// HID backend.
func New(log zerolog.Logger, table *codemap.Table, state *correlator.State, deviceKeys []string, mode Mode, guestTarget string, forwarder *guest.Forwarder, source Source) *Stream {
	keys := make(map[string]struct{}, len(deviceKeys))
	for _, k := range deviceKeys {
		keys[k] = struct{}{}
	}
	return &Stream{
		log:         log,
		table:       table,
		state:       state,
		deviceKeys:  keys,
		mode:        mode,
		guestTarget: guestTarget,
		forwarder:   forwarder,
		source:      source,
		prev:        make(map[int]bool),
		captured:    make(chan Keystroke, 256),
	}
}

// NewForPlatform builds a Stream backed by the current platform's HID
// value-reading backend.
func NewForPlatform(log zerolog.Logger, table *codemap.Table, state *correlator.State, deviceKeys []string, mode Mode, guestTarget string, forwarder *guest.Forwarder) *Stream {
	return New(log, table, state, deviceKeys, mode, guestTarget, forwarder, NewPlatformSource(log))
}

// Keystrokes returns the channel of emitted transitions, useful for the
// domain event bus and tests.
func (s *Stream) Keystrokes() <-chan Keystroke {
	return s.captured
}

// Start opens the platform HID backend and begins the transition loop. It
// returns once the backend is open; processing continues on a goroutine
// until ctx is canceled or Close is called.
func (s *Stream) Start(ctx context.Context) error {
	keys := make([]string, 0, len(s.deviceKeys))
	for k := range s.deviceKeys {
		keys = append(keys, k)
	}
	values, err := s.source.Open(keys)
	if err != nil {
		return err
	}
	go s.run(ctx, values)
	return nil
}

// Close tears down the HID backend, the last step of the Session
// Supervisor's Draining-to-Idle shutdown for D.
func (s *Stream) Close() error {
	return s.source.Close()
}

func (s *Stream) run(ctx context.Context, values <-chan RawValue) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-values:
			if !ok {
				return
			}
			s.handle(v)
		}
	}
}

// handle applies the device filter, the rollover filter, usage mapping,
// and the Down/Up transition rule, emitting a Keystroke only on an actual
// state change — steady-state reports (same value twice) are discarded,
// which is mandatory given keyboards' periodic full state reports.
func (s *Stream) handle(v RawValue) {
	if _, ours := s.deviceKeys[v.DeviceKey]; !ours {
		return
	}
	if v.Usage == codemap.RolloverSentinel {
		return
	}

	key := s.table.UsageToKey(v.Usage)
	if key == codemap.KeyUnknown {
		return
	}

	cur := v.Value > 0
	prev := s.prev[key]
	if cur == prev {
		return // steady state, no transition
	}
	s.prev[key] = cur

	var dir correlator.Direction
	switch {
	case !prev && cur:
		dir = correlator.Down
	case prev && !cur:
		dir = correlator.Up
	default:
		return
	}

	ks := Keystroke{KeyCode: key, Direction: dir, At: v.At, SourceDeviceKey: v.DeviceKey}
	s.emit(ks)
}

func (s *Stream) emit(ks Keystroke) {
	switch ks.Direction {
	case correlator.Down:
		s.state.RecordHIDDown(ks.KeyCode, ks.At)
	case correlator.Up:
		s.state.RecordHIDUp(ks.KeyCode, ks.At)
	}

	select {
	case s.captured <- ks:
	default:
		s.log.Warn().Msg("keystream: captured channel full, dropping UI notification")
	}

	if s.mode != Relay || s.forwarder == nil {
		return
	}
	intent := guest.RelayIntent{
		ScanCode:  s.table.ScanCode(ks.KeyCode),
		Direction: directionToRelay(ks.Direction),
		Target:    s.guestTarget,
	}
	s.forwarder.Enqueue(intent)
}

func directionToRelay(d correlator.Direction) guest.Direction {
	if d == correlator.Down {
		return guest.Press
	}
	return guest.Release
}
