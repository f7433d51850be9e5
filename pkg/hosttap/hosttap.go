// Package hosttap implements the Host Stream Tap: the system-wide keyboard
// interception point that asks the Correlator whether each host keystroke
// should reach the rest of the operating system, and suppresses it when the
// answer is Block.
package hosttap

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/loopvm/kbtap/pkg/codemap"
	"github.com/loopvm/kbtap/pkg/correlator"
)

// HostEvent is one keystroke observed by the platform's system-wide input
// path, already translated to the engine's internal key-code space.
type HostEvent struct {
	KeyCode   int
	Direction correlator.Direction
	At        time.Time
}

// Tap is what a platform backend provides: install the system-wide
// interception, consult decide for every event, and uninstall cleanly.
type Tap interface {
	Start() error
	Stop() error
}

// decider is the narrow correlator.State surface the Tap needs, isolated so
// tests can fake it without building a real State.
type decider interface {
	ShouldBlockDown(key int, at time.Time) correlator.Decision
	ShouldBlockUp(key int) correlator.Decision
}

// base holds what every platform backend shares: the logger, the mapping
// table and the Correlator it consults.
type base struct {
	log   zerolog.Logger
	table *codemap.Table
	state decider
}

// decide applies the Correlator's verdict to a raw host event and reports
// whether the platform backend should suppress it.
func (b *base) decide(ev HostEvent) bool {
	var d correlator.Decision
	switch ev.Direction {
	case correlator.Down:
		d = b.state.ShouldBlockDown(ev.KeyCode, ev.At)
	case correlator.Up:
		d = b.state.ShouldBlockUp(ev.KeyCode)
	}
	blocked := d == correlator.Block
	b.log.Debug().
		Int("key_code", ev.KeyCode).
		Str("name", b.table.Name(ev.KeyCode)).
		Bool("blocked", blocked).
		Msg("hosttap: decision")
	return blocked
}

// New builds the Tap for the current platform, scoped to deviceKeys where
// the platform backend is capable of per-device interception (Linux); on
// platforms whose interception API is inherently system-wide (macOS,
// Windows) deviceKeys is accepted but unused, and every host keystroke is
// run through the decider regardless of source.
func New(log zerolog.Logger, table *codemap.Table, state *correlator.State, deviceKeys []string) Tap {
	return newPlatformTap(log, table, state, deviceKeys)
}
