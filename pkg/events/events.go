// Package events defines the domain events the engine posts for any UI
// layer to render, and nothing about how they're rendered — the engine's
// contract here ends at "publish a read-only snapshot on demand, and post
// domain events onto an unbounded channel."
package events

import (
	"time"

	"github.com/loopvm/kbtap/pkg/guest"
)

// Kind discriminates the Event union.
type Kind int

const (
	KeystrokeCaptured Kind = iota
	RelaySucceeded
	RelayFailed
	StateTransitioned
)

// Event is a single domain event. Only the fields relevant to Kind are
// populated.
type Event struct {
	Kind      Kind
	At        time.Time
	KeyCode   int
	Direction string // "down" / "up", set for KeystrokeCaptured
	Intent    guest.RelayIntent
	Err       error
	FromState string
	ToState   string
}

// Bus is an unbounded channel of domain events. "Unbounded" here means
// generously buffered and never blocking the caller that posts to it —
// the engine's callback threads (D's HID thread, F's tap thread) must
// never block on a slow UI consumer.
type Bus struct {
	ch chan Event
}

// bufferSize is large enough to absorb a burst of keystrokes between UI
// reads without the posting goroutine ever blocking in practice.
const bufferSize = 4096

// NewBus creates a Bus ready to receive events.
func NewBus() *Bus {
	return &Bus{ch: make(chan Event, bufferSize)}
}

// Post publishes an event, dropping it rather than blocking if the buffer
// is somehow exhausted — a slow or absent UI must never stall capture.
func (b *Bus) Post(e Event) {
	select {
	case b.ch <- e:
	default:
	}
}

// Events returns the read side of the bus for a UI layer to range over.
func (b *Bus) Events() <-chan Event {
	return b.ch
}
