// Package guest forwards relay intents to an external hypervisor
// controller and parses its VM listing, treating the controller as an
// opaque subprocess the way the rest of the corpus treats external CLI
// tools it doesn't own.
package guest

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Direction of a relay intent.
type Direction int

const (
	Press Direction = iota
	Release
)

func (d Direction) String() string {
	if d == Press {
		return "press"
	}
	return "release"
}

// RelayIntent is a single press/release scan-code event destined for one
// guest, produced by the Correlator's Device Stream side and consumed by
// the Forwarder.
type RelayIntent struct {
	ScanCode  int
	Direction Direction
	Target    string // guest id
}

// Status of a guest VM as reported by the hypervisor controller's list
// subcommand.
type Status int

const (
	StatusUnknown Status = iota
	StatusRunning
	StatusStopped
	StatusSuspended
)

func parseStatus(s string) Status {
	switch s {
	case "running":
		return StatusRunning
	case "stopped":
		return StatusStopped
	case "suspended":
		return StatusSuspended
	default:
		return StatusUnknown
	}
}

// Guest is one VM as reported by `<controller> list --all`.
type Guest struct {
	ID     string
	Status Status
	Name   string
}

// DefaultMaxInFlight is the bounded concurrency limit for subprocess
// invocations: two in flight is empirically sufficient to prevent queue
// buildup during rapid key bursts (each invocation costs ~150ms) while
// staying safe for the controller; purely serial invocation produced
// visible "lag then burst" behavior.
const DefaultMaxInFlight = 2

// Forwarder serializes RelayIntents onto a bounded pool of controller
// subprocess invocations.
type Forwarder struct {
	log            zerolog.Logger
	controllerPath string
	sem            chan struct{}
	queue          chan RelayIntent
	runCommand     func(ctx context.Context, name string, args ...string) ([]byte, []byte, error)
	onResult       func(intent RelayIntent, err error)
}

// OnResult registers a callback invoked after every Send completes,
// success or failure, so a caller (the Session Supervisor) can mirror
// relay outcomes onto the domain event bus without this package importing
// it back — events already imports guest for RelayIntent.
func (f *Forwarder) OnResult(fn func(intent RelayIntent, err error)) {
	f.onResult = fn
}

// queueDepth bounds the backlog of RelayIntents awaiting a free worker
// slot; it's generous enough that a human's fastest burst of keystrokes
// never blocks the Device Stream's HID callback on Enqueue.
const queueDepth = 256

// NewForwarder builds a Forwarder invoking controllerPath with up to
// maxInFlight concurrent subprocesses. maxInFlight <= 0 uses DefaultMaxInFlight.
func NewForwarder(log zerolog.Logger, controllerPath string, maxInFlight int) *Forwarder {
	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlight
	}
	return &Forwarder{
		log:            log,
		controllerPath: controllerPath,
		sem:            make(chan struct{}, maxInFlight),
		queue:          make(chan RelayIntent, queueDepth),
		runCommand:     runExternal,
	}
}

// Run drains the queue until ctx is canceled, dispatching each dequeued
// RelayIntent to Send. Intents are dequeued in the order Enqueue received
// them; because up to maxInFlight run concurrently, completion order
// across different keys is not guaranteed — only that, for a single key,
// its press is always enqueued (and therefore dequeued) before its
// release, since the Device Stream updates the Correlator and enqueues in
// that order.
func (f *Forwarder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case intent := <-f.queue:
			go func(i RelayIntent) {
				_ = f.Send(ctx, i)
			}(intent)
		}
	}
}

// Enqueue hands a RelayIntent to the queue Run drains. It never blocks the
// caller on a controller subprocess — only on the queue itself filling up,
// which would mean the controller has fallen far enough behind that
// backpressure is the right behavior.
func (f *Forwarder) Enqueue(intent RelayIntent) {
	f.queue <- intent
}

// Send invokes the hypervisor controller for one RelayIntent, blocking
// until a worker slot is free. Errors are logged and the event is
// considered lost — no automatic retry, since retrying risks stuck-key
// semantics on the guest.
func (f *Forwarder) Send(ctx context.Context, intent RelayIntent) error {
	f.sem <- struct{}{}
	defer func() { <-f.sem }()

	args := []string{
		"send-key-event", intent.Target,
		"--scancode", strconv.Itoa(intent.ScanCode),
		"--event", intent.Direction.String(),
	}
	_, stderr, err := f.runCommand(ctx, f.controllerPath, args...)
	if err != nil {
		f.log.Error().
			Err(err).
			Int("scan_code", intent.ScanCode).
			Str("guest_id", intent.Target).
			Str("direction", intent.Direction.String()).
			Str("stderr", string(stderr)).
			Msg("guest: relay invocation failed, event lost")
		wrapped := fmt.Errorf("guest: send-key-event failed: %w", err)
		if f.onResult != nil {
			f.onResult(intent, wrapped)
		}
		return wrapped
	}
	if f.onResult != nil {
		f.onResult(intent, nil)
	}
	return nil
}

// ListGuests runs the controller's list subcommand and parses its
// whitespace-separated UUID/STATUS/NAME records. The header line (starting
// with "UUID") and blank lines are skipped.
func (f *Forwarder) ListGuests(ctx context.Context) ([]Guest, error) {
	stdout, _, err := f.runCommand(ctx, f.controllerPath, "list", "--all")
	if err != nil {
		return nil, fmt.Errorf("guest: list --all failed: %w", err)
	}

	var guests []Guest
	scanner := bufio.NewScanner(bytes.NewReader(stdout))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "UUID") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		guests = append(guests, Guest{
			ID:     fields[0],
			Status: parseStatus(fields[1]),
			Name:   strings.Join(fields[2:], " "),
		})
	}
	return guests, nil
}

// runExternal is the production command runner, swapped out in tests.
func runExternal(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}
