package correlator

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestState(t0 time.Time) (*State, *clock) {
	c := &clock{t: t0}
	s := New(zerolog.Nop(), DefaultConfig(), c.now)
	return s, c
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

const keyW = 13 // matches codemap.KeyW without importing it, to keep this package standalone

func TestBasicTapThrough(t *testing.T) {
	t0 := time.Now()
	s, _ := newTestState(t0)

	s.RecordHIDDown(keyW, t0)
	if got := s.ShouldBlockDown(keyW, t0.Add(10*time.Millisecond)); got != Block {
		t.Fatalf("expected Block on first host Down, got %v", got)
	}

	s.RecordHIDUp(keyW, t0.Add(20*time.Millisecond))
	if got := s.ShouldBlockUp(keyW); got != Block {
		t.Fatalf("expected Block on host Up, got %v", got)
	}
	if s.IsPressed(keyW) {
		t.Fatal("pressed should be empty after release")
	}
}

func TestHeldKeyHostAutoRepeat(t *testing.T) {
	t0 := time.Now()
	s, _ := newTestState(t0)

	s.RecordHIDDown(keyW, t0)
	if got := s.ShouldBlockDown(keyW, t0); got != Block {
		t.Fatal("first down should block")
	}
	// Ten host auto-repeats while the key stays down.
	for i := 0; i < 10; i++ {
		at := t0.Add(time.Duration(i+1) * 100 * time.Millisecond)
		if got := s.ShouldBlockDown(keyW, at); got != Block {
			t.Fatalf("auto-repeat %d should block, got %v", i, got)
		}
	}
	s.RecordHIDUp(keyW, t0.Add(2*time.Second))
	if got := s.ShouldBlockUp(keyW); got != Block {
		t.Fatal("release should block")
	}
	if s.IsPressed(keyW) {
		t.Fatal("pressed should be empty at end")
	}
}

func TestBuiltInKeyboardPassesThrough(t *testing.T) {
	t0 := time.Now()
	s, _ := newTestState(t0)

	// No HID Down was ever recorded for this key.
	if got := s.ShouldBlockDown(keyW, t0); got != Pass {
		t.Fatalf("expected Pass for key with no HID activity, got %v", got)
	}
	if s.IsPressed(keyW) {
		t.Fatal("pressed should remain empty")
	}
}

func TestStaleHeldKeyCleanup(t *testing.T) {
	t0 := time.Now()
	s, _ := newTestState(t0)

	s.RecordHIDDown(keyW, t0)
	s.mu.Lock()
	s.pressed[keyW] = struct{}{}
	s.mu.Unlock()

	got := s.ShouldBlockDown(keyW, t0.Add(11*time.Second))
	if got != Pass {
		t.Fatalf("expected Pass for stale hold beyond HOLD_TTL, got %v", got)
	}
	if s.IsPressed(keyW) {
		t.Fatal("stale key should be removed from pressed")
	}
}

func TestInitialWindowBoundary(t *testing.T) {
	t0 := time.Now()

	s, _ := newTestState(t0)
	s.RecordHIDDown(keyW, t0)
	if got := s.ShouldBlockDown(keyW, t0.Add(80*time.Millisecond)); got != Block {
		t.Fatalf("80ms (<=INITIAL_WINDOW) should block, got %v", got)
	}

	s2, _ := newTestState(t0)
	s2.RecordHIDDown(keyW, t0)
	if got := s2.ShouldBlockDown(keyW, t0.Add(81*time.Millisecond)); got != Pass {
		t.Fatalf("81ms (>INITIAL_WINDOW) should pass, got %v", got)
	}
}

func TestPressedInvariantTracksLastTransition(t *testing.T) {
	t0 := time.Now()
	s, _ := newTestState(t0)

	s.RecordHIDDown(keyW, t0)
	s.ShouldBlockDown(keyW, t0)
	if !s.IsPressed(keyW) {
		t.Fatal("should be pressed after Down")
	}

	s.RecordHIDUp(keyW, t0.Add(time.Millisecond))
	s.ShouldBlockUp(keyW)
	if s.IsPressed(keyW) {
		t.Fatal("should not be pressed after Up consumed")
	}
}

func TestJanitorPrunesStaleEntriesAndEnforcesCap(t *testing.T) {
	t0 := time.Now()
	cfg := DefaultConfig()
	cfg.JanitorMaxAge = 30 * time.Second
	cfg.JanitorMaxEntries = 5
	c := &clock{t: t0}
	s := New(zerolog.Nop(), cfg, c.now)

	for i := 0; i < 10; i++ {
		s.RecordHIDDown(i, t0)
	}
	downs, _ := s.MapSizes()
	if downs != 10 {
		t.Fatalf("expected 10 entries before prune, got %d", downs)
	}

	s.prune()
	downs, _ = s.MapSizes()
	if downs > cfg.JanitorMaxEntries {
		t.Fatalf("expected at most %d entries after prune, got %d", cfg.JanitorMaxEntries, downs)
	}
}

func TestJanitorPrunesByAge(t *testing.T) {
	t0 := time.Now()
	cfg := DefaultConfig()
	cfg.JanitorMaxAge = 5 * time.Second
	cfg.JanitorMaxEntries = 50
	c := &clock{t: t0}
	s := New(zerolog.Nop(), cfg, c.now)

	s.RecordHIDDown(keyW, t0)
	c.advance(10 * time.Second)
	s.prune()

	downs, _ := s.MapSizes()
	if downs != 0 {
		t.Fatalf("expected stale entry pruned, got %d entries", downs)
	}
}

func TestStartStopJanitor(t *testing.T) {
	s, _ := newTestState(time.Now())
	s.cfg.JanitorPeriod = time.Millisecond
	s.StartJanitor()
	time.Sleep(10 * time.Millisecond)
	s.StopJanitor()
	// No mutation should occur after Stop returns; this mostly documents
	// the contract and guards against the goroutine leaking past Stop.
}

func TestConcurrentAccess(t *testing.T) {
	s, _ := newTestState(time.Now())
	done := make(chan struct{})

	go func() {
		for i := 0; i < 1000; i++ {
			s.RecordHIDDown(keyW, time.Now())
			s.RecordHIDUp(keyW, time.Now())
		}
		close(done)
	}()

	for i := 0; i < 1000; i++ {
		s.ShouldBlockDown(keyW, time.Now())
		s.ShouldBlockUp(keyW)
	}
	<-done
}
