package hosttap

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/loopvm/kbtap/pkg/codemap"
	"github.com/loopvm/kbtap/pkg/correlator"
)

type fakeDecider struct {
	downResult correlator.Decision
	upResult   correlator.Decision
	sawDownAt  time.Time
	sawDownKey int
	sawUpKey   int
}

func (f *fakeDecider) ShouldBlockDown(key int, at time.Time) correlator.Decision {
	f.sawDownKey = key
	f.sawDownAt = at
	return f.downResult
}

func (f *fakeDecider) ShouldBlockUp(key int) correlator.Decision {
	f.sawUpKey = key
	return f.upResult
}

func TestDecideDownBlockedMapsToSuppress(t *testing.T) {
	fd := &fakeDecider{downResult: correlator.Block}
	b := &base{log: zerolog.Nop(), table: codemap.NewTable(zerolog.Nop()), state: fd}

	at := time.Now()
	blocked := b.decide(HostEvent{KeyCode: codemap.KeyW, Direction: correlator.Down, At: at})
	if !blocked {
		t.Fatal("expected blocked decision to suppress the event")
	}
	if fd.sawDownKey != codemap.KeyW || !fd.sawDownAt.Equal(at) {
		t.Errorf("decider called with wrong args: key=%d at=%v", fd.sawDownKey, fd.sawDownAt)
	}
}

func TestDecideDownPassedMapsToForward(t *testing.T) {
	fd := &fakeDecider{downResult: correlator.Pass}
	b := &base{log: zerolog.Nop(), table: codemap.NewTable(zerolog.Nop()), state: fd}

	blocked := b.decide(HostEvent{KeyCode: codemap.KeyA, Direction: correlator.Down, At: time.Now()})
	if blocked {
		t.Fatal("expected pass decision not to suppress the event")
	}
}

func TestDecideUpDelegatesToShouldBlockUp(t *testing.T) {
	fd := &fakeDecider{upResult: correlator.Block}
	b := &base{log: zerolog.Nop(), table: codemap.NewTable(zerolog.Nop()), state: fd}

	blocked := b.decide(HostEvent{KeyCode: codemap.KeySpace, Direction: correlator.Up, At: time.Now()})
	if !blocked {
		t.Fatal("expected blocked Up decision to suppress the event")
	}
	if fd.sawUpKey != codemap.KeySpace {
		t.Errorf("expected ShouldBlockUp called with KeySpace, got %d", fd.sawUpKey)
	}
}
