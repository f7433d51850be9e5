package guest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestSendBuildsExactArguments(t *testing.T) {
	f := NewForwarder(zerolog.Nop(), "/usr/local/bin/vmctl", 1)

	var gotName string
	var gotArgs []string
	f.runCommand = func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		gotName = name
		gotArgs = args
		return nil, nil, nil
	}

	err := f.Send(context.Background(), RelayIntent{ScanCode: 17, Direction: Press, Target: "VM-X"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotName != "/usr/local/bin/vmctl" {
		t.Fatalf("wrong controller path: %q", gotName)
	}
	want := []string{"send-key-event", "VM-X", "--scancode", "17", "--event", "press"}
	if len(gotArgs) != len(want) {
		t.Fatalf("arg count mismatch: %v", gotArgs)
	}
	for i := range want {
		if gotArgs[i] != want[i] {
			t.Errorf("arg[%d] = %q, want %q", i, gotArgs[i], want[i])
		}
	}
}

func TestSendReleaseDirection(t *testing.T) {
	f := NewForwarder(zerolog.Nop(), "vmctl", 1)
	var gotArgs []string
	f.runCommand = func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		gotArgs = args
		return nil, nil, nil
	}
	_ = f.Send(context.Background(), RelayIntent{ScanCode: 57, Direction: Release, Target: "VM-X"})
	if gotArgs[len(gotArgs)-1] != "release" {
		t.Errorf("expected release event, got %q", gotArgs[len(gotArgs)-1])
	}
}

func TestSendNonZeroExitIsLoggedAndReturnsError(t *testing.T) {
	f := NewForwarder(zerolog.Nop(), "vmctl", 1)
	f.runCommand = func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		return nil, []byte("no such guest"), errors.New("exit status 1")
	}
	err := f.Send(context.Background(), RelayIntent{ScanCode: 17, Direction: Press, Target: "VM-X"})
	if err == nil {
		t.Fatal("expected error on nonzero exit")
	}
}

func TestMaxInFlightBoundsConcurrency(t *testing.T) {
	f := NewForwarder(zerolog.Nop(), "vmctl", 2)

	var inFlight int32
	var maxObserved int32
	var mu sync.Mutex
	f.runCommand = func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		n := atomic.AddInt32(&inFlight, 1)
		mu.Lock()
		if n > maxObserved {
			maxObserved = n
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil, nil, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.Send(context.Background(), RelayIntent{ScanCode: 1, Direction: Press, Target: "VM-X"})
		}()
	}
	wg.Wait()

	if maxObserved > 2 {
		t.Errorf("observed %d concurrent invocations, want <= 2", maxObserved)
	}
}

func TestOnResultFiresForSuccessAndFailure(t *testing.T) {
	f := NewForwarder(zerolog.Nop(), "vmctl", 1)
	calls := make(chan error, 2)
	f.OnResult(func(intent RelayIntent, err error) { calls <- err })

	f.runCommand = func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		return nil, nil, nil
	}
	if err := f.Send(context.Background(), RelayIntent{ScanCode: 17, Direction: Press, Target: "VM-X"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := <-calls; got != nil {
		t.Errorf("expected nil error on success callback, got %v", got)
	}

	f.runCommand = func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		return nil, nil, errors.New("boom")
	}
	_ = f.Send(context.Background(), RelayIntent{ScanCode: 17, Direction: Press, Target: "VM-X"})
	if got := <-calls; got == nil {
		t.Error("expected non-nil error on failure callback")
	}
}

func TestListGuestsParsesRecordsSkippingHeaderAndBlanks(t *testing.T) {
	f := NewForwarder(zerolog.Nop(), "vmctl", 1)
	f.runCommand = func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		out := "UUID                                 STATUS    NAME\n" +
			"\n" +
			"550e8400-e29b-41d4-a716-446655440000 running   VM-X\n" +
			"123e4567-e89b-12d3-a456-426614174000 stopped   VM-Y Extra Words\n" +
			"6ba7b810-9dad-11d1-80b4-00c04fd430c8 weird     VM-Z\n"
		return []byte(out), nil, nil
	}

	guests, err := f.ListGuests(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(guests) != 3 {
		t.Fatalf("expected 3 guests, got %d: %+v", len(guests), guests)
	}
	if guests[0].Status != StatusRunning {
		t.Errorf("expected running, got %v", guests[0].Status)
	}
	if guests[1].Name != "VM-Y Extra Words" {
		t.Errorf("expected multi-word name preserved, got %q", guests[1].Name)
	}
	if guests[2].Status != StatusUnknown {
		t.Errorf("expected unknown status for unrecognized string, got %v", guests[2].Status)
	}
}
