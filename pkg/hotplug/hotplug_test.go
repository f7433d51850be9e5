package hotplug

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/loopvm/kbtap/pkg/hidkb"
)

type fakeSource struct {
	out  chan signal
	mu   sync.Mutex
	closed bool
}

func newFakeSourceForTest() *fakeSource {
	return &fakeSource{out: make(chan signal, 4)}
}

func (f *fakeSource) Events() <-chan signal { return f.out }

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		close(f.out)
		f.closed = true
	}
	return nil
}

func (f *fakeSource) fire() { f.out <- signal{} }

type fakeEnumerator struct {
	devices []hidkb.Device
	err     error
}

func (f *fakeEnumerator) Refresh() ([]hidkb.Device, error) {
	return f.devices, f.err
}

type fakeSupervisor struct {
	mu            sync.Mutex
	active        bool
	deviceKeys    []string
	vanishedCalls int
	lastReason    string
	vanished      chan struct{}
}

func (f *fakeSupervisor) IsActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeSupervisor) ActiveDeviceKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deviceKeys
}

func (f *fakeSupervisor) NotifyDeviceVanished(reason string) {
	f.mu.Lock()
	f.vanishedCalls++
	f.lastReason = reason
	f.mu.Unlock()
	if f.vanished != nil {
		f.vanished <- struct{}{}
	}
}

func TestHandleChangeIgnoresInactiveSupervisor(t *testing.T) {
	enum := &fakeEnumerator{devices: nil}
	sup := &fakeSupervisor{active: false}
	w := newWatcher(zerolog.Nop(), enum, sup, newFakeSourceForTest())
	w.handleChange()
	if sup.vanishedCalls != 0 {
		t.Fatalf("expected no vanished notification for an inactive supervisor")
	}
}

func TestHandleChangeNotifiesWhenSelectedKeyAbsent(t *testing.T) {
	enum := &fakeEnumerator{devices: []hidkb.Device{{DeviceKey: "aaaa:bbbb:00000000"}}}
	sup := &fakeSupervisor{active: true, deviceKeys: []string{"1111:2222:00000000"}}
	w := newWatcher(zerolog.Nop(), enum, sup, newFakeSourceForTest())
	w.handleChange()
	if sup.vanishedCalls != 1 {
		t.Fatalf("expected exactly one vanished notification, got %d", sup.vanishedCalls)
	}
}

func TestHandleChangeKeepsSessionWhenAnySelectedKeyStillPresent(t *testing.T) {
	enum := &fakeEnumerator{devices: []hidkb.Device{{DeviceKey: "1111:2222:00000000"}}}
	sup := &fakeSupervisor{active: true, deviceKeys: []string{"1111:2222:00000000", "3333:4444:00000000"}}
	w := newWatcher(zerolog.Nop(), enum, sup, newFakeSourceForTest())
	w.handleChange()
	if sup.vanishedCalls != 0 {
		t.Fatalf("expected no vanished notification when one selected interface survives")
	}
}

func TestHandleChangeSkipsOnEnumeratorError(t *testing.T) {
	enum := &fakeEnumerator{err: errors.New("hid subsystem unavailable")}
	sup := &fakeSupervisor{active: true, deviceKeys: []string{"1111:2222:00000000"}}
	w := newWatcher(zerolog.Nop(), enum, sup, newFakeSourceForTest())
	w.handleChange()
	if sup.vanishedCalls != 0 {
		t.Fatalf("expected no vanished notification when refresh itself fails")
	}
}

func TestRunReactsToSourceEvents(t *testing.T) {
	src := newFakeSourceForTest()
	enum := &fakeEnumerator{devices: nil}
	sup := &fakeSupervisor{active: true, deviceKeys: []string{"1111:2222:00000000"}, vanished: make(chan struct{}, 1)}
	w := newWatcher(zerolog.Nop(), enum, sup, src)

	if err := w.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	src.fire()

	select {
	case <-sup.vanished:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for vanished notification")
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("unexpected error stopping watcher: %v", err)
	}
}
