// Package hotplug watches the platform's device-arrival/removal signal and
// drives the Enumerator and Session Supervisor from it. It owns no
// correlation state of its own: it is pure plumbing calling into the
// Device Enumerator and notifying the Session Supervisor through their
// normal synchronous APIs.
package hotplug

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/loopvm/kbtap/pkg/hidkb"
)

// supervisor is the narrow slice of session.Supervisor the Watcher needs,
// kept as an interface so tests don't have to spin up a real Supervisor.
type supervisor interface {
	IsActive() bool
	ActiveDeviceKeys() []string
	NotifyDeviceVanished(reason string)
}

// enumerator is the narrow slice of hidkb.Enumerator the Watcher needs.
type enumerator interface {
	Refresh() ([]hidkb.Device, error)
}

// signal is what a platform backend delivers on every device-change
// notification; its payload is irrelevant; only its arrival matters,
// since the Watcher always reacts by calling Refresh.
type signal struct{}

// source is the platform-specific device-change notifier. Linux backs it
// with an fsnotify watch on /dev/input; Darwin and Windows have no
// equivalently cheap filesystem signal available to this component's
// testable core, so they poll on an interval instead.
type source interface {
	Events() <-chan signal
	Close() error
}

// Watcher observes device arrival/removal and reacts by refreshing the
// Enumerator and, if the active Session's target vanished, notifying the
// Supervisor.
type Watcher struct {
	log  zerolog.Logger
	enum enumerator
	sup  supervisor
	src  source

	mu      sync.Mutex
	started bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// New builds a Watcher using the current platform's device-change source.
func New(log zerolog.Logger, enum *hidkb.Enumerator, sup supervisor) *Watcher {
	return newWatcher(log, enum, sup, newPlatformSource(log))
}

// newWatcher is the seam tests use to inject a fake source and a fake
// supervisor/enumerator without a real HID subsystem or platform FS watch.
func newWatcher(log zerolog.Logger, enum enumerator, sup supervisor, src source) *Watcher {
	return &Watcher{log: log, enum: enum, sup: sup, src: src}
}

// Start begins watching for device changes on a goroutine. It returns
// immediately; Stop tears the goroutine and platform source down.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	w.started = true
	w.done = make(chan struct{})
	w.wg.Add(1)
	go w.run()
	return nil
}

// Stop shuts the Watcher down, closing the platform source.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = false
	close(w.done)
	w.mu.Unlock()

	w.wg.Wait()
	return w.src.Close()
}

func (w *Watcher) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case _, ok := <-w.src.Events():
			if !ok {
				return
			}
			w.handleChange()
		}
	}
}

func (w *Watcher) handleChange() {
	devices, err := w.enum.Refresh()
	if err != nil {
		w.log.Warn().Err(err).Msg("hotplug: enumerator refresh failed")
		return
	}
	if !w.sup.IsActive() {
		return
	}

	present := make(map[string]struct{}, len(devices))
	for _, d := range devices {
		present[d.DeviceKey] = struct{}{}
	}

	for _, key := range w.sup.ActiveDeviceKeys() {
		if _, ok := present[key]; ok {
			return // at least one selected interface is still there
		}
	}
	w.sup.NotifyDeviceVanished("all selected device keys absent from a fresh enumeration")
}

// pollInterval is the polling cadence for platforms without a cheap
// filesystem device-change notification (Darwin IOKit notification ports
// and Windows WM_DEVICECHANGE both exist but aren't wired here since this
// component's testable core is the reaction, not the transport).
const pollInterval = 2 * time.Second
