package hidkb

import "github.com/rs/zerolog"

// HID usage page / usage constants for the generic-desktop keyboard and
// keypad collections (USB HID Usage Tables §4, §10).
const (
	UsagePageGenericDesktop = 0x01
	UsageKeyboard           = 0x06
	UsageKeypad             = 0x07
)

// isKeyboardUsage reports whether a matched HID collection is a keyboard
// or keypad, the only two the Enumerator keeps.
func isKeyboardUsage(page, usage uint16) bool {
	if page != UsagePageGenericDesktop {
		return false
	}
	return usage == UsageKeyboard || usage == UsageKeypad
}

// rawHandle is what a platform backend reports for one matched HID
// collection before identity derivation.
type rawHandle struct {
	vendor, product    uint16
	location           uint32
	transport          string
	name, manufacturer string
	usagePage, usage   uint16
}

// Enumerator queries the platform HID registry for attached keyboards and
// groups their interfaces by physical identity.
type Enumerator struct {
	log   zerolog.Logger
	query func() ([]rawHandle, error)
}

// NewEnumerator builds an Enumerator bound to the current platform's HID
// backend.
func NewEnumerator(log zerolog.Logger) *Enumerator {
	return &Enumerator{log: log, query: platformEnumerate}
}

// Enumerate opens the platform HID subsystem, matches keyboard and keypad
// usage pages, and returns one Device per matched handle.
func (e *Enumerator) Enumerate() ([]Device, error) {
	handles, err := e.query()
	if err != nil {
		return nil, err
	}
	devices := make([]Device, 0, len(handles))
	for _, h := range handles {
		if !isKeyboardUsage(h.usagePage, h.usage) {
			continue
		}
		devices = append(devices, newDevice(h.vendor, h.product, h.location, h.transport, h.name, h.manufacturer))
	}
	e.log.Debug().Int("count", len(devices)).Msg("enumerated keyboard devices")
	return devices, nil
}

// Refresh re-runs Enumerate. Kept as a distinct method so callers (the
// Hotplug Watcher, the Supervisor's NoMatch recovery path) read clearly at
// call sites even though it does nothing Enumerate doesn't already do.
func (e *Enumerator) Refresh() ([]Device, error) {
	return e.Enumerate()
}
