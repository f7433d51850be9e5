// Package identity implements the Identity Detector: the "press any key on
// the keyboard you mean" flow that turns a handful of observed HID presses
// into a concrete Selection of Device records.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/loopvm/kbtap/pkg/codemap"
	"github.com/loopvm/kbtap/pkg/hidkb"
	"github.com/loopvm/kbtap/pkg/keystream"
)

// ErrNoMatch is returned when the presses observed during detection don't
// correlate with any device in the supplied enumeration — typically a
// stale enumeration snapshot; callers should refresh() and retry.
var ErrNoMatch = errors.New("identity: no match")

// Selection is the set of Device records identified as interfaces of one
// physical keyboard.
type Selection struct {
	Devices []hidkb.Device
}

// DeviceKeys returns every device_key in the Selection, the form the
// Session Supervisor hands to the Device Stream and Host Stream Tap.
func (s Selection) DeviceKeys() []string {
	keys := make([]string, len(s.Devices))
	for i, d := range s.Devices {
		keys[i] = d.DeviceKey
	}
	return keys
}

// StopPredicate decides when detection has observed enough presses. It is
// called after every press Detect accepts, with the number of distinct
// device_keys observed so far.
type StopPredicate func(distinctDeviceKeys int) bool

// StopAfterDistinctKeys is the typical predicate: stop once N distinct
// device_keys have produced a press.
func StopAfterDistinctKeys(n int) StopPredicate {
	return func(distinct int) bool { return distinct >= n }
}

// Detector runs the all-keyboards HID listener used to observe presses
// during detection. On Linux the platform Source grabs each evdev node
// exclusively, so while Detect runs those keyboards' input does not reach
// the rest of the host.
type Detector struct {
	log    zerolog.Logger
	table  *codemap.Table
	source keystream.Source
}

// New builds a Detector backed by the current platform's HID backend.
func New(log zerolog.Logger, table *codemap.Table) *Detector {
	return &Detector{log: log, table: table, source: keystream.NewPlatformSource(log)}
}

// NewWithSource builds a Detector backed by an injected Source, for tests.
func NewWithSource(log zerolog.Logger, table *codemap.Table, source keystream.Source) *Detector {
	return &Detector{log: log, table: table, source: source}
}

// Detect opens the Detector's listener across every device_key in available,
// records each distinct device_key that produces a press (ignoring
// releases and the rollover sentinel), and stops when stop fires. It then
// correlates the observed device_keys against available: first by exact
// device_key, then by physical_id, returning the deduplicated union of
// matched Devices — every interface of the identified physical keyboard.
func (d *Detector) Detect(ctx context.Context, available []hidkb.Device, stop StopPredicate) (Selection, error) {
	keys := make([]string, len(available))
	for i, dev := range available {
		keys[i] = dev.DeviceKey
	}

	values, err := d.source.Open(keys)
	if err != nil {
		return Selection{}, err
	}
	defer d.source.Close()

	observed := make(map[string]struct{})
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case v, ok := <-values:
			if !ok {
				break loop
			}
			if v.Usage == codemap.RolloverSentinel {
				continue
			}
			if v.Value <= 0 {
				continue // releases carry no identity evidence
			}
			if _, seen := observed[v.DeviceKey]; !seen {
				observed[v.DeviceKey] = struct{}{}
				d.log.Debug().Str("device_key", v.DeviceKey).Msg("identity: press observed")
			}
			if stop(len(observed)) {
				break loop
			}
		}
	}

	return correlate(observed, available)
}

// correlate maps the set of observed device_keys to Devices in available,
// first by exact device_key, then — for observed keys with no exact
// match — by physical_id, recovering every interface of a physical
// keyboard from evidence on only one of them. The result is deduplicated
// so no (physical_id, transport) pair appears twice.
func correlate(observed map[string]struct{}, available []hidkb.Device) (Selection, error) {
	byKey := make(map[string]hidkb.Device, len(available))
	for _, dev := range available {
		byKey[dev.DeviceKey] = dev
	}

	physicalIDs := make(map[string]struct{})
	for key := range observed {
		if dev, ok := byKey[key]; ok {
			physicalIDs[dev.PhysicalID] = struct{}{}
			continue
		}
		var vendor, product uint16
		var location uint32
		if n, _ := fmt.Sscanf(key, "%x:%x:%x", &vendor, &product, &location); n == 3 {
			physicalIDs[fmt.Sprintf("%04x-%04x-%04x", vendor, product, location>>8)] = struct{}{}
		}
	}

	type dedupKey struct {
		physicalID string
		transport  hidkb.Transport
	}
	seen := make(map[dedupKey]struct{})
	var sel Selection
	for _, dev := range available {
		if _, wanted := physicalIDs[dev.PhysicalID]; !wanted {
			continue
		}
		dk := dedupKey{dev.PhysicalID, dev.Transport}
		if _, dup := seen[dk]; dup {
			continue
		}
		seen[dk] = struct{}{}
		sel.Devices = append(sel.Devices, dev)
	}
	if len(sel.Devices) == 0 {
		return Selection{}, ErrNoMatch
	}
	return sel, nil
}
