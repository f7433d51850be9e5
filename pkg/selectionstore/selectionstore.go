// Package selectionstore persists the last successful Identity Detector
// Selection to disk, purely as a convenience so an operator's
// `kbtap session start --last` doesn't have to re-run detection on every
// invocation. Never consulted for correctness: `kbtap session start
// --last` re-validates a loaded Selection against a fresh enumeration and
// keeps only the interfaces that are still present.
package selectionstore

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/loopvm/kbtap/pkg/hidkb"
)

// record is the on-disk shape, deliberately narrower than hidkb.Device so
// a format change to the live type doesn't silently break old files.
type record struct {
	DeviceKey    string `yaml:"device_key"`
	PhysicalID   string `yaml:"physical_id"`
	Name         string `yaml:"name"`
	Manufacturer string `yaml:"manufacturer"`
	Transport    string `yaml:"transport"`
	VendorID     uint16 `yaml:"vendor_id"`
	ProductID    uint16 `yaml:"product_id"`
	LocationID   uint32 `yaml:"location_id"`
}

type fileFormat struct {
	Devices []record `yaml:"devices"`
}

func toRecord(d hidkb.Device) record {
	return record{
		DeviceKey:    d.DeviceKey,
		PhysicalID:   d.PhysicalID,
		Name:         d.Name,
		Manufacturer: d.Manufacturer,
		Transport:    d.Transport.String(),
		VendorID:     d.VendorID,
		ProductID:    d.ProductID,
		LocationID:   d.LocationID,
	}
}

func transportFromString(s string) hidkb.Transport {
	switch s {
	case "usb":
		return hidkb.TransportUSB
	case "bluetooth":
		return hidkb.TransportBluetooth
	case "built-in":
		return hidkb.TransportBuiltIn
	default:
		return hidkb.TransportUnknown
	}
}

func fromRecord(r record) hidkb.Device {
	return hidkb.Device{
		DeviceKey:    r.DeviceKey,
		PhysicalID:   r.PhysicalID,
		Name:         r.Name,
		Manufacturer: r.Manufacturer,
		Transport:    transportFromString(r.Transport),
		VendorID:     r.VendorID,
		ProductID:    r.ProductID,
		LocationID:   r.LocationID,
	}
}

// Store reads and writes Selections to a single YAML file.
type Store struct {
	path string
}

// New builds a Store rooted at path. DefaultPath gives the conventional
// location if the caller has no override.
func New(path string) *Store {
	return &Store{path: path}
}

// DefaultPath is $XDG_CONFIG_HOME/kbtap/selection.yaml, falling back to
// ~/.config when XDG_CONFIG_HOME is unset, matching the precedence the
// rest of the corpus's config loaders use for their own config files.
func DefaultPath() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("selectionstore: resolve home directory: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "kbtap", "selection.yaml"), nil
}

// Save writes devices to the store's file, creating its parent directory
// if needed. An empty devices slice is a valid, intentional "nothing
// selected" state and is still written.
func (s *Store) Save(devices []hidkb.Device) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("selectionstore: create config directory: %w", err)
	}

	ff := fileFormat{Devices: make([]record, 0, len(devices))}
	for _, d := range devices {
		ff.Devices = append(ff.Devices, toRecord(d))
	}

	out, err := yaml.Marshal(ff)
	if err != nil {
		return fmt.Errorf("selectionstore: marshal selection: %w", err)
	}
	if err := os.WriteFile(s.path, out, 0o644); err != nil {
		return fmt.Errorf("selectionstore: write %s: %w", s.path, err)
	}
	return nil
}

// Load reads back the last saved Selection. ok is false, with a nil
// error, when no store file exists yet — the conventional "nothing to
// load" case the CLI's --last flag must distinguish from a real error.
func (s *Store) Load() (devices []hidkb.Device, ok bool, err error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("selectionstore: read %s: %w", s.path, err)
	}

	var ff fileFormat
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, false, fmt.Errorf("selectionstore: parse %s: %w", s.path, err)
	}

	devices = make([]hidkb.Device, 0, len(ff.Devices))
	for _, r := range ff.Devices {
		devices = append(devices, fromRecord(r))
	}
	return devices, true, nil
}
