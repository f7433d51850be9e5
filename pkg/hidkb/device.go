// Package hidkb enumerates HID keyboard devices and assigns them the
// stable identities the rest of the engine correlates against.
package hidkb

import "fmt"

// Transport identifies how a keyboard interface is connected to the host.
type Transport int

const (
	TransportUnknown Transport = iota
	TransportUSB
	TransportBluetooth
	TransportBuiltIn
)

func (t Transport) String() string {
	switch t {
	case TransportUSB:
		return "usb"
	case TransportBluetooth:
		return "bluetooth"
	case TransportBuiltIn:
		return "built-in"
	default:
		return "unknown"
	}
}

// Device is an immutable record describing one keyboard interface as
// reported by the platform HID registry. Two Devices with the same
// PhysicalID denote interfaces (wired, wireless) of the same physical
// keyboard.
type Device struct {
	DeviceKey    string
	PhysicalID   string
	Name         string
	Manufacturer string
	Transport    Transport
	VendorID     uint16
	ProductID    uint16
	LocationID   uint32
}

// deviceKey formats the stable vendor:product:location tuple identifying
// one interface of one device, lowercase hex, 4/4/8 width.
func deviceKey(vendor, product uint16, location uint32) string {
	return fmt.Sprintf("%04x:%04x:%08x", vendor, product, location)
}

// DeviceKey exposes the vendor:product:location formatting rule so other
// packages (the Device Stream, the Host Stream Tap) derive the same key
// for a raw HID report that the Enumerator derived for the Device record.
func DeviceKey(vendor, product uint16, location uint32) string {
	return deviceKey(vendor, product, location)
}

// physicalID collapses wired and wireless interfaces of one keyboard into
// a single identity. Built-in keyboards (location 0) of a given
// vendor/product never merge with an external keyboard sharing that
// vendor/product but reporting a nonzero location.
func physicalID(vendor, product uint16, location uint32) string {
	return fmt.Sprintf("%04x-%04x-%04x", vendor, product, location>>8)
}

// classifyTransport applies the built-in detection rule: a location of
// zero, or a platform-reported transport of "built-in"/"spi", is the only
// way the built-in keyboard is distinguished from an external keyboard of
// the same vendor.
func classifyTransport(reported string, location uint32) Transport {
	if location == 0 {
		return TransportBuiltIn
	}
	switch reported {
	case "built-in", "spi":
		return TransportBuiltIn
	case "usb":
		return TransportUSB
	case "bluetooth":
		return TransportBluetooth
	default:
		return TransportUnknown
	}
}

// newDevice builds a Device record and derives its two identities.
func newDevice(vendor, product uint16, location uint32, reportedTransport, name, manufacturer string) Device {
	return Device{
		DeviceKey:    deviceKey(vendor, product, location),
		PhysicalID:   physicalID(vendor, product, location),
		Name:         name,
		Manufacturer: manufacturer,
		Transport:    classifyTransport(reportedTransport, location),
		VendorID:     vendor,
		ProductID:    product,
		LocationID:   location,
	}
}
