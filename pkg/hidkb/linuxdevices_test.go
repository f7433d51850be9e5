//go:build linux

package hidkb

import (
	"strings"
	"testing"
)

const sampleProcInputDevices = `I: Bus=0003 Vendor=046d Product=c31c Version=0111
N: Name="Logitech USB Keyboard"
P: Phys=usb-0000:00:14.0-1/input0
S: Sysfs=/devices/pci0000:00/0000:00:14.0/usb1/1-1/1-1:1.0/0003:046D:C31C.0001/input/input5
U: Uniq=
H: Handlers=sysrq kbd leds event5
B: PROP=0
B: EV=120013
B: KEY=1000000000007 ff800000000007ff febeffdff3cfffff fffffffffffffffe

I: Bus=0005 Vendor=046d Product=c31c Version=0001
N: Name="Logitech USB Keyboard"
P: Phys=aa:bb:cc:dd:ee:ff
S: Sysfs=/devices/virtual/input/input6
U: Uniq=
H: Handlers=kbd event6
B: PROP=0

I: Bus=0011 Vendor=0001 Product=0001 Version=ab83
N: Name="AT Translated Set 2 keyboard"
P: Phys=isa0060/serio0/input0
S: Sysfs=/devices/platform/i8042/serio0/input/input0
U: Uniq=
H: Handlers=sysrq kbd leds event0
B: PROP=0

I: Bus=0003 Vendor=046d Product=c52b Version=0111
N: Name="Logitech USB Receiver Mouse"
P: Phys=usb-0000:00:14.0-2/input2
S: Sysfs=/devices/pci0000:00/0000:00:14.0/usb1/1-2/1-2:1.2/0003:046D:C52B.0002/input/input7
U: Uniq=
H: Handlers=mouse1 event7
B: PROP=0
`

func TestParseProcInputDevicesKeepsOnlyKeyboardHandlers(t *testing.T) {
	handlers := parseProcInputDevices(strings.NewReader(sampleProcInputDevices))
	if len(handlers) != 3 {
		t.Fatalf("expected 3 keyboard handlers (mouse excluded), got %d: %+v", len(handlers), handlers)
	}
	for _, h := range handlers {
		if h.EventPath == "" {
			t.Errorf("handler %+v missing event path", h)
		}
	}
}

func TestParseProcInputDevicesBuiltInTransport(t *testing.T) {
	handlers := parseProcInputDevices(strings.NewReader(sampleProcInputDevices))
	var builtin LinuxInputHandler
	found := false
	for _, h := range handlers {
		if h.Bus == BusI8042 {
			builtin = h
			found = true
		}
	}
	if !found {
		t.Fatal("expected an i8042 (built-in) keyboard handler")
	}
	if builtin.Transport() != "built-in" {
		t.Errorf("expected built-in transport, got %q", builtin.Transport())
	}
	if builtin.Location != 0 {
		t.Errorf("expected location 0 for i8042, got %#x", builtin.Location)
	}
}

func TestParseProcInputDevicesDistinctLocationsPerInterface(t *testing.T) {
	handlers := parseProcInputDevices(strings.NewReader(sampleProcInputDevices))
	var usbLoc, btLoc uint32
	var sawUSB, sawBT bool
	for _, h := range handlers {
		switch h.Bus {
		case BusUSB:
			usbLoc = h.Location
			sawUSB = true
		case BusBluetooth:
			btLoc = h.Location
			sawBT = true
		}
	}
	if !sawUSB || !sawBT {
		t.Fatal("expected both a USB and Bluetooth keyboard handler")
	}
	if usbLoc == 0 || btLoc == 0 {
		t.Error("expected nonzero derived locations for non-i8042 handlers")
	}
	if usbLoc == btLoc {
		t.Error("expected distinct phys strings to hash to distinct locations")
	}
}
