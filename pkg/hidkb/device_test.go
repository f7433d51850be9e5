package hidkb

import "testing"

func TestPhysicalIDCollapsesInterfaces(t *testing.T) {
	usb := newDevice(0x046d, 0xc31c, 0x14000000, "usb", "MX Keys", "Logitech")
	bt := newDevice(0x046d, 0xc31c, 0x14000001, "bluetooth", "MX Keys", "Logitech")

	if usb.PhysicalID != bt.PhysicalID {
		t.Fatalf("expected same physical id, got %q vs %q", usb.PhysicalID, bt.PhysicalID)
	}
	if usb.DeviceKey == bt.DeviceKey {
		t.Fatal("expected distinct device keys for distinct interfaces")
	}
}

func TestBuiltInLocationZeroNeverMergesWithExternal(t *testing.T) {
	builtin := newDevice(0x05ac, 0x0278, 0, "usb", "Apple Internal Keyboard", "Apple")
	external := newDevice(0x05ac, 0x0278, 0x11000000, "usb", "Apple Internal Keyboard", "Apple")

	if builtin.Transport != TransportBuiltIn {
		t.Fatalf("expected BuiltIn transport for location 0, got %v", builtin.Transport)
	}
	if builtin.PhysicalID == external.PhysicalID {
		t.Fatal("location-0 and nonzero-location devices must never share a physical id")
	}
}

func TestClassifyTransportReportedStrings(t *testing.T) {
	cases := []struct {
		reported string
		location uint32
		want     Transport
	}{
		{"built-in", 0x1000, TransportBuiltIn},
		{"spi", 0x1000, TransportBuiltIn},
		{"usb", 0, TransportBuiltIn},
		{"usb", 0x1000, TransportUSB},
		{"bluetooth", 0x1000, TransportBluetooth},
		{"bluetooth", 0, TransportBuiltIn},
		{"", 0x1000, TransportUnknown},
	}
	for _, c := range cases {
		got := classifyTransport(c.reported, c.location)
		if got != c.want {
			t.Errorf("classifyTransport(%q, %#x) = %v, want %v", c.reported, c.location, got, c.want)
		}
	}
}

func TestIsKeyboardUsage(t *testing.T) {
	if !isKeyboardUsage(UsagePageGenericDesktop, UsageKeyboard) {
		t.Error("keyboard usage should match")
	}
	if !isKeyboardUsage(UsagePageGenericDesktop, UsageKeypad) {
		t.Error("keypad usage should match")
	}
	if isKeyboardUsage(UsagePageGenericDesktop, 0x02) {
		t.Error("mouse usage should not match")
	}
	if isKeyboardUsage(0x0c, UsageKeyboard) {
		t.Error("consumer-control page should not match even with keyboard usage value")
	}
}
