package codemap

import (
	"testing"

	"github.com/rs/zerolog"
)

func newTestTable() *Table {
	return NewTable(zerolog.Nop())
}

// TestRoundTripGoldenTable pins the three worked examples from the
// round-trip property: usage -> key code -> scan code must reproduce
// these exact values, because the scan code is the physical keyboard
// position, not a function of the key code's numeric ordering.
func TestRoundTripGoldenTable(t *testing.T) {
	tbl := newTestTable()

	cases := []struct {
		usage       uint32
		wantKey     int
		wantScan    int
		description string
	}{
		{0x1A, 13, 17, "HID W"},
		{0x2C, 49, 57, "HID Space"},
		{0x4F, 124, 77, "HID Right-arrow"},
	}

	for _, c := range cases {
		key := tbl.UsageToKey(c.usage)
		if key != c.wantKey {
			t.Errorf("%s: UsageToKey(%#x) = %d, want %d", c.description, c.usage, key, c.wantKey)
		}
		scan := tbl.ScanCode(key)
		if scan != c.wantScan {
			t.Errorf("%s: ScanCode(%d) = %d, want %d", c.description, key, scan, c.wantScan)
		}
	}
}

func TestRoundTripAllLettersDigitsArrowsSpaceReturn(t *testing.T) {
	tbl := newTestTable()

	// Every defined HID usage in this set must resolve through both
	// tables without falling back to the identity-map or MappingMiss
	// paths below.
	usages := []uint32{
		0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F,
		0x10, 0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18, 0x19, 0x1A, 0x1B,
		0x1C, 0x1D, // letters
		0x1E, 0x1F, 0x20, 0x21, 0x22, 0x23, 0x24, 0x25, 0x26, 0x27, // digits
		0x28,       // return
		0x2C,       // space
		0x4F, 0x50, 0x51, 0x52, // arrows
	}
	for _, u := range usages {
		key := tbl.UsageToKey(u)
		if key == KeyUnknown {
			t.Errorf("usage %#x mapped to KeyUnknown", u)
			continue
		}
		// Must not panic or silently fall through to the fallback scan
		// code for any key actually present in the table.
		if _, ok := keyToScanCode[key]; !ok {
			t.Errorf("usage %#x -> key %d has no scan code entry", u, key)
		}
	}
}

func TestRolloverSentinelDropped(t *testing.T) {
	tbl := newTestTable()
	if got := tbl.UsageToKey(RolloverSentinel); got != KeyUnknown {
		t.Errorf("rollover sentinel should map to KeyUnknown, got %d", got)
	}
}

func TestUsageIdentityFallbackBelow127(t *testing.T) {
	tbl := newTestTable()
	// 0x7F = 127 is not in the table but is <= 127, so it identity-maps.
	const unmapped = 0x7F
	if got := tbl.UsageToKey(unmapped); got != unmapped {
		t.Errorf("expected identity fallback for usage %#x, got %d", unmapped, got)
	}
}

func TestUsageUnknownAbove127(t *testing.T) {
	tbl := newTestTable()
	if got := tbl.UsageToKey(200); got != KeyUnknown {
		t.Errorf("expected KeyUnknown for usage 200, got %d", got)
	}
}

func TestScanCodeFallbackSubstitutesA(t *testing.T) {
	tbl := newTestTable()
	if got := tbl.ScanCode(9999); got != fallbackScanCode {
		t.Errorf("ScanCode(9999) = %d, want fallback %d ('A')", got, fallbackScanCode)
	}
}

func TestNameDefaultsToKeyN(t *testing.T) {
	tbl := newTestTable()
	if got := tbl.Name(9999); got != "Key9999" {
		t.Errorf("Name(9999) = %q, want Key9999", got)
	}
	if got := tbl.Name(KeyW); got != "W" {
		t.Errorf("Name(KeyW) = %q, want W", got)
	}
}
