// Package codemap holds the three pure lookup tables that translate raw
// HID usage codes into the engine's internal key-code space and from
// there into the guest's physical-QWERTY scan codes. All three are total
// functions with a documented default for values outside their domain —
// nothing here allocates, blocks, or depends on platform state, which is
// what lets the Device Stream call them from a HID callback.
package codemap

import "github.com/rs/zerolog"

// RolloverSentinel is the all-ones HID usage value a keyboard reports when
// more keys are pressed than it can encode (n-key rollover exceeded). It
// must be dropped before any table lookup.
const RolloverSentinel = 0xFFFFFFFF

// Internal key codes. Chosen to match the host platform's own virtual
// keycode space (macOS HIToolbox kVK_* values) so a single table serves
// both "HID usage -> internal" and, unchanged, the identity space already
// used to interpret host events on the platform where the ambiguity in
// §4.E is sharpest.
const (
	KeyA             = 0
	KeyS             = 1
	KeyD             = 2
	KeyF             = 3
	KeyH             = 4
	KeyG             = 5
	KeyZ             = 6
	KeyX             = 7
	KeyC             = 8
	KeyV             = 9
	KeyB             = 11
	KeyQ             = 12
	KeyW             = 13
	KeyE             = 14
	KeyR             = 15
	KeyY             = 16
	KeyT             = 17
	Key1             = 18
	Key2             = 19
	Key3             = 20
	Key4             = 21
	Key6             = 22
	Key5             = 23
	KeyEqual         = 24
	Key9             = 25
	Key7             = 26
	KeyMinus         = 27
	Key8             = 28
	Key0             = 29
	KeyRightBracket  = 30
	KeyO             = 31
	KeyU             = 32
	KeyLeftBracket   = 33
	KeyI             = 34
	KeyP             = 35
	KeyReturn        = 36
	KeyL             = 37
	KeyJ             = 38
	KeyQuote         = 39
	KeyK             = 40
	KeySemicolon     = 41
	KeyBackslash     = 42
	KeyComma         = 43
	KeySlash         = 44
	KeyN             = 45
	KeyM             = 46
	KeyPeriod        = 47
	KeyTab           = 48
	KeySpace         = 49
	KeyGrave         = 50
	KeyBackspace     = 51
	KeyEscape        = 53
	KeyCapsLock      = 57
	KeyF1            = 122
	KeyF2            = 120
	KeyF3            = 99
	KeyF4            = 118
	KeyF5            = 96
	KeyF6            = 97
	KeyF7            = 98
	KeyF8            = 100
	KeyF9            = 101
	KeyF10           = 109
	KeyF11           = 103
	KeyF12           = 111
	KeyForwardDelete = 117
	KeyLeftArrow     = 123
	KeyRightArrow    = 124
	KeyDownArrow     = 125
	KeyUpArrow       = 126

	KeyUnknown = -1
)

// usageToKey is the "HID usage -> internal key code" table (USB HID Usage
// Tables §10, Keyboard/Keypad Page 0x07).
var usageToKey = map[uint32]int{
	0x04: KeyA, 0x05: KeyB, 0x06: KeyC, 0x07: KeyD, 0x08: KeyE, 0x09: KeyF,
	0x0A: KeyG, 0x0B: KeyH, 0x0C: KeyI, 0x0D: KeyJ, 0x0E: KeyK, 0x0F: KeyL,
	0x10: KeyM, 0x11: KeyN, 0x12: KeyO, 0x13: KeyP, 0x14: KeyQ, 0x15: KeyR,
	0x16: KeyS, 0x17: KeyT, 0x18: KeyU, 0x19: KeyV, 0x1A: KeyW, 0x1B: KeyX,
	0x1C: KeyY, 0x1D: KeyZ,
	0x1E: Key1, 0x1F: Key2, 0x20: Key3, 0x21: Key4, 0x22: Key5, 0x23: Key6,
	0x24: Key7, 0x25: Key8, 0x26: Key9, 0x27: Key0,
	0x28: KeyReturn, 0x29: KeyEscape, 0x2A: KeyBackspace, 0x2B: KeyTab,
	0x2C: KeySpace, 0x2D: KeyMinus, 0x2E: KeyEqual, 0x2F: KeyLeftBracket,
	0x30: KeyRightBracket, 0x31: KeyBackslash, 0x33: KeySemicolon,
	0x34: KeyQuote, 0x35: KeyGrave, 0x36: KeyComma, 0x37: KeyPeriod,
	0x38: KeySlash, 0x39: KeyCapsLock,
	0x3A: KeyF1, 0x3B: KeyF2, 0x3C: KeyF3, 0x3D: KeyF4, 0x3E: KeyF5,
	0x3F: KeyF6, 0x40: KeyF7, 0x41: KeyF8, 0x42: KeyF9, 0x43: KeyF10,
	0x44: KeyF11, 0x45: KeyF12,
	0x4C: KeyForwardDelete,
	0x4F: KeyRightArrow, 0x50: KeyLeftArrow, 0x51: KeyDownArrow, 0x52: KeyUpArrow,
}

// keyToScanCode is the "internal key code -> guest scan code" table. Scan
// codes are the PC/AT Scan Code Set 1 byte for each key's physical-QWERTY
// position — this is what a BIOS-era guest keyboard controller expects,
// and critically it is NOT derived from the internal key code's numeric
// ordering above.
var keyToScanCode = map[int]int{
	KeyA: 30, KeyB: 48, KeyC: 46, KeyD: 32, KeyE: 18, KeyF: 33, KeyG: 34,
	KeyH: 35, KeyI: 23, KeyJ: 36, KeyK: 37, KeyL: 38, KeyM: 50, KeyN: 49,
	KeyO: 24, KeyP: 25, KeyQ: 16, KeyR: 19, KeyS: 31, KeyT: 20, KeyU: 22,
	KeyV: 47, KeyW: 17, KeyX: 45, KeyY: 21, KeyZ: 44,
	Key1: 2, Key2: 3, Key3: 4, Key4: 5, Key5: 6, Key6: 7, Key7: 8, Key8: 9,
	Key9: 10, Key0: 11,
	KeyReturn: 28, KeyEscape: 1, KeyBackspace: 14, KeyTab: 15, KeySpace: 57,
	KeyMinus: 12, KeyEqual: 13, KeyLeftBracket: 26, KeyRightBracket: 27,
	KeyBackslash: 43, KeySemicolon: 39, KeyQuote: 40, KeyGrave: 41,
	KeyComma: 51, KeyPeriod: 52, KeySlash: 53, KeyCapsLock: 58,
	KeyF1: 59, KeyF2: 60, KeyF3: 61, KeyF4: 62, KeyF5: 63, KeyF6: 64,
	KeyF7: 65, KeyF8: 66, KeyF9: 67, KeyF10: 68, KeyF11: 87, KeyF12: 88,
	KeyUpArrow: 72, KeyLeftArrow: 75, KeyRightArrow: 77, KeyDownArrow: 80,
	KeyForwardDelete: 83,
}

// keyToName is the "internal key code -> human name" table used by the
// log viewer and status surfaces excluded from this core.
var keyToName = map[int]string{
	KeyA: "A", KeyB: "B", KeyC: "C", KeyD: "D", KeyE: "E", KeyF: "F", KeyG: "G",
	KeyH: "H", KeyI: "I", KeyJ: "J", KeyK: "K", KeyL: "L", KeyM: "M", KeyN: "N",
	KeyO: "O", KeyP: "P", KeyQ: "Q", KeyR: "R", KeyS: "S", KeyT: "T", KeyU: "U",
	KeyV: "V", KeyW: "W", KeyX: "X", KeyY: "Y", KeyZ: "Z",
	Key0: "0", Key1: "1", Key2: "2", Key3: "3", Key4: "4", Key5: "5", Key6: "6",
	Key7: "7", Key8: "8", Key9: "9",
	KeyReturn: "Return", KeyEscape: "Escape", KeyBackspace: "Delete",
	KeyTab: "Tab", KeySpace: "Space", KeyMinus: "-", KeyEqual: "=",
	KeyLeftBracket: "[", KeyRightBracket: "]", KeyBackslash: "\\",
	KeySemicolon: ";", KeyQuote: "'", KeyGrave: "`", KeyComma: ",",
	KeyPeriod: ".", KeySlash: "/", KeyCapsLock: "Caps Lock",
	KeyF1: "F1", KeyF2: "F2", KeyF3: "F3", KeyF4: "F4", KeyF5: "F5",
	KeyF6: "F6", KeyF7: "F7", KeyF8: "F8", KeyF9: "F9", KeyF10: "F10",
	KeyF11: "F11", KeyF12: "F12",
	KeyUpArrow: "Up", KeyDownArrow: "Down", KeyLeftArrow: "Left", KeyRightArrow: "Right",
	KeyForwardDelete: "Forward Delete",
}

// evdevToHIDUsage translates a Linux evdev KEY_* code (linux/input-event-
// codes.h) into the USB HID Keyboard/Keypad page 0x07 usage space the rest
// of this package works in, so the Device Stream and the Host Stream Tap
// feed the same UsageToKey table regardless of which kernel subsystem
// produced the raw report.
var evdevToHIDUsage = map[uint16]uint32{
	30: 0x04, 48: 0x05, 46: 0x06, 32: 0x07, 18: 0x08, 33: 0x09, 34: 0x0A,
	35: 0x0B, 23: 0x0C, 36: 0x0D, 37: 0x0E, 38: 0x0F, 50: 0x10, 49: 0x11,
	24: 0x12, 25: 0x13, 16: 0x14, 19: 0x15, 31: 0x16, 20: 0x17, 22: 0x18,
	47: 0x19, 17: 0x1A, 45: 0x1B, 21: 0x1C, 44: 0x1D,
	2: 0x1E, 3: 0x1F, 4: 0x20, 5: 0x21, 6: 0x22, 7: 0x23, 8: 0x24, 9: 0x25,
	10: 0x26, 11: 0x27,
	28: 0x28, 1: 0x29, 14: 0x2A, 15: 0x2B, 57: 0x2C, 12: 0x2D, 13: 0x2E,
	26: 0x2F, 27: 0x30, 43: 0x31, 39: 0x33, 40: 0x34, 41: 0x35, 51: 0x36,
	52: 0x37, 53: 0x38, 58: 0x39,
	59: 0x3A, 60: 0x3B, 61: 0x3C, 62: 0x3D, 63: 0x3E, 64: 0x3F, 65: 0x40,
	66: 0x41, 67: 0x42, 68: 0x43, 87: 0x44, 88: 0x45,
	111: 0x4C,
	106: 0x4F, 105: 0x50, 108: 0x51, 103: 0x52,
}

// EvdevUsage translates a Linux evdev KEY_* code into its HID usage, or
// reports ok=false for evdev codes outside the keyboard page (e.g. mouse
// buttons delivered on a combo device's input node).
func EvdevUsage(code uint16) (usage uint32, ok bool) {
	usage, ok = evdevToHIDUsage[code]
	return usage, ok
}

// EvdevKeyCodes returns every evdev KEY_* code this package knows how to
// translate, for registering a uinput virtual keyboard's key bitmap.
func EvdevKeyCodes() map[uint16]uint32 {
	return evdevToHIDUsage
}

// vkToHIDUsage translates a Windows virtual-key code into the USB HID
// Keyboard/Keypad page 0x07 usage space, the Windows analog of
// evdevToHIDUsage above.
var vkToHIDUsage = map[uint16]uint32{
	0x41: 0x04, 0x42: 0x05, 0x43: 0x06, 0x44: 0x07, 0x45: 0x08, 0x46: 0x09,
	0x47: 0x0A, 0x48: 0x0B, 0x49: 0x0C, 0x4A: 0x0D, 0x4B: 0x0E, 0x4C: 0x0F,
	0x4D: 0x10, 0x4E: 0x11, 0x4F: 0x12, 0x50: 0x13, 0x51: 0x14, 0x52: 0x15,
	0x53: 0x16, 0x54: 0x17, 0x55: 0x18, 0x56: 0x19, 0x57: 0x1A, 0x58: 0x1B,
	0x59: 0x1C, 0x5A: 0x1D,
	0x31: 0x1E, 0x32: 0x1F, 0x33: 0x20, 0x34: 0x21, 0x35: 0x22, 0x36: 0x23,
	0x37: 0x24, 0x38: 0x25, 0x39: 0x26, 0x30: 0x27,
	0x0D: 0x28, 0x1B: 0x29, 0x08: 0x2A, 0x09: 0x2B, 0x20: 0x2C,
	0xBD: 0x2D, 0xBB: 0x2E, 0xDB: 0x2F, 0xDD: 0x30, 0xDC: 0x31,
	0xBA: 0x33, 0xDE: 0x34, 0xC0: 0x35, 0xBC: 0x36, 0xBE: 0x37, 0xBF: 0x38,
	0x14: 0x39,
	0x70: 0x3A, 0x71: 0x3B, 0x72: 0x3C, 0x73: 0x3D, 0x74: 0x3E, 0x75: 0x3F,
	0x76: 0x40, 0x77: 0x41, 0x78: 0x42, 0x79: 0x43, 0x7A: 0x44, 0x7B: 0x45,
	0x2E: 0x4C,
	0x27: 0x4F, 0x25: 0x50, 0x28: 0x51, 0x26: 0x52,
}

// VKUsage translates a Windows virtual-key code into its HID usage, or
// reports ok=false for virtual-key codes outside the keyboard page.
func VKUsage(vk uint16) (usage uint32, ok bool) {
	usage, ok = vkToHIDUsage[vk]
	return usage, ok
}

// fallbackScanCode is the scan code substituted on a MappingMiss, the
// physical 'A' key — chosen per §7 so a relay is never silently dropped.
const fallbackScanCode = 30

// Table is a handle on the three mapping functions, parameterized only by
// a logger so MappingMiss warnings carry the caller's component context.
type Table struct {
	log zerolog.Logger
}

// NewTable constructs a Table bound to log.
func NewTable(log zerolog.Logger) *Table {
	return &Table{log: log}
}

// UsageToKey maps a raw HID usage to an internal key code. Usages beyond
// the defined keyboard page fall back to identity for values at or below
// 127 (so future/vendor usages in that low range still round-trip
// losslessly through the wire format) and to KeyUnknown, logged, above it.
func (t *Table) UsageToKey(usage uint32) int {
	if usage == RolloverSentinel {
		return KeyUnknown
	}
	if k, ok := usageToKey[usage]; ok {
		return k
	}
	if usage <= 127 {
		return int(usage)
	}
	t.log.Warn().Uint32("usage", usage).Msg("codemap: HID usage outside mapping table, dropping")
	return KeyUnknown
}

// Name returns a human-readable label for an internal key code, defaulting
// to "Key<n>" for codes the table doesn't name.
func (t *Table) Name(key int) string {
	if name, ok := keyToName[key]; ok {
		return name
	}
	return keyName(key)
}

// ScanCode maps an internal key code to the guest's physical-QWERTY scan
// code, substituting the scan code of 'A' and logging a warning for any
// key code outside the table — a relay is never silently dropped.
func (t *Table) ScanCode(key int) int {
	if sc, ok := keyToScanCode[key]; ok {
		return sc
	}
	t.log.Warn().Int("key_code", key).Msg("codemap: key code outside scan-code table, substituting 'A'")
	return fallbackScanCode
}
