//go:build windows

package hidkb

import (
	"hash/fnv"
	"strconv"
	"strings"
	"syscall"
	"unsafe"
)

var (
	setupapi                      = syscall.NewLazyDLL("setupapi.dll")
	procSetupDiGetClassDevsW      = setupapi.NewProc("SetupDiGetClassDevsW")
	procSetupDiEnumDeviceInfo     = setupapi.NewProc("SetupDiEnumDeviceInfo")
	procSetupDiGetDeviceInstanceIdW = setupapi.NewProc("SetupDiGetDeviceInstanceIdW")
	procSetupDiDestroyDeviceInfoList = setupapi.NewProc("SetupDiDestroyDeviceInfoList")
)

const (
	digcfPresent         = 0x00000002
	digcfDeviceInterface = 0x00000010
	invalidHandleValue   = ^uintptr(0)
)

// hidGUID is GUID_DEVINTERFACE_HID, {4D1E55B2-F16F-11CF-88CB-001111000030}.
var hidGUID = struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}{0x4D1E55B2, 0xF16F, 0x11CF, [8]byte{0x88, 0xCB, 0x00, 0x11, 0x11, 0x00, 0x00, 0x30}}

type spDevinfoData struct {
	cbSize    uint32
	classGUID [16]byte
	devInst   uint32
	reserved  uintptr
}

// platformEnumerate walks the HID device interface class with SetupAPI and
// parses each instance ID ("HID\\VID_046D&PID_C31C\\7&abc123&0&0000") for
// vendor, product and a location surrogate, the same triple the Windows
// low-level keyboard hook has no other way to recover. Every entry is
// reported with the generic-desktop keyboard usage, so the caller's
// usage-page filter keeps all of them: per-device usage pages
// (GetRawInputDeviceInfo) are not queried here. The Device Stream's Raw
// Input registration (RIDEV_INPUTSINK, keystream_windows.go) asks only for
// keyboard reports, so non-keyboard entries never produce input there.
func platformEnumerate() ([]rawHandle, error) {
	h, _, _ := procSetupDiGetClassDevsW.Call(
		uintptr(unsafe.Pointer(&hidGUID)),
		0, 0,
		uintptr(digcfPresent|digcfDeviceInterface),
	)
	if h == invalidHandleValue {
		return nil, ErrSubsystemUnavailable
	}
	defer procSetupDiDestroyDeviceInfoList.Call(h)

	var handles []rawHandle
	var idx uint32
	for {
		var data spDevinfoData
		data.cbSize = uint32(unsafe.Sizeof(data))
		ok, _, _ := procSetupDiEnumDeviceInfo.Call(h, uintptr(idx), uintptr(unsafe.Pointer(&data)))
		if ok == 0 {
			break
		}
		idx++

		buf := make([]uint16, 256)
		ok, _, _ = procSetupDiGetDeviceInstanceIdW.Call(
			h, uintptr(unsafe.Pointer(&data)),
			uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)), 0,
		)
		if ok == 0 {
			continue
		}
		instanceID := syscall.UTF16ToString(buf)
		vendor, product, location, isKeyboardClass := parseHIDInstanceID(instanceID)
		if !isKeyboardClass {
			continue
		}
		handles = append(handles, rawHandle{
			vendor:    vendor,
			product:   product,
			location:  location,
			transport: "usb",
			name:      instanceID,
			usagePage: UsagePageGenericDesktop,
			usage:     UsageKeyboard,
		})
	}
	return handles, nil
}

// parseHIDInstanceID decodes "HID\VID_046D&PID_C31C\7&2b1e4c4&0&0000" into
// a vendor/product pair and a location surrogate derived from the unique
// instance suffix. Non-HID-keyboard instance IDs (printers, mice sharing
// the HID class) still parse, so this intentionally accepts everything
// the VID_/PID_ pattern matches; the result is not narrowed to keyboards
// here, and the only keyboard-only filter is the Device Stream's
// RIDEV_INPUTSINK registration in keystream_windows.go.
func parseHIDInstanceID(id string) (vendor, product uint16, location uint32, ok bool) {
	upper := strings.ToUpper(id)
	vi := strings.Index(upper, "VID_")
	pi := strings.Index(upper, "PID_")
	if vi == -1 || pi == -1 || vi+8 > len(upper) || pi+8 > len(upper) {
		return 0, 0, 0, false
	}
	v, errV := strconv.ParseUint(upper[vi+4:vi+8], 16, 16)
	p, errP := strconv.ParseUint(upper[pi+4:pi+8], 16, 16)
	if errV != nil || errP != nil {
		return 0, 0, 0, false
	}
	h := fnv.New32a()
	h.Write([]byte(id))
	return uint16(v), uint16(p), h.Sum32(), true
}
