//go:build windows

package keystream

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"github.com/rs/zerolog"

	"github.com/loopvm/kbtap/pkg/codemap"
)

var (
	user32                       = syscall.NewLazyDLL("user32.dll")
	procRegisterClassExW         = user32.NewProc("RegisterClassExW")
	procCreateWindowExW          = user32.NewProc("CreateWindowExW")
	procDefWindowProcW           = user32.NewProc("DefWindowProcW")
	procGetMessageW              = user32.NewProc("GetMessageW")
	procTranslateMessage         = user32.NewProc("TranslateMessage")
	procDispatchMessageW         = user32.NewProc("DispatchMessageW")
	procRegisterRawInputDevices  = user32.NewProc("RegisterRawInputDevices")
	procGetRawInputData          = user32.NewProc("GetRawInputData")
	procGetRawInputDeviceInfoW   = user32.NewProc("GetRawInputDeviceInfoW")
	procPostQuitMessage          = user32.NewProc("PostQuitMessage")
	procDestroyWindow            = user32.NewProc("DestroyWindow")
	kernel32                     = syscall.NewLazyDLL("kernel32.dll")
	procGetModuleHandleW         = kernel32.NewProc("GetModuleHandleW")
)

const (
	wmInput             = 0x00FF
	wmDestroy           = 0x0002
	ridevInputsink      = 0x00000100
	hidUsagePageGeneric = 0x01
	hidUsageKeyboard    = 0x06
	ridInput            = 0x10000003
	ridiDeviceName      = 0x20000007
	rimTypeKeyboard     = 1
	riKeyBreak          = 0x01
)

type rawInputDevice struct {
	usUsagePage uint16
	usUsage     uint16
	dwFlags     uint32
	hwndTarget  uintptr
}

type rawInputHeader struct {
	dwType  uint32
	dwSize  uint32
	hDevice uintptr
	wParam  uintptr
}

type rawKeyboard struct {
	makeCode uint16
	flags    uint16
	reserved uint16
	vKey     uint16
	message  uint32
	extraInfo uint32
}

type rawInput struct {
	header rawInputHeader
	kbd    rawKeyboard
}

type wndClassExW struct {
	cbSize        uint32
	style         uint32
	lpfnWndProc   uintptr
	cbClsExtra    int32
	cbWndExtra    int32
	hInstance     uintptr
	hIcon         uintptr
	hCursor       uintptr
	hbrBackground uintptr
	lpszMenuName  *uint16
	lpszClassName *uint16
	hIconSm       uintptr
}

type msgT struct {
	hwnd    uintptr
	message uint32
	wParam  uintptr
	lParam  uintptr
	time    uint32
	pt      struct{ x, y int32 }
}

// windowsSource registers for WM_INPUT keyboard reports on a hidden
// message-only window, the Raw Input analog of the teacher's WH_KEYBOARD_LL
// loop but per-device, since RIDEV_INPUTSINK reports the originating HID
// device handle alongside each keystroke.
type windowsSource struct {
	log    zerolog.Logger
	values chan RawValue
	hwnd   uintptr
	mu     sync.Mutex
}

var (
	activeWindowsSource *windowsSource
	activeWindowsMu     sync.Mutex
)

func NewPlatformSource(log zerolog.Logger) Source {
	return &windowsSource{log: log}
}

func (w *windowsSource) Open(deviceKeys []string) (<-chan RawValue, error) {
	w.values = make(chan RawValue, 256)
	wanted := make(map[string]struct{}, len(deviceKeys))
	for _, k := range deviceKeys {
		wanted[k] = struct{}{}
	}

	activeWindowsMu.Lock()
	activeWindowsSource = w
	activeWindowsMu.Unlock()

	ready := make(chan error, 1)
	go w.messageLoop(wanted, ready)
	if err := <-ready; err != nil {
		return nil, err
	}
	return w.values, nil
}

func (w *windowsSource) messageLoop(wanted map[string]struct{}, ready chan<- error) {
	className, _ := syscall.UTF16PtrFromString("kbtapDeviceStreamWindow")
	hInstance, _, _ := procGetModuleHandleW.Call(0)

	wc := wndClassExW{
		lpfnWndProc:   syscall.NewCallback(windowsSourceWndProc),
		hInstance:     hInstance,
		lpszClassName: className,
	}
	wc.cbSize = uint32(unsafe.Sizeof(wc))
	procRegisterClassExW.Call(uintptr(unsafe.Pointer(&wc)))

	hwnd, _, _ := procCreateWindowExW.Call(
		0, uintptr(unsafe.Pointer(className)), 0, 0,
		0, 0, 0, 0,
		^uintptr(0), // HWND_MESSAGE
		0, hInstance, 0,
	)
	if hwnd == 0 {
		ready <- fmt.Errorf("keystream: failed to create message-only window")
		return
	}
	w.mu.Lock()
	w.hwnd = hwnd
	w.mu.Unlock()

	dev := rawInputDevice{
		usUsagePage: hidUsagePageGeneric,
		usUsage:     hidUsageKeyboard,
		dwFlags:     ridevInputsink,
		hwndTarget:  hwnd,
	}
	ok, _, _ := procRegisterRawInputDevices.Call(
		uintptr(unsafe.Pointer(&dev)), 1, uintptr(unsafe.Sizeof(dev)),
	)
	if ok == 0 {
		ready <- fmt.Errorf("keystream: RegisterRawInputDevices failed")
		return
	}
	ready <- nil

	var msg msgT
	for {
		r, _, _ := procGetMessageW.Call(uintptr(unsafe.Pointer(&msg)), 0, 0, 0)
		if int32(r) <= 0 {
			return
		}
		procTranslateMessage.Call(uintptr(unsafe.Pointer(&msg)))
		procDispatchMessageW.Call(uintptr(unsafe.Pointer(&msg)))
	}
}

func (w *windowsSource) Close() error {
	w.mu.Lock()
	hwnd := w.hwnd
	w.mu.Unlock()
	if hwnd != 0 {
		procDestroyWindow.Call(hwnd)
	}
	activeWindowsMu.Lock()
	if activeWindowsSource == w {
		activeWindowsSource = nil
	}
	activeWindowsMu.Unlock()
	return nil
}

func windowsSourceWndProc(hwnd uintptr, msg uint32, wParam, lParam uintptr) uintptr {
	switch msg {
	case wmInput:
		handleRawInput(lParam)
		return 0
	case wmDestroy:
		procPostQuitMessage.Call(0)
		return 0
	}
	r, _, _ := procDefWindowProcW.Call(hwnd, uintptr(msg), wParam, lParam)
	return r
}

func handleRawInput(lParam uintptr) {
	activeWindowsMu.Lock()
	w := activeWindowsSource
	activeWindowsMu.Unlock()
	if w == nil {
		return
	}

	var size uint32
	procGetRawInputData.Call(lParam, ridInput, 0, uintptr(unsafe.Pointer(&size)), uintptr(unsafe.Sizeof(rawInputHeader{})))
	if size == 0 {
		return
	}
	buf := make([]byte, size)
	n, _, _ := procGetRawInputData.Call(lParam, ridInput, uintptr(unsafe.Pointer(&buf[0])), uintptr(unsafe.Pointer(&size)), uintptr(unsafe.Sizeof(rawInputHeader{})))
	if int32(n) <= 0 {
		return
	}
	ri := (*rawInput)(unsafe.Pointer(&buf[0]))
	if ri.header.dwType != rimTypeKeyboard {
		return
	}

	usage, ok := codemap.VKUsage(ri.kbd.vKey)
	if !ok {
		return
	}
	value := int32(1)
	if ri.kbd.flags&riKeyBreak != 0 {
		value = 0
	}

	key := w.deviceKeyFor(ri.header.hDevice)
	v := RawValue{DeviceKey: key, Usage: usage, Value: value, At: time.Now()}
	select {
	case w.values <- v:
	default:
	}
}

// deviceKeyFor resolves a raw input device handle to the same
// vendor:product:location identity the Enumerator assigned it, by pulling
// its device interface path through GetRawInputDeviceInfoW and decoding the
// VID_/PID_ substring the way the HID enumerator does.
func (w *windowsSource) deviceKeyFor(hDevice uintptr) string {
	var size uint32
	procGetRawInputDeviceInfoW.Call(hDevice, ridiDeviceName, 0, uintptr(unsafe.Pointer(&size)))
	if size == 0 {
		return ""
	}
	buf := make([]uint16, size)
	n, _, _ := procGetRawInputDeviceInfoW.Call(hDevice, ridiDeviceName, uintptr(unsafe.Pointer(&buf[0])), uintptr(unsafe.Pointer(&size)))
	if int32(n) <= 0 {
		return ""
	}
	path := syscall.UTF16ToString(buf)
	vendor, product, location, ok := parseRawInputDevicePath(path)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%04x:%04x:%08x", vendor, product, location)
}

func parseRawInputDevicePath(path string) (vendor, product uint16, location uint32, ok bool) {
	upper := strings.ToUpper(path)
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
	h.Write([]byte(path))
	return uint16(v), uint16(p), h.Sum32(), true
}
