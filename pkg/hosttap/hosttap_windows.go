//go:build windows

package hosttap

import (
	"fmt"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"github.com/rs/zerolog"

	"github.com/loopvm/kbtap/pkg/codemap"
	"github.com/loopvm/kbtap/pkg/correlator"
)

var (
	user32                  = syscall.NewLazyDLL("user32.dll")
	procSetWindowsHookExW   = user32.NewProc("SetWindowsHookExW")
	procCallNextHookEx      = user32.NewProc("CallNextHookEx")
	procUnhookWindowsHookEx = user32.NewProc("UnhookWindowsHookEx")
	procGetMessageW         = user32.NewProc("GetMessageW")
	kernel32                = syscall.NewLazyDLL("kernel32.dll")
	procGetModuleHandleW    = kernel32.NewProc("GetModuleHandleW")
)

const (
	whKeyboardLL = 13
	wmKeyDown    = 0x0100
	wmKeyUp      = 0x0101
	wmSysKeyDown = 0x0104
	wmSysKeyUp   = 0x0105
)

type kbdllhookstruct struct {
	vkCode      uint32
	scanCode    uint32
	flags       uint32
	time        uint32
	dwExtraInfo uintptr
}

type msgT struct {
	hwnd    uintptr
	message uint32
	wParam  uintptr
	lParam  uintptr
	time    uint32
	pt      struct{ x, y int32 }
}

// windowsTap installs a WH_KEYBOARD_LL hook, the same interception point
// the teacher uses. Like CGEventTap on macOS it is inherently system-wide:
// Windows' low-level hook carries no originating-device handle, so all
// host keystrokes reach the Correlator and the device filter lives
// entirely in what the Device Stream fed it via RecordHIDDown/Up.
type windowsTap struct {
	base
	mu   sync.Mutex
	hook uintptr
	done chan struct{}
}

func newPlatformTap(log zerolog.Logger, table *codemap.Table, state *correlator.State, _ []string) Tap {
	return &windowsTap{base: base{log: log, table: table, state: state}}
}

var (
	activeWindowsTap   *windowsTap
	activeWindowsTapMu sync.Mutex
)

func (t *windowsTap) Start() error {
	ready := make(chan error, 1)
	t.done = make(chan struct{})

	go func() {
		defer close(t.done)

		hInstance, _, _ := procGetModuleHandleW.Call(0)
		hookProc := syscall.NewCallback(windowsTapHookProc)
		handle, _, _ := procSetWindowsHookExW.Call(whKeyboardLL, hookProc, hInstance, 0)
		if handle == 0 {
			ready <- fmt.Errorf("hosttap: SetWindowsHookExW failed")
			return
		}

		t.mu.Lock()
		t.hook = handle
		t.mu.Unlock()

		activeWindowsTapMu.Lock()
		activeWindowsTap = t
		activeWindowsTapMu.Unlock()

		ready <- nil

		var msg msgT
		for {
			r, _, _ := procGetMessageW.Call(uintptr(unsafe.Pointer(&msg)), 0, 0, 0)
			if int32(r) <= 0 {
				return
			}
		}
	}()

	return <-ready
}

func (t *windowsTap) Stop() error {
	t.mu.Lock()
	hook := t.hook
	t.mu.Unlock()
	if hook != 0 {
		procUnhookWindowsHookEx.Call(hook)
	}
	activeWindowsTapMu.Lock()
	if activeWindowsTap == t {
		activeWindowsTap = nil
	}
	activeWindowsTapMu.Unlock()
	if t.done != nil {
		<-t.done
	}
	return nil
}

func windowsTapHookProc(nCode int, wParam uintptr, lParam uintptr) uintptr {
	if nCode >= 0 && shouldSuppress(wParam, lParam) {
		return 1
	}
	ret, _, _ := procCallNextHookEx.Call(0, uintptr(nCode), wParam, lParam)
	return ret
}

func shouldSuppress(wParam, lParam uintptr) bool {
	activeWindowsTapMu.Lock()
	t := activeWindowsTap
	activeWindowsTapMu.Unlock()
	if t == nil {
		return false
	}

	kb := (*kbdllhookstruct)(unsafe.Pointer(lParam))
	usage, ok := codemap.VKUsage(uint16(kb.vkCode))
	if !ok {
		return false
	}

	var dir correlator.Direction
	switch wParam {
	case wmKeyDown, wmSysKeyDown:
		dir = correlator.Down
	case wmKeyUp, wmSysKeyUp:
		dir = correlator.Up
	default:
		return false
	}

	key := t.table.UsageToKey(usage)
	return t.decide(HostEvent{KeyCode: key, Direction: dir, At: time.Now()})
}
