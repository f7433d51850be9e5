//go:build darwin

package hosttap

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework CoreGraphics -framework CoreFoundation

#include <CoreGraphics/CoreGraphics.h>
#include <CoreFoundation/CoreFoundation.h>

extern CGEventRef hosttapEventCallback(CGEventTapProxy proxy, CGEventType type, CGEventRef event, void *refcon);

static CFMachPortRef hosttapCreateEventTap() {
    CGEventMask mask = (1 << kCGEventKeyDown) | (1 << kCGEventKeyUp);
    return CGEventTapCreate(
        kCGSessionEventTap,
        kCGHeadInsertEventTap,
        kCGEventTapOptionDefault,
        mask,
        hosttapEventCallback,
        NULL
    );
}

static CFRunLoopSourceRef hosttapAddToRunLoop(CFMachPortRef tap) {
    CFRunLoopSourceRef source = CFMachPortCreateRunLoopSource(kCFAllocatorDefault, tap, 0);
    CFRunLoopAddSource(CFRunLoopGetCurrent(), source, kCFRunLoopCommonModes);
    CGEventTapEnable(tap, true);
    return source;
}
*/
import "C"

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/rs/zerolog"

	"github.com/loopvm/kbtap/pkg/codemap"
	"github.com/loopvm/kbtap/pkg/correlator"
)

// darwinTap wraps a CGEventTap. The internal key-code space already equals
// the macOS virtual keycode CGEventGetIntegerValueField reports, so no
// translation table sits between the tap callback and the Correlator — the
// identity this package's codemap constants were chosen to preserve.
type darwinTap struct {
	base
	mu      sync.Mutex
	tap     C.CFMachPortRef
	source  C.CFRunLoopSourceRef
	runLoop C.CFRunLoopRef
	done    chan struct{}
}

func newPlatformTap(log zerolog.Logger, table *codemap.Table, state *correlator.State, _ []string) Tap {
	return &darwinTap{base: base{log: log, table: table, state: state}}
}

var (
	activeDarwinTap   *darwinTap
	activeDarwinTapMu sync.Mutex
)

func (t *darwinTap) Start() error {
	ready := make(chan error, 1)
	t.done = make(chan struct{})

	go func() {
		defer close(t.done)

		tap := C.hosttapCreateEventTap()
		if tap == C.CFMachPortRef(0) {
			ready <- fmt.Errorf("hosttap: CGEventTapCreate failed, check Accessibility permissions")
			return
		}

		activeDarwinTapMu.Lock()
		activeDarwinTap = t
		activeDarwinTapMu.Unlock()

		t.mu.Lock()
		t.tap = tap
		t.runLoop = C.CFRunLoopGetCurrent()
		t.source = C.hosttapAddToRunLoop(tap)
		t.mu.Unlock()

		ready <- nil
		C.CFRunLoopRun()
	}()

	return <-ready
}

func (t *darwinTap) Stop() error {
	t.mu.Lock()
	runLoop := t.runLoop
	tap := t.tap
	t.mu.Unlock()

	if runLoop != C.CFRunLoopRef(0) {
		C.CFRunLoopStop(runLoop)
	}
	if tap != C.CFMachPortRef(0) {
		C.CGEventTapEnable(tap, false)
		C.CFRelease(C.CFTypeRef(tap))
	}
	activeDarwinTapMu.Lock()
	if activeDarwinTap == t {
		activeDarwinTap = nil
	}
	activeDarwinTapMu.Unlock()

	if t.done != nil {
		<-t.done
	}
	return nil
}

//export hosttapEventCallback
func hosttapEventCallback(proxy C.CGEventTapProxy, eventType C.CGEventType, event C.CGEventRef, refcon unsafe.Pointer) C.CGEventRef {
	activeDarwinTapMu.Lock()
	t := activeDarwinTap
	activeDarwinTapMu.Unlock()
	if t == nil {
		return event
	}

	keycode := int(C.CGEventGetIntegerValueField(event, C.kCGKeyboardEventKeycode))

	var dir correlator.Direction
	switch eventType {
	case C.kCGEventKeyDown:
		dir = correlator.Down
	case C.kCGEventKeyUp:
		dir = correlator.Up
	default:
		return event
	}

	blocked := t.decide(HostEvent{KeyCode: keycode, Direction: dir, At: time.Now()})
	if blocked {
		return C.CGEventRef(0)
	}
	return event
}
