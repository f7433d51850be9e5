//go:build darwin

package hidkb

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework IOKit -framework CoreFoundation

#include <IOKit/hid/IOHIDManager.h>
#include <CoreFoundation/CoreFoundation.h>
#include <stdlib.h>

static CFDictionaryRef matchKeyboardOrKeypad(int usage) {
    int page = kHIDPage_GenericDesktop;
    CFNumberRef pageNum = CFNumberCreate(kCFAllocatorDefault, kCFNumberIntType, &page);
    CFNumberRef usageNum = CFNumberCreate(kCFAllocatorDefault, kCFNumberIntType, &usage);
    const void *keys[] = { CFSTR(kIOHIDDeviceUsagePageKey), CFSTR(kIOHIDDeviceUsageKey) };
    const void *vals[] = { pageNum, usageNum };
    CFDictionaryRef dict = CFDictionaryCreate(kCFAllocatorDefault, keys, vals, 2,
        &kCFTypeDictionaryKeyCallBacks, &kCFTypeDictionaryValueCallBacks);
    CFRelease(pageNum);
    CFRelease(usageNum);
    return dict;
}

static long hidIntProperty(IOHIDDeviceRef dev, CFStringRef key) {
    CFTypeRef ref = IOHIDDeviceGetProperty(dev, key);
    if (!ref || CFGetTypeID(ref) != CFNumberGetTypeID()) {
        return 0;
    }
    long out = 0;
    CFNumberGetValue((CFNumberRef)ref, kCFNumberLongType, &out);
    return out;
}

static void hidStringProperty(IOHIDDeviceRef dev, CFStringRef key, char *buf, int buflen) {
    buf[0] = 0;
    CFTypeRef ref = IOHIDDeviceGetProperty(dev, key);
    if (!ref || CFGetTypeID(ref) != CFStringGetTypeID()) {
        return;
    }
    CFStringGetCString((CFStringRef)ref, buf, buflen, kCFStringEncodingUTF8);
}

typedef struct {
    long vendor;
    long product;
    long location;
    char transport[32];
    char name[256];
    char manufacturer[256];
} hidDeviceInfo;

static int copyMatchedDeviceInfo(hidDeviceInfo *out, int maxOut) {
    IOHIDManagerRef mgr = IOHIDManagerCreate(kCFAllocatorDefault, kIOHIDOptionsTypeNone);
    if (!mgr) {
        return -1;
    }
    CFDictionaryRef kb = matchKeyboardOrKeypad(kHIDUsage_GD_Keyboard);
    CFDictionaryRef kp = matchKeyboardOrKeypad(kHIDUsage_GD_Keypad);
    const void *mArr[] = { kb, kp };
    CFArrayRef matches = CFArrayCreate(kCFAllocatorDefault, mArr, 2, &kCFTypeArrayCallBacks);
    IOHIDManagerSetDeviceMatchingMultiple(mgr, matches);
    CFRelease(kb);
    CFRelease(kp);
    CFRelease(matches);

    IOReturn openErr = IOHIDManagerOpen(mgr, kIOHIDOptionsTypeNone);
    if (openErr == kIOReturnNotPermitted || openErr == kIOReturnExclusiveAccess) {
        CFRelease(mgr);
        return -2;
    }
    if (openErr != kIOReturnSuccess) {
        CFRelease(mgr);
        return -1;
    }

    CFSetRef devSet = IOHIDManagerCopyDevices(mgr);
    int count = 0;
    if (devSet) {
        CFIndex total = CFSetGetCount(devSet);
        IOHIDDeviceRef *devs = malloc(sizeof(IOHIDDeviceRef) * total);
        CFSetGetValues(devSet, (const void **)devs);
        for (CFIndex i = 0; i < total && count < maxOut; i++) {
            IOHIDDeviceRef dev = devs[i];
            hidDeviceInfo *info = &out[count];
            info->vendor = hidIntProperty(dev, CFSTR(kIOHIDVendorIDKey));
            info->product = hidIntProperty(dev, CFSTR(kIOHIDProductIDKey));
            info->location = hidIntProperty(dev, CFSTR(kIOHIDLocationIDKey));
            hidStringProperty(dev, CFSTR(kIOHIDProductKey), info->name, sizeof(info->name));
            hidStringProperty(dev, CFSTR(kIOHIDManufacturerKey), info->manufacturer, sizeof(info->manufacturer));
            hidStringProperty(dev, CFSTR(kIOHIDTransportKey), info->transport, sizeof(info->transport));
            count++;
        }
        free(devs);
        CFRelease(devSet);
    }
    IOHIDManagerClose(mgr, kIOHIDOptionsTypeNone);
    CFRelease(mgr);
    return count;
}
*/
import "C"

import (
	"strings"
	"unsafe"
)

const maxHIDDevices = 256

// platformEnumerate drives IOHIDManager's device-matching dictionary for
// the keyboard and keypad usages and copies the vendor/product/location
// triple plus descriptive strings out of each matched IOHIDDeviceRef.
func platformEnumerate() ([]rawHandle, error) {
	buf := make([]C.hidDeviceInfo, maxHIDDevices)
	n := C.copyMatchedDeviceInfo((*C.hidDeviceInfo)(unsafe.Pointer(&buf[0])), C.int(maxHIDDevices))
	switch {
	case n == -2:
		return nil, ErrPermissionDenied
	case n < 0:
		return nil, ErrSubsystemUnavailable
	}

	handles := make([]rawHandle, 0, int(n))
	for i := 0; i < int(n); i++ {
		info := buf[i]
		transport := strings.ToLower(C.GoString(&info.transport[0]))
		handles = append(handles, rawHandle{
			vendor:       uint16(info.vendor),
			product:      uint16(info.product),
			location:     uint32(info.location),
			transport:    normalizeDarwinTransport(transport),
			name:         C.GoString(&info.name[0]),
			manufacturer: C.GoString(&info.manufacturer[0]),
			usagePage:    UsagePageGenericDesktop,
			usage:        UsageKeyboard,
		})
	}
	return handles, nil
}

// normalizeDarwinTransport maps IOKit's free-form kIOHIDTransportKey
// strings ("USB", "Bluetooth", "SPI", "I2C") onto the values classifyTransport
// understands; SPI is how Apple reports the internal keyboard on Apple
// Silicon laptops.
func normalizeDarwinTransport(t string) string {
	switch t {
	case "usb":
		return "usb"
	case "bluetooth", "bluetooth low energy":
		return "bluetooth"
	case "spi", "i2c":
		return "built-in"
	default:
		return "unknown"
	}
}
