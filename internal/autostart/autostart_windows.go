//go:build windows

package autostart

import (
	"fmt"
	"os"
	"syscall"
	"unsafe"
)

var (
	advapi32            = syscall.NewLazyDLL("advapi32.dll")
	procRegOpenKeyEx    = advapi32.NewProc("RegOpenKeyExW")
	procRegCloseKey     = advapi32.NewProc("RegCloseKey")
	procRegSetValueEx   = advapi32.NewProc("RegSetValueExW")
	procRegDeleteValue  = advapi32.NewProc("RegDeleteValueW")
	procRegQueryValueEx = advapi32.NewProc("RegQueryValueExW")
)

const (
	hkeyCurrentUser = 0x80000001
	keyRead         = 0x20019
	keyWrite        = 0x20006
	regSZ           = 1
)

// windowsHandler implements Handler on Windows via the per-user Run
// registry key.
type windowsHandler struct{}

// New returns the Handler for the running platform.
func New() Handler {
	return &windowsHandler{}
}

func (a *windowsHandler) registryPath() string {
	return `Software\Microsoft\Windows\CurrentVersion\Run`
}

func (a *windowsHandler) valueName() string {
	return "kbtap"
}

func (a *windowsHandler) IsEnabled() bool {
	keyPath, _ := syscall.UTF16PtrFromString(a.registryPath())
	valueName, _ := syscall.UTF16PtrFromString(a.valueName())

	var hKey uintptr
	ret, _, _ := procRegOpenKeyEx.Call(
		hkeyCurrentUser,
		uintptr(unsafe.Pointer(keyPath)),
		0,
		keyRead,
		uintptr(unsafe.Pointer(&hKey)),
	)
	if ret != 0 {
		return false
	}
	defer procRegCloseKey.Call(hKey)

	ret, _, _ = procRegQueryValueEx.Call(
		hKey,
		uintptr(unsafe.Pointer(valueName)),
		0, 0, 0, 0,
	)
	return ret == 0
}

func (a *windowsHandler) Enable() error {
	keyPath, _ := syscall.UTF16PtrFromString(a.registryPath())
	valueName, _ := syscall.UTF16PtrFromString(a.valueName())

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("autostart: locate executable: %w", err)
	}
	cmd, _ := syscall.UTF16FromString(fmt.Sprintf(`"%s" session start --last`, exe))

	var hKey uintptr
	ret, _, _ := procRegOpenKeyEx.Call(
		hkeyCurrentUser,
		uintptr(unsafe.Pointer(keyPath)),
		0,
		keyWrite,
		uintptr(unsafe.Pointer(&hKey)),
	)
	if ret != 0 {
		return syscall.Errno(ret)
	}
	defer procRegCloseKey.Call(hKey)

	ret, _, _ = procRegSetValueEx.Call(
		hKey,
		uintptr(unsafe.Pointer(valueName)),
		0,
		regSZ,
		uintptr(unsafe.Pointer(&cmd[0])),
		uintptr(len(cmd)*2),
	)
	if ret != 0 {
		return syscall.Errno(ret)
	}
	return nil
}

func (a *windowsHandler) Disable() error {
	keyPath, _ := syscall.UTF16PtrFromString(a.registryPath())
	valueName, _ := syscall.UTF16PtrFromString(a.valueName())

	var hKey uintptr
	ret, _, _ := procRegOpenKeyEx.Call(
		hkeyCurrentUser,
		uintptr(unsafe.Pointer(keyPath)),
		0,
		keyWrite,
		uintptr(unsafe.Pointer(&hKey)),
	)
	if ret != 0 {
		return syscall.Errno(ret)
	}
	defer procRegCloseKey.Call(hKey)

	ret, _, _ = procRegDeleteValue.Call(
		hKey,
		uintptr(unsafe.Pointer(valueName)),
	)
	if ret != 0 {
		return syscall.Errno(ret)
	}
	return nil
}
