//go:build linux

package hidkb

// platformEnumerate drives ScanLinuxInputHandlers, the shared
// /proc/bus/input/devices scanner, and converts each matched keyboard
// handler into the backend-agnostic rawHandle the Enumerator expects.
func platformEnumerate() ([]rawHandle, error) {
	handlers, err := ScanLinuxInputHandlers()
	if err != nil {
		return nil, err
	}
	handles := make([]rawHandle, 0, len(handlers))
	for _, h := range handlers {
		handles = append(handles, rawHandle{
			vendor:    h.Vendor,
			product:   h.Product,
			location:  h.Location,
			transport: h.Transport(),
			name:      h.Name,
			usagePage: UsagePageGenericDesktop,
			usage:     UsageKeyboard,
		})
	}
	return handles, nil
}
