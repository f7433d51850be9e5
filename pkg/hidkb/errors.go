package hidkb

import "errors"

// ErrPermissionDenied means the HID registry could not be opened because
// the user has not granted input-monitoring permission. Recoverable: the
// operator can grant the permission and retry.
var ErrPermissionDenied = errors.New("hidkb: permission denied opening HID registry")

// ErrSubsystemUnavailable means the platform HID service itself is
// absent. Fatal for the session requesting enumeration.
var ErrSubsystemUnavailable = errors.New("hidkb: HID subsystem unavailable")
