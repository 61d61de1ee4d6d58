package wifi

import (
	"errors"
	"fmt"
)

// Error kinds reported by backends. Match them with errors.Is.
var (
	ErrScanTimeout        = errors.New("scan timed out")
	ErrAssociationFailed  = errors.New("association failed")
	ErrDriverUnavailable  = errors.New("driver unavailable")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrNotSupported       = errors.New("not supported")
	ErrNotFound           = errors.New("not found")
	ErrWirelessDisabled   = errors.New("wireless is disabled")
	ErrAPActivationFailed = errors.New("access point activation failed")
)

// BackendError is returned by backend operations.
type BackendError struct {
	Op   string
	SSID string
	Kind error
	Err  error
}

func (e *BackendError) Error() string {
	msg := e.Op
	if e.SSID != "" {
		msg = fmt.Sprintf("%s %q", msg, e.SSID)
	}
	msg = fmt.Sprintf("%s: %v", msg, e.Kind)
	if e.Err != nil && e.Err != e.Kind {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *BackendError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Errorf builds a BackendError.
func Errorf(op string, kind error, format string, args ...any) error {
	return &BackendError{Op: op, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns a short label for the kind of a backend error, for metrics.
func KindOf(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrScanTimeout):
		return "scan_timeout"
	case errors.Is(err, ErrAssociationFailed):
		return "association_failed"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrDriverUnavailable):
		return "driver_unavailable"
	case errors.Is(err, ErrAPActivationFailed):
		return "ap_activation_failed"
	default:
		return "other"
	}
}
