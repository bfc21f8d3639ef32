package usb

import (
	"github.com/pkg/errors"
)

// Error kinds reported by backends. Callers classify with errors.Is.
var (
	ErrNotFound     = errors.New("entity not found")
	ErrBusy         = errors.New("resource busy")
	ErrAccess       = errors.New("access denied (insufficient permissions)")
	ErrNoDevice     = errors.New("no such device (it may have been disconnected)")
	ErrInvalidParam = errors.New("invalid parameter")
	ErrTimeout      = errors.New("operation timed out")
	ErrNotSupported = errors.New("operation not supported")
	ErrUnavailable  = errors.New("usb access unavailable")
)

// OpError records a failed operation, its kind and the platform cause.
type OpError struct {
	Op   string
	Kind error
	Err  error
}

// NewOpError returns an *OpError. A nil cause is allowed.
func NewOpError(op string, kind, cause error) *OpError {
	return &OpError{Op: op, Kind: kind, Err: cause}
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.Error()
	}
	return e.Op + ": " + e.Kind.Error() + ": " + e.Err.Error()
}

// Is matches the error kind.
func (e *OpError) Is(target error) bool {
	return target == e.Kind
}

func (e *OpError) Unwrap() error {
	return e.Err
}
