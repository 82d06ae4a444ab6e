// Package apprunerr defines the error taxonomy shared across the worker
// pool and dispatcher, so the Dispatcher Facade can classify any failure
// into an HTTP status with errors.Is/errors.As instead of string matching.
package apprunerr

import "fmt"

// Code identifies one of the error kinds in the dispatch error taxonomy.
type Code string

const (
	// CodeConfig means the app's manifest failed schema or relationship
	// validation (fatal for that app).
	CodeConfig Code = "config_error"
	// CodeSpawn means the child failed to start or crashed before READY.
	CodeSpawn Code = "spawn_error"
	// CodeCriticalChild means the child's stderr/onerror fired after READY.
	CodeCriticalChild Code = "critical_child_error"
	// CodeTimeout means a request exceeded its worker's timeoutMs.
	CodeTimeout Code = "timeout"
	// CodeHandler means the child returned an ERROR frame for a reqId.
	CodeHandler Code = "handler_error"
	// CodeBodyTooLarge means the request body exceeded maxBodySizeBytes.
	CodeBodyTooLarge Code = "body_too_large"
	// CodeEviction means the serving entry was evicted mid-request.
	CodeEviction Code = "eviction"
	// CodeCapacity means the app's configured MaxInstances ceiling was
	// already reached and a new instance could not be constructed for it.
	CodeCapacity Code = "capacity_exceeded"
)

// Error wraps a dispatch failure with a stable machine-readable Code.
type Error struct {
	Code Code
	Err  error
}

// New constructs an *Error for the given code wrapping err.
func New(code Code, err error) *Error {
	return &Error{Code: code, Err: err}
}

func (e *Error) Error() string {
	if e == nil || e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is allows errors.Is(err, apprunerr.Sentinel(apprunerr.CodeTimeout)) style
// checks by comparing two *Error values on Code alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Sentinel returns a comparable *Error for the given code, useful as the
// target of errors.Is checks (e.g. errors.Is(err, apprunerr.Sentinel(CodeTimeout))).
func Sentinel(code Code) *Error {
	return &Error{Code: code}
}
