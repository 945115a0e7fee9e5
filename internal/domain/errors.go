package domain

import (
	"errors"
	"fmt"
)

// Error is the typed error used across the sync core.
//
// Every error that can end or degrade a cycle carries a Code so the Source
// Runner can turn it into an outcome without string matching. Underlying
// causes are kept in Err and reachable through errors.Is/As.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Device is the configured device name, when known.
	Device string

	// Field is the reading field involved (FIELD_RECONCILE only).
	Field string

	// Message is a human-readable description.
	Message string

	// Err is the wrapped cause, may be nil.
	Err error
}

// ErrorCode categorizes errors.
type ErrorCode string

const (
	// CodeScheduleInvalid marks a cron expression that failed validation.
	// Disables one device at setup; never fatal to the process.
	CodeScheduleInvalid ErrorCode = "SCHEDULE_INVALID"

	// CodeTransport marks a network or HTTP failure while fetching.
	CodeTransport ErrorCode = "TRANSPORT"

	// CodeMalformedResponse marks a datalogger payload that failed validation.
	CodeMalformedResponse ErrorCode = "MALFORMED_RESPONSE"

	// CodeStoreLookup marks a device resolution that errored or found nothing.
	CodeStoreLookup ErrorCode = "STORE_LOOKUP"

	// CodeFieldReconcile marks a per-field create/append failure.
	CodeFieldReconcile ErrorCode = "FIELD_RECONCILE"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Device != "" && e.Field != "" {
		msg = fmt.Sprintf("%s (device=%s, field=%s)", msg, e.Device, e.Field)
	} else if e.Device != "" {
		msg = fmt.Sprintf("%s (device=%s)", msg, e.Device)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsScheduleInvalid returns true if err is a SCHEDULE_INVALID error.
func IsScheduleInvalid(err error) bool { return CodeOf(err) == CodeScheduleInvalid }

// IsTransport returns true if err is a TRANSPORT error.
func IsTransport(err error) bool { return CodeOf(err) == CodeTransport }

// IsMalformed returns true if err is a MALFORMED_RESPONSE error.
func IsMalformed(err error) bool { return CodeOf(err) == CodeMalformedResponse }

// IsStoreLookup returns true if err is a STORE_LOOKUP error.
func IsStoreLookup(err error) bool { return CodeOf(err) == CodeStoreLookup }

// IsFieldReconcile returns true if err is a FIELD_RECONCILE error.
func IsFieldReconcile(err error) bool { return CodeOf(err) == CodeFieldReconcile }

// NewScheduleInvalid creates the error for a rejected cron expression.
func NewScheduleInvalid(device, expr string, cause error) *Error {
	return &Error{
		Code:    CodeScheduleInvalid,
		Device:  device,
		Message: fmt.Sprintf("invalid schedule %q", expr),
		Err:     cause,
	}
}

// NewTransport wraps a fetch failure.
func NewTransport(url string, cause error) *Error {
	return &Error{
		Code:    CodeTransport,
		Message: fmt.Sprintf("fetch %s", url),
		Err:     cause,
	}
}

// NewMalformed creates the single error returned for any invalid payload.
func NewMalformed(format string, args ...any) *Error {
	return &Error{
		Code:    CodeMalformedResponse,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewStoreLookup creates the error for an unresolved device reference.
// cause is nil when the store answered but had no such device.
func NewStoreLookup(device, ref string, cause error) *Error {
	msg := fmt.Sprintf("device %q not found in store", ref)
	if cause != nil {
		msg = fmt.Sprintf("resolve device %q", ref)
	}
	return &Error{
		Code:    CodeStoreLookup,
		Device:  device,
		Message: msg,
		Err:     cause,
	}
}

// NewFieldReconcile wraps a per-field failure.
func NewFieldReconcile(device string, fe FieldError) *Error {
	return &Error{
		Code:    CodeFieldReconcile,
		Device:  device,
		Field:   fe.Field,
		Message: fmt.Sprintf("%s failed", fe.Stage),
		Err:     fe.Err,
	}
}

// WithDevice returns a copy of err with Device set when err is an *Error.
// Other errors are returned unchanged.
func WithDevice(err error, device string) error {
	var de *Error
	if !errors.As(err, &de) {
		return err
	}
	cp := *de
	cp.Device = device
	return &cp
}
