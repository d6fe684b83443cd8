package core

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err *ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

// ConflictError is returned when an active session already exists for the
// requested context. Callers must resolve it explicitly (resume or force-new);
// the existing session is never silently overwritten.
type ConflictError struct {
	ExistingID string
}

func (err *ConflictError) Error() string {
	return "an active session already exists"
}

// ConnectionError means the device (or a collaborator) is unreachable:
// refused, no route, DNS. Fail fast; the user is told to check power/network.
type ConnectionError struct {
	Op  string
	Err error
}

func (err *ConnectionError) Error() string {
	return fmt.Sprintf("%s: device unreachable: %v", err.Op, err.Err)
}

// TimeoutError means a call did not resolve within its per-call deadline.
// Retryable at the caller's own cadence; never auto-retried by the client.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (err *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %v", err.Op, err.Timeout)
}

// DeviceBusyError means an enrollment is already in progress on the device;
// new enroll requests are rejected outright.
type DeviceBusyError struct{}

func (err *DeviceBusyError) Error() string {
	return "enrollment already in progress"
}

// RecognitionError is an expected steady-state outcome (no match, low
// confidence), not a fault; it is throttled rather than alarmed.
type RecognitionError struct {
	Reason string
}

func (err *RecognitionError) Error() string {
	if err.Reason == "" {
		return "no match found"
	}
	return err.Reason
}

func IsConflict(err error) (*ConflictError, bool) {
	cerr, ok := errors.Cause(err).(*ConflictError)
	return cerr, ok
}

func IsConnection(err error) bool {
	_, ok := errors.Cause(err).(*ConnectionError)
	return ok
}

func IsTimeout(err error) bool {
	_, ok := errors.Cause(err).(*TimeoutError)
	return ok
}

func IsDeviceBusy(err error) bool {
	_, ok := errors.Cause(err).(*DeviceBusyError)
	return ok
}

func IsRecognition(err error) bool {
	_, ok := errors.Cause(err).(*RecognitionError)
	return ok
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s *shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
