package models

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by every operation attempted before a
// successful login.
var ErrNotConnected = errors.New("account not logged in")

// ValidationError reports bad caller input. It is always raised before
// any request reaches the gateway.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// TimeoutError reports that a blocking wait exceeded its deadline. Op is a
// human readable label of the operation that was waiting.
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out", e.Op)
}

// RemoteRejectedError reports a non-zero immediate return code from the
// gateway transport, before any callback was delivered.
type RemoteRejectedError struct {
	Code int
}

func (e *RemoteRejectedError) Error() string {
	switch e.Code {
	case -1:
		return "gateway network send failure"
	case -2:
		return "gateway unhandled request queue full"
	case -3:
		return "gateway request rate exceeded"
	default:
		return fmt.Sprintf("gateway rejected request (code %d)", e.Code)
	}
}

// RemoteBusinessError reports a business-level error delivered by a gateway
// callback after the request was accepted.
type RemoteBusinessError struct {
	Msg string
}

func (e *RemoteBusinessError) Error() string {
	return e.Msg
}

// IsTimeout reports whether err is (or wraps) a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
