// Unified error handling for the berryplc runtime
package plcerror

import (
	"errors"
	"fmt"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Configuration errors
	ErrConfigSection    ErrorCode = "CONFIG_SECTION"
	ErrConfigOption     ErrorCode = "CONFIG_OPTION"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Program construction errors
	ErrInvalidGraph ErrorCode = "INVALID_GRAPH"
	ErrTimerPreset  ErrorCode = "TIMER_PRESET"

	// Motion errors
	ErrInfeasibleProfile ErrorCode = "INFEASIBLE_PROFILE"
	ErrAxisBusy          ErrorCode = "AXIS_BUSY"

	// Hardware errors
	ErrHardware ErrorCode = "HARDWARE"
	ErrUART     ErrorCode = "UART"
)

// ErrMoveCancelled reports that an in-flight move was interrupted by a
// new command or an emergency stop. It is an outcome, not a fault: the
// caller is told the partial step count through the sequencer result.
var ErrMoveCancelled = errors.New("move cancelled")

// Error is the unified error type for the runtime.
type Error struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Err wraps the underlying error
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new Error
func New(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with a code and message
func Wrap(err error, code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// CodeOf returns the code of err if it is (or wraps) an *Error.
func CodeOf(err error) (ErrorCode, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

// InvalidGraph creates a construction-time SFC graph error.
func InvalidGraph(format string, args ...interface{}) *Error {
	return New(ErrInvalidGraph, format, args...)
}

// TimerPreset creates an error for an invalid timer preset.
func TimerPreset(format string, args ...interface{}) *Error {
	return New(ErrTimerPreset, format, args...)
}

// InfeasibleProfile creates an error for unsatisfiable motion parameters.
func InfeasibleProfile(format string, args ...interface{}) *Error {
	return New(ErrInfeasibleProfile, format, args...)
}
