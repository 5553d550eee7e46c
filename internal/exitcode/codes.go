// Package exitcode defines structured exit codes for parish commands.
// Scripts and assistant hooks branch on these codes instead of parsing
// error text.
//
//   - 0: success
//   - 1: generic failure
//   - 2: precondition failed (already running, cooldown, bad arguments)
//   - 3: resource not found (agent, session, queue item)
package exitcode

import (
	"errors"
	"fmt"
)

const (
	// Success indicates the command completed successfully.
	Success = 0

	// ErrGeneral covers failures with no more specific category,
	// including timeouts and internal errors.
	ErrGeneral = 1

	// ErrPrecondition signals a rejected operation: invalid usage, a
	// session already running or not running, a cooldown in effect, an
	// empty queue.
	ErrPrecondition = 2

	// ErrNotFound signals a missing agent, session, or queue item.
	ErrNotFound = 3
)

// Error wraps an error with a specific exit code.
type Error struct {
	Code    int
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new coded error.
func New(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a new coded error with printf-style formatting.
func Newf(code int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with a code and message.
func Wrap(code int, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Code extracts the exit code from an error.
// Returns ErrGeneral (1) if the error doesn't carry a code.
func Code(err error) int {
	if err == nil {
		return Success
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ErrGeneral
}

// Is checks if an error has a specific exit code.
func Is(err error, code int) bool {
	return Code(err) == code
}
