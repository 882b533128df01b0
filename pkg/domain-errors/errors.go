// Package domainerrors defines the typed error taxonomy surfaced to callers.
//
// Stores return sentinel errors (pkg/platform/sentinel); the remote adapter
// translates those into coded errors so services and handlers can branch on
// Code without knowing which backend produced the failure.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a failure.
type Code string

const (
	// CodeNetwork is a transient failure reaching the store or transport.
	CodeNetwork Code = "network"
	// CodeNotFound means a referenced id does not exist.
	CodeNotFound Code = "not_found"
	// CodeValidation covers malformed documents and missing required fields.
	CodeValidation Code = "validation"
	// CodePermission means the store rejected the write.
	CodePermission Code = "permission"
	// CodeAuth covers sign-in and credential failures.
	CodeAuth Code = "auth"
	// CodePartialFanout means one or more recipient notifications failed to persist.
	CodePartialFanout Code = "partial_fanout"
	CodeConflict      Code = "conflict"
	// CodeRateLimited means the caller is locked out for a while.
	CodeRateLimited Code = "rate_limited"
	CodeInternal    Code = "internal"
)

// Error is a coded error with a caller-safe message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and message to err. A nil err yields nil.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf returns the code of the outermost coded error in the chain,
// or CodeInternal when none is present.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether the outermost coded error in err's chain has code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// Is delegates to errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// PartialFanoutError reports the recipients whose notification write failed.
// The triggering submission is already durable when this is returned.
type PartialFanoutError struct {
	Failed    []string
	Attempted int
	Errs      []error
}

func (e *PartialFanoutError) Error() string {
	return fmt.Sprintf("%s: %d of %d notifications failed", CodePartialFanout, len(e.Failed), e.Attempted)
}

func (e *PartialFanoutError) Unwrap() []error {
	return e.Errs
}

// As lets HasCode treat a PartialFanoutError as CodePartialFanout.
func (e *PartialFanoutError) As(target any) bool {
	if de, ok := target.(**Error); ok {
		*de = &Error{Code: CodePartialFanout, Message: e.Error()}
		return true
	}
	return false
}
