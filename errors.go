package dokan

import (
	"fmt"

	"github.com/aegistudio/go-dokan/ntstatus"
)

// Error is a failed backend operation tagged with the code
// it failed with.
type Error struct {
	Op   string
	Code ntstatus.Win32Error
}

// NewError creates the error of the operation.
func NewError(op string, code ntstatus.Win32Error) *Error {
	return &Error{Op: op, Code: code}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Code.Error())
}

// Unwrap exposes the code, so that errors.As finds the
// Win32Error and the translation table applies.
func (e *Error) Unwrap() error {
	return e.Code
}

// Status is the status the caller will observe.
func (e *Error) Status() ntstatus.Status {
	return e.Code.Status()
}

// FromResult converts the result of an operation written in
// the negated error code convention, where zero or positive
// is success and -code is failure.
func FromResult(op string, result int) error {
	if result >= 0 {
		return nil
	}
	return NewError(op, ntstatus.Win32Error(-result))
}

// statusOf translates the error of an operation.
func statusOf(err error) ntstatus.Status {
	return ntstatus.FromError(err)
}
