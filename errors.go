package wnbd

import (
	"errors"
	"fmt"
)

// ErrorCode is the high-level category carried by every *Error this module
// returns (spec §7).
type ErrorCode string

const (
	ErrCodeNoDevice         ErrorCode = "no such device"
	ErrCodeInvalidRequest   ErrorCode = "invalid request"
	ErrCodeAlreadyExists    ErrorCode = "instance name already in use"
	ErrCodeNoFreeAddress    ErrorCode = "no free bus/target/lun address"
	ErrCodeNotAllowed       ErrorCode = "new mappings not allowed"
	ErrCodeWrongOwner       ErrorCode = "caller pid does not match owner"
	ErrCodeWrongMode        ErrorCode = "disk is in the wrong backend mode"
	ErrCodeAccessDenied     ErrorCode = "access denied"
	ErrCodeConnectionFailed ErrorCode = "connection failed"
	ErrCodeProtocol         ErrorCode = "protocol violation"
	ErrCodeIO               ErrorCode = "I/O failure"
	ErrCodeRemoving         ErrorCode = "disk is being removed"
	ErrCodeNotFound         ErrorCode = "not found"
)

// Error is the structured error type returned throughout this module,
// carrying enough context to log and to compare against with errors.Is.
type Error struct {
	Op    string
	Disk  string // instance name, empty if not disk-scoped
	Code  ErrorCode
	Inner error
}

func (e *Error) Error() string {
	if e.Disk != "" {
		if e.Inner != nil {
			return fmt.Sprintf("wnbd: %s: %s (disk=%s): %v", e.Op, e.Code, e.Disk, e.Inner)
		}
		return fmt.Sprintf("wnbd: %s: %s (disk=%s)", e.Op, e.Code, e.Disk)
	}
	if e.Inner != nil {
		return fmt.Sprintf("wnbd: %s: %s: %v", e.Op, e.Code, e.Inner)
	}
	return fmt.Sprintf("wnbd: %s: %s", e.Op, e.Code)
}

// Unwrap exposes the wrapped error for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is supports errors.Is comparisons by error code, so callers can write
// errors.Is(err, &wnbd.Error{Code: wnbd.ErrCodeNoDevice}) without caring
// about Op/Disk/Inner.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

func newError(op string, disk string, code ErrorCode, inner error) *Error {
	return &Error{Op: op, Disk: disk, Code: code, Inner: inner}
}

// CodeOf extracts the ErrorCode from err if it is (or wraps) a *Error.
func CodeOf(err error) (ErrorCode, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}
