package entity

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode categorizes store errors.
type ErrorCode string

const (
	// CodeDuplicateEntity: Register called for an existing (type, id).
	CodeDuplicateEntity ErrorCode = "DUPLICATE_ENTITY"
	// CodeUnknownEntity: Mutate called for an unregistered (type, id).
	CodeUnknownEntity ErrorCode = "UNKNOWN_ENTITY"
	// CodeNonMonotonicTime: Mutate time not strictly after the current version.
	CodeNonMonotonicTime ErrorCode = "NON_MONOTONIC_TIME"
	// CodeInvalidUpdate: an update has an unknown op or a non-numeric operand.
	CodeInvalidUpdate ErrorCode = "INVALID_UPDATE"
)

// Sentinels for errors.Is. A StoreError matches the sentinel with its code.
var (
	ErrDuplicateEntity  = &StoreError{Code: CodeDuplicateEntity}
	ErrUnknownEntity    = &StoreError{Code: CodeUnknownEntity}
	ErrNonMonotonicTime = &StoreError{Code: CodeNonMonotonicTime}
	ErrInvalidUpdate    = &StoreError{Code: CodeInvalidUpdate}
)

// StoreError reports a rejected store operation. Duplicate, unknown and
// non-monotonic errors are invariant violations. CodeInvalidUpdate rejects
// the caller's input and leaves the store unchanged.
type StoreError struct {
	Code    ErrorCode
	Type    string
	ID      string
	Time    time.Time
	Message string
}

func (e *StoreError) Error() string {
	msg := string(e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Type != "" {
		msg += fmt.Sprintf(" (entity=%s/%s", e.Type, e.ID)
		if !e.Time.IsZero() {
			msg += ", t=" + e.Time.UTC().Format(time.RFC3339Nano)
		}
		msg += ")"
	}
	return msg
}

// Is matches sentinels by code.
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	return ok && t.Type == "" && t.Code == e.Code
}

// IsStoreError reports whether err wraps a StoreError.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
