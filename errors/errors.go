// Package errors provides error handling for macrokit.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check failure kinds
//	if errors.IsNotFound(err) {
//	    // handle lookup miss
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint        = crdb.WithHint
	WithHintf       = crdb.WithHintf
	WithDetail      = crdb.WithDetail
	WithDetailf     = crdb.WithDetailf
	WithSafeDetails = crdb.WithSafeDetails
)

// Error inspection
var (
	Is            = crdb.Is
	IsAny         = crdb.IsAny
	As            = crdb.As
	Unwrap        = crdb.Unwrap
	UnwrapAll     = crdb.UnwrapAll
	GetAllHints   = crdb.GetAllHints
	GetAllDetails = crdb.GetAllDetails
)

// Assertions and panics
var (
	AssertionFailedf = crdb.AssertionFailedf
)

// Kind classifies an expected store failure. Every error returned by a store
// operation for an expected failure class wraps exactly one kind sentinel;
// callers branch on the kind, never on panics or concrete error types.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindStorage      Kind = "storage"
	KindExternalSync Kind = "external_sync"
	KindEncryption   Kind = "encryption"
	KindCapacity     Kind = "capacity"
	KindUnknown      Kind = "unknown"
)

// Sentinel errors for the store failure taxonomy.
// Wrap these with errors.Wrap() to add context while preserving the kind.
var (
	// ErrValidation indicates malformed input (bad key, out-of-range field)
	ErrValidation = New("validation failed")

	// ErrNotFound indicates an id/name lookup miss
	ErrNotFound = New("not found")

	// ErrConflict indicates a duplicate name or a concurrent-update mismatch
	ErrConflict = New("conflict")

	// ErrStorage indicates a backing-store I/O failure
	ErrStorage = New("storage failure")

	// ErrExternalSync indicates the OS scheduler or registry was unreachable
	// or rejected the request
	ErrExternalSync = New("external sync failure")

	// ErrEncryption indicates a key, password, or crypto failure
	ErrEncryption = New("encryption failure")

	// ErrCapacity indicates a configured limit was exceeded
	ErrCapacity = New("capacity exceeded")
)

// KindOf returns the failure kind an error wraps, or KindUnknown.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case Is(err, ErrValidation):
		return KindValidation
	case Is(err, ErrNotFound):
		return KindNotFound
	case Is(err, ErrConflict):
		return KindConflict
	case Is(err, ErrStorage):
		return KindStorage
	case Is(err, ErrExternalSync):
		return KindExternalSync
	case Is(err, ErrEncryption):
		return KindEncryption
	case Is(err, ErrCapacity):
		return KindCapacity
	default:
		return KindUnknown
	}
}

// IsValidation checks if an error is or wraps ErrValidation
func IsValidation(err error) bool {
	return err != nil && Is(err, ErrValidation)
}

// IsNotFound checks if an error is or wraps ErrNotFound
func IsNotFound(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsConflict checks if an error is or wraps ErrConflict
func IsConflict(err error) bool {
	return err != nil && Is(err, ErrConflict)
}

// IsStorage checks if an error is or wraps ErrStorage
func IsStorage(err error) bool {
	return err != nil && Is(err, ErrStorage)
}

// IsExternalSync checks if an error is or wraps ErrExternalSync
func IsExternalSync(err error) bool {
	return err != nil && Is(err, ErrExternalSync)
}

// IsEncryption checks if an error is or wraps ErrEncryption
func IsEncryption(err error) bool {
	return err != nil && Is(err, ErrEncryption)
}

// IsCapacity checks if an error is or wraps ErrCapacity
func IsCapacity(err error) bool {
	return err != nil && Is(err, ErrCapacity)
}

// IsRetryable reports whether the store may retry the operation internally.
// Only transient storage and external-sync failures qualify; validation and
// conflict failures are never retried automatically.
func IsRetryable(err error) bool {
	return IsStorage(err) || IsExternalSync(err)
}

// NewNotFoundf creates a not-found error with a formatted message
func NewNotFoundf(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewValidationf creates a validation error with a formatted message
func NewValidationf(format string, args ...interface{}) error {
	return Wrap(ErrValidation, Newf(format, args...).Error())
}

// NewConflictf creates a conflict error with a formatted message
func NewConflictf(format string, args ...interface{}) error {
	return Wrap(ErrConflict, Newf(format, args...).Error())
}
