// Package common defines shared constants and sentinel errors used across
// the storage service layers. Callers should use errors.Is to match these
// values; every public entry point wraps exactly one of the taxonomy errors.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal = errors.New("internal error")

	// Validation errors for malformed requests or configuration.
	ErrValidation = errors.New("validation error")

	// Storage taxonomy.
	ErrAuthorisation  = errors.New("authorisation error")
	ErrPermission     = errors.New("permission denied")
	ErrMissingFile    = errors.New("missing file")
	ErrMissingVersion = errors.New("missing version")
	ErrPAR            = errors.New("pre-authorised request error")
	ErrIntegrity      = errors.New("integrity error")
	ErrTooLarge       = errors.New("file too large")

	// Object store errors.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrNullRecord is returned when persisting a file record without versions.
	ErrNullRecord = errors.New("null file record")
)
