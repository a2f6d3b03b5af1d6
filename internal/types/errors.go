package types

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError indicates bad input that was rejected before any state changed.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Msg)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Msg)
}

// NewValidationError creates a ValidationError for a named field.
func NewValidationError(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}

// RateLimitedError indicates the credential used for a run was rate-limited by
// the backend. Recoverable by rotating to another credential and starting a
// fresh run; never retried inside the run that hit it.
type RateLimitedError struct {
	CredentialID string
	Until        time.Time
	Err          error
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited until %s: %v", e.Until.Format(time.RFC3339), e.Err)
}

func (e *RateLimitedError) Unwrap() error {
	return e.Err
}

// TransportError indicates the backend was unreachable or failed mid-exchange.
// Partial output already delivered stays valid.
type TransportError struct {
	Backend string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport (%s): %v", e.Backend, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StorageError indicates a persistence write or serialization failure. The
// in-memory state that triggered the write remains the source of truth for
// the current process.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// CorruptDataError indicates malformed persisted data. Absorbed by the stores:
// reads treat the affected key as empty and log the condition.
type CorruptDataError struct {
	Key string
	Err error
}

func (e *CorruptDataError) Error() string {
	return fmt.Sprintf("corrupt data at %q: %v", e.Key, e.Err)
}

func (e *CorruptDataError) Unwrap() error {
	return e.Err
}

// IsRateLimited reports whether err carries a RateLimitedError anywhere in its chain.
func IsRateLimited(err error) bool {
	var rle *RateLimitedError
	return errors.As(err, &rle)
}

// IsValidation reports whether err carries a ValidationError anywhere in its chain.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
