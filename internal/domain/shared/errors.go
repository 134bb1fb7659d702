// Package shared contains common domain types, errors and events that are used
// across all domain packages. This package has zero external dependencies.
package shared

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation    = errors.New("validation error")
	ErrInvalidID     = errors.New("invalid ID")
	ErrInvalidInput  = errors.New("invalid input")
	ErrEmptyValue    = errors.New("value cannot be empty")
	ErrNegativeValue = errors.New("value cannot be negative")

	// Award errors
	ErrRateLimited = errors.New("rate limited")
	ErrConflict    = errors.New("conflict")

	// Store errors
	ErrTransient = errors.New("transient store failure")
	ErrTimeout   = errors.New("operation timeout")
)

// DomainError carries the kind of a failure plus where it happened. errors.Is
// matches both the kind and the wrapped cause.
type DomainError struct {
	Domain  string // "points", "referral", "achievement", "ledger"
	Op      string // "Award", "Bind", ...
	Kind    error
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	var b strings.Builder
	b.WriteString(e.Domain)
	b.WriteByte('.')
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *DomainError) Unwrap() []error {
	errs := make([]error, 0, 2)
	for _, err := range []error{e.Kind, e.Err} {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// NewDomainError creates a domain error without a cause.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// WrapError creates a domain error around err.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: err}
}

// User domain errors
var (
	ErrUserNotFound      = NewDomainError("user", "Find", ErrNotFound, "user not found")
	ErrUserAlreadyExists = NewDomainError("user", "Create", ErrAlreadyExists, "user already exists")
	ErrInvalidUserID     = NewDomainError("user", "Validate", ErrInvalidID, "invalid user ID")
	ErrEmptyDisplayName  = NewDomainError("user", "Validate", ErrEmptyValue, "display name is required")
)

// Points domain errors
var (
	ErrUnknownActionKind  = NewDomainError("points", "Validate", ErrInvalidInput, "unknown action kind")
	ErrInternalActionKind = NewDomainError("points", "Validate", ErrInvalidInput, "action kind is produced internally and cannot be requested")
	ErrZeroAdjustment     = NewDomainError("points", "Adjust", ErrInvalidInput, "adjustment delta must be non-zero")
	ErrNonPositiveVolume  = NewDomainError("points", "RecordTrade", ErrNegativeValue, "trade volume must be positive")
	ErrLockTimeout        = NewDomainError("points", "Lock", ErrTransient, "timed out waiting for user lock")
)

// Achievement domain errors
var (
	ErrDuplicateUnlock      = NewDomainError("achievement", "Unlock", ErrConflict, "achievement already unlocked")
	ErrInvalidRequirement   = NewDomainError("achievement", "Decode", ErrInvalidInput, "invalid requirement")
	ErrDuplicateAchievement = NewDomainError("achievement", "Seed", ErrConflict, "duplicate achievement name")
)

// Referral domain errors
var (
	ErrReferralAlreadyBound = NewDomainError("referral", "Bind", ErrConflict, "user already has a referrer")
	ErrReferralCodeTaken    = NewDomainError("referral", "Generate", ErrConflict, "referral code already in use")
)

// NewRateLimitedError reports that a daily limit for the kind has been reached.
func NewRateLimitedError(kind string, limit int) *DomainError {
	return NewDomainError("points", "Award", ErrRateLimited,
		fmt.Sprintf("daily limit of %d reached for %s", limit, kind))
}

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsConflict checks if the error is a uniqueness or first-write-wins conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrAlreadyExists)
}

// IsRateLimited checks if the error is a soft rate-limit rejection.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return isAny(err, ErrValidation, ErrInvalidID, ErrInvalidInput, ErrEmptyValue, ErrNegativeValue)
}

// IsTransient checks if the whole operation can be retried.
func IsTransient(err error) bool {
	return isAny(err, ErrTransient, ErrTimeout)
}

func isAny(err error, kinds ...error) bool {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}

// ErrorCode is the machine-readable error code shown by the API and the CLI.
type ErrorCode string

const (
	CodeInvalidInput ErrorCode = "invalid_input"
	CodeNotFound     ErrorCode = "not_found"
	CodeConflict     ErrorCode = "conflict"
	CodeRateLimited  ErrorCode = "rate_limited"
	CodeUnavailable  ErrorCode = "unavailable"
	CodeInternal     ErrorCode = "internal_error"
)

// CodeOf classifies err. A context deadline counts as unavailable; anything
// unclassified is internal.
func CodeOf(err error) ErrorCode {
	switch {
	case IsValidation(err):
		return CodeInvalidInput
	case IsNotFound(err):
		return CodeNotFound
	case IsConflict(err):
		return CodeConflict
	case IsRateLimited(err):
		return CodeRateLimited
	case IsTransient(err), errors.Is(err, context.DeadlineExceeded):
		return CodeUnavailable
	default:
		return CodeInternal
	}
}

// Retryable reports whether the caller may retry the same request later.
func (c ErrorCode) Retryable() bool {
	return c == CodeUnavailable || c == CodeRateLimited
}
