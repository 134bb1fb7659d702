// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"math"
	"strings"
	"unicode"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// MaxUserIDLength bounds the opaque identifiers handed in by the identity provider.
const MaxUserIDLength = 128

// UserID is the opaque identity key supplied by the identity provider.
// It is never interpreted beyond basic shape checks.
type UserID string

// IsValid checks that the ID is non-empty, bounded and free of whitespace.
func (u UserID) IsValid() bool {
	s := string(u)
	if s == "" || len(s) > MaxUserIDLength {
		return false
	}
	return strings.IndexFunc(s, unicode.IsSpace) < 0
}

// String returns the string representation.
func (u UserID) String() string {
	return string(u)
}

// NewUserID creates a new UserID with validation.
func NewUserID(id string) (UserID, error) {
	u := UserID(id)
	if !u.IsValid() {
		return "", ErrInvalidUserID
	}
	return u, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Percentage
// ═══════════════════════════════════════════════════════════════════════════

// Percentage returns current/required as a percentage in [0, 100], rounded to
// two decimals. A non-positive requirement counts as fully met.
func Percentage(current, required float64) float64 {
	if required <= 0 {
		return 100
	}
	p := current / required * 100
	switch {
	case p < 0:
		p = 0
	case p > 100:
		p = 100
	}
	return math.Round(p*100) / 100
}
