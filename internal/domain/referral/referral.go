// Package referral derives referral codes and models the referral edge.
package referral

import (
	"encoding/base32"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/bonkcomputer/points-engine/internal/domain/shared"
)

// CodeLength is the number of characters in a referral code.
const CodeLength = 8

// MaxCodeAttempts bounds nonce re-derivation on collisions.
const MaxCodeAttempts = 16

// RefereeBonus is the REFERRAL_BONUS amount credited to the referred user.
// The referrer receives the configured base value.
const RefereeBonus int64 = 250

// Roles stored in REFERRAL_BONUS entry metadata.
const (
	RoleReferrer = "referrer"
	RoleReferee  = "referee"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateCode derives a code from the user id and a nonce. The same inputs
// always give the same code; callers bump the nonce when the code is taken.
func GenerateCode(userID shared.UserID, nonce int) string {
	sum := blake2b.Sum256([]byte(userID.String() + ":" + strconv.Itoa(nonce)))
	return encoding.EncodeToString(sum[:])[:CodeLength]
}

// NormalizeCode upper-cases and trims user input.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsWellFormed reports whether a normalized code has the right shape.
// Malformed codes are simply unknown; no lookup is needed.
func IsWellFormed(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for _, r := range code {
		if !(r >= 'A' && r <= 'Z') && !(r >= '2' && r <= '7') {
			return false
		}
	}
	return true
}

// Referral is the directed edge referred → referrer. First write wins.
type Referral struct {
	ReferredID shared.UserID
	ReferrerID shared.UserID
	Code       string
	BoundAt    time.Time
}

// NewReferral validates and builds an edge. Self-referral is rejected.
func NewReferral(referred, referrer shared.UserID, code string, at time.Time) (*Referral, error) {
	if !referred.IsValid() || !referrer.IsValid() {
		return nil, shared.ErrInvalidUserID
	}
	if referred == referrer {
		return nil, ErrSelfReferral
	}
	return &Referral{
		ReferredID: referred,
		ReferrerID: referrer,
		Code:       code,
		BoundAt:    at.UTC(),
	}, nil
}

// ErrSelfReferral is returned when a user tries to use their own code.
var ErrSelfReferral = shared.NewDomainError("referral", "Bind", shared.ErrInvalidInput, "cannot refer yourself")
