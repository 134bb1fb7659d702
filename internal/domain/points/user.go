package points

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"github.com/bonkcomputer/points-engine/internal/domain/shared"
)

// MaxDisplayNameLength bounds display names in runes after normalization.
const MaxDisplayNameLength = 64

// ══════════════════════════════════════════════════════════════════════════════
// USER AGGREGATE
// ══════════════════════════════════════════════════════════════════════════════

// User is the per-user aggregate. TotalPoints is a cache of the ledger sum;
// the ledger stays the source of truth.
type User struct {
	ID            shared.UserID `json:"id"`
	DisplayName   string        `json:"display_name"`
	TotalPoints   int64         `json:"total_points"`
	CurrentStreak int           `json:"current_streak"`
	LongestStreak int           `json:"longest_streak"`
	// LastLoginDate is a UTC midnight, nil before the first login.
	LastLoginDate *time.Time `json:"last_login_date,omitempty"`
	ReferralCode  string     `json:"referral_code"`
	// ReferredBy is set at most once.
	ReferredBy        shared.UserID   `json:"referred_by,omitempty"`
	Recognized        bool            `json:"recognized"`
	RecognitionReason string          `json:"recognition_reason,omitempty"`
	RecognizedAt      *time.Time      `json:"recognized_at,omitempty"`
	TradeVolume       decimal.Decimal `json:"trade_volume"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// NewUser creates a fresh aggregate with zero points.
func NewUser(id shared.UserID, displayName, referralCode string, now time.Time) (*User, error) {
	if !id.IsValid() {
		return nil, shared.ErrInvalidUserID
	}
	name, err := NormalizeDisplayName(displayName)
	if err != nil {
		return nil, err
	}
	if referralCode == "" {
		return nil, shared.NewDomainError("user", "Create", shared.ErrEmptyValue, "referral code is required")
	}

	now = now.UTC()
	return &User{
		ID:           id,
		DisplayName:  name,
		ReferralCode: referralCode,
		TradeVolume:  decimal.Zero,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// NormalizeDisplayName trims, NFC-normalizes and bounds a display name.
func NormalizeDisplayName(raw string) (string, error) {
	name := strings.TrimSpace(norm.NFC.String(raw))
	if name == "" {
		return "", shared.ErrEmptyDisplayName
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLength {
		return "", shared.NewDomainError("user", "Validate", shared.ErrInvalidInput, "display name is too long")
	}
	return name, nil
}

// Clone returns a deep copy, used to restore state when a derivation rolls back.
func (u *User) Clone() *User {
	c := *u
	if u.LastLoginDate != nil {
		t := *u.LastLoginDate
		c.LastLoginDate = &t
	}
	if u.RecognizedAt != nil {
		t := *u.RecognizedAt
		c.RecognizedAt = &t
	}
	return &c
}

// ApplyPoints adds a signed delta to the cached total.
func (u *User) ApplyPoints(delta int64, now time.Time) {
	u.TotalPoints += delta
	u.UpdatedAt = now.UTC()
}

// HasReferrer reports whether a referrer has already been bound.
func (u *User) HasReferrer() bool {
	return u.ReferredBy != ""
}

// BindReferrer sets the referrer once. A second call is a conflict.
func (u *User) BindReferrer(referrer shared.UserID, now time.Time) error {
	if u.HasReferrer() {
		return shared.ErrReferralAlreadyBound
	}
	u.ReferredBy = referrer
	u.UpdatedAt = now.UTC()
	return nil
}

// AddTradeVolume accumulates settled USD volume.
func (u *User) AddTradeVolume(delta decimal.Decimal, now time.Time) error {
	if !delta.IsPositive() {
		return shared.ErrNonPositiveVolume
	}
	u.TradeVolume = u.TradeVolume.Add(delta)
	u.UpdatedAt = now.UTC()
	return nil
}

// Promote marks the user recognized. It is one-way: an already recognized
// user keeps the original reason and false is returned.
func (u *User) Promote(reason string, now time.Time) bool {
	if u.Recognized {
		return false
	}
	at := now.UTC()
	u.Recognized = true
	u.RecognitionReason = reason
	u.RecognizedAt = &at
	u.UpdatedAt = at
	return true
}
