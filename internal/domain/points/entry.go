package points

import (
	"time"

	"github.com/google/uuid"

	"github.com/bonkcomputer/points-engine/internal/domain/shared"
)

// Metadata keys written by the engine itself.
const (
	MetaAchievementID = "achievement_id"
	MetaStreak        = "streak"
	MetaTradeRef      = "trade_ref"
	MetaActor         = "actor"
	MetaReason        = "reason"
	MetaRole          = "role"
	MetaCounterparty  = "counterparty"
)

// LedgerEntry is one immutable, append-only point movement.
type LedgerEntry struct {
	ID          uuid.UUID
	UserID      shared.UserID
	Delta       int64
	Kind        ActionKind
	Description string
	Metadata    map[string]string
	CreatedAt   time.Time
}

// NewLedgerEntry builds an entry with a time-ordered id.
func NewLedgerEntry(userID shared.UserID, kind ActionKind, delta int64, description string, metadata map[string]string, at time.Time) *LedgerEntry {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	return &LedgerEntry{
		ID:          id,
		UserID:      userID,
		Delta:       delta,
		Kind:        kind,
		Description: description,
		Metadata:    md,
		CreatedAt:   at.UTC(),
	}
}

// DescribeKind returns the default description for an entry of kind.
func DescribeKind(kind ActionKind) string {
	switch kind {
	case ActionProfileCreation:
		return "Profile created"
	case ActionDailyLogin:
		return "Daily login"
	case ActionStreakBonus:
		return "Login streak bonus"
	case ActionCommentCreated:
		return "Comment posted"
	case ActionLikeGiven:
		return "Like given"
	case ActionFollowUser:
		return "Followed a user"
	case ActionTradeCompleted:
		return "Trade completed"
	case ActionReferralBonus:
		return "Referral bonus"
	case ActionProfileUpdate:
		return "Profile updated"
	case ActionPortfolioView:
		return "Portfolio viewed"
	case ActionAchievementUnlocked:
		return "Achievement unlocked"
	case ActionAdminAdjustment:
		return "Manual adjustment"
	default:
		return string(kind)
	}
}
