package query

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bonkcomputer/points-engine/internal/domain/leaderboard"
	"github.com/bonkcomputer/points-engine/internal/domain/ledger"
	"github.com/bonkcomputer/points-engine/internal/domain/shared"
	"github.com/bonkcomputer/points-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET USER SUMMARY QUERY
// Сводка по пользователю: очки, серия, реферальный код, all-time ранг
// и очки за сегодня (по леджеру, окно UTC).
// ══════════════════════════════════════════════════════════════════════════════

// GetUserSummaryQuery содержит параметры запроса.
type GetUserSummaryQuery struct {
	UserID string
}

// UserSummaryDTO - сводка по пользователю.
type UserSummaryDTO struct {
	UserID            string          `json:"user_id"`
	DisplayName       string          `json:"display_name"`
	TotalPoints       int64           `json:"total_points"`
	CurrentStreak     int             `json:"current_streak"`
	LongestStreak     int             `json:"longest_streak"`
	LastLoginDate     string          `json:"last_login_date,omitempty"`
	ReferralCode      string          `json:"referral_code"`
	ReferredBy        string          `json:"referred_by,omitempty"`
	Rank              int64           `json:"rank"`
	Ranked            bool            `json:"ranked"`
	TodayPoints       int64           `json:"today_points"`
	TradeVolume       decimal.Decimal `json:"trade_volume"`
	Recognized        bool            `json:"recognized"`
	RecognitionReason string          `json:"recognition_reason,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// GetUserSummaryHandler обрабатывает запрос сводки.
type GetUserSummaryHandler struct {
	store ledger.Store
	ranks *RankResolver
	clock func() time.Time
}

// NewGetUserSummaryHandler создаёт обработчик.
func NewGetUserSummaryHandler(store ledger.Store, ranks *RankResolver, clock func() time.Time) *GetUserSummaryHandler {
	if clock == nil {
		clock = timeutil.Now
	}
	return &GetUserSummaryHandler{store: store, ranks: ranks, clock: clock}
}

// Handle выполняет запрос.
func (h *GetUserSummaryHandler) Handle(ctx context.Context, query GetUserSummaryQuery) (*UserSummaryDTO, error) {
	userID, err := shared.NewUserID(query.UserID)
	if err != nil {
		return nil, err
	}
	user, err := h.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get_user_summary: %w", err)
	}

	now := h.clock().UTC()
	today, err := h.store.SumEntries(ctx, ledger.EntryFilter{
		UserID: userID,
		Since:  timeutil.StartOfDay(now),
		Until:  timeutil.StartOfDay(now).AddDate(0, 0, 1),
	})
	if err != nil {
		return nil, fmt.Errorf("get_user_summary: today: %w", err)
	}

	rank, found, _, err := h.ranks.RankOf(ctx, leaderboard.WindowFor(leaderboard.PeriodAllTime, now), userID)
	if err != nil {
		return nil, fmt.Errorf("get_user_summary: rank: %w", err)
	}

	dto := &UserSummaryDTO{
		UserID:            user.ID.String(),
		DisplayName:       user.DisplayName,
		TotalPoints:       user.TotalPoints,
		CurrentStreak:     user.CurrentStreak,
		LongestStreak:     user.LongestStreak,
		ReferralCode:      user.ReferralCode,
		ReferredBy:        user.ReferredBy.String(),
		Rank:              rank,
		Ranked:            found,
		TodayPoints:       today,
		TradeVolume:       user.TradeVolume,
		Recognized:        user.Recognized,
		RecognitionReason: user.RecognitionReason,
		CreatedAt:         user.CreatedAt,
	}
	if user.LastLoginDate != nil {
		dto.LastLoginDate = timeutil.FormatDateStr(*user.LastLoginDate)
	}
	return dto, nil
}
