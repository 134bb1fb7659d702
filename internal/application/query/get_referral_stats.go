package query

import (
	"context"
	"fmt"
	"time"

	"github.com/bonkcomputer/points-engine/internal/domain/ledger"
	"github.com/bonkcomputer/points-engine/internal/domain/points"
	"github.com/bonkcomputer/points-engine/internal/domain/referral"
	"github.com/bonkcomputer/points-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REFERRAL QUERIES
// Статистика приглашений и проверка реферального кода.
// ══════════════════════════════════════════════════════════════════════════════

// GetReferralStatsQuery содержит параметры запроса.
type GetReferralStatsQuery struct {
	UserID string
}

// ReferredUserDTO - приглашённый пользователь.
type ReferredUserDTO struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	BoundAt     time.Time `json:"bound_at"`
}

// ReferralStatsDTO - статистика приглашений.
type ReferralStatsDTO struct {
	UserID         string `json:"user_id"`
	ReferralCode   string `json:"referral_code"`
	TotalReferrals int    `json:"total_referrals"`
	// TotalReferralBonusPoints - сумма REFERRAL_BONUS, полученных как пригласивший.
	TotalReferralBonusPoints int64             `json:"total_referral_bonus_points"`
	ReferredUsers            []ReferredUserDTO `json:"referred_users"`
}

// GetReferralStatsHandler обрабатывает запрос статистики.
type GetReferralStatsHandler struct {
	store ledger.Store
}

// NewGetReferralStatsHandler создаёт обработчик.
func NewGetReferralStatsHandler(store ledger.Store) *GetReferralStatsHandler {
	return &GetReferralStatsHandler{store: store}
}

// Handle выполняет запрос.
func (h *GetReferralStatsHandler) Handle(ctx context.Context, query GetReferralStatsQuery) (*ReferralStatsDTO, error) {
	userID, err := shared.NewUserID(query.UserID)
	if err != nil {
		return nil, err
	}
	user, err := h.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get_referral_stats: %w", err)
	}

	refs, err := h.store.ListReferrals(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get_referral_stats: referrals: %w", err)
	}
	bonus, err := h.store.SumEntries(ctx, ledger.EntryFilter{
		UserID:   userID,
		Kinds:    []points.ActionKind{points.ActionReferralBonus},
		Metadata: map[string]string{points.MetaRole: referral.RoleReferrer},
	})
	if err != nil {
		return nil, fmt.Errorf("get_referral_stats: bonus: %w", err)
	}

	dto := &ReferralStatsDTO{
		UserID:                   userID.String(),
		ReferralCode:             user.ReferralCode,
		TotalReferrals:           len(refs),
		TotalReferralBonusPoints: bonus,
		ReferredUsers:            make([]ReferredUserDTO, 0, len(refs)),
	}
	for _, r := range refs {
		item := ReferredUserDTO{UserID: r.ReferredID.String(), BoundAt: r.BoundAt}
		// пользователь мог быть удалён вне движка, тогда имя пустое
		referred, err := h.store.GetUser(ctx, r.ReferredID)
		switch {
		case err == nil:
			item.DisplayName = referred.DisplayName
		case !shared.IsNotFound(err):
			return nil, fmt.Errorf("get_referral_stats: referred %s: %w", r.ReferredID, err)
		}
		dto.ReferredUsers = append(dto.ReferredUsers, item)
	}
	return dto, nil
}

// CheckReferralCodeQuery содержит проверяемый код.
type CheckReferralCodeQuery struct {
	Code string
}

// ReferralCodeDTO - результат проверки кода.
type ReferralCodeDTO struct {
	Valid               bool   `json:"valid"`
	ReferrerDisplayName string `json:"referrer_display_name,omitempty"`
}

// CheckReferralCodeHandler проверяет код без изменения состояния.
type CheckReferralCodeHandler struct {
	store ledger.Store
}

// NewCheckReferralCodeHandler создаёт обработчик.
func NewCheckReferralCodeHandler(store ledger.Store) *CheckReferralCodeHandler {
	return &CheckReferralCodeHandler{store: store}
}

// Handle выполняет запрос. Неизвестный код - valid=false без ошибки.
func (h *CheckReferralCodeHandler) Handle(ctx context.Context, query CheckReferralCodeQuery) (*ReferralCodeDTO, error) {
	code := referral.NormalizeCode(query.Code)
	if !referral.IsWellFormed(code) {
		return &ReferralCodeDTO{}, nil
	}
	user, err := h.store.GetUserByReferralCode(ctx, code)
	if err != nil {
		if shared.IsNotFound(err) {
			return &ReferralCodeDTO{}, nil
		}
		return nil, fmt.Errorf("check_referral_code: %w", err)
	}
	return &ReferralCodeDTO{Valid: true, ReferrerDisplayName: user.DisplayName}, nil
}
