package query

import (
	"context"
	"fmt"
	"time"

	"github.com/bonkcomputer/points-engine/internal/domain/achievement"
	"github.com/bonkcomputer/points-engine/internal/domain/ledger"
	"github.com/bonkcomputer/points-engine/internal/domain/shared"
)

// ListAchievementsQuery - каталог достижений, опционально с отметками
// о разблокировке для пользователя.
type ListAchievementsQuery struct {
	UserID string
}

// AchievementDTO - достижение каталога.
type AchievementDTO struct {
	ID          string     `json:"id"`
	Slug        string     `json:"slug"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Reward      int64      `json:"reward"`
	Requirement string     `json:"requirement"`
	Unlocked    bool       `json:"unlocked,omitempty"`
	UnlockedAt  *time.Time `json:"unlocked_at,omitempty"`
}

// ListAchievementsHandler обрабатывает запрос каталога.
type ListAchievementsHandler struct {
	store ledger.Store
}

// NewListAchievementsHandler создаёт обработчик.
func NewListAchievementsHandler(store ledger.Store) *ListAchievementsHandler {
	return &ListAchievementsHandler{store: store}
}

// Handle выполняет запрос.
func (h *ListAchievementsHandler) Handle(ctx context.Context, query ListAchievementsQuery) ([]AchievementDTO, error) {
	defs, err := h.store.ListAchievements(ctx)
	if err != nil {
		return nil, fmt.Errorf("list_achievements: %w", err)
	}

	unlocked := make(map[string]time.Time)
	if query.UserID != "" {
		userID, err := shared.NewUserID(query.UserID)
		if err != nil {
			return nil, err
		}
		if _, err := h.store.GetUser(ctx, userID); err != nil {
			return nil, fmt.Errorf("list_achievements: %w", err)
		}
		unlocks, err := h.store.ListUnlocks(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("list_achievements: unlocks: %w", err)
		}
		for _, u := range unlocks {
			unlocked[u.AchievementID.String()] = u.UnlockedAt
		}
	}

	out := make([]AchievementDTO, 0, len(defs))
	for _, d := range defs {
		out = append(out, toAchievementDTO(d, unlocked))
	}
	return out, nil
}

func toAchievementDTO(d *achievement.Definition, unlocked map[string]time.Time) AchievementDTO {
	dto := AchievementDTO{
		ID:          d.ID.String(),
		Slug:        d.Slug,
		Name:        d.Name,
		Description: d.Description,
		Category:    string(d.Category),
		Reward:      d.Reward,
		Requirement: d.Requirement.Describe(),
	}
	if at, ok := unlocked[dto.ID]; ok {
		dto.Unlocked = true
		dto.UnlockedAt = &at
	}
	return dto
}
