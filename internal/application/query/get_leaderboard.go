package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bonkcomputer/points-engine/internal/domain/leaderboard"
	"github.com/bonkcomputer/points-engine/internal/domain/ledger"
	"github.com/bonkcomputer/points-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD QUERY
// Получает топ-N пользователей за период, численность популяции
// и ранг запрашивающего пользователя.
// ══════════════════════════════════════════════════════════════════════════════

// Ограничения размера страницы.
const (
	DefaultLeaderboardLimit = 20
	MaxLeaderboardLimit     = 100
)

// GetLeaderboardQuery содержит параметры запроса лидерборда.
type GetLeaderboardQuery struct {
	// Limit - количество записей (по умолчанию 20, максимум 100).
	Limit int

	// Period - daily, weekly, monthly или all_time (по умолчанию).
	Period string

	// UserID - запрашивающий пользователь (необязательно).
	UserID string
}

// Validate проверяет корректность параметров запроса.
func (q *GetLeaderboardQuery) Validate() error {
	if q.Limit < 0 {
		return errors.New("limit cannot be negative")
	}
	if q.Limit == 0 {
		q.Limit = DefaultLeaderboardLimit
	}
	if q.Limit > MaxLeaderboardLimit {
		q.Limit = MaxLeaderboardLimit
	}
	if q.UserID != "" && !shared.UserID(q.UserID).IsValid() {
		return shared.ErrInvalidUserID
	}
	return nil
}

// LeaderboardEntryDTO - запись лидерборда.
type LeaderboardEntryDTO struct {
	Rank        int64  `json:"rank"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Points      int64  `json:"points"`
}

// RequesterDTO - позиция запрашивающего пользователя.
type RequesterDTO struct {
	UserID string `json:"user_id"`
	// Rank равен 0, если у пользователя нет очков в окне.
	Rank   int64 `json:"rank"`
	Points int64 `json:"points"`
	Ranked bool  `json:"ranked"`
}

// GetLeaderboardResult содержит результат запроса лидерборда.
type GetLeaderboardResult struct {
	Period      leaderboard.Period    `json:"period"`
	WindowStart *time.Time            `json:"window_start,omitempty"`
	WindowEnd   *time.Time            `json:"window_end,omitempty"`
	Entries     []LeaderboardEntryDTO `json:"entries"`
	TotalCount  int64                 `json:"total_count"`
	Requester   *RequesterDTO         `json:"requester,omitempty"`
	// Source - откуда взят ранг и численность: rank_index или store.
	Source      string    `json:"source"`
	GeneratedAt time.Time `json:"generated_at"`
}

// GetLeaderboardHandler обрабатывает запросы на получение лидерборда.
type GetLeaderboardHandler struct {
	store ledger.Store
	ranks *RankResolver
	clock func() time.Time
}

// NewGetLeaderboardHandler создаёт новый обработчик запроса лидерборда.
func NewGetLeaderboardHandler(store ledger.Store, ranks *RankResolver, clock func() time.Time) *GetLeaderboardHandler {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &GetLeaderboardHandler{store: store, ranks: ranks, clock: clock}
}

// Handle выполняет запрос на получение лидерборда.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, query GetLeaderboardQuery) (*GetLeaderboardResult, error) {
	// Валидация входных данных
	if err := query.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetLeaderboard", shared.ErrValidation, err.Error(), err)
	}
	period, err := leaderboard.ParsePeriod(query.Period)
	if err != nil {
		return nil, err
	}

	now := h.clock().UTC()
	window := leaderboard.WindowFor(period, now)

	// Список всегда из хранилища: индекс хранит только итоги
	top, err := h.store.Standings(ctx, window, query.Limit)
	if err != nil {
		return nil, fmt.Errorf("get_leaderboard: standings: %w", err)
	}

	total, source, err := h.ranks.Population(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("get_leaderboard: population: %w", err)
	}

	result := &GetLeaderboardResult{
		Period:      period,
		Entries:     make([]LeaderboardEntryDTO, 0, len(top)),
		TotalCount:  total,
		Source:      source,
		GeneratedAt: now,
	}
	if !window.IsAllTime() {
		start, end := window.Start, window.End
		result.WindowStart = &start
		result.WindowEnd = &end
	}
	for _, e := range top {
		result.Entries = append(result.Entries, LeaderboardEntryDTO{
			Rank:        e.Rank,
			UserID:      e.UserID.String(),
			DisplayName: e.DisplayName,
			Points:      e.Points,
		})
	}

	if query.UserID != "" {
		requester, err := h.requester(ctx, window, shared.UserID(query.UserID))
		if err != nil {
			return nil, err
		}
		result.Requester = requester
	}
	return result, nil
}

// requester находит позицию пользователя. Неизвестный пользователь - NotFound.
func (h *GetLeaderboardHandler) requester(ctx context.Context, w leaderboard.Window, userID shared.UserID) (*RequesterDTO, error) {
	user, err := h.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get_leaderboard: %w", err)
	}

	dto := &RequesterDTO{UserID: userID.String(), Points: user.TotalPoints}
	if !w.IsAllTime() {
		dto.Points, err = h.store.SumEntries(ctx, ledger.EntryFilter{UserID: userID, Since: w.Start, Until: w.End})
		if err != nil {
			return nil, fmt.Errorf("get_leaderboard: window sum: %w", err)
		}
	}

	rank, found, _, err := h.ranks.RankOf(ctx, w, userID)
	if err != nil {
		return nil, fmt.Errorf("get_leaderboard: rank: %w", err)
	}
	if found {
		dto.Rank = rank
		dto.Ranked = true
	}
	return dto, nil
}
