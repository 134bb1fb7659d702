package query

import (
	"context"
	"fmt"
	"time"

	"github.com/bonkcomputer/points-engine/internal/domain/ledger"
	"github.com/bonkcomputer/points-engine/internal/domain/points"
	"github.com/bonkcomputer/points-engine/internal/domain/shared"
)

// Ограничения истории.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// GetPointsHistoryQuery содержит параметры запроса истории.
type GetPointsHistoryQuery struct {
	UserID string
	Limit  int
	// Before - только записи строго раньше этого момента (курсор).
	Before time.Time
	// Kind - фильтр по типу действия (необязательно).
	Kind string
}

// LedgerEntryDTO - запись леджера.
type LedgerEntryDTO struct {
	ID          string            `json:"id"`
	Kind        string            `json:"kind"`
	Delta       int64             `json:"delta"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// PointsHistoryDTO - страница истории, новые записи первыми.
type PointsHistoryDTO struct {
	UserID  string           `json:"user_id"`
	Entries []LedgerEntryDTO `json:"entries"`
	// NextBefore - курсор следующей страницы, пустой на последней.
	NextBefore *time.Time `json:"next_before,omitempty"`
}

// GetPointsHistoryHandler обрабатывает запрос истории.
type GetPointsHistoryHandler struct {
	store ledger.Store
}

// NewGetPointsHistoryHandler создаёт обработчик.
func NewGetPointsHistoryHandler(store ledger.Store) *GetPointsHistoryHandler {
	return &GetPointsHistoryHandler{store: store}
}

// Handle выполняет запрос.
func (h *GetPointsHistoryHandler) Handle(ctx context.Context, query GetPointsHistoryQuery) (*PointsHistoryDTO, error) {
	userID, err := shared.NewUserID(query.UserID)
	if err != nil {
		return nil, err
	}
	limit := query.Limit
	switch {
	case limit < 0:
		return nil, fmt.Errorf("get_points_history: %w: limit cannot be negative", shared.ErrInvalidInput)
	case limit == 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}

	filter := ledger.EntryFilter{UserID: userID, Until: query.Before, Limit: limit + 1}
	if query.Kind != "" {
		kind, err := points.ParseActionKind(query.Kind)
		if err != nil {
			return nil, err
		}
		filter.Kinds = []points.ActionKind{kind}
	}

	if _, err := h.store.GetUser(ctx, userID); err != nil {
		return nil, fmt.Errorf("get_points_history: %w", err)
	}
	entries, err := h.store.ListEntries(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("get_points_history: %w", err)
	}

	dto := &PointsHistoryDTO{UserID: userID.String(), Entries: make([]LedgerEntryDTO, 0, len(entries))}
	if len(entries) > limit {
		entries, dto.NextBefore = splitPage(entries, limit)
	}
	for _, e := range entries {
		dto.Entries = append(dto.Entries, LedgerEntryDTO{
			ID:          e.ID.String(),
			Kind:        e.Kind.String(),
			Delta:       e.Delta,
			Description: e.Description,
			Metadata:    e.Metadata,
			CreatedAt:   e.CreatedAt,
		})
	}
	return dto, nil
}

// splitPage обрезает страницу так, чтобы записи с одинаковым временем
// (одна операция пишет их одним моментом) не разрывались между страницами.
func splitPage(entries []*points.LedgerEntry, limit int) ([]*points.LedgerEntry, *time.Time) {
	boundary := entries[limit].CreatedAt
	page := entries[:limit]
	cut := len(page)
	for cut > 0 && page[cut-1].CreatedAt.Equal(boundary) {
		cut--
	}
	if cut == 0 {
		// вся страница - один момент времени
		return page, &boundary
	}
	next := boundary.Add(time.Nanosecond)
	return page[:cut], &next
}
