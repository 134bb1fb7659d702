// Package eventhandler содержит обработчики доменных событий.
// Обработчики реагируют на уже зафиксированные изменения и обновляют
// производные данные, например индекс рангов.
package eventhandler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bonkcomputer/points-engine/internal/domain/leaderboard"
	"github.com/bonkcomputer/points-engine/internal/domain/shared"
	"github.com/bonkcomputer/points-engine/pkg/retry"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON POINTS CHANGED HANDLER
// Переносит новый итог пользователя в индекс рангов (Redis sorted set).
// Индекс - производные данные: потерянное обновление исправит
// задача rebuild_rank_index, поэтому ошибка только логируется.
// ═══════════════════════════════════════════════════════════════════════════

// OnPointsChangedHandler обновляет индекс рангов после начисления.
type OnPointsChangedHandler struct {
	index   leaderboard.RankIndex
	retrier *retry.Retrier
	logger  *slog.Logger
	timeout time.Duration
}

// NewOnPointsChangedHandler создаёт обработчик.
func NewOnPointsChangedHandler(index leaderboard.RankIndex, retrier *retry.Retrier, logger *slog.Logger) *OnPointsChangedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if retrier == nil {
		retrier = retry.RankIndexRetrier()
	}
	return &OnPointsChangedHandler{
		index:   index,
		retrier: retrier,
		logger:  logger.With("handler", "on_points_changed"),
		timeout: 5 * time.Second,
	}
}

// EventTypes возвращает события, на которые нужно подписать обработчик.
func (h *OnPointsChangedHandler) EventTypes() []shared.EventType {
	return []shared.EventType{shared.EventPointsAwarded, shared.EventLedgerReconciled}
}

// Handle обрабатывает событие. Реализует shared.EventHandler.
// События с других инстансов пропускаются: индекс общий, его обновил
// инстанс-источник.
func (h *OnPointsChangedHandler) Handle(event shared.Event) error {
	if shared.IsRelayed(event) {
		return nil
	}
	total, ok := newTotal(event)
	if !ok {
		h.logger.Warn("event without new_total", "event_type", event.EventType())
		return nil
	}
	userID := shared.UserID(event.AggregateID())

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	err := h.retrier.Do(ctx, func(ctx context.Context) error {
		return h.index.Upsert(ctx, userID, total)
	})
	if err != nil {
		h.logger.Error("failed to update rank index",
			"user_id", userID,
			"new_total", total,
			"error", err,
		)
		return fmt.Errorf("rank index upsert %s: %w", userID, err)
	}

	h.logger.Debug("rank index updated", "user_id", userID, "new_total", total)
	return nil
}

// newTotal достаёт итог из payload события.
func newTotal(event shared.Event) (int64, bool) {
	switch e := event.(type) {
	case shared.PointsAwardedEvent:
		return e.NewTotal, true
	case shared.LedgerReconciledEvent:
		return e.LedgerTotal, true
	}
	v, ok := event.Payload()["new_total"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}
