package leaderboard

import (
	"context"

	"github.com/bonkcomputer/points-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RANK INDEX INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// RankIndex - поддерживаемый индекс all-time рангов (Redis sorted set).
// Отделён от хранилища: при недоступности индекса ответ даёт хранилище.
type RankIndex interface {
	// Upsert записывает итог пользователя. Итог <= 0 убирает его из индекса.
	Upsert(ctx context.Context, userID shared.UserID, total int64) error

	// Rank возвращает 1 + число участников со строго большим итогом.
	// found=false, если пользователя нет в индексе.
	Rank(ctx context.Context, userID shared.UserID) (rank int64, found bool, err error)

	// Population возвращает число участников с итогом > 0.
	Population(ctx context.Context) (int64, error)

	// Replace атомарно заменяет весь индекс.
	Replace(ctx context.Context, entries []*Entry) error
}
