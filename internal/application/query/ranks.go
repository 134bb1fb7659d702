// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
// Each query is a self-contained use case with its own request/response types.
package query

import (
	"context"

	"github.com/bonkcomputer/points-engine/internal/domain/leaderboard"
	"github.com/bonkcomputer/points-engine/internal/domain/ledger"
	"github.com/bonkcomputer/points-engine/internal/domain/shared"
	"github.com/bonkcomputer/points-engine/pkg/circuitbreaker"
	"github.com/bonkcomputer/points-engine/pkg/logger"
)

// Источники ранга в ответах.
const (
	SourceRankIndex = "rank_index"
	SourceStore     = "store"
)

// ══════════════════════════════════════════════════════════════════════════════
// RANK RESOLVER
// Ранг и численность популяции. Для all_time сначала спрашиваем индекс
// (через circuit breaker), при любой ошибке отвечает хранилище.
// Окна daily/weekly/monthly всегда считаются по леджеру.
// ══════════════════════════════════════════════════════════════════════════════

// RankResolver отвечает на вопросы о ранге.
type RankResolver struct {
	store   ledger.Store
	index   leaderboard.RankIndex
	breaker *circuitbreaker.Breaker
	log     *logger.Logger
}

// NewRankResolver создаёт резолвер. index и breaker могут быть nil.
func NewRankResolver(store ledger.Store, index leaderboard.RankIndex, breaker *circuitbreaker.Breaker, log *logger.Logger) *RankResolver {
	if log == nil {
		log = logger.Nop()
	}
	if index != nil && breaker == nil {
		breaker = circuitbreaker.RankIndexBreaker(nil)
	}
	return &RankResolver{
		store:   store,
		index:   index,
		breaker: breaker,
		log:     log.With(logger.Component("rank_resolver")),
	}
}

// Population возвращает размер популяции окна и источник ответа.
func (r *RankResolver) Population(ctx context.Context, w leaderboard.Window) (int64, string, error) {
	if w.IsAllTime() && r.index != nil {
		var n int64
		err := r.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			n, err = r.index.Population(ctx)
			return err
		})
		if err == nil {
			return n, SourceRankIndex, nil
		}
		r.fallback("population", err)
	}

	n, err := r.store.CountRanked(ctx, w)
	if err != nil {
		return 0, "", err
	}
	return n, SourceStore, nil
}

// RankOf возвращает ранг пользователя в окне. found=false, если у
// пользователя нет положительных очков в окне.
func (r *RankResolver) RankOf(ctx context.Context, w leaderboard.Window, userID shared.UserID) (int64, bool, string, error) {
	if w.IsAllTime() && r.index != nil {
		var (
			rank  int64
			found bool
		)
		err := r.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			rank, found, err = r.index.Rank(ctx, userID)
			return err
		})
		if err == nil {
			return rank, found, SourceRankIndex, nil
		}
		r.fallback("rank", err)
	}

	rank, _, found, err := r.store.RankOf(ctx, w, userID)
	if err != nil {
		return 0, false, "", err
	}
	return rank, found, SourceStore, nil
}

func (r *RankResolver) fallback(op string, err error) {
	r.log.Warn("rank index unavailable, using store",
		logger.Operation(op),
		logger.String("breaker_state", string(r.breaker.State())),
		logger.Err(err),
	)
}
