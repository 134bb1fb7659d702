package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bonkcomputer/points-engine/internal/domain/leaderboard"
	"github.com/bonkcomputer/points-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RANK INDEX
// ══════════════════════════════════════════════════════════════════════════════

// RankIndex keeps all-time totals in one sorted set (member = user id,
// score = total). Only totals > 0 are members, so ZCARD is the population
// and a rank is one plus the members scoring strictly higher. Ties therefore
// share a rank, the same as the store computes it.
type RankIndex struct {
	rdb redis.Cmdable
	key string
}

// rankIndexSuffix is the sorted set holding all-time totals.
const rankIndexSuffix = "rank:all_time"

// replaceBatch bounds the members sent per ZADD during Replace.
const replaceBatch = 500

var _ leaderboard.RankIndex = (*RankIndex)(nil)

// NewRankIndex creates a rank index over the client's pool.
func NewRankIndex(c *Client) *RankIndex {
	return NewRankIndexWithKey(c.Redis(), c.Config().Key(rankIndexSuffix))
}

// NewRankIndexWithKey creates a rank index on an explicit key.
func NewRankIndexWithKey(rdb redis.Cmdable, key string) *RankIndex {
	return &RankIndex{rdb: rdb, key: key}
}

// Key returns the sorted set key.
func (r *RankIndex) Key() string {
	return r.key
}

// Upsert records a user's total. Totals <= 0 leave the ranked population.
func (r *RankIndex) Upsert(ctx context.Context, userID shared.UserID, total int64) error {
	if !userID.IsValid() {
		return shared.ErrInvalidUserID
	}
	if total <= 0 {
		if err := r.rdb.ZRem(ctx, r.key, userID.String()).Err(); err != nil {
			return fmt.Errorf("rank index: remove %s: %w", userID, err)
		}
		return nil
	}
	if err := r.rdb.ZAdd(ctx, r.key, redis.Z{Score: float64(total), Member: userID.String()}).Err(); err != nil {
		return fmt.Errorf("rank index: upsert %s: %w", userID, err)
	}
	return nil
}

// Rank returns 1 + the count of members with a strictly greater total.
func (r *RankIndex) Rank(ctx context.Context, userID shared.UserID) (int64, bool, error) {
	score, err := r.rdb.ZScore(ctx, r.key, userID.String()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("rank index: score %s: %w", userID, err)
	}

	higher, err := r.rdb.ZCount(ctx, r.key, exclusiveMin(score), "+inf").Result()
	if err != nil {
		return 0, false, fmt.Errorf("rank index: count above %s: %w", userID, err)
	}
	return higher + 1, true, nil
}

// Population returns the number of ranked users.
func (r *RankIndex) Population(ctx context.Context) (int64, error) {
	n, err := r.rdb.ZCard(ctx, r.key).Result()
	if err != nil {
		return 0, fmt.Errorf("rank index: population: %w", err)
	}
	return n, nil
}

// Replace builds the set under a temporary key and renames it over the live
// key, so readers see either the old or the new index.
func (r *RankIndex) Replace(ctx context.Context, entries []*leaderboard.Entry) error {
	members := make([]redis.Z, 0, len(entries))
	for _, e := range entries {
		if e == nil || e.Points <= 0 || !e.UserID.IsValid() {
			continue
		}
		members = append(members, redis.Z{Score: float64(e.Points), Member: e.UserID.String()})
	}

	if len(members) == 0 {
		if err := r.rdb.Del(ctx, r.key).Err(); err != nil {
			return fmt.Errorf("rank index: clear: %w", err)
		}
		return nil
	}

	tmp := r.key + ":rebuild:" + uuid.NewString()
	pipe := r.rdb.TxPipeline()
	for start := 0; start < len(members); start += replaceBatch {
		end := start + replaceBatch
		if end > len(members) {
			end = len(members)
		}
		pipe.ZAdd(ctx, tmp, members[start:end]...)
	}
	pipe.Rename(ctx, tmp, r.key)

	if _, err := pipe.Exec(ctx); err != nil {
		_ = r.rdb.Del(ctx, tmp).Err()
		return fmt.Errorf("rank index: replace: %w", err)
	}
	return nil
}

// exclusiveMin formats a ZCOUNT lower bound that excludes score itself.
func exclusiveMin(score float64) string {
	return "(" + strconv.FormatFloat(score, 'f', -1, 64)
}
