// Package ledger defines the persistence contract of the points engine: one
// transaction per operation, holding the row locks of every involved user.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bonkcomputer/points-engine/internal/domain/achievement"
	"github.com/bonkcomputer/points-engine/internal/domain/leaderboard"
	"github.com/bonkcomputer/points-engine/internal/domain/points"
	"github.com/bonkcomputer/points-engine/internal/domain/referral"
	"github.com/bonkcomputer/points-engine/internal/domain/shared"
)

// EntryFilter narrows ledger reads. Zero values mean "no constraint".
// Since is inclusive, Until is exclusive.
type EntryFilter struct {
	UserID   shared.UserID
	Kinds    []points.ActionKind
	Since    time.Time
	Until    time.Time
	Metadata map[string]string
	Limit    int
}

// Matches applies the filter to one entry. Stores that cannot push a
// constraint down to their query use it directly.
func (f EntryFilter) Matches(e *points.LedgerEntry) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if len(f.Kinds) > 0 {
		ok := false
		for _, k := range f.Kinds {
			if e.Kind == k {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !e.CreatedAt.Before(f.Until) {
		return false
	}
	for k, v := range f.Metadata {
		if e.Metadata[k] != v {
			return false
		}
	}
	return true
}

// Store is the engine's persistence boundary.
type Store interface {
	// InTx runs fn in one transaction after locking the rows of userIDs in
	// sorted order. A lock wait past the store's lock timeout fails with a
	// transient error. Unknown users fail with shared.ErrUserNotFound.
	InTx(ctx context.Context, userIDs []shared.UserID, fn func(tx Tx) error) error

	// CreateUser inserts a new aggregate. A taken referral code fails with
	// shared.ErrReferralCodeTaken, a taken id with shared.ErrUserAlreadyExists.
	CreateUser(ctx context.Context, u *points.User) error

	GetUser(ctx context.Context, id shared.UserID) (*points.User, error)
	GetUserByReferralCode(ctx context.Context, code string) (*points.User, error)

	// ListEntries returns matching entries newest first.
	ListEntries(ctx context.Context, f EntryFilter) ([]*points.LedgerEntry, error)
	SumEntries(ctx context.Context, f EntryFilter) (int64, error)

	// ListReferrals returns the edges pointing at referrer, oldest first.
	ListReferrals(ctx context.Context, referrer shared.UserID) ([]*referral.Referral, error)
	ListUnlocks(ctx context.Context, userID shared.UserID) ([]*achievement.Unlock, error)

	ListAchievements(ctx context.Context) ([]*achievement.Definition, error)
	// UpsertAchievements inserts or updates definitions by unique name.
	UpsertAchievements(ctx context.Context, defs []*achievement.Definition) error

	// ListUserIDs pages through user ids in ascending order.
	ListUserIDs(ctx context.Context, after shared.UserID, limit int) ([]shared.UserID, error)

	// Standings returns the ranked population of a window (points > 0),
	// ordered and ranked per leaderboard.Less. limit <= 0 returns everyone.
	Standings(ctx context.Context, w leaderboard.Window, limit int) ([]*leaderboard.Entry, error)
	// CountRanked returns the population of a window.
	CountRanked(ctx context.Context, w leaderboard.Window) (int64, error)
	// RankOf returns the user's rank in the window, found=false when the
	// user is not part of the population.
	RankOf(ctx context.Context, w leaderboard.Window, userID shared.UserID) (rank int64, points int64, found bool, err error)
}

// Tx is the unit of work handed to Store.InTx. Only users locked by the
// enclosing InTx may be read or written through it.
type Tx interface {
	// LockedUser returns the locked aggregate.
	LockedUser(id shared.UserID) (*points.User, error)
	SaveUser(ctx context.Context, u *points.User) error

	AppendEntry(ctx context.Context, e *points.LedgerEntry) error
	CountEntries(ctx context.Context, f EntryFilter) (int64, error)
	SumEntries(ctx context.Context, f EntryFilter) (int64, error)

	CountReferrals(ctx context.Context, referrer shared.UserID) (int64, error)
	// InsertReferral fails with shared.ErrReferralAlreadyBound when the
	// referred user already has an edge.
	InsertReferral(ctx context.Context, r *referral.Referral) error

	ListAchievements(ctx context.Context) ([]*achievement.Definition, error)
	UnlockedIDs(ctx context.Context, userID shared.UserID) (map[uuid.UUID]bool, error)
	// InsertUnlock fails with shared.ErrDuplicateUnlock for an existing pair.
	InsertUnlock(ctx context.Context, u *achievement.Unlock) error

	// Savepoint runs fn so that its writes roll back alone when it fails.
	Savepoint(ctx context.Context, fn func(tx Tx) error) error
}
