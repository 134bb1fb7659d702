package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bonkcomputer/points-engine/internal/domain/achievement"
	"github.com/bonkcomputer/points-engine/internal/domain/ledger"
	"github.com/bonkcomputer/points-engine/internal/domain/points"
	"github.com/bonkcomputer/points-engine/internal/domain/referral"
	"github.com/bonkcomputer/points-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// TRANSACTIONS
// ══════════════════════════════════════════════════════════════════════════════

// InTx implements ledger.Store. Rows are locked with SELECT ... FOR UPDATE in
// id order, so two transactions touching the same pair of users queue instead
// of deadlocking. A lock wait past lock_timeout surfaces as a transient error.
func (s *Store) InTx(ctx context.Context, userIDs []shared.UserID, fn func(tx ledger.Tx) error) error {
	ids := sortedIDs(userIDs)

	return s.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
			return mapError("Lock", err)
		}

		rows, err := tx.Query(ctx, `SELECT `+userColumns+`
			FROM users
			WHERE id = ANY($1)
			ORDER BY id COLLATE "C"
			FOR UPDATE`, ids)
		if err != nil {
			return mapError("Lock", err)
		}

		locked := make(map[shared.UserID]*points.User, len(ids))
		for rows.Next() {
			u, err := scanUser(rows)
			if err != nil {
				rows.Close()
				return mapError("Lock", err)
			}
			locked[u.ID] = u
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return mapError("Lock", err)
		}
		if len(locked) != len(ids) {
			return shared.ErrUserNotFound
		}

		return fn(&pgTx{tx: tx, users: locked})
	})
}

func sortedIDs(userIDs []shared.UserID) []string {
	seen := make(map[shared.UserID]bool, len(userIDs))
	out := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if !seen[id] {
			seen[id] = true
			out = append(out, id.String())
		}
	}
	sort.Strings(out)
	return out
}

// pgTx implements ledger.Tx over one pgx transaction (or savepoint).
type pgTx struct {
	tx    pgx.Tx
	users map[shared.UserID]*points.User
}

func (t *pgTx) LockedUser(id shared.UserID) (*points.User, error) {
	u, ok := t.users[id]
	if !ok {
		return nil, shared.NewDomainError("ledger", "LockedUser", shared.ErrInvalidInput,
			fmt.Sprintf("user %s is not locked by this transaction", id))
	}
	return u.Clone(), nil
}

func (t *pgTx) SaveUser(ctx context.Context, u *points.User) error {
	if _, ok := t.users[u.ID]; !ok {
		return shared.NewDomainError("ledger", "SaveUser", shared.ErrInvalidInput,
			fmt.Sprintf("user %s is not locked by this transaction", u.ID))
	}

	_, err := t.tx.Exec(ctx, `
		UPDATE users SET
			display_name = $2,
			total_points = $3,
			current_streak = $4,
			longest_streak = $5,
			last_login_date = $6,
			referred_by = $7,
			recognized = $8,
			recognition_reason = $9,
			recognized_at = $10,
			trade_volume = $11::numeric,
			updated_at = $12
		WHERE id = $1`,
		u.ID.String(), u.DisplayName, u.TotalPoints, u.CurrentStreak, u.LongestStreak,
		u.LastLoginDate, nullableID(u.ReferredBy), u.Recognized, u.RecognitionReason,
		u.RecognizedAt, u.TradeVolume.String(), u.UpdatedAt)
	if err != nil {
		return mapError("SaveUser", err)
	}
	t.users[u.ID] = u.Clone()
	return nil
}

func (t *pgTx) AppendEntry(ctx context.Context, e *points.LedgerEntry) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: entry metadata: %w", err)
	}
	if e.Metadata == nil {
		meta = []byte("{}")
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO ledger_entries (id, user_id, delta, kind, description, metadata, created_at)
		VALUES ($1::uuid, $2, $3, $4, $5, $6::jsonb, $7)`,
		e.ID.String(), e.UserID.String(), e.Delta, e.Kind.String(), e.Description, string(meta), e.CreatedAt)
	return mapError("AppendEntry", err)
}

func (t *pgTx) CountEntries(ctx context.Context, f ledger.EntryFilter) (int64, error) {
	where, args, err := entryWhere(f, nil)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := t.tx.QueryRow(ctx, "SELECT count(*) FROM ledger_entries WHERE "+where, args...).Scan(&n); err != nil {
		return 0, mapError("CountEntries", err)
	}
	return n, nil
}

func (t *pgTx) SumEntries(ctx context.Context, f ledger.EntryFilter) (int64, error) {
	return sumEntries(ctx, t.tx, f)
}

func (t *pgTx) CountReferrals(ctx context.Context, referrer shared.UserID) (int64, error) {
	var n int64
	if err := t.tx.QueryRow(ctx, "SELECT count(*) FROM referrals WHERE referrer_id = $1", referrer.String()).Scan(&n); err != nil {
		return 0, mapError("CountReferrals", err)
	}
	return n, nil
}

// InsertReferral uses ON CONFLICT DO NOTHING so a duplicate leaves the
// transaction usable.
func (t *pgTx) InsertReferral(ctx context.Context, r *referral.Referral) error {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO referrals (referred_id, referrer_id, code, bound_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (referred_id) DO NOTHING`,
		r.ReferredID.String(), r.ReferrerID.String(), r.Code, r.BoundAt)
	if err != nil {
		return mapError("InsertReferral", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrReferralAlreadyBound
	}
	return nil
}

func (t *pgTx) ListAchievements(ctx context.Context) ([]*achievement.Definition, error) {
	return listAchievements(ctx, t.tx)
}

func (t *pgTx) UnlockedIDs(ctx context.Context, userID shared.UserID) (map[uuid.UUID]bool, error) {
	rows, err := t.tx.Query(ctx, "SELECT achievement_id::text FROM achievement_unlocks WHERE user_id = $1", userID.String())
	if err != nil {
		return nil, mapError("UnlockedIDs", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, mapError("UnlockedIDs", err)
	}

	out := make(map[uuid.UUID]bool, len(ids))
	for _, s := range ids {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, nil
}

func (t *pgTx) InsertUnlock(ctx context.Context, u *achievement.Unlock) error {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO achievement_unlocks (user_id, achievement_id, unlocked_at)
		VALUES ($1, $2::uuid, $3)
		ON CONFLICT (user_id, achievement_id) DO NOTHING`,
		u.UserID.String(), u.AchievementID.String(), u.UnlockedAt)
	if err != nil {
		return mapError("InsertUnlock", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrDuplicateUnlock
	}
	return nil
}

// Savepoint runs fn inside SAVEPOINT / RELEASE. On failure it rolls back to
// the savepoint and restores the locked aggregates.
func (t *pgTx) Savepoint(ctx context.Context, fn func(tx ledger.Tx) error) error {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return mapError("Savepoint", err)
	}

	snapshot := make(map[shared.UserID]*points.User, len(t.users))
	for id, u := range t.users {
		snapshot[id] = u.Clone()
	}

	if err := fn(&pgTx{tx: sp, users: t.users}); err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w (rollback to savepoint: %v)", err, mapError("Savepoint", rbErr))
		}
		// restore in place: enclosing savepoints share the map
		for id, u := range snapshot {
			t.users[id] = u
		}
		return err
	}
	if err := sp.Commit(ctx); err != nil {
		return mapError("Savepoint", err)
	}
	return nil
}
