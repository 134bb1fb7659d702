package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/bonkcomputer/points-engine/internal/domain/achievement"
	"github.com/bonkcomputer/points-engine/internal/domain/leaderboard"
	"github.com/bonkcomputer/points-engine/internal/domain/ledger"
	"github.com/bonkcomputer/points-engine/internal/domain/points"
	"github.com/bonkcomputer/points-engine/internal/domain/referral"
	"github.com/bonkcomputer/points-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store implements ledger.Store on PostgreSQL.
type Store struct {
	conn        *Connection
	lockTimeout time.Duration
}

var _ ledger.Store = (*Store)(nil)

// NewStore creates a store over an open connection.
func NewStore(conn *Connection) *Store {
	timeout := conn.Config().LockTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().LockTimeout
	}
	return &Store{conn: conn, lockTimeout: timeout}
}

func (s *Store) db() Querier {
	return s.conn.Pool()
}

// ══════════════════════════════════════════════════════════════════════════════
// ROW MAPPING
// ══════════════════════════════════════════════════════════════════════════════

const userColumns = `id, display_name, total_points, current_streak, longest_streak,
	last_login_date, referral_code, COALESCE(referred_by, ''), recognized,
	recognition_reason, recognized_at, trade_volume::text, created_at, updated_at`

func scanUser(row pgx.Row) (*points.User, error) {
	var (
		u       points.User
		id      string
		ref     string
		volume  string
		lastDay *time.Time
	)
	err := row.Scan(&id, &u.DisplayName, &u.TotalPoints, &u.CurrentStreak, &u.LongestStreak,
		&lastDay, &u.ReferralCode, &ref, &u.Recognized,
		&u.RecognitionReason, &u.RecognizedAt, &volume, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}

	u.ID = shared.UserID(id)
	u.ReferredBy = shared.UserID(ref)
	if lastDay != nil {
		d := time.Date(lastDay.Year(), lastDay.Month(), lastDay.Day(), 0, 0, 0, 0, time.UTC)
		u.LastLoginDate = &d
	}
	if u.RecognizedAt != nil {
		t := u.RecognizedAt.UTC()
		u.RecognizedAt = &t
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	if u.TradeVolume, err = decimal.NewFromString(volume); err != nil {
		return nil, fmt.Errorf("postgres: trade volume %q: %w", volume, err)
	}
	return &u, nil
}

func nullableID(id shared.UserID) any {
	if id == "" {
		return nil
	}
	return id.String()
}

const entryColumns = `id::text, user_id, delta, kind, description, metadata, created_at`

func scanEntries(rows pgx.Rows) ([]*points.LedgerEntry, error) {
	defer rows.Close()

	out := make([]*points.LedgerEntry, 0)
	for rows.Next() {
		var (
			e      points.LedgerEntry
			id     string
			userID string
			kind   string
			meta   []byte
		)
		if err := rows.Scan(&id, &userID, &e.Delta, &kind, &e.Description, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("postgres: entry id %q: %w", id, err)
		}
		e.ID = parsed
		e.UserID = shared.UserID(userID)
		e.Kind = points.ActionKind(kind)
		e.CreatedAt = e.CreatedAt.UTC()
		e.Metadata = make(map[string]string)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("postgres: entry metadata: %w", err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// entryWhere renders an EntryFilter as a WHERE clause, numbering
// placeholders after the args already present.
func entryWhere(f ledger.EntryFilter, args []any) (string, []any, error) {
	var conds []string
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.UserID != "" {
		add("user_id = $%d", f.UserID.String())
	}
	if len(f.Kinds) > 0 {
		kinds := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			kinds[i] = k.String()
		}
		add("kind = ANY($%d)", kinds)
	}
	if !f.Since.IsZero() {
		add("created_at >= $%d", f.Since.UTC())
	}
	if !f.Until.IsZero() {
		add("created_at < $%d", f.Until.UTC())
	}
	if len(f.Metadata) > 0 {
		doc, err := json.Marshal(f.Metadata)
		if err != nil {
			return "", nil, err
		}
		add("metadata @> $%d::jsonb", string(doc))
	}

	if len(conds) == 0 {
		return "TRUE", args, nil
	}
	return strings.Join(conds, " AND "), args, nil
}

func sumEntries(ctx context.Context, q Querier, f ledger.EntryFilter) (int64, error) {
	where, args, err := entryWhere(f, nil)
	if err != nil {
		return 0, err
	}
	var sum int64
	err = q.QueryRow(ctx, "SELECT COALESCE(SUM(delta), 0)::bigint FROM ledger_entries WHERE "+where, args...).Scan(&sum)
	if err != nil {
		return 0, mapError("SumEntries", err)
	}
	return sum, nil
}

func listAchievements(ctx context.Context, q Querier) ([]*achievement.Definition, error) {
	rows, err := q.Query(ctx, `
		SELECT id::text, slug, name, description, reward, category, requirement
		FROM achievements`)
	if err != nil {
		return nil, mapError("ListAchievements", err)
	}
	defer rows.Close()

	out := make([]*achievement.Definition, 0)
	for rows.Next() {
		var (
			d        achievement.Definition
			id       string
			category string
			req      []byte
		)
		if err := rows.Scan(&id, &d.Slug, &d.Name, &d.Description, &d.Reward, &category, &req); err != nil {
			return nil, err
		}
		if d.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("postgres: achievement id %q: %w", id, err)
		}
		d.Category = achievement.Category(category)
		if d.Requirement, err = achievement.UnmarshalRequirement(req); err != nil {
			return nil, fmt.Errorf("postgres: achievement %s: %w", d.Name, err)
		}
		out = append(out, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	achievement.SortDefinitions(out)
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// USERS
// ══════════════════════════════════════════════════════════════════════════════

// CreateUser implements ledger.Store.
func (s *Store) CreateUser(ctx context.Context, u *points.User) error {
	_, err := s.db().Exec(ctx, `
		INSERT INTO users (id, display_name, total_points, current_streak, longest_streak,
			last_login_date, referral_code, referred_by, recognized, recognition_reason,
			recognized_at, trade_volume, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::numeric, $13, $14)`,
		u.ID.String(), u.DisplayName, u.TotalPoints, u.CurrentStreak, u.LongestStreak,
		u.LastLoginDate, u.ReferralCode, nullableID(u.ReferredBy), u.Recognized, u.RecognitionReason,
		u.RecognizedAt, u.TradeVolume.String(), u.CreatedAt, u.UpdatedAt)
	switch {
	case err == nil:
		return nil
	case IsUniqueViolation(err, "users_pkey"):
		return shared.ErrUserAlreadyExists
	case IsUniqueViolation(err, "users_referral_code_key"):
		return shared.ErrReferralCodeTaken
	default:
		return mapError("CreateUser", err)
	}
}

// GetUser implements ledger.Store.
func (s *Store) GetUser(ctx context.Context, id shared.UserID) (*points.User, error) {
	u, err := scanUser(s.db().QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id.String()))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrUserNotFound
		}
		return nil, mapError("GetUser", err)
	}
	return u, nil
}

// GetUserByReferralCode implements ledger.Store.
func (s *Store) GetUserByReferralCode(ctx context.Context, code string) (*points.User, error) {
	u, err := scanUser(s.db().QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE referral_code = $1", code))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrUserNotFound
		}
		return nil, mapError("GetUserByReferralCode", err)
	}
	return u, nil
}

// ListUserIDs implements ledger.Store.
func (s *Store) ListUserIDs(ctx context.Context, after shared.UserID, limit int) ([]shared.UserID, error) {
	rows, err := s.db().Query(ctx, `
		SELECT id FROM users
		WHERE id COLLATE "C" > $1
		ORDER BY id COLLATE "C"
		LIMIT $2`, after.String(), limitArg(limit))
	if err != nil {
		return nil, mapError("ListUserIDs", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, mapError("ListUserIDs", err)
	}
	out := make([]shared.UserID, len(ids))
	for i, id := range ids {
		out[i] = shared.UserID(id)
	}
	return out, nil
}

// limitArg turns a non-positive limit into SQL NULL (LIMIT ALL).
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// ListEntries implements ledger.Store. Newest first.
func (s *Store) ListEntries(ctx context.Context, f ledger.EntryFilter) ([]*points.LedgerEntry, error) {
	where, args, err := entryWhere(f, nil)
	if err != nil {
		return nil, err
	}
	args = append(args, limitArg(f.Limit))
	rows, err := s.db().Query(ctx, fmt.Sprintf(`
		SELECT %s FROM ledger_entries
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d`, entryColumns, where, len(args)), args...)
	if err != nil {
		return nil, mapError("ListEntries", err)
	}
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, mapError("ListEntries", err)
	}
	return entries, nil
}

// SumEntries implements ledger.Store.
func (s *Store) SumEntries(ctx context.Context, f ledger.EntryFilter) (int64, error) {
	return sumEntries(ctx, s.db(), f)
}

// ══════════════════════════════════════════════════════════════════════════════
// REFERRALS AND ACHIEVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

// ListReferrals implements ledger.Store.
func (s *Store) ListReferrals(ctx context.Context, referrer shared.UserID) ([]*referral.Referral, error) {
	rows, err := s.db().Query(ctx, `
		SELECT referred_id, referrer_id, code, bound_at
		FROM referrals
		WHERE referrer_id = $1
		ORDER BY bound_at, referred_id COLLATE "C"`, referrer.String())
	if err != nil {
		return nil, mapError("ListReferrals", err)
	}
	defer rows.Close()

	out := make([]*referral.Referral, 0)
	for rows.Next() {
		var r referral.Referral
		var referred, referrerID string
		if err := rows.Scan(&referred, &referrerID, &r.Code, &r.BoundAt); err != nil {
			return nil, mapError("ListReferrals", err)
		}
		r.ReferredID = shared.UserID(referred)
		r.ReferrerID = shared.UserID(referrerID)
		r.BoundAt = r.BoundAt.UTC()
		out = append(out, &r)
	}
	return out, rows.Err()
}

// ListUnlocks implements ledger.Store.
func (s *Store) ListUnlocks(ctx context.Context, userID shared.UserID) ([]*achievement.Unlock, error) {
	rows, err := s.db().Query(ctx, `
		SELECT achievement_id::text, unlocked_at
		FROM achievement_unlocks
		WHERE user_id = $1
		ORDER BY unlocked_at, achievement_id::text`, userID.String())
	if err != nil {
		return nil, mapError("ListUnlocks", err)
	}
	defer rows.Close()

	out := make([]*achievement.Unlock, 0)
	for rows.Next() {
		var id string
		u := &achievement.Unlock{UserID: userID}
		if err := rows.Scan(&id, &u.UnlockedAt); err != nil {
			return nil, mapError("ListUnlocks", err)
		}
		if u.AchievementID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		u.UnlockedAt = u.UnlockedAt.UTC()
		out = append(out, u)
	}
	return out, rows.Err()
}

// ListAchievements implements ledger.Store.
func (s *Store) ListAchievements(ctx context.Context) ([]*achievement.Definition, error) {
	return listAchievements(ctx, s.db())
}

// UpsertAchievements implements ledger.Store. Definitions are matched by
// unique name; the id follows the name's slug.
func (s *Store) UpsertAchievements(ctx context.Context, defs []*achievement.Definition) error {
	names := make(map[string]bool, len(defs))
	for _, d := range defs {
		if names[d.Name] {
			return shared.ErrDuplicateAchievement
		}
		names[d.Name] = true
	}

	return s.conn.WithTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, d := range defs {
			req, err := achievement.MarshalRequirement(d.Requirement)
			if err != nil {
				return err
			}
			batch.Queue(`
				INSERT INTO achievements (id, slug, name, description, reward, category, requirement, updated_at)
				VALUES ($1::uuid, $2, $3, $4, $5, $6, $7::jsonb, NOW())
				ON CONFLICT (name) DO UPDATE SET
					slug = EXCLUDED.slug,
					description = EXCLUDED.description,
					reward = EXCLUDED.reward,
					category = EXCLUDED.category,
					requirement = EXCLUDED.requirement,
					updated_at = NOW()`,
				d.ID.String(), d.Slug, d.Name, d.Description, d.Reward, string(d.Category), string(req))
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return mapError("UpsertAchievements", err)
		}
		return nil
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD
// ══════════════════════════════════════════════════════════════════════════════

// scoresCTE yields (user_id, pts) for the window's ranked population.
// All-time reads the cached totals; windows sum the ledger.
func scoresCTE(w leaderboard.Window) (string, []any) {
	if w.IsAllTime() {
		return `scores AS (
			SELECT id AS user_id, total_points AS pts FROM users WHERE total_points > 0
		)`, nil
	}
	return `scores AS (
			SELECT user_id, SUM(delta)::bigint AS pts
			FROM ledger_entries
			WHERE created_at >= $1 AND created_at < $2
			GROUP BY user_id
			HAVING SUM(delta) > 0
		)`, []any{w.Start.UTC(), w.End.UTC()}
}

// Standings implements ledger.Store.
func (s *Store) Standings(ctx context.Context, w leaderboard.Window, limit int) ([]*leaderboard.Entry, error) {
	cte, args := scoresCTE(w)
	args = append(args, limitArg(limit))
	rows, err := s.db().Query(ctx, fmt.Sprintf(`
		WITH %s
		SELECT RANK() OVER (ORDER BY sc.pts DESC)::bigint, u.id, u.display_name, sc.pts, u.created_at
		FROM scores sc
		JOIN users u ON u.id = sc.user_id
		ORDER BY sc.pts DESC, u.created_at ASC, u.id COLLATE "C" ASC
		LIMIT $%d`, cte, len(args)), args...)
	if err != nil {
		return nil, mapError("Standings", err)
	}
	defer rows.Close()

	out := make([]*leaderboard.Entry, 0)
	for rows.Next() {
		var e leaderboard.Entry
		var id string
		if err := rows.Scan(&e.Rank, &id, &e.DisplayName, &e.Points, &e.CreatedAt); err != nil {
			return nil, mapError("Standings", err)
		}
		e.UserID = shared.UserID(id)
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, &e)
	}
	return out, rows.Err()
}

// CountRanked implements ledger.Store.
func (s *Store) CountRanked(ctx context.Context, w leaderboard.Window) (int64, error) {
	cte, args := scoresCTE(w)
	var n int64
	if err := s.db().QueryRow(ctx, "WITH "+cte+" SELECT count(*) FROM scores", args...).Scan(&n); err != nil {
		return 0, mapError("CountRanked", err)
	}
	return n, nil
}

// RankOf implements ledger.Store.
func (s *Store) RankOf(ctx context.Context, w leaderboard.Window, userID shared.UserID) (int64, int64, bool, error) {
	cte, args := scoresCTE(w)
	args = append(args, userID.String())
	var rank, pts int64
	err := s.db().QueryRow(ctx, fmt.Sprintf(`
		WITH %s
		SELECT 1 + (SELECT count(*) FROM scores o WHERE o.pts > me.pts), me.pts
		FROM scores me
		WHERE me.user_id = $%d`, cte, len(args)), args...).Scan(&rank, &pts)
	if err != nil {
		if IsNoRows(err) {
			return 0, 0, false, nil
		}
		return 0, 0, false, mapError("RankOf", err)
	}
	return rank, pts, true, nil
}
