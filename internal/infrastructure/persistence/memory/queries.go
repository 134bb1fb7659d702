package memory

import (
	"context"
	"sort"

	"github.com/bonkcomputer/points-engine/internal/domain/achievement"
	"github.com/bonkcomputer/points-engine/internal/domain/leaderboard"
	"github.com/bonkcomputer/points-engine/internal/domain/ledger"
	"github.com/bonkcomputer/points-engine/internal/domain/points"
	"github.com/bonkcomputer/points-engine/internal/domain/referral"
	"github.com/bonkcomputer/points-engine/internal/domain/shared"
)

// CreateUser implements ledger.Store.
func (s *Store) CreateUser(_ context.Context, u *points.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[u.ID]; exists {
		return shared.ErrUserAlreadyExists
	}
	if _, taken := s.byCode[u.ReferralCode]; taken {
		return shared.ErrReferralCodeTaken
	}
	s.users[u.ID] = u.Clone()
	s.byCode[u.ReferralCode] = u.ID
	return nil
}

// GetUser implements ledger.Store.
func (s *Store) GetUser(_ context.Context, id shared.UserID) (*points.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, shared.ErrUserNotFound
	}
	return u.Clone(), nil
}

// GetUserByReferralCode implements ledger.Store.
func (s *Store) GetUserByReferralCode(_ context.Context, code string) (*points.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byCode[code]
	if !ok {
		return nil, shared.ErrUserNotFound
	}
	return s.users[id].Clone(), nil
}

// ListEntries implements ledger.Store. Newest first.
func (s *Store) ListEntries(_ context.Context, f ledger.EntryFilter) ([]*points.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*points.LedgerEntry, 0)
	for i := len(s.entries) - 1; i >= 0; i-- {
		if f.Matches(s.entries[i]) {
			out = append(out, s.entries[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// SumEntries implements ledger.Store.
func (s *Store) SumEntries(_ context.Context, f ledger.EntryFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum int64
	for _, e := range s.entries {
		if f.Matches(e) {
			sum += e.Delta
		}
	}
	return sum, nil
}

// ListReferrals implements ledger.Store.
func (s *Store) ListReferrals(_ context.Context, referrer shared.UserID) ([]*referral.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*referral.Referral, 0)
	for _, r := range s.referrals {
		if r.ReferrerID == referrer {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].BoundAt.Equal(out[j].BoundAt) {
			return out[i].BoundAt.Before(out[j].BoundAt)
		}
		return out[i].ReferredID < out[j].ReferredID
	})
	return out, nil
}

// ListUnlocks implements ledger.Store.
func (s *Store) ListUnlocks(_ context.Context, userID shared.UserID) ([]*achievement.Unlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*achievement.Unlock, 0, len(s.unlocks[userID]))
	for _, u := range s.unlocks[userID] {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UnlockedAt.Equal(out[j].UnlockedAt) {
			return out[i].UnlockedAt.Before(out[j].UnlockedAt)
		}
		return out[i].AchievementID.String() < out[j].AchievementID.String()
	})
	return out, nil
}

// ListAchievements implements ledger.Store.
func (s *Store) ListAchievements(_ context.Context) ([]*achievement.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*achievement.Definition, 0, len(s.achievements))
	for _, d := range s.achievements {
		out = append(out, d)
	}
	achievement.SortDefinitions(out)
	return out, nil
}

// UpsertAchievements implements ledger.Store.
func (s *Store) UpsertAchievements(_ context.Context, defs []*achievement.Definition) error {
	names := make(map[string]bool, len(defs))
	for _, d := range defs {
		if names[d.Name] {
			return shared.ErrDuplicateAchievement
		}
		names[d.Name] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range defs {
		for id, existing := range s.achievements {
			if existing.Name == d.Name && id != d.ID {
				delete(s.achievements, id)
			}
		}
		copied := *d
		s.achievements[d.ID] = &copied
	}
	return nil
}

// ListUserIDs implements ledger.Store.
func (s *Store) ListUserIDs(_ context.Context, after shared.UserID, limit int) ([]shared.UserID, error) {
	s.mu.RLock()
	ids := make([]shared.UserID, 0, len(s.users))
	for id := range s.users {
		if id > after {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD
// ══════════════════════════════════════════════════════════════════════════════

func (s *Store) ranking(w leaderboard.Window) *leaderboard.Ranking {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := make(map[shared.UserID]int64, len(s.users))
	if w.IsAllTime() {
		for id, u := range s.users {
			totals[id] = u.TotalPoints
		}
	} else {
		for _, e := range s.entries {
			if w.Contains(e.CreatedAt) {
				totals[e.UserID] += e.Delta
			}
		}
	}

	r := leaderboard.NewRanking()
	for id, total := range totals {
		u := s.users[id]
		_ = r.Add(&leaderboard.Entry{
			UserID:      id,
			DisplayName: u.DisplayName,
			Points:      total,
			CreatedAt:   u.CreatedAt,
		})
	}
	r.Sort()
	return r
}

// Standings implements ledger.Store.
func (s *Store) Standings(_ context.Context, w leaderboard.Window, limit int) ([]*leaderboard.Entry, error) {
	return s.ranking(w).Top(limit), nil
}

// CountRanked implements ledger.Store.
func (s *Store) CountRanked(_ context.Context, w leaderboard.Window) (int64, error) {
	return int64(s.ranking(w).Count()), nil
}

// RankOf implements ledger.Store.
func (s *Store) RankOf(_ context.Context, w leaderboard.Window, userID shared.UserID) (int64, int64, bool, error) {
	e := s.ranking(w).Get(userID)
	if e == nil {
		return 0, 0, false, nil
	}
	return e.Rank, e.Points, true, nil
}
