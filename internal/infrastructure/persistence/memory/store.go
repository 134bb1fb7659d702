// Package memory implements ledger.Store in process memory.
//
// It keeps the same consistency contract as the Postgres store: per-user
// locks taken in sorted order with a lock timeout, writes staged inside the
// transaction and applied on commit, and savepoints that discard only the
// writes made inside them. It backs the engine tests and STORE_DRIVER=memory.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bonkcomputer/points-engine/internal/domain/achievement"
	"github.com/bonkcomputer/points-engine/internal/domain/ledger"
	"github.com/bonkcomputer/points-engine/internal/domain/points"
	"github.com/bonkcomputer/points-engine/internal/domain/referral"
	"github.com/bonkcomputer/points-engine/internal/domain/shared"
)

// DefaultLockTimeout mirrors the Postgres lock_timeout default.
const DefaultLockTimeout = 2 * time.Second

// Operation names passed to a FaultFunc.
const (
	OpSaveUser       = "SaveUser"
	OpAppendEntry    = "AppendEntry"
	OpInsertReferral = "InsertReferral"
	OpInsertUnlock   = "InsertUnlock"
)

// FaultFunc lets tests fail a write. A non-nil return aborts that write.
type FaultFunc func(op string, userID shared.UserID) error

// Option configures the store.
type Option func(*Store)

// WithLockTimeout sets how long InTx waits for a user lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithFault installs a fault injector.
func WithFault(fn FaultFunc) Option {
	return func(s *Store) {
		s.fault = fn
	}
}

// Store is an in-memory ledger.Store.
type Store struct {
	mu           sync.RWMutex
	users        map[shared.UserID]*points.User
	byCode       map[string]shared.UserID
	entries      []*points.LedgerEntry
	referrals    map[shared.UserID]*referral.Referral
	unlocks      map[shared.UserID]map[uuid.UUID]*achievement.Unlock
	achievements map[uuid.UUID]*achievement.Definition

	locksMu     sync.Mutex
	locks       map[shared.UserID]chan struct{}
	lockTimeout time.Duration

	fault FaultFunc
}

var _ ledger.Store = (*Store)(nil)

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		users:        make(map[shared.UserID]*points.User),
		byCode:       make(map[string]shared.UserID),
		referrals:    make(map[shared.UserID]*referral.Referral),
		unlocks:      make(map[shared.UserID]map[uuid.UUID]*achievement.Unlock),
		achievements: make(map[uuid.UUID]*achievement.Definition),
		locks:        make(map[shared.UserID]chan struct{}),
		lockTimeout:  DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetFault replaces the fault injector.
func (s *Store) SetFault(fn FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = fn
}

func (s *Store) injected(op string, userID shared.UserID) error {
	s.mu.RLock()
	fn := s.fault
	s.mu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn(op, userID)
}

// ══════════════════════════════════════════════════════════════════════════════
// LOCKING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Store) lockChan(id shared.UserID) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	ch, ok := s.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[id] = ch
	}
	return ch
}

func (s *Store) acquire(ctx context.Context, ids []shared.UserID) (release func(), err error) {
	held := make([]chan struct{}, 0, len(ids))
	release = func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}

	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	for _, id := range ids {
		ch := s.lockChan(id)
		select {
		case ch <- struct{}{}:
			held = append(held, ch)
		case <-timer.C:
			release()
			return nil, shared.ErrLockTimeout
		case <-ctx.Done():
			release()
			return nil, shared.WrapError("ledger", "Lock", shared.ErrTransient, "context done while waiting for lock", ctx.Err())
		}
	}
	return release, nil
}

func sortedUnique(ids []shared.UserID) []shared.UserID {
	seen := make(map[shared.UserID]bool, len(ids))
	out := make([]shared.UserID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSACTIONS
// ══════════════════════════════════════════════════════════════════════════════

// InTx implements ledger.Store.
func (s *Store) InTx(ctx context.Context, userIDs []shared.UserID, fn func(tx ledger.Tx) error) error {
	ids := sortedUnique(userIDs)

	release, err := s.acquire(ctx, ids)
	if err != nil {
		return err
	}
	defer release()

	tx := &memTx{store: s, users: make(map[shared.UserID]*points.User, len(ids))}
	s.mu.RLock()
	for _, id := range ids {
		u, ok := s.users[id]
		if !ok {
			s.mu.RUnlock()
			return shared.ErrUserNotFound
		}
		tx.users[id] = u.Clone()
	}
	s.mu.RUnlock()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return shared.WrapError("ledger", "Commit", shared.ErrTransient, "transaction deadline exceeded", err)
	}

	s.commit(tx)
	return nil
}

func (s *Store) commit(tx *memTx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range tx.dirty {
		s.users[id] = tx.users[id].Clone()
	}
	s.entries = append(s.entries, tx.entries...)
	for _, r := range tx.referrals {
		s.referrals[r.ReferredID] = r
	}
	for _, u := range tx.unlocks {
		set, ok := s.unlocks[u.UserID]
		if !ok {
			set = make(map[uuid.UUID]*achievement.Unlock)
			s.unlocks[u.UserID] = set
		}
		set[u.AchievementID] = u
	}
}

type memTx struct {
	store     *Store
	users     map[shared.UserID]*points.User
	dirty     map[shared.UserID]bool
	entries   []*points.LedgerEntry
	referrals []*referral.Referral
	unlocks   []*achievement.Unlock
}

type txSnapshot struct {
	users     map[shared.UserID]*points.User
	dirty     map[shared.UserID]bool
	entries   int
	referrals int
	unlocks   int
}

func (t *memTx) snapshot() txSnapshot {
	snap := txSnapshot{
		users:     make(map[shared.UserID]*points.User, len(t.users)),
		dirty:     make(map[shared.UserID]bool, len(t.dirty)),
		entries:   len(t.entries),
		referrals: len(t.referrals),
		unlocks:   len(t.unlocks),
	}
	for id, u := range t.users {
		snap.users[id] = u.Clone()
	}
	for id := range t.dirty {
		snap.dirty[id] = true
	}
	return snap
}

func (t *memTx) restore(snap txSnapshot) {
	t.users = snap.users
	t.dirty = snap.dirty
	t.entries = t.entries[:snap.entries]
	t.referrals = t.referrals[:snap.referrals]
	t.unlocks = t.unlocks[:snap.unlocks]
}

func (t *memTx) LockedUser(id shared.UserID) (*points.User, error) {
	u, ok := t.users[id]
	if !ok {
		return nil, shared.NewDomainError("ledger", "LockedUser", shared.ErrInvalidInput,
			fmt.Sprintf("user %s is not locked by this transaction", id))
	}
	return u.Clone(), nil
}

func (t *memTx) SaveUser(_ context.Context, u *points.User) error {
	if _, ok := t.users[u.ID]; !ok {
		return shared.NewDomainError("ledger", "SaveUser", shared.ErrInvalidInput,
			fmt.Sprintf("user %s is not locked by this transaction", u.ID))
	}
	if err := t.store.injected(OpSaveUser, u.ID); err != nil {
		return err
	}
	if t.dirty == nil {
		t.dirty = make(map[shared.UserID]bool)
	}
	t.users[u.ID] = u.Clone()
	t.dirty[u.ID] = true
	return nil
}

func (t *memTx) AppendEntry(_ context.Context, e *points.LedgerEntry) error {
	if err := t.store.injected(OpAppendEntry, e.UserID); err != nil {
		return err
	}
	t.entries = append(t.entries, e)
	return nil
}

func (t *memTx) matching(f ledger.EntryFilter) []*points.LedgerEntry {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	var out []*points.LedgerEntry
	for _, e := range t.store.entries {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	for _, e := range t.entries {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	return out
}

func (t *memTx) CountEntries(_ context.Context, f ledger.EntryFilter) (int64, error) {
	return int64(len(t.matching(f))), nil
}

func (t *memTx) SumEntries(_ context.Context, f ledger.EntryFilter) (int64, error) {
	var sum int64
	for _, e := range t.matching(f) {
		sum += e.Delta
	}
	return sum, nil
}

func (t *memTx) CountReferrals(_ context.Context, referrer shared.UserID) (int64, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	var n int64
	for _, r := range t.store.referrals {
		if r.ReferrerID == referrer {
			n++
		}
	}
	for _, r := range t.referrals {
		if r.ReferrerID == referrer {
			n++
		}
	}
	return n, nil
}

func (t *memTx) InsertReferral(_ context.Context, r *referral.Referral) error {
	if err := t.store.injected(OpInsertReferral, r.ReferredID); err != nil {
		return err
	}
	t.store.mu.RLock()
	_, exists := t.store.referrals[r.ReferredID]
	t.store.mu.RUnlock()
	if exists {
		return shared.ErrReferralAlreadyBound
	}
	for _, staged := range t.referrals {
		if staged.ReferredID == r.ReferredID {
			return shared.ErrReferralAlreadyBound
		}
	}
	t.referrals = append(t.referrals, r)
	return nil
}

func (t *memTx) ListAchievements(ctx context.Context) ([]*achievement.Definition, error) {
	return t.store.ListAchievements(ctx)
}

func (t *memTx) UnlockedIDs(_ context.Context, userID shared.UserID) (map[uuid.UUID]bool, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	out := make(map[uuid.UUID]bool)
	for id := range t.store.unlocks[userID] {
		out[id] = true
	}
	for _, u := range t.unlocks {
		if u.UserID == userID {
			out[u.AchievementID] = true
		}
	}
	return out, nil
}

func (t *memTx) InsertUnlock(ctx context.Context, u *achievement.Unlock) error {
	if err := t.store.injected(OpInsertUnlock, u.UserID); err != nil {
		return err
	}
	unlocked, err := t.UnlockedIDs(ctx, u.UserID)
	if err != nil {
		return err
	}
	if unlocked[u.AchievementID] {
		return shared.ErrDuplicateUnlock
	}
	t.unlocks = append(t.unlocks, u)
	return nil
}

func (t *memTx) Savepoint(_ context.Context, fn func(tx ledger.Tx) error) error {
	snap := t.snapshot()
	if err := fn(t); err != nil {
		t.restore(snap)
		return err
	}
	return nil
}
