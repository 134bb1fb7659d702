// Package leaderboard содержит доменную модель лидерборда: периоды, окна
// в UTC и ранжирование с общим рангом при равенстве очков.
package leaderboard

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bonkcomputer/points-engine/internal/domain/shared"
	"github.com/bonkcomputer/points-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// PERIOD
// ══════════════════════════════════════════════════════════════════════════════

// Period определяет временное окно лидерборда.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
	PeriodAllTime Period = "all_time"
)

// ParsePeriod разбирает период; пустая строка означает all_time.
func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PeriodAllTime, nil
	case PeriodDaily, PeriodWeekly, PeriodMonthly, PeriodAllTime:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown period %q", ErrInvalidPeriod, s)
	}
}

// String возвращает строковое представление.
func (p Period) String() string {
	return string(p)
}

// Window - полуоткрытый интервал [Start, End) в UTC.
// Для all_time окно пустое и считается по агрегату.
type Window struct {
	Period Period
	Start  time.Time
	End    time.Time
}

// IsAllTime возвращает true для окна без границ.
func (w Window) IsAllTime() bool {
	return w.Period == PeriodAllTime
}

// Contains проверяет, попадает ли момент в окно.
func (w Window) Contains(t time.Time) bool {
	if w.IsAllTime() {
		return true
	}
	return !t.Before(w.Start) && t.Before(w.End)
}

// WindowFor возвращает окно периода, содержащее now.
// Неделя начинается в понедельник (ISO).
func WindowFor(p Period, now time.Time) Window {
	switch p {
	case PeriodDaily:
		start := timeutil.StartOfDay(now)
		return Window{Period: p, Start: start, End: start.AddDate(0, 0, 1)}
	case PeriodWeekly:
		start := timeutil.StartOfWeek(now)
		return Window{Period: p, Start: start, End: start.AddDate(0, 0, 7)}
	case PeriodMonthly:
		start := timeutil.StartOfMonth(now)
		return Window{Period: p, Start: start, End: start.AddDate(0, 1, 0)}
	default:
		return Window{Period: PeriodAllTime}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTRY
// ══════════════════════════════════════════════════════════════════════════════

// Entry - строка лидерборда. Points - очки за окно (или итог для all_time).
type Entry struct {
	Rank        int64         `json:"rank"`
	UserID      shared.UserID `json:"user_id"`
	DisplayName string        `json:"display_name"`
	Points      int64         `json:"points"`
	CreatedAt   time.Time     `json:"-"`
}

// Less задаёт порядок вывода: очки по убыванию, затем время создания, затем id.
func Less(a, b *Entry) bool {
	if a.Points != b.Points {
		return a.Points > b.Points
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.UserID < b.UserID
}

// ══════════════════════════════════════════════════════════════════════════════
// RANKING (Ranked List)
// ══════════════════════════════════════════════════════════════════════════════

// Ranking - полный отсортированный список участников окна.
// Участвуют только пользователи с очками > 0.
type Ranking struct {
	entries []*Entry
	byID    map[shared.UserID]*Entry
}

// NewRanking создаёт пустой Ranking.
func NewRanking() *Ranking {
	return &Ranking{
		entries: make([]*Entry, 0),
		byID:    make(map[shared.UserID]*Entry),
	}
}

// Add добавляет запись (без сортировки). Записи с очками <= 0 пропускаются.
func (r *Ranking) Add(entry *Entry) error {
	if entry == nil {
		return ErrNilEntry
	}
	if _, exists := r.byID[entry.UserID]; exists {
		return ErrDuplicateUser
	}
	if entry.Points <= 0 {
		return nil
	}

	r.entries = append(r.entries, entry)
	r.byID[entry.UserID] = entry
	return nil
}

// Sort сортирует записи и присваивает ранги.
// Ранг = 1 + число участников со строго большим количеством очков,
// поэтому равные очки делят ранг.
func (r *Ranking) Sort() {
	sort.Slice(r.entries, func(i, j int) bool {
		return Less(r.entries[i], r.entries[j])
	})

	for i, entry := range r.entries {
		if i > 0 && entry.Points == r.entries[i-1].Points {
			entry.Rank = r.entries[i-1].Rank
		} else {
			entry.Rank = int64(i + 1)
		}
	}
}

// Get возвращает запись пользователя или nil.
func (r *Ranking) Get(userID shared.UserID) *Entry {
	return r.byID[userID]
}

// Top возвращает первые n записей.
func (r *Ranking) Top(n int) []*Entry {
	if n <= 0 || n > len(r.entries) {
		n = len(r.entries)
	}
	out := make([]*Entry, n)
	copy(out, r.entries[:n])
	return out
}

// Count возвращает размер популяции.
func (r *Ranking) Count() int {
	return len(r.entries)
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrInvalidPeriod - неизвестный период.
	ErrInvalidPeriod = shared.NewDomainError("leaderboard", "Validate", shared.ErrInvalidInput, "invalid period")

	// ErrNilEntry - попытка добавить nil запись.
	ErrNilEntry = errors.New("cannot add nil entry")

	// ErrDuplicateUser - пользователь уже есть в рейтинге.
	ErrDuplicateUser = errors.New("user already exists in ranking")
)
