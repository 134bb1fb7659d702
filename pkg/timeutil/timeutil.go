// Package timeutil holds the UTC calendar arithmetic of the points engine.
// Daily limits, streak days and leaderboard windows all count UTC days, so
// every helper converts to UTC first.
package timeutil

import "time"

// DateLayout is how days appear in API responses.
const DateLayout = time.DateOnly

// Now is the engine's default clock.
func Now() time.Time {
	return time.Now().UTC()
}

// Date is midnight UTC of the given day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// StartOfDay is midnight UTC of the day t falls on in UTC.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return Date(y, m, d)
}

// StartOfWeek is midnight UTC of the Monday starting t's ISO week.
func StartOfWeek(t time.Time) time.Time {
	day := StartOfDay(t)
	back := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -back)
}

// StartOfMonth is midnight UTC of the first of t's month.
func StartOfMonth(t time.Time) time.Time {
	y, m, _ := t.UTC().Date()
	return Date(y, m, 1)
}

func IsSameDay(a, b time.Time) bool {
	return StartOfDay(a).Equal(StartOfDay(b))
}

// IsConsecutiveDay reports whether b falls on the UTC day right after a.
func IsConsecutiveDay(a, b time.Time) bool {
	return StartOfDay(a).AddDate(0, 0, 1).Equal(StartOfDay(b))
}

// FormatDateStr renders t's UTC day as YYYY-MM-DD.
func FormatDateStr(t time.Time) string {
	return t.UTC().Format(DateLayout)
}
