package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStartOfDay_UsesUTC(t *testing.T) {
	almaty := time.FixedZone("Asia/Almaty", 5*60*60)
	// 02:00 in Almaty is still the previous day in UTC.
	local := time.Date(2025, 3, 10, 2, 0, 0, 0, almaty)

	assert.Equal(t, time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC), StartOfDay(local))
}

func TestStartOfWeek(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{"monday", time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC), Date(2025, 3, 10)},
		{"wednesday", time.Date(2025, 3, 12, 1, 0, 0, 0, time.UTC), Date(2025, 3, 10)},
		{"sunday", time.Date(2025, 3, 16, 23, 59, 0, 0, time.UTC), Date(2025, 3, 10)},
		{"across months", time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC), Date(2025, 2, 24)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StartOfWeek(tt.in))
		})
	}
}

func TestStartOfMonth(t *testing.T) {
	assert.Equal(t, Date(2024, 2, 1), StartOfMonth(time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC)))
}

func TestIsConsecutiveDay(t *testing.T) {
	a := time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC)
	b := time.Date(2026, 1, 1, 0, 30, 0, 0, time.UTC)

	assert.True(t, IsConsecutiveDay(a, b))
	assert.False(t, IsConsecutiveDay(b, a))
	assert.False(t, IsConsecutiveDay(a, b.AddDate(0, 0, 1)))
	assert.True(t, IsSameDay(b, b.Add(20*time.Hour)))
}

func TestFormatDateStr(t *testing.T) {
	almaty := time.FixedZone("Asia/Almaty", 5*60*60)
	assert.Equal(t, "2025-05-31", FormatDateStr(time.Date(2025, 6, 1, 3, 0, 0, 0, almaty)))
	assert.Equal(t, "2025-06-01", FormatDateStr(Date(2025, 6, 1).Add(5*time.Hour)))
}
