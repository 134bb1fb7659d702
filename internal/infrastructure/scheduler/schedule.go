package scheduler

import "time"

// MinInterval is the shortest interval Every accepts.
const MinInterval = time.Second

// Interval is a fixed-period schedule.
type Interval struct {
	Period time.Duration

	// AtStart makes the first run due at registration.
	AtStart bool
}

// Every returns an Interval, raising periods below MinInterval to it.
func Every(period time.Duration) Interval {
	if period < MinInterval {
		period = MinInterval
	}
	return Interval{Period: period}
}

// Immediately returns a copy whose first run is due at once.
func (i Interval) Immediately() Interval {
	i.AtStart = true
	return i
}

func (i Interval) Next(after time.Time) time.Time { return after.Add(i.Period) }

func (i Interval) String() string { return "@every " + i.Period.String() }

// firstRun returns the due time of a newly registered job.
func firstRun(s Schedule, now time.Time) time.Time {
	if i, ok := s.(Interval); ok && i.AtStart {
		return now
	}
	return s.Next(now)
}
