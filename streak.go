package main

import "time"

// truncateToDay drops the time-of-day component. All streak accounting is
// done at UTC day granularity.
func truncateToDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func sameDay(a, b time.Time) bool {
	return truncateToDay(a).Equal(truncateToDay(b))
}

// nextStreak applies the consecutive-day rule: no prior activity starts a
// streak at 1, activity yesterday extends it, activity today leaves it
// unchanged, and any gap of two or more days resets it to 1.
func nextStreak(last *time.Time, now time.Time, current int64) int64 {
	if last == nil {
		return 1
	}

	lastDay := truncateToDay(*last)
	today := truncateToDay(now)

	switch {
	case lastDay.Equal(today):
		return current
	case lastDay.Equal(today.AddDate(0, 0, -1)):
		return current + 1
	default:
		return 1
	}
}

func maxStreak(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
