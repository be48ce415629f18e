package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextStreakFirstActivity(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)
	assert.Equal(t, int64(1), nextStreak(nil, now, 0))
}

func TestNextStreakSameDayUnchanged(t *testing.T) {
	now := time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC)
	earlier := time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, int64(4), nextStreak(&earlier, now, 4))
}

func TestNextStreakConsecutiveDayExtends(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 5, 0, 0, time.UTC)
	yesterday := time.Date(2026, 3, 9, 23, 55, 0, 0, time.UTC)
	assert.Equal(t, int64(5), nextStreak(&yesterday, now, 4))
}

func TestNextStreakGapResets(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	twoDaysAgo := time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, int64(1), nextStreak(&twoDaysAgo, now, 9))

	lastMonth := now.AddDate(0, -1, 0)
	assert.Equal(t, int64(1), nextStreak(&lastMonth, now, 30))
}

func TestNextStreakDayBoundaryNotDuration(t *testing.T) {
	// 23:59 yesterday to 00:01 today is two minutes apart but still
	// counts as consecutive days.
	now := time.Date(2026, 3, 10, 0, 1, 0, 0, time.UTC)
	last := time.Date(2026, 3, 9, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, int64(2), nextStreak(&last, now, 1))

	// 01:00 yesterday to 23:00 today is almost 48 hours apart but still
	// consecutive days.
	now = time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)
	last = time.Date(2026, 3, 9, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, int64(2), nextStreak(&last, now, 1))
}

func TestSameDay(t *testing.T) {
	a := time.Date(2026, 3, 10, 0, 0, 1, 0, time.UTC)
	b := time.Date(2026, 3, 10, 23, 59, 59, 0, time.UTC)
	assert.True(t, sameDay(a, b))

	c := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	assert.False(t, sameDay(b, c))
}

func TestTruncateToDayNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	local := time.Date(2026, 3, 10, 3, 0, 0, 0, loc)
	got := truncateToDay(local)
	assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), got)
}

func TestMaxStreak(t *testing.T) {
	assert.Equal(t, int64(7), maxStreak(7, 3))
	assert.Equal(t, int64(7), maxStreak(3, 7))
	assert.Equal(t, int64(7), maxStreak(7, 7))
}
