package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFormatPercent(t *testing.T) {
	require.Equal(t, "0%", formatPercent(0, 0))
	require.Equal(t, "0%", formatPercent(5, 0))
	require.Equal(t, "0%", formatPercent(0, 5))
	require.Equal(t, "50%", formatPercent(1, 2))
	require.Equal(t, "33.33%", formatPercent(1, 3))
	require.Equal(t, "12.5%", formatPercent(1, 8))
	require.Equal(t, "100%", formatPercent(5, 5))
	require.Equal(t, "66.67%", formatPercent(2, 3))
}

func TestRound1(t *testing.T) {
	require.Equal(t, 163.3, round1(163.333))
	require.Equal(t, 0.5, round1(0.45))
	require.Equal(t, -1.2, round1(-1.24))
}

func TestDenseDays(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	counts := map[string]int64{
		"2026-03-15": 4,
		"2026-03-10": 2,
		"2026-01-01": 9, // outside the window, ignored
	}
	points := denseDays(counts, now, trendDays)
	require.Len(t, points, trendDays)
	require.Equal(t, "2026-02-14", points[0].Date)
	require.Equal(t, "2026-03-15", points[len(points)-1].Date)
	require.EqualValues(t, 4, points[len(points)-1].Count)

	byDate := map[string]int64{}
	for _, p := range points {
		byDate[p.Date] = p.Count
	}
	require.EqualValues(t, 2, byDate["2026-03-10"])
	require.EqualValues(t, 0, byDate["2026-03-01"])
}

func TestDayKeyNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	// 01:30 on the 16th in UTC+9 is still the 15th in UTC.
	require.Equal(t, "2026-03-15", dayKey(time.Date(2026, 3, 16, 1, 30, 0, 0, loc)))
}

func TestTopCounts(t *testing.T) {
	counts := map[string]int64{"view": 5, "click": 10, "scroll": 5, "open": 1}
	top := topCounts(counts, 3)
	require.Equal(t, []NameValue{
		{Name: "click", Value: 10},
		{Name: "scroll", Value: 5}, // ties break alphabetically
		{Name: "view", Value: 5},
	}, top)
}

func TestTrendDirection(t *testing.T) {
	require.Equal(t, TrendIncreasing, trendDirection(5, 2))
	require.Equal(t, TrendDecreasing, trendDirection(1, 2))
	require.Equal(t, TrendStable, trendDirection(3, 3))
	require.Equal(t, TrendStable, trendDirection(0, 0))
}

func TestRelativeTime(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	require.Equal(t, "3 days ago", relativeTime(now.Add(-72*time.Hour), now))
	require.Equal(t, "1 days ago", relativeTime(now.Add(-25*time.Hour), now))
	require.Equal(t, "5 hours ago", relativeTime(now.Add(-5*time.Hour), now))
	require.Equal(t, "10 minutes ago", relativeTime(now.Add(-10*time.Minute), now))
	require.Equal(t, "just now", relativeTime(now.Add(-30*time.Second), now))
}

func TestBucketIndex(t *testing.T) {
	cases := map[int64]string{
		0:    "<1min",
		59:   "<1min",
		60:   "1-5min",
		299:  "1-5min",
		300:  "5-15min",
		899:  "5-15min",
		900:  "15-30min",
		1799: "15-30min",
		1800: ">30min",
		7200: ">30min",
	}
	for seconds, label := range cases {
		require.Equal(t, label, durationBuckets[bucketIndex(seconds)].Label, "duration %ds", seconds)
	}
}
