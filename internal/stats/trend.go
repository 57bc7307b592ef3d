package stats

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

const dayLayout = "2006-01-02"

// dayKey buckets an instant into its UTC calendar day.
func dayKey(t time.Time) string {
	return t.UTC().Format(dayLayout)
}

// windowStart returns UTC midnight of the first day in an N-day window
// ending today.
func windowStart(now time.Time, days int) time.Time {
	today := now.UTC()
	return time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -days+1)
}

// DayCount is one point of a dense daily trend.
type DayCount struct {
	Date  string
	Count int64
}

// denseDays expands per-day counts into a contiguous window with zero fill.
// Consumers treat a missing day as an error, so the trend always carries
// exactly `days` points.
func denseDays(counts map[string]int64, now time.Time, days int) []DayCount {
	start := windowStart(now, days)
	out := make([]DayCount, 0, days)
	for d := 0; d < days; d++ {
		key := start.AddDate(0, 0, d).Format(dayLayout)
		out = append(out, DayCount{Date: key, Count: counts[key]})
	}
	return out
}

// NameValue is a single bar of a distribution chart.
type NameValue struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

// topCounts sorts a group-by-count map descending and keeps the first n.
// Ties break alphabetically so results are deterministic.
func topCounts(counts map[string]int64, n int) []NameValue {
	out := make([]NameValue, 0, len(counts))
	for name, value := range counts {
		out = append(out, NameValue{Name: name, Value: value})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// formatPercent renders numerator/denominator as a percentage string with up
// to two decimal places. A zero denominator is not a fault; it renders "0%".
func formatPercent(num, den int64) string {
	if den == 0 || num == 0 {
		return "0%"
	}
	rate := float64(num) / float64(den) * 100
	s := strconv.FormatFloat(rate, 'f', 2, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	return s + "%"
}

// round1 rounds to one decimal place.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Trend direction labels for crash groups.
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
)

// trendDirection compares activity in the last seven days against the seven
// days before that. Equal counts, including both zero, are stable.
func trendDirection(recent, previous int64) string {
	switch {
	case recent > previous:
		return TrendIncreasing
	case recent < previous:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

// relativeTime renders an instant as a coarse human label; the largest
// nonzero unit wins.
func relativeTime(t, now time.Time) string {
	elapsed := now.Sub(t)
	switch {
	case elapsed >= 24*time.Hour:
		return fmt.Sprintf("%d days ago", int(elapsed.Hours()/24))
	case elapsed >= time.Hour:
		return fmt.Sprintf("%d hours ago", int(elapsed.Hours()))
	case elapsed >= time.Minute:
		return fmt.Sprintf("%d minutes ago", int(elapsed.Minutes()))
	default:
		return "just now"
	}
}
