package stats

import (
	"context"

	"pulse-analytics/internal/apierr"
	"pulse-analytics/internal/model"
	"pulse-analytics/internal/store"
)

// durationBuckets are the lower bounds (seconds, inclusive) of the session
// duration distribution; each bucket runs up to the next bound, exclusive.
var durationBuckets = []struct {
	Lower int64
	Label string
}{
	{0, "<1min"},
	{60, "1-5min"},
	{300, "5-15min"},
	{900, "15-30min"},
	{1800, ">30min"},
}

// SessionList is the response for a session listing.
type SessionList struct {
	PackageName string          `json:"package_name"`
	Sessions    []model.Session `json:"sessions"`
	Count       int             `json:"count"`
}

// ListSessions returns sessions for a package, newest first, optionally
// restricted to completed ones.
func (s *Service) ListSessions(ctx context.Context, pkg string, limit int, completedOnly bool) (*SessionList, error) {
	if err := s.checkStore(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	var f store.Filter
	if completedOnly {
		f = store.Filter{store.Exists("end_time")}
	}
	sessions := []model.Session{}
	coll := s.store.Collection(pkg, model.KindSession)
	if err := coll.Find(ctx, f, store.FindOptions{SortField: "start_time", Desc: true, Limit: limit}, &sessions); err != nil {
		return nil, apierr.Internalf(err, "Failed to retrieve sessions")
	}
	return &SessionList{PackageName: pkg, Sessions: sessions, Count: len(sessions)}, nil
}

// DurationBucket is one labeled bar of the duration distribution.
type DurationBucket struct {
	Bucket string `json:"bucket"`
	Count  int64  `json:"count"`
}

// DailySessions is one day of the session trend.
type DailySessions struct {
	Date     string `json:"date"`
	Sessions int64  `json:"sessions"`
}

// CleanupInfo reports the sweep that ran before the statistics read.
type CleanupInfo struct {
	SessionsClosed int    `json:"sessions_closed"`
	SessionTimeout string `json:"session_timeout"`
}

// SessionStats is the dashboard report for sessions.
type SessionStats struct {
	PackageName          string           `json:"package_name"`
	TotalSessions        int64            `json:"total_sessions"`
	CompletedSessions    int64            `json:"completed_sessions"`
	CompletionRate       string           `json:"completion_rate"`
	AvgSessionDuration   float64          `json:"average_session_duration"`
	DurationDistribution []DurationBucket `json:"session_duration_distribution"`
	DailySessions        []DailySessions  `json:"daily_sessions"`
	CleanupInfo          CleanupInfo      `json:"cleanup_info"`
}

// GetSessionStats aggregates the session report. The stale-session sweep runs
// first, inline, so the numbers never include sessions left open past the
// timeout.
func (s *Service) GetSessionStats(ctx context.Context, pkg string) (*SessionStats, error) {
	if err := s.checkStore(ctx); err != nil {
		return nil, err
	}
	info := CleanupInfo{}
	if s.sweeper != nil {
		closed, err := s.sweeper.Sweep(ctx, pkg)
		if err != nil {
			return nil, apierr.Internalf(err, "Failed to get session statistics")
		}
		info = CleanupInfo{SessionsClosed: closed, SessionTimeout: s.sweeper.Timeout().String()}
	}

	var sessions []model.Session
	coll := s.store.Collection(pkg, model.KindSession)
	if err := coll.Find(ctx, nil, store.FindOptions{}, &sessions); err != nil {
		return nil, apierr.Internalf(err, "Failed to get session statistics")
	}

	now := s.now()
	start := windowStart(now, trendDays)
	var completed, durationSum int64
	bucketCounts := make([]int64, len(durationBuckets))
	byDay := map[string]int64{}
	for _, sess := range sessions {
		if !sess.StartTime.Before(start) {
			byDay[dayKey(sess.StartTime)]++
		}
		if sess.DurationSeconds == nil {
			continue
		}
		completed++
		d := *sess.DurationSeconds
		durationSum += d
		bucketCounts[bucketIndex(d)]++
	}

	distribution := make([]DurationBucket, len(durationBuckets))
	for i, b := range durationBuckets {
		distribution[i] = DurationBucket{Bucket: b.Label, Count: bucketCounts[i]}
	}
	avg := 0.0
	if completed > 0 {
		avg = round1(float64(durationSum) / float64(completed))
	}

	daily := make([]DailySessions, 0, trendDays)
	for _, point := range denseDays(byDay, now, trendDays) {
		daily = append(daily, DailySessions{Date: point.Date, Sessions: point.Count})
	}

	return &SessionStats{
		PackageName:          pkg,
		TotalSessions:        int64(len(sessions)),
		CompletedSessions:    completed,
		CompletionRate:       formatPercent(completed, int64(len(sessions))),
		AvgSessionDuration:   avg,
		DurationDistribution: distribution,
		DailySessions:        daily,
		CleanupInfo:          info,
	}, nil
}

// bucketIndex assigns a duration to its bucket; bounds are lower-inclusive,
// upper-exclusive, so exactly 60s lands in 1-5min.
func bucketIndex(seconds int64) int {
	for i := len(durationBuckets) - 1; i >= 0; i-- {
		if seconds >= durationBuckets[i].Lower {
			return i
		}
	}
	return 0
}
