package stats

import (
	"context"
	"sort"
	"time"

	"pulse-analytics/internal/apierr"
	"pulse-analytics/internal/model"
	"pulse-analytics/internal/store"
)

// CrashList is the response for a crash group listing.
type CrashList struct {
	PackageName string             `json:"package_name"`
	Crashes     []model.CrashGroup `json:"crashes"`
	Count       int                `json:"count"`
}

// ListCrashes returns crash groups for a package. sortBy accepts "count" or
// "last_seen" (the default), both descending.
func (s *Service) ListCrashes(ctx context.Context, pkg string, limit int, sortBy string) (*CrashList, error) {
	if err := s.checkStore(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	switch sortBy {
	case "count", "last_seen":
	case "":
		sortBy = "last_seen"
	default:
		return nil, apierr.Validationf("Invalid sort_by %q: must be count or last_seen", sortBy)
	}
	crashes := []model.CrashGroup{}
	coll := s.store.Collection(pkg, model.KindCrash)
	if err := coll.Find(ctx, nil, store.FindOptions{SortField: sortBy, Desc: true, Limit: limit}, &crashes); err != nil {
		return nil, apierr.Internalf(err, "Failed to retrieve crashes")
	}
	return &CrashList{PackageName: pkg, Crashes: crashes, Count: len(crashes)}, nil
}

// DailyCrashes is one day of the crash trend.
type DailyCrashes struct {
	Date    string `json:"date"`
	Crashes int64  `json:"crashes"`
}

// DailyCrashRate relates crashes to sessions for one day.
type DailyCrashRate struct {
	Date     string `json:"date"`
	Crashes  int64  `json:"crashes"`
	Sessions int64  `json:"sessions"`
	Rate     string `json:"rate"`
}

// DeviceCrashes is one bar of the device crash pattern.
type DeviceCrashes struct {
	Device  string `json:"device"`
	Crashes int64  `json:"crashes"`
}

// CrashImpact ranks one crash group by how widely it hurts.
type CrashImpact struct {
	ErrorType     string `json:"error_type"`
	ErrorMessage  string `json:"error_message"`
	Count         int64  `json:"count"`
	AffectedUsers int64  `json:"affected_users"`
	ImpactScore   int64  `json:"impact_score"`
	Trend         string `json:"trend"`
	LastSeen      string `json:"last_seen"`
}

// RecentCrash is one row of the recent crash feed.
type RecentCrash struct {
	ErrorType    string `json:"error_type"`
	ErrorMessage string `json:"error_message"`
	Count        int64  `json:"count"`
	LastSeen     string `json:"last_seen"`
}

// CrashStats is the dashboard report for crashes.
type CrashStats struct {
	PackageName     string           `json:"package_name"`
	TotalCrashTypes int64            `json:"total_crash_types"`
	TotalCrashes    int64            `json:"total_crashes"`
	CrashRate       string           `json:"crash_rate"`
	DailyTrends     []DailyCrashes   `json:"daily_crash_trends"`
	RateTrends      []DailyCrashRate `json:"crash_rate_trends"`
	DevicePatterns  []DeviceCrashes  `json:"device_crash_patterns"`
	TopByImpact     []CrashImpact    `json:"top_crashes_by_impact"`
	RecentCrashes   []RecentCrash    `json:"recent_crashes"`
}

// GetCrashStats aggregates the crash report: totals, the overall crash rate
// against sessions, daily occurrence and rate trends, device patterns, the
// impact ranking and the recent feed.
func (s *Service) GetCrashStats(ctx context.Context, pkg string) (*CrashStats, error) {
	if err := s.checkStore(ctx); err != nil {
		return nil, err
	}
	var groups []model.CrashGroup
	if err := s.store.Collection(pkg, model.KindCrash).Find(ctx, nil, store.FindOptions{}, &groups); err != nil {
		return nil, apierr.Internalf(err, "Failed to get crash statistics")
	}
	var sessions []model.Session
	if err := s.store.Collection(pkg, model.KindSession).Find(ctx, nil, store.FindOptions{}, &sessions); err != nil {
		return nil, apierr.Internalf(err, "Failed to get crash statistics")
	}

	now := s.now().UTC()
	start := windowStart(now, trendDays)
	weekAgo := now.AddDate(0, 0, -7)
	twoWeeksAgo := now.AddDate(0, 0, -14)

	var totalCrashes int64
	crashesByDay := map[string]int64{}
	devices := map[string]int64{}
	impacts := make([]CrashImpact, 0, len(groups))
	for _, g := range groups {
		totalCrashes += g.Count
		users := map[string]bool{}
		var recent, previous int64
		for _, occ := range g.Occurrences {
			if !occ.Timestamp.Before(start) {
				crashesByDay[dayKey(occ.Timestamp)]++
			}
			devices[deviceModel(occ.DeviceInfo)]++
			if occ.UserID != "" {
				users[occ.UserID] = true
			}
			if !occ.Timestamp.Before(weekAgo) {
				recent++
			} else if !occ.Timestamp.Before(twoWeeksAgo) {
				previous++
			}
		}
		affected := int64(len(users))
		impacts = append(impacts, CrashImpact{
			ErrorType:     g.ErrorType,
			ErrorMessage:  g.ErrorMessage,
			Count:         g.Count,
			AffectedUsers: affected,
			ImpactScore:   g.Count * affected,
			Trend:         trendDirection(recent, previous),
			LastSeen:      relativeTime(g.LastSeen, now),
		})
	}

	sessionsByDay := map[string]int64{}
	for _, sess := range sessions {
		if !sess.StartTime.Before(start) {
			sessionsByDay[dayKey(sess.StartTime)]++
		}
	}

	daily := make([]DailyCrashes, 0, trendDays)
	rates := make([]DailyCrashRate, 0, trendDays)
	for _, point := range denseDays(crashesByDay, now, trendDays) {
		daily = append(daily, DailyCrashes{Date: point.Date, Crashes: point.Count})
		dailySessions := sessionsByDay[point.Date]
		rates = append(rates, DailyCrashRate{
			Date:     point.Date,
			Crashes:  point.Count,
			Sessions: dailySessions,
			Rate:     formatPercent(point.Count, dailySessions),
		})
	}

	devicePatterns := make([]DeviceCrashes, 0, 10)
	for _, nv := range topCounts(devices, 10) {
		devicePatterns = append(devicePatterns, DeviceCrashes{Device: nv.Name, Crashes: nv.Value})
	}

	sort.Slice(impacts, func(i, j int) bool {
		if impacts[i].ImpactScore != impacts[j].ImpactScore {
			return impacts[i].ImpactScore > impacts[j].ImpactScore
		}
		return impacts[i].Count > impacts[j].Count
	})
	top := impacts
	if len(top) > 10 {
		top = top[:10]
	}

	return &CrashStats{
		PackageName:     pkg,
		TotalCrashTypes: int64(len(groups)),
		TotalCrashes:    totalCrashes,
		CrashRate:       formatPercent(totalCrashes, int64(len(sessions))),
		DailyTrends:     daily,
		RateTrends:      rates,
		DevicePatterns:  devicePatterns,
		TopByImpact:     top,
		RecentCrashes:   recentCrashes(groups, now),
	}, nil
}

// recentCrashes sorts groups by last occurrence, newest first.
func recentCrashes(groups []model.CrashGroup, now time.Time) []RecentCrash {
	sorted := append([]model.CrashGroup(nil), groups...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].LastSeen.After(sorted[j].LastSeen)
	})
	if len(sorted) > 10 {
		sorted = sorted[:10]
	}
	out := make([]RecentCrash, 0, len(sorted))
	for _, g := range sorted {
		out = append(out, RecentCrash{
			ErrorType:    g.ErrorType,
			ErrorMessage: g.ErrorMessage,
			Count:        g.Count,
			LastSeen:     relativeTime(g.LastSeen, now),
		})
	}
	return out
}

func deviceModel(info map[string]any) string {
	if model, ok := info["model"].(string); ok && model != "" {
		return model
	}
	return "unknown"
}
