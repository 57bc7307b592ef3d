package stats

import (
	"context"
	"time"

	"pulse-analytics/internal/apierr"
	"pulse-analytics/internal/model"
	"pulse-analytics/internal/store"
)

// retentionOffsets are the day offsets reported in retention cohorts.
var retentionOffsets = []int{1, 3, 7, 14, 30}

// UserList is the response for a user listing.
type UserList struct {
	PackageName string       `json:"package_name"`
	Users       []model.User `json:"users"`
	Count       int          `json:"count"`
}

// ListUsers returns users for a package, most recently active first. With
// activeOnly set, only users active within the trailing seven days appear.
func (s *Service) ListUsers(ctx context.Context, pkg string, limit int, activeOnly bool) (*UserList, error) {
	if err := s.checkStore(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	var f store.Filter
	if activeOnly {
		f = store.Filter{store.Gte("last_active", s.now().UTC().Add(-activeWindow))}
	}
	users := []model.User{}
	coll := s.store.Collection(pkg, model.KindUser)
	if err := coll.Find(ctx, f, store.FindOptions{SortField: "last_active", Desc: true, Limit: limit}, &users); err != nil {
		return nil, apierr.Internalf(err, "Failed to retrieve users")
	}
	return &UserList{PackageName: pkg, Users: users, Count: len(users)}, nil
}

// DailyUsers is one day of the user growth trend.
type DailyUsers struct {
	Date  string `json:"date"`
	Users int64  `json:"users"`
}

// RetentionPoint is the retention measurement at one day offset.
type RetentionPoint struct {
	Days          int     `json:"days"`
	RetainedUsers int64   `json:"retained_users"`
	CohortSize    int64   `json:"cohort_size"`
	RetentionRate float64 `json:"retention_rate"`
}

// CountryUsers is one bar of the geographic distribution.
type CountryUsers struct {
	Country string `json:"country"`
	Users   int64  `json:"users"`
}

// UserStats is the dashboard report for users.
type UserStats struct {
	PackageName      string           `json:"package_name"`
	TotalUsers       int64            `json:"total_users"`
	ActiveUsers      int64            `json:"active_users"`
	NewUsersToday    int64            `json:"new_users_today"`
	UserGrowth       []DailyUsers     `json:"user_growth"`
	UserRetention    []RetentionPoint `json:"user_retention"`
	GeographicSpread []CountryUsers   `json:"geographic_distribution"`
}

// GetUserStats aggregates the user report: totals, daily growth over the
// trailing 30 days, cohort retention and the top countries.
func (s *Service) GetUserStats(ctx context.Context, pkg string) (*UserStats, error) {
	if err := s.checkStore(ctx); err != nil {
		return nil, err
	}
	var users []model.User
	coll := s.store.Collection(pkg, model.KindUser)
	if err := coll.Find(ctx, nil, store.FindOptions{}, &users); err != nil {
		return nil, apierr.Internalf(err, "Failed to get user statistics")
	}

	now := s.now().UTC()
	todayStart := windowStart(now, 1)
	growthStart := windowStart(now, trendDays)
	activeSince := now.Add(-activeWindow)

	var active, newToday int64
	growth := map[string]int64{}
	countries := map[string]int64{}
	for _, u := range users {
		if !u.LastActive.Before(activeSince) {
			active++
		}
		if !u.FirstSeen.Before(todayStart) {
			newToday++
		}
		if !u.FirstSeen.Before(growthStart) {
			growth[dayKey(u.FirstSeen)]++
		}
		country := u.Country
		if country == "" {
			country = "Unknown"
		}
		countries[country]++
	}

	dailyGrowth := make([]DailyUsers, 0, trendDays)
	for _, point := range denseDays(growth, now, trendDays) {
		dailyGrowth = append(dailyGrowth, DailyUsers{Date: point.Date, Users: point.Count})
	}

	geo := make([]CountryUsers, 0, 10)
	for _, nv := range topCounts(countries, 10) {
		geo = append(geo, CountryUsers{Country: nv.Name, Users: nv.Value})
	}

	return &UserStats{
		PackageName:      pkg,
		TotalUsers:       int64(len(users)),
		ActiveUsers:      active,
		NewUsersToday:    newToday,
		UserGrowth:       dailyGrowth,
		UserRetention:    retention(users, now),
		GeographicSpread: geo,
	}, nil
}

// retention measures how much of the mature cohort (users first seen more
// than 30 days ago) came back at each offset. An empty cohort yields an empty
// result, never zero-filled entries.
func retention(users []model.User, now time.Time) []RetentionPoint {
	cohortCutoff := now.AddDate(0, 0, -trendDays)
	var cohort []model.User
	for _, u := range users {
		if u.FirstSeen.Before(cohortCutoff) {
			cohort = append(cohort, u)
		}
	}
	out := []RetentionPoint{}
	if len(cohort) == 0 {
		return out
	}
	for _, offset := range retentionOffsets {
		var retained int64
		for _, u := range cohort {
			if !u.LastActive.Before(u.FirstSeen.AddDate(0, 0, offset)) {
				retained++
			}
		}
		rate := round1(float64(retained) / float64(len(cohort)) * 100)
		out = append(out, RetentionPoint{
			Days:          offset,
			RetainedUsers: retained,
			CohortSize:    int64(len(cohort)),
			RetentionRate: rate,
		})
	}
	return out
}
