package stats

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"pulse-analytics/internal/cleanup"
	"pulse-analytics/internal/model"
	"pulse-analytics/internal/store"
)

const testPkg = "com.example.app"

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, sweeper *cleanup.Sweeper) (*Service, *store.DB) {
	t.Helper()
	db, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	svc := New(db, sweeper, zerolog.Nop())
	svc.now = func() time.Time { return testNow }
	return svc, db
}

func insertEvent(t *testing.T, db *store.DB, eventType string, ts time.Time) {
	t.Helper()
	evt := model.Event{
		ID:         uuid.NewString(),
		EventType:  eventType,
		Timestamp:  ts,
		Properties: map[string]any{},
		DeviceInfo: map[string]any{},
		CreatedAt:  ts,
	}
	require.NoError(t, db.Collection(testPkg, model.KindEvent).Insert(context.Background(), evt))
}

func insertUser(t *testing.T, db *store.DB, userID, country string, firstSeen, lastActive time.Time) {
	t.Helper()
	u := model.User{
		ID:         uuid.NewString(),
		UserID:     userID,
		FirstSeen:  firstSeen,
		LastActive: lastActive,
		Country:    country,
		DeviceInfo: map[string]any{},
		Properties: map[string]any{},
		CreatedAt:  firstSeen,
		UpdatedAt:  lastActive,
	}
	require.NoError(t, db.Collection(testPkg, model.KindUser).Insert(context.Background(), u))
}

func insertSession(t *testing.T, db *store.DB, sessionID string, start time.Time, durationSeconds *int64) {
	t.Helper()
	sess := model.Session{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		StartTime:  start,
		DeviceInfo: map[string]any{},
		CreatedAt:  start,
		UpdatedAt:  start,
	}
	if durationSeconds != nil {
		end := start.Add(time.Duration(*durationSeconds) * time.Second)
		sess.EndTime = &end
		sess.DurationSeconds = durationSeconds
	}
	require.NoError(t, db.Collection(testPkg, model.KindSession).Insert(context.Background(), sess))
}

func ptr(v int64) *int64 { return &v }

func TestPackages(t *testing.T) {
	svc, db := newTestService(t, nil)
	ctx := context.Background()

	res, err := svc.Packages(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, res.Count)
	require.NotNil(t, res.Packages)
	require.Empty(t, res.Packages)

	require.NoError(t, db.Collection("com.zebra", model.KindEvent).Insert(ctx, map[string]any{"id": "1"}))
	require.NoError(t, db.Collection("com.alpha", model.KindEvent).Insert(ctx, map[string]any{"id": "2"}))
	// A package with only sessions has not reported events and is not listed.
	require.NoError(t, db.Collection("com.quiet", model.KindSession).Insert(ctx, map[string]any{"id": "3"}))

	res, err = svc.Packages(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"com.alpha", "com.zebra"}, res.Packages)
	require.Equal(t, 2, res.Count)
}

func TestSummary(t *testing.T) {
	svc, db := newTestService(t, nil)
	ctx := context.Background()

	insertEvent(t, db, "click", testNow)
	insertEvent(t, db, "view", testNow)
	insertUser(t, db, "u1", "Germany", testNow, testNow)
	insertSession(t, db, "s1", testNow, nil)

	sum, err := svc.Summary(ctx, testPkg)
	require.NoError(t, err)
	require.EqualValues(t, 2, sum.Events)
	require.EqualValues(t, 1, sum.Users)
	require.EqualValues(t, 1, sum.Sessions)
	require.EqualValues(t, 0, sum.Crashes)
	require.EqualValues(t, 4, sum.TotalDataPoints)
}

func TestListEvents(t *testing.T) {
	svc, db := newTestService(t, nil)
	ctx := context.Background()

	insertEvent(t, db, "click", testNow.Add(-2*time.Hour))
	insertEvent(t, db, "view", testNow.Add(-1*time.Hour))
	insertEvent(t, db, "click", testNow)

	list, err := svc.ListEvents(ctx, testPkg, 0, "")
	require.NoError(t, err)
	require.Equal(t, 3, list.Count)
	require.Equal(t, "click", list.Events[0].EventType)
	require.True(t, list.Events[0].Timestamp.After(list.Events[1].Timestamp))

	list, err = svc.ListEvents(ctx, testPkg, 0, "view")
	require.NoError(t, err)
	require.Equal(t, 1, list.Count)

	list, err = svc.ListEvents(ctx, testPkg, 2, "")
	require.NoError(t, err)
	require.Equal(t, 2, list.Count)
}

func TestListEventsEmptyPackage(t *testing.T) {
	svc, _ := newTestService(t, nil)
	list, err := svc.ListEvents(context.Background(), "com.unknown", 0, "")
	require.NoError(t, err)
	require.Equal(t, 0, list.Count)
	require.NotNil(t, list.Events)
}

func TestGetEventStats(t *testing.T) {
	svc, db := newTestService(t, nil)
	ctx := context.Background()

	insertEvent(t, db, "click", testNow)
	insertEvent(t, db, "click", testNow)
	insertEvent(t, db, "view", testNow.AddDate(0, 0, -5))
	// Outside the trend window but still part of the totals.
	insertEvent(t, db, "click", testNow.AddDate(0, 0, -40))

	stats, err := svc.GetEventStats(ctx, testPkg)
	require.NoError(t, err)
	require.EqualValues(t, 4, stats.TotalEvents)
	require.Equal(t, []NameValue{{Name: "click", Value: 3}, {Name: "view", Value: 1}}, stats.TopEvents)

	require.Len(t, stats.DailyEvents, trendDays)
	last := stats.DailyEvents[len(stats.DailyEvents)-1]
	require.Equal(t, "2026-03-15", last.Date)
	require.EqualValues(t, 2, last.Events)

	var total int64
	for _, d := range stats.DailyEvents {
		total += d.Events
	}
	require.EqualValues(t, 3, total)
}

func TestListUsersActiveOnly(t *testing.T) {
	svc, db := newTestService(t, nil)
	ctx := context.Background()

	insertUser(t, db, "active", "Germany", testNow.AddDate(0, 0, -20), testNow.Add(-time.Hour))
	insertUser(t, db, "idle", "France", testNow.AddDate(0, 0, -20), testNow.AddDate(0, 0, -10))

	list, err := svc.ListUsers(ctx, testPkg, 0, false)
	require.NoError(t, err)
	require.Equal(t, 2, list.Count)
	require.Equal(t, "active", list.Users[0].UserID)

	list, err = svc.ListUsers(ctx, testPkg, 0, true)
	require.NoError(t, err)
	require.Equal(t, 1, list.Count)
	require.Equal(t, "active", list.Users[0].UserID)
}

func TestGetUserStats(t *testing.T) {
	svc, db := newTestService(t, nil)
	ctx := context.Background()

	mature := testNow.AddDate(0, 0, -40)
	insertUser(t, db, "veteran", "Germany", mature, mature.AddDate(0, 0, 7))
	insertUser(t, db, "fresh", "Germany", testNow.Add(-time.Hour), testNow.Add(-time.Hour))
	insertUser(t, db, "nocountry", "", testNow.AddDate(0, 0, -3), testNow.AddDate(0, 0, -1))

	stats, err := svc.GetUserStats(ctx, testPkg)
	require.NoError(t, err)
	require.EqualValues(t, 3, stats.TotalUsers)
	require.EqualValues(t, 2, stats.ActiveUsers)
	require.EqualValues(t, 1, stats.NewUsersToday)

	require.Len(t, stats.UserGrowth, trendDays)
	last := stats.UserGrowth[len(stats.UserGrowth)-1]
	require.EqualValues(t, 1, last.Users)

	// Only the veteran is old enough to measure retention against.
	require.Len(t, stats.UserRetention, len(retentionOffsets))
	require.Equal(t, RetentionPoint{Days: 1, RetainedUsers: 1, CohortSize: 1, RetentionRate: 100}, stats.UserRetention[0])
	require.Equal(t, RetentionPoint{Days: 7, RetainedUsers: 1, CohortSize: 1, RetentionRate: 100}, stats.UserRetention[2])
	require.Equal(t, RetentionPoint{Days: 14, RetainedUsers: 0, CohortSize: 1, RetentionRate: 0}, stats.UserRetention[3])

	require.Equal(t, []CountryUsers{{Country: "Germany", Users: 2}, {Country: "Unknown", Users: 1}}, stats.GeographicSpread)
}

func TestGetUserStatsEmptyCohort(t *testing.T) {
	svc, db := newTestService(t, nil)
	insertUser(t, db, "fresh", "Germany", testNow.Add(-time.Hour), testNow)

	stats, err := svc.GetUserStats(context.Background(), testPkg)
	require.NoError(t, err)
	require.NotNil(t, stats.UserRetention)
	require.Empty(t, stats.UserRetention)
}

func TestListSessionsCompletedOnly(t *testing.T) {
	svc, db := newTestService(t, nil)
	ctx := context.Background()

	insertSession(t, db, "open", testNow.Add(-time.Hour), nil)
	insertSession(t, db, "done", testNow.Add(-2*time.Hour), ptr(120))

	list, err := svc.ListSessions(ctx, testPkg, 0, false)
	require.NoError(t, err)
	require.Equal(t, 2, list.Count)
	require.Equal(t, "open", list.Sessions[0].SessionID)

	list, err = svc.ListSessions(ctx, testPkg, 0, true)
	require.NoError(t, err)
	require.Equal(t, 1, list.Count)
	require.Equal(t, "done", list.Sessions[0].SessionID)
}

func TestGetSessionStats(t *testing.T) {
	svc, db := newTestService(t, nil)
	ctx := context.Background()

	insertSession(t, db, "s1", testNow.Add(-4*time.Hour), ptr(30))
	insertSession(t, db, "s2", testNow.Add(-3*time.Hour), ptr(60))
	insertSession(t, db, "s3", testNow.Add(-2*time.Hour), ptr(400))
	insertSession(t, db, "s4", testNow.Add(-time.Hour), nil)

	stats, err := svc.GetSessionStats(ctx, testPkg)
	require.NoError(t, err)
	require.EqualValues(t, 4, stats.TotalSessions)
	require.EqualValues(t, 3, stats.CompletedSessions)
	require.Equal(t, "75%", stats.CompletionRate)
	require.Equal(t, 163.3, stats.AvgSessionDuration)

	require.Equal(t, []DurationBucket{
		{Bucket: "<1min", Count: 1},
		{Bucket: "1-5min", Count: 1},
		{Bucket: "5-15min", Count: 1},
		{Bucket: "15-30min", Count: 0},
		{Bucket: ">30min", Count: 0},
	}, stats.DurationDistribution)

	require.Len(t, stats.DailySessions, trendDays)
	last := stats.DailySessions[len(stats.DailySessions)-1]
	require.EqualValues(t, 4, last.Sessions)

	// No sweeper wired, the cleanup info stays zero.
	require.Equal(t, CleanupInfo{}, stats.CleanupInfo)
}

func TestGetSessionStatsRunsSweep(t *testing.T) {
	db, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sweeper := cleanup.New(db, 2*time.Hour, zerolog.Nop())
	svc := New(db, sweeper, zerolog.Nop())
	svc.now = func() time.Time { return testNow }

	ctx := context.Background()
	// The sweeper runs on the wall clock, so the stale session must be old
	// relative to it.
	started := time.Now().UTC().Add(-5 * time.Hour)
	stale := model.Session{
		ID:         uuid.NewString(),
		SessionID:  "stale",
		StartTime:  started,
		DeviceInfo: map[string]any{},
		CreatedAt:  started,
		UpdatedAt:  started,
	}
	require.NoError(t, db.Collection(testPkg, model.KindSession).Insert(ctx, stale))

	stats, err := svc.GetSessionStats(ctx, testPkg)
	require.NoError(t, err)
	require.Equal(t, 1, stats.CleanupInfo.SessionsClosed)
	require.Equal(t, "2h0m0s", stats.CleanupInfo.SessionTimeout)
	// The swept session counts as completed in the same response.
	require.EqualValues(t, 1, stats.CompletedSessions)
}

func insertCrashGroup(t *testing.T, db *store.DB, g model.CrashGroup) {
	t.Helper()
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.DeviceInfo == nil {
		g.DeviceInfo = map[string]any{}
	}
	require.NoError(t, db.Collection(testPkg, model.KindCrash).Insert(context.Background(), g))
}

func TestListCrashes(t *testing.T) {
	svc, db := newTestService(t, nil)
	ctx := context.Background()

	insertCrashGroup(t, db, model.CrashGroup{
		CrashSignature: "A:one", ErrorType: "A", ErrorMessage: "one",
		Count: 5, FirstSeen: testNow.AddDate(0, 0, -10), LastSeen: testNow.AddDate(0, 0, -10),
	})
	insertCrashGroup(t, db, model.CrashGroup{
		CrashSignature: "B:two", ErrorType: "B", ErrorMessage: "two",
		Count: 2, FirstSeen: testNow.Add(-time.Hour), LastSeen: testNow.Add(-time.Hour),
	})

	list, err := svc.ListCrashes(ctx, testPkg, 0, "")
	require.NoError(t, err)
	require.Equal(t, 2, list.Count)
	require.Equal(t, "B", list.Crashes[0].ErrorType)

	list, err = svc.ListCrashes(ctx, testPkg, 0, "count")
	require.NoError(t, err)
	require.Equal(t, "A", list.Crashes[0].ErrorType)

	_, err = svc.ListCrashes(ctx, testPkg, 0, "severity")
	require.Error(t, err)
}

func TestGetCrashStats(t *testing.T) {
	svc, db := newTestService(t, nil)
	ctx := context.Background()

	device := map[string]any{"model": "Pixel 8"}
	insertCrashGroup(t, db, model.CrashGroup{
		CrashSignature: "NPE:boom", ErrorType: "NPE", ErrorMessage: "boom",
		Count:     3,
		FirstSeen: testNow.AddDate(0, 0, -3), LastSeen: testNow.Add(-2 * time.Hour),
		Occurrences: []model.Occurrence{
			{Timestamp: testNow.AddDate(0, 0, -3), UserID: "u1", DeviceInfo: device},
			{Timestamp: testNow.AddDate(0, 0, -1), UserID: "u2", DeviceInfo: device},
			{Timestamp: testNow.Add(-2 * time.Hour), UserID: "u1", DeviceInfo: device},
		},
	})
	insertCrashGroup(t, db, model.CrashGroup{
		CrashSignature: "OOM:heap", ErrorType: "OOM", ErrorMessage: "heap",
		Count:     2,
		FirstSeen: testNow.AddDate(0, 0, -12), LastSeen: testNow.AddDate(0, 0, -10),
		Occurrences: []model.Occurrence{
			{Timestamp: testNow.AddDate(0, 0, -12), UserID: "u3", DeviceInfo: map[string]any{}},
			{Timestamp: testNow.AddDate(0, 0, -10), UserID: "u3", DeviceInfo: map[string]any{}},
		},
	})
	for i := 0; i < 10; i++ {
		insertSession(t, db, uuid.NewString(), testNow.Add(-time.Duration(i)*time.Hour), ptr(100))
	}

	stats, err := svc.GetCrashStats(ctx, testPkg)
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.TotalCrashTypes)
	require.EqualValues(t, 5, stats.TotalCrashes)
	require.Equal(t, "50%", stats.CrashRate)

	require.Len(t, stats.DailyTrends, trendDays)
	require.Len(t, stats.RateTrends, trendDays)

	// Impact is count times distinct affected users.
	require.Len(t, stats.TopByImpact, 2)
	top := stats.TopByImpact[0]
	require.Equal(t, "NPE", top.ErrorType)
	require.EqualValues(t, 2, top.AffectedUsers)
	require.EqualValues(t, 6, top.ImpactScore)
	require.Equal(t, TrendIncreasing, top.Trend)
	require.Equal(t, "2 hours ago", top.LastSeen)
	require.Equal(t, TrendDecreasing, stats.TopByImpact[1].Trend)

	require.Equal(t, []DeviceCrashes{{Device: "Pixel 8", Crashes: 3}, {Device: "unknown", Crashes: 2}}, stats.DevicePatterns)

	require.Len(t, stats.RecentCrashes, 2)
	require.Equal(t, "NPE", stats.RecentCrashes[0].ErrorType)
	require.Equal(t, "10 days ago", stats.RecentCrashes[1].LastSeen)
}

func TestGetCrashStatsNoSessions(t *testing.T) {
	svc, db := newTestService(t, nil)
	insertCrashGroup(t, db, model.CrashGroup{
		CrashSignature: "NPE:boom", ErrorType: "NPE", ErrorMessage: "boom",
		Count: 1, FirstSeen: testNow, LastSeen: testNow,
		Occurrences: []model.Occurrence{{Timestamp: testNow, DeviceInfo: map[string]any{}}},
	})

	stats, err := svc.GetCrashStats(context.Background(), testPkg)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.TotalCrashes)
	require.Equal(t, "0%", stats.CrashRate)
}
