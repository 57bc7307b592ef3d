package stats

import (
	"context"

	"pulse-analytics/internal/apierr"
	"pulse-analytics/internal/model"
	"pulse-analytics/internal/store"
)

// EventList is the response for an event listing.
type EventList struct {
	PackageName string        `json:"package_name"`
	Events      []model.Event `json:"events"`
	Count       int           `json:"count"`
}

// ListEvents returns events for a package, newest first, optionally filtered
// by event type.
func (s *Service) ListEvents(ctx context.Context, pkg string, limit int, eventType string) (*EventList, error) {
	if err := s.checkStore(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	var f store.Filter
	if eventType != "" {
		f = store.Filter{store.Eq("event_type", eventType)}
	}
	events := []model.Event{}
	coll := s.store.Collection(pkg, model.KindEvent)
	if err := coll.Find(ctx, f, store.FindOptions{SortField: "timestamp", Desc: true, Limit: limit}, &events); err != nil {
		return nil, apierr.Internalf(err, "Failed to retrieve events")
	}
	return &EventList{PackageName: pkg, Events: events, Count: len(events)}, nil
}

// DailyEvents is one day of the event trend.
type DailyEvents struct {
	Date   string `json:"date"`
	Events int64  `json:"events"`
}

// EventStats is the dashboard report for events.
type EventStats struct {
	PackageName string        `json:"package_name"`
	TotalEvents int64         `json:"total_events"`
	TopEvents   []NameValue   `json:"top_events"`
	DailyEvents []DailyEvents `json:"daily_events"`
}

// GetEventStats aggregates the event report: total count, top event types,
// and a dense 30-day daily trend.
func (s *Service) GetEventStats(ctx context.Context, pkg string) (*EventStats, error) {
	if err := s.checkStore(ctx); err != nil {
		return nil, err
	}
	coll := s.store.Collection(pkg, model.KindEvent)

	total, err := coll.Count(ctx, nil)
	if err != nil {
		return nil, apierr.Internalf(err, "Failed to get event statistics")
	}

	var events []model.Event
	if err := coll.Find(ctx, nil, store.FindOptions{}, &events); err != nil {
		return nil, apierr.Internalf(err, "Failed to get event statistics")
	}

	now := s.now()
	byType := map[string]int64{}
	byDay := map[string]int64{}
	start := windowStart(now, trendDays)
	for _, evt := range events {
		byType[evt.EventType]++
		if !evt.Timestamp.Before(start) {
			byDay[dayKey(evt.Timestamp)]++
		}
	}

	daily := make([]DailyEvents, 0, trendDays)
	for _, point := range denseDays(byDay, now, trendDays) {
		daily = append(daily, DailyEvents{Date: point.Date, Events: point.Count})
	}
	return &EventStats{
		PackageName: pkg,
		TotalEvents: total,
		TopEvents:   topCounts(byType, 10),
		DailyEvents: daily,
	}, nil
}
