package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"

	"pulse-analytics/internal/model"
)

// EventRequest is the payload for logging one analytics event. Timestamp
// accepts epoch milliseconds or an ISO-8601 string.
type EventRequest struct {
	PackageName string         `json:"package_name"`
	EventType   string         `json:"event_type"`
	UserID      string         `json:"user_id"`
	Timestamp   any            `json:"timestamp"`
	Properties  map[string]any `json:"properties"`
	SessionID   string         `json:"session_id"`
	DeviceInfo  map[string]any `json:"device_info"`
}

// EventResult is the normalized success payload.
type EventResult struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
}

// LogEvent validates and appends one event record. Events are immutable once
// written.
func (s *Service) LogEvent(ctx context.Context, req EventRequest) (*EventResult, error) {
	if err := s.checkStore(ctx); err != nil {
		return nil, err
	}
	if err := requireFields(
		field{"package_name", req.PackageName},
		field{"event_type", req.EventType},
	); err != nil {
		return nil, err
	}
	ts, err := parseTimestamp(req.Timestamp, s.now())
	if err != nil {
		return nil, err
	}

	evt := model.Event{
		ID:         uuid.NewString(),
		EventType:  req.EventType,
		UserID:     req.UserID,
		Timestamp:  ts,
		Properties: nonNil(req.Properties),
		SessionID:  req.SessionID,
		DeviceInfo: nonNil(req.DeviceInfo),
		CreatedAt:  s.now().UTC(),
	}
	coll := s.store.Collection(req.PackageName, model.KindEvent)
	if err := coll.Insert(ctx, evt); err != nil {
		return nil, internal(err, "log event")
	}
	recordsIngested.WithLabelValues(model.KindEvent).Inc()
	s.publish(model.KindEvent, req.PackageName, evt)
	s.log.Debug().Str("package", req.PackageName).Str("event_type", evt.EventType).Str("event_id", evt.ID).Msg("event stored")
	return &EventResult{EventID: evt.ID, Timestamp: evt.Timestamp}, nil
}
