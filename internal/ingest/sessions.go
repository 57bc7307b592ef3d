package ingest

import (
	"context"

	"github.com/google/uuid"

	"pulse-analytics/internal/apierr"
	"pulse-analytics/internal/model"
	"pulse-analytics/internal/store"
)

// Session actions accepted on the wire.
const (
	SessionStart = "start"
	SessionEnd   = "end"
)

// SessionRequest marks the start or end of a session.
type SessionRequest struct {
	PackageName string         `json:"package_name"`
	SessionID   string         `json:"session_id"`
	Action      string         `json:"action"`
	UserID      string         `json:"user_id"`
	Timestamp   any            `json:"timestamp"`
	DeviceInfo  map[string]any `json:"device_info"`
}

// SessionResult reports the applied action; DurationSeconds is set when a
// session was closed.
type SessionResult struct {
	SessionID       string `json:"session_id"`
	Action          string `json:"action"`
	DurationSeconds *int64 `json:"duration_seconds,omitempty"`
	Created         bool   `json:"-"`
}

// TrackSession handles both session actions. A start inserts a new open
// session; an end closes the open session with the same session_id exactly
// once, computing duration from its recorded start time.
func (s *Service) TrackSession(ctx context.Context, req SessionRequest) (*SessionResult, error) {
	if err := s.checkStore(ctx); err != nil {
		return nil, err
	}
	if err := requireFields(
		field{"package_name", req.PackageName},
		field{"session_id", req.SessionID},
		field{"action", req.Action},
	); err != nil {
		return nil, err
	}
	ts, err := parseTimestamp(req.Timestamp, s.now())
	if err != nil {
		return nil, err
	}

	coll := s.store.Collection(req.PackageName, model.KindSession)
	switch req.Action {
	case SessionStart:
		now := s.now().UTC()
		sess := model.Session{
			ID:         uuid.NewString(),
			SessionID:  req.SessionID,
			UserID:     req.UserID,
			StartTime:  ts,
			DeviceInfo: nonNil(req.DeviceInfo),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := coll.Insert(ctx, sess); err != nil {
			return nil, internal(err, "start session")
		}
		recordsIngested.WithLabelValues(model.KindSession).Inc()
		s.publish(model.KindSession, req.PackageName, sess)
		s.log.Debug().Str("package", req.PackageName).Str("session_id", req.SessionID).Msg("session started")
		return &SessionResult{SessionID: req.SessionID, Action: SessionStart, Created: true}, nil

	case SessionEnd:
		var duration int64
		// The open-session filter plus single-transaction update closes the
		// session exactly once even with concurrent end calls.
		open := store.Filter{store.Eq("session_id", req.SessionID), store.Missing("end_time")}
		now := s.now().UTC()
		closeMutation := store.Mutation{Transform: func(doc map[string]any) error {
			start, ok := store.TimeField(doc, "start_time")
			if !ok {
				return apierr.Internalf(nil, "session %s has no start_time", req.SessionID)
			}
			duration = int64(ts.Sub(start).Seconds())
			doc["end_time"] = ts.Format(store.TimeLayout)
			doc["duration_seconds"] = duration
			doc["updated_at"] = now.Format(store.TimeLayout)
			return nil
		}}
		updated, err := coll.UpdateOne(ctx, open, closeMutation)
		if err != nil {
			return nil, internal(err, "end session")
		}
		if !updated {
			return nil, apierr.NotFoundf("No open session found for session_id %s", req.SessionID)
		}
		recordsIngested.WithLabelValues(model.KindSession).Inc()
		s.log.Debug().Str("package", req.PackageName).Str("session_id", req.SessionID).Int64("duration_seconds", duration).Msg("session ended")
		return &SessionResult{SessionID: req.SessionID, Action: SessionEnd, DurationSeconds: &duration}, nil

	default:
		return nil, apierr.Validationf("Invalid action %q: must be start or end", req.Action)
	}
}
