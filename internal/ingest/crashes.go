package ingest

import (
	"context"

	"github.com/google/uuid"

	"pulse-analytics/internal/model"
	"pulse-analytics/internal/store"
)

// CrashRequest is one crash report from an SDK.
type CrashRequest struct {
	PackageName  string         `json:"package_name"`
	ErrorType    string         `json:"error_type"`
	ErrorMessage string         `json:"error_message"`
	StackTrace   string         `json:"stack_trace"`
	Timestamp    any            `json:"timestamp"`
	UserID       string         `json:"user_id"`
	SessionID    string         `json:"session_id"`
	DeviceInfo   map[string]any `json:"device_info"`
}

// CrashResult reports the affected group and its running count.
type CrashResult struct {
	CrashID string `json:"crash_id"`
	Action  string `json:"action"`
	Count   int64  `json:"count"`
}

// ReportCrash deduplicates the report into its signature group. The first
// report of a signature creates the group; every later one increments the
// count, appends an occurrence and bumps last_seen, all in one atomic store
// operation so count always equals the occurrence log length.
func (s *Service) ReportCrash(ctx context.Context, req CrashRequest) (*CrashResult, error) {
	if err := s.checkStore(ctx); err != nil {
		return nil, err
	}
	if err := requireFields(
		field{"package_name", req.PackageName},
		field{"error_type", req.ErrorType},
	); err != nil {
		return nil, err
	}
	ts, err := parseTimestamp(req.Timestamp, s.now())
	if err != nil {
		return nil, err
	}

	sig := model.Signature(req.ErrorType, req.ErrorMessage)
	occ := model.Occurrence{
		Timestamp:  ts,
		UserID:     req.UserID,
		SessionID:  req.SessionID,
		DeviceInfo: nonNil(req.DeviceInfo),
	}
	now := s.now().UTC()
	group := model.CrashGroup{
		ID:             uuid.NewString(),
		CrashSignature: sig,
		ErrorType:      req.ErrorType,
		ErrorMessage:   req.ErrorMessage,
		StackTrace:     req.StackTrace,
		Count:          1,
		FirstSeen:      ts,
		LastSeen:       ts,
		DeviceInfo:     nonNil(req.DeviceInfo),
		Occurrences:    []model.Occurrence{occ},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	set := map[string]any{"last_seen": ts, "updated_at": now}
	if req.StackTrace != "" {
		// Latest stack trace only; an empty report keeps the previous one.
		set["stack_trace"] = req.StackTrace
	}
	var groupID string
	var count int64
	extend := store.Mutation{
		Set:  set,
		Inc:  map[string]int64{"count": 1},
		Push: map[string]any{"occurrences": occ},
		// Transform runs after the increment; it only reads back the result
		// for the response payload.
		Transform: func(doc map[string]any) error {
			groupID, _ = doc["id"].(string)
			if n, ok := doc["count"].(float64); ok {
				count = int64(n)
			}
			return nil
		},
	}
	coll := s.store.Collection(req.PackageName, model.KindCrash)
	created, err := coll.Upsert(ctx, store.Filter{store.Eq("crash_signature", sig)}, group, extend)
	if err != nil {
		return nil, internal(err, "report crash")
	}
	recordsIngested.WithLabelValues(model.KindCrash).Inc()
	action := ActionUpdated
	if created {
		action = ActionCreated
		groupID = group.ID
		count = 1
		s.publish(model.KindCrash, req.PackageName, group)
	}
	s.log.Debug().Str("package", req.PackageName).Str("signature", sig).Int64("count", count).Msg("crash recorded")
	return &CrashResult{CrashID: groupID, Action: action, Count: count}, nil
}
