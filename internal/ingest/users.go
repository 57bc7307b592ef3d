package ingest

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"pulse-analytics/internal/geo"
	"pulse-analytics/internal/model"
	"pulse-analytics/internal/store"
)

// Registration actions reported back to the SDK.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
)

// UserRequest is the payload for registering or refreshing a user.
type UserRequest struct {
	PackageName string         `json:"package_name"`
	UserID      string         `json:"user_id"`
	Country     string         `json:"country"`
	Timestamp   any            `json:"timestamp"`
	DeviceInfo  map[string]any `json:"device_info"`
	Properties  map[string]any `json:"properties"`
}

// UserResult reports whether the registration created or updated the user.
type UserResult struct {
	UserID string `json:"user_id"`
	Action string `json:"action"`
}

// RegisterUser upserts a user by its natural key. A first registration
// captures the country through the geolocation resolver; later registrations
// only advance last_active and updated_at, leaving the location metadata as
// it was captured at creation.
func (s *Service) RegisterUser(ctx context.Context, req UserRequest, clientIP string) (*UserResult, error) {
	if err := s.checkStore(ctx); err != nil {
		return nil, err
	}
	if err := requireFields(
		field{"package_name", req.PackageName},
		field{"user_id", req.UserID},
	); err != nil {
		return nil, err
	}
	ts, err := parseTimestamp(req.Timestamp, s.now())
	if err != nil {
		return nil, err
	}

	coll := s.store.Collection(req.PackageName, model.KindUser)
	byKey := store.Filter{store.Eq("user_id", req.UserID)}

	var existing model.User
	findErr := coll.FindOne(ctx, byKey, &existing)
	if findErr != nil && !errors.Is(findErr, store.ErrNotFound) {
		return nil, internal(findErr, "register user")
	}

	touch := store.Mutation{Set: map[string]any{
		"last_active": ts,
		"updated_at":  s.now().UTC(),
	}}
	if findErr == nil {
		if _, err := coll.UpdateOne(ctx, byKey, touch); err != nil {
			return nil, internal(err, "register user")
		}
		recordsIngested.WithLabelValues(model.KindUser).Inc()
		s.log.Debug().Str("package", req.PackageName).Str("user_id", req.UserID).Msg("user updated")
		return &UserResult{UserID: req.UserID, Action: ActionUpdated}, nil
	}

	// New user: resolve the country before the write. The lookup degrades
	// gracefully, it never fails the registration.
	loc := geo.Location{Country: "Unknown", DetectionMethod: geo.MethodFailed, Confidence: geo.ConfidenceNone, ClientCountry: req.Country}
	if s.resolver != nil {
		loc = s.resolver.Resolve(ctx, clientIP, req.Country)
	}
	now := s.now().UTC()
	user := model.User{
		ID:         uuid.NewString(),
		UserID:     req.UserID,
		FirstSeen:  ts,
		LastActive: ts,
		Country:    loc.Country,
		LocationMeta: model.LocationMeta{
			DetectionMethod: loc.DetectionMethod,
			Confidence:      loc.Confidence,
			IPCountry:       loc.IPCountry,
			ClientCountry:   loc.ClientCountry,
		},
		DeviceInfo: nonNil(req.DeviceInfo),
		Properties: nonNil(req.Properties),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	// Upsert with the touch mutation as fallback covers a concurrent
	// registration racing the FindOne above.
	created, err := coll.Upsert(ctx, byKey, user, touch)
	if err != nil {
		return nil, internal(err, "register user")
	}
	recordsIngested.WithLabelValues(model.KindUser).Inc()
	action := ActionUpdated
	if created {
		action = ActionCreated
		s.publish(model.KindUser, req.PackageName, user)
	}
	s.log.Debug().Str("package", req.PackageName).Str("user_id", req.UserID).Str("action", action).Msg("user registered")
	return &UserResult{UserID: req.UserID, Action: action}, nil
}
