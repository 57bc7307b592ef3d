// Package ingest validates and normalizes incoming analytics records and
// writes them into the record store. One operation per record kind; all four
// share the same validation protocol: store availability, required fields
// (collected, not fail-fast), timestamp parsing, then the kind-specific write.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"pulse-analytics/internal/apierr"
	"pulse-analytics/internal/geo"
	"pulse-analytics/internal/store"
)

var recordsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ingest_records_total",
	Help: "Total records accepted by kind",
}, []string{"kind"})

// CountryResolver supplies the country for a newly registered user.
type CountryResolver interface {
	Resolve(ctx context.Context, ip, clientCountry string) geo.Location
}

// Publisher receives a copy of every stored record for downstream export.
// Implementations must be best-effort; ingestion never waits on them.
type Publisher interface {
	Publish(kind, pkg string, doc any)
}

// Service performs all ingestion writes.
type Service struct {
	store    store.Store
	resolver CountryResolver
	firehose Publisher
	log      zerolog.Logger
	now      func() time.Time
}

// New wires an ingestion service. resolver and firehose may be nil; a nil
// resolver records every new user with failed detection.
func New(st store.Store, resolver CountryResolver, firehose Publisher, log zerolog.Logger) *Service {
	return &Service{
		store:    st,
		resolver: resolver,
		firehose: firehose,
		log:      log.With().Str("component", "ingest").Logger(),
		now:      time.Now,
	}
}

// checkStore applies step one of the validation protocol.
func (s *Service) checkStore(ctx context.Context) error {
	if s.store == nil {
		return apierr.Unavailablef("Could not connect to the database")
	}
	if err := s.store.Ping(ctx); err != nil {
		return apierr.Unavailablef("Could not connect to the database")
	}
	return nil
}

type field struct {
	name  string
	value string
}

// requireFields reports every missing field at once rather than failing on
// the first.
func requireFields(fields ...field) error {
	var missing []string
	for _, f := range fields {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return apierr.Validationf("Missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// parseTimestamp accepts epoch milliseconds or an ISO-8601 string; absent
// input defaults to now. Everything is normalized to UTC.
func parseTimestamp(v any, now time.Time) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return now.UTC(), nil
	case float64:
		return time.UnixMilli(int64(t)).UTC(), nil
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts.UTC(), nil
		}
		if ts, err := time.Parse("2006-01-02T15:04:05", t); err == nil {
			return ts.UTC(), nil
		}
		return time.Time{}, apierr.Validationf("Invalid timestamp format")
	default:
		return time.Time{}, apierr.Validationf("Invalid timestamp format")
	}
}

func (s *Service) publish(kind, pkg string, doc any) {
	if s.firehose == nil {
		return
	}
	s.firehose.Publish(kind, pkg, doc)
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func internal(err error, op string) error {
	return apierr.Internalf(fmt.Errorf("%s: %w", op, err), "Failed to %s", op)
}
