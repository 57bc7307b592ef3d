// Package stats computes every derived statistic served by the dashboard
// endpoints. All reports are read-only and computed per request; nothing is
// cached or materialized.
package stats

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pulse-analytics/internal/apierr"
	"pulse-analytics/internal/cleanup"
	"pulse-analytics/internal/model"
	"pulse-analytics/internal/store"
)

// trendDays is the fixed window for every daily trend.
const trendDays = 30

// activeWindow bounds what counts as an active user.
const activeWindow = 7 * 24 * time.Hour

// DefaultLimit applies when a list request carries no limit.
const DefaultLimit = 100

// Service computes aggregate reports from the record store.
type Service struct {
	store   store.Store
	sweeper *cleanup.Sweeper
	log     zerolog.Logger
	now     func() time.Time
}

// New wires the aggregation service. The sweeper runs before session
// statistics reads and may be nil in tests that do not exercise cleanup.
func New(st store.Store, sweeper *cleanup.Sweeper, log zerolog.Logger) *Service {
	return &Service{
		store:   st,
		sweeper: sweeper,
		log:     log.With().Str("component", "stats").Logger(),
		now:     time.Now,
	}
}

func (s *Service) checkStore(ctx context.Context) error {
	if s.store == nil || s.store.Ping(ctx) != nil {
		return apierr.Unavailablef("Could not connect to the database")
	}
	return nil
}

// PackagesResult lists every package known to the store.
type PackagesResult struct {
	Packages []string `json:"packages"`
	Count    int      `json:"count"`
}

// Packages discovers packages by enumerating collection names and filtering
// by the events suffix.
func (s *Service) Packages(ctx context.Context) (*PackagesResult, error) {
	if err := s.checkStore(ctx); err != nil {
		return nil, err
	}
	names, err := s.store.CollectionNames(ctx)
	if err != nil {
		return nil, apierr.Internalf(err, "Failed to get packages")
	}
	suffix := "_" + model.KindEvent
	seen := map[string]bool{}
	var pkgs []string
	for _, name := range names {
		if strings.HasSuffix(name, suffix) {
			pkg := strings.TrimSuffix(name, suffix)
			if !seen[pkg] {
				seen[pkg] = true
				pkgs = append(pkgs, pkg)
			}
		}
	}
	sort.Strings(pkgs)
	if pkgs == nil {
		pkgs = []string{}
	}
	return &PackagesResult{Packages: pkgs, Count: len(pkgs)}, nil
}

// PackageSummary holds per-kind record counts for one package.
type PackageSummary struct {
	Events          int64 `json:"events"`
	Users           int64 `json:"users"`
	Sessions        int64 `json:"sessions"`
	Crashes         int64 `json:"crashes"`
	TotalDataPoints int64 `json:"total_data_points"`
}

// Summary counts records of every kind for a package.
func (s *Service) Summary(ctx context.Context, pkg string) (*PackageSummary, error) {
	if err := s.checkStore(ctx); err != nil {
		return nil, err
	}
	out := &PackageSummary{}
	for kind, dst := range map[string]*int64{
		model.KindEvent:   &out.Events,
		model.KindUser:    &out.Users,
		model.KindSession: &out.Sessions,
		model.KindCrash:   &out.Crashes,
	} {
		n, err := s.store.Collection(pkg, kind).Count(ctx, nil)
		if err != nil {
			return nil, apierr.Internalf(fmt.Errorf("count %s: %w", kind, err), "Failed to get package summary")
		}
		*dst = n
	}
	out.TotalDataPoints = out.Events + out.Users + out.Sessions + out.Crashes
	return out, nil
}
