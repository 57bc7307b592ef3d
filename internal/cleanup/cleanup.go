// Package cleanup force-closes sessions abandoned past a timeout, covering
// clients that were killed before sending a session end event. The sweep runs
// inline before session statistics reads; there is no background scheduler.
package cleanup

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"pulse-analytics/internal/model"
	"pulse-analytics/internal/store"
)

// ClosedByCleanup marks sessions closed by the sweep rather than an explicit
// end event.
const ClosedByCleanup = "auto_cleanup"

var sessionsAutoClosed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "cleanup_sessions_closed_total",
	Help: "Sessions force-closed by the stale-session sweep",
})

// Sweeper finds open sessions older than the timeout and closes them at the
// cutoff boundary rather than the sweep time, so the counted duration never
// includes the idle window after the client went away.
type Sweeper struct {
	store   store.Store
	timeout atomic.Int64
	log     zerolog.Logger
	now     func() time.Time
}

// New builds a sweeper with the given timeout.
func New(st store.Store, timeout time.Duration, log zerolog.Logger) *Sweeper {
	s := &Sweeper{
		store: st,
		log:   log.With().Str("component", "cleanup").Logger(),
		now:   time.Now,
	}
	s.timeout.Store(int64(timeout))
	return s
}

// Timeout returns the current session timeout.
func (s *Sweeper) Timeout() time.Duration {
	return time.Duration(s.timeout.Load())
}

// SetTimeout changes the timeout at runtime. Used by tests.
func (s *Sweeper) SetTimeout(d time.Duration) {
	s.timeout.Store(int64(d))
}

// Sweep closes every stale session for pkg, or for all packages when pkg is
// empty. Re-running is idempotent: a second sweep finds nothing left open
// past the cutoff. Returns the number of sessions closed.
func (s *Sweeper) Sweep(ctx context.Context, pkg string) (int, error) {
	var pkgs []string
	if pkg != "" {
		pkgs = []string{pkg}
	} else {
		names, err := s.store.CollectionNames(ctx)
		if err != nil {
			return 0, fmt.Errorf("list collections: %w", err)
		}
		suffix := "_" + model.KindSession
		for _, name := range names {
			if strings.HasSuffix(name, suffix) {
				pkgs = append(pkgs, strings.TrimSuffix(name, suffix))
			}
		}
	}

	cutoff := s.now().UTC().Add(-s.Timeout())
	total := 0
	for _, p := range pkgs {
		closed, err := s.sweepPackage(ctx, p, cutoff)
		if err != nil {
			return total, err
		}
		total += closed
	}
	if total > 0 {
		s.log.Info().Int("closed", total).Msg("stale session sweep completed")
	}
	return total, nil
}

func (s *Sweeper) sweepPackage(ctx context.Context, pkg string, cutoff time.Time) (int, error) {
	coll := s.store.Collection(pkg, model.KindSession)
	stale := store.Filter{store.Missing("end_time"), store.Lt("start_time", cutoff)}

	var sessions []model.Session
	if err := coll.Find(ctx, stale, store.FindOptions{}, &sessions); err != nil {
		return 0, fmt.Errorf("find stale sessions in %s: %w", coll.Name(), err)
	}

	reason := fmt.Sprintf("session timeout after %s", s.Timeout())
	closed := 0
	for _, sess := range sessions {
		// Filter on the open state again so an explicit end racing the sweep
		// wins; the session still transitions open -> closed exactly once.
		open := store.Filter{store.Eq("id", sess.ID), store.Missing("end_time")}
		now := s.now().UTC()
		mutation := store.Mutation{Transform: func(doc map[string]any) error {
			start, ok := store.TimeField(doc, "start_time")
			if !ok {
				return fmt.Errorf("session %s has no start_time", sess.SessionID)
			}
			doc["end_time"] = cutoff.Format(store.TimeLayout)
			doc["duration_seconds"] = int64(cutoff.Sub(start).Seconds())
			doc["closed_by"] = ClosedByCleanup
			doc["reason"] = reason
			doc["updated_at"] = now.Format(store.TimeLayout)
			return nil
		}}
		updated, err := coll.UpdateOne(ctx, open, mutation)
		if err != nil {
			return closed, fmt.Errorf("close session %s: %w", sess.SessionID, err)
		}
		if updated {
			closed++
			sessionsAutoClosed.Inc()
			s.log.Debug().Str("package", pkg).Str("session_id", sess.SessionID).Msg("auto-closed stale session")
		}
	}
	return closed, nil
}
