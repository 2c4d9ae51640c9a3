// Package sweep expires publications, tariff assignments and top-up requests
// whose deadline has passed. Every step is a single conditional bulk update,
// so running it twice, or from two processes at once, is harmless.
package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/singleflight"

	"github.com/ManuelReschke/ServiceBoard/app/repository"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/metrics/prom"
)

const (
	TriggerScheduled = "scheduled"
	TriggerLazy      = "lazy"
	TriggerManual    = "manual"
)

// rate limit mirror rows are kept this long after their window ended
const windowRetention = 24 * time.Hour

// Result counts the rows each step changed.
type Result struct {
	PublicationsPaused     int64 `json:"publications_paused"`
	AssignmentsExpired     int64 `json:"assignments_expired"`
	TopUpsExpired          int64 `json:"topups_expired"`
	RateLimitWindowsPurged int64 `json:"rate_limit_windows_purged,omitempty"`
}

// Total returns the number of lifecycle transitions, ignoring housekeeping.
func (r Result) Total() int64 {
	return r.PublicationsPaused + r.AssignmentsExpired + r.TopUpsExpired
}

// Sweeper runs the expiration sweep.
type Sweeper struct {
	factory *repository.Factory
	now     func() time.Time
	group   singleflight.Group
}

func New(factory *repository.Factory) *Sweeper {
	return &Sweeper{factory: factory, now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Sweep runs all steps once.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	return s.run(ctx, TriggerScheduled)
}

// Manual runs all steps on operator request.
func (s *Sweeper) Manual(ctx context.Context) (Result, error) {
	return s.run(ctx, TriggerManual)
}

// Lazy runs the sweep on a read path. Concurrent callers share one run.
func (s *Sweeper) Lazy(ctx context.Context) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	ch := s.group.DoChan("sweep", func() (interface{}, error) {
		return s.run(context.WithoutCancel(ctx), TriggerLazy)
	})
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Result{}, res.Err
		}
		return res.Val.(Result), nil
	}
}

// Run adapts Sweep to the job queue manager.
func (s *Sweeper) Run(ctx context.Context) error {
	_, err := s.Sweep(ctx)
	return err
}

func (s *Sweeper) run(ctx context.Context, trigger string) (Result, error) {
	start := time.Now()
	now := s.now().UTC().Truncate(time.Second)
	repos := s.factory.WithContext(ctx)

	var res Result
	var err error

	// Top-ups first: an approve racing the sweep must see EXPIRED.
	if res.TopUpsExpired, err = repos.TopUp.ExpirePending(now); err != nil {
		return res, fmt.Errorf("expire top-ups: %w", err)
	}
	if res.AssignmentsExpired, err = repos.Assignment.ExpireEnded(now); err != nil {
		return res, fmt.Errorf("expire assignments: %w", err)
	}
	if res.PublicationsPaused, err = repos.Publication.PauseExpired(now); err != nil {
		return res, fmt.Errorf("pause publications: %w", err)
	}
	// Read paths skip the purge.
	if trigger != TriggerLazy {
		if purged, err := repos.RateLimitWindow.DeleteEndedBefore(now.Add(-windowRetention)); err != nil {
			log.Warnf("[Sweep] Purging rate limit windows failed: %v", err)
		} else {
			res.RateLimitWindowsPurged = purged
		}
	}

	prom.SweepTransitions.WithLabelValues("topups_expired").Add(float64(res.TopUpsExpired))
	prom.SweepTransitions.WithLabelValues("assignments_expired").Add(float64(res.AssignmentsExpired))
	prom.SweepTransitions.WithLabelValues("publications_paused").Add(float64(res.PublicationsPaused))
	prom.SweepDuration.WithLabelValues(trigger).Observe(time.Since(start).Seconds())

	if res.Total() > 0 {
		log.Infof("[Sweep] %s: paused=%d assignments=%d topups=%d", trigger,
			res.PublicationsPaused, res.AssignmentsExpired, res.TopUpsExpired)
	}
	return res, nil
}
