// Package ratelimit counts actions per (action, actor) in fixed windows.
// The first hit opens a window of the configured length; hits beyond the
// limit are rejected until the window ends.
package ratelimit

import (
	"context"
	"math"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/ServiceBoard/app/models"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/apperr"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/metrics/prom"
)

const (
	ActionTopUpCreate         = "topup.create"
	ActionPublicationCreate   = "publication.create"
	ActionPublicationActivate = "publication.activate"
	ActionPublicationRespond  = "publication.respond"
)

// Rule is a limit for one action.
type Rule struct {
	Limit  int
	Window time.Duration
}

// RuleFor returns the configured rule for action. Unknown actions get a
// zero rule, which never limits.
func RuleFor(action string, s *models.AppSettings) Rule {
	switch action {
	case ActionTopUpCreate:
		return Rule{Limit: s.TopUpCreateLimit, Window: s.TopUpCreateWindow()}
	case ActionPublicationCreate:
		return Rule{Limit: s.PublicationCreateLimit, Window: s.PublicationCreateWindow()}
	case ActionPublicationActivate:
		return Rule{Limit: s.ActivationLimit, Window: s.ActivationWindow()}
	default:
		return Rule{}
	}
}

// Result is the outcome of a check.
type Result struct {
	OK         bool          `json:"ok"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	RetryAfter time.Duration `json:"-"`
}

// RetryAfterSeconds rounds the retry hint up to whole seconds.
func (r Result) RetryAfterSeconds() int {
	if r.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(r.RetryAfter.Seconds()))
}

// Limiter applies rules on top of a Store.
type Limiter struct {
	store Store
	now   func() time.Time
}

func New(store Store) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Store returns the backing store.
func (l *Limiter) Store() Store {
	return l.store
}

// Check counts one hit for (action, actorKey) and reports whether it fits
// into limit hits per window. A limit <= 0 disables the check.
func (l *Limiter) Check(ctx context.Context, action, actorKey string, limit int, window time.Duration) (Result, error) {
	if limit <= 0 {
		return Result{OK: true}, nil
	}
	if window <= 0 {
		return Result{}, apperr.Validation("rate limit window must be positive")
	}

	now := l.now()
	w, err := l.store.Hit(ctx, action, actorKey, window, now)
	if err != nil {
		return Result{}, err
	}

	res := Result{OK: w.Hits <= int64(limit), Limit: limit}
	if res.OK {
		res.Remaining = limit - int(w.Hits)
		return res, nil
	}
	res.RetryAfter = w.End.Sub(now)
	if res.RetryAfter > window {
		res.RetryAfter = window
	}
	if res.RetryAfter < time.Second {
		res.RetryAfter = time.Second
	}
	return res, nil
}

// Allow checks the rule and converts a rejection into apperr.RateLimited.
// Store failures are logged and let the request through: the limiter guards
// against abuse, not against double spending.
func (l *Limiter) Allow(ctx context.Context, action, actorKey string, rule Rule) error {
	res, err := l.Check(ctx, action, actorKey, rule.Limit, rule.Window)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindValidation {
			return err
		}
		log.Warnf("[RateLimit] Store failure for %s/%s, allowing: %v", action, actorKey, err)
		return nil
	}
	if !res.OK {
		prom.RateLimitRejections.WithLabelValues(action).Inc()
		return apperr.RateLimited(res.RetryAfter)
	}
	return nil
}

// Inspect returns the current window without counting a hit.
func (l *Limiter) Inspect(ctx context.Context, action, actorKey string) (Window, bool, error) {
	return l.store.Get(ctx, action, actorKey, l.now())
}

// Reset drops the window for (action, actorKey).
func (l *Limiter) Reset(ctx context.Context, action, actorKey string) error {
	return l.store.Expire(ctx, action, actorKey)
}
