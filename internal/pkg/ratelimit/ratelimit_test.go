package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/ServiceBoard/app/models"
	"github.com/ManuelReschke/ServiceBoard/app/repository"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/apperr"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/cache/cachetest"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/database/dbtest"
)

const rateLimitTestRedisDB = 12

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
}

func TestFourthCallInWindowIsRejected(t *testing.T) {
	c := newClock()
	l := New(NewMemoryStore()).WithClock(c.Now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.Check(ctx, ActionTopUpCreate, "acc:1", 3, 60*time.Second)
		require.NoError(t, err)
		assert.True(t, res.OK, "call %d", i+1)
		assert.Equal(t, 2-i, res.Remaining)
		c.Advance(5 * time.Second)
	}

	res, err := l.Check(ctx, ActionTopUpCreate, "acc:1", 3, 60*time.Second)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.LessOrEqual(t, res.RetryAfterSeconds(), 60)
	assert.Equal(t, 45, res.RetryAfterSeconds())

	// Other actors and actions are independent
	res, err = l.Check(ctx, ActionTopUpCreate, "acc:2", 3, 60*time.Second)
	require.NoError(t, err)
	assert.True(t, res.OK)
	res, err = l.Check(ctx, ActionPublicationCreate, "acc:1", 3, 60*time.Second)
	require.NoError(t, err)
	assert.True(t, res.OK)
}

func TestExpiredWindowIsReplaced(t *testing.T) {
	c := newClock()
	l := New(NewMemoryStore()).WithClock(c.Now)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := l.Check(ctx, "a", "k", 3, time.Minute)
		require.NoError(t, err)
	}
	c.Advance(time.Minute)

	res, err := l.Check(ctx, "a", "k", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, 2, res.Remaining)

	w, ok, err := l.Inspect(ctx, "a", "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), w.Hits)
	assert.Equal(t, c.Now(), w.Start)
}

func TestRejectedHitsDoNotExtendWindow(t *testing.T) {
	c := newClock()
	l := New(NewMemoryStore()).WithClock(c.Now)
	ctx := context.Background()

	_, err := l.Check(ctx, "a", "k", 1, time.Minute)
	require.NoError(t, err)
	c.Advance(50 * time.Second)
	res, err := l.Check(ctx, "a", "k", 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, 10, res.RetryAfterSeconds())
}

func TestZeroLimitDisablesCheck(t *testing.T) {
	l := New(NewMemoryStore())
	res, err := l.Check(context.Background(), "a", "k", 0, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.OK)

	_, err = l.Check(context.Background(), "a", "k", 1, 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestConcurrentHitsNeverExceedLimit(t *testing.T) {
	l := New(NewMemoryStore())
	var allowed int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Check(context.Background(), "a", "k", 10, time.Minute)
			if err == nil && res.OK {
				atomic.AddInt32(&allowed, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(10), allowed)
}

func TestAllowReturnsRateLimitedError(t *testing.T) {
	c := newClock()
	l := New(NewMemoryStore()).WithClock(c.Now)
	rule := Rule{Limit: 1, Window: 30 * time.Second}

	require.NoError(t, l.Allow(context.Background(), ActionPublicationActivate, "acc:9", rule))
	err := l.Allow(context.Background(), ActionPublicationActivate, "acc:9", rule)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrRateLimited)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, 30, e.RetryAfterSeconds())

	require.NoError(t, l.Reset(context.Background(), ActionPublicationActivate, "acc:9"))
	assert.NoError(t, l.Allow(context.Background(), ActionPublicationActivate, "acc:9", rule))
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string, string, time.Time) (Window, bool, error) {
	return Window{}, false, errors.New("redis down")
}

func (brokenStore) Hit(context.Context, string, string, time.Duration, time.Time) (Window, error) {
	return Window{}, errors.New("redis down")
}

func (brokenStore) Expire(context.Context, string, string) error { return errors.New("redis down") }

func TestAllowFailsOpenOnStoreErrors(t *testing.T) {
	l := New(brokenStore{})
	_, err := l.Check(context.Background(), "a", "k", 1, time.Minute)
	assert.Error(t, err)
	assert.NoError(t, l.Allow(context.Background(), "a", "k", Rule{Limit: 1, Window: time.Minute}))
}

func TestRuleForUsesSettings(t *testing.T) {
	s := models.DefaultAppSettings()
	s.TopUpCreateLimit = 7
	s.TopUpCreateWindowSeconds = 120

	assert.Equal(t, Rule{Limit: 7, Window: 2 * time.Minute}, RuleFor(ActionTopUpCreate, s))
	assert.Equal(t, Rule{Limit: s.ActivationLimit, Window: s.ActivationWindow()}, RuleFor(ActionPublicationActivate, s))
	assert.Equal(t, Rule{}, RuleFor("unknown", s))
}

func TestMemoryStorePurgesExpiredWindows(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := s.Hit(context.Background(), "old", "k", time.Second, now)
	require.NoError(t, err)

	later := now.Add(time.Hour)
	for i := 0; i < memoryPurgeEvery; i++ {
		_, err := s.Hit(context.Background(), "new", "k", time.Hour, later)
		require.NoError(t, err)
	}
	_, ok, err := s.Get(context.Background(), "old", "k", later)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len())
}

func TestMirrorStoreWritesWindows(t *testing.T) {
	factory := repository.NewFactory(dbtest.Open(t))
	c := newClock()
	mirror := NewMirrorStore(NewMemoryStore(), factory)
	l := New(mirror).WithClock(c.Now)

	for i := 0; i < 2; i++ {
		_, err := l.Check(context.Background(), ActionTopUpCreate, "acc:3", 5, time.Hour)
		require.NoError(t, err)
	}
	require.NoError(t, mirror.Close())

	row, err := factory.GetRepositories().RateLimitWindow.Get(ActionTopUpCreate, "acc:3")
	require.NoError(t, err)
	assert.Equal(t, int64(2), row.Hits)
	assert.True(t, row.WindowEnd.Equal(c.Now().Add(time.Hour)))
}

func TestRedisStoreSharesWindow(t *testing.T) {
	client := cachetest.NewIsolatedClient(t, rateLimitTestRedisDB)
	store := NewRedisStore(client)
	ctx := context.Background()

	a := New(store)
	b := New(store)
	for i := 0; i < 3; i++ {
		res, err := a.Check(ctx, ActionTopUpCreate, "acc:1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.OK)
	}
	res, err := b.Check(ctx, ActionTopUpCreate, "acc:1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.LessOrEqual(t, res.RetryAfterSeconds(), 60)
	assert.Greater(t, res.RetryAfterSeconds(), 0)

	w, ok, err := a.Inspect(ctx, ActionTopUpCreate, "acc:1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(4), w.Hits)

	require.NoError(t, a.Reset(ctx, ActionTopUpCreate, "acc:1"))
	_, ok, err = a.Inspect(ctx, ActionTopUpCreate, "acc:1")
	require.NoError(t, err)
	assert.False(t, ok)
}
