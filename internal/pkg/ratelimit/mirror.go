package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/ServiceBoard/app/models"
	"github.com/ManuelReschke/ServiceBoard/app/repository"
)

const mirrorQueueSize = 256

// MirrorStore decorates a Store and copies every window into the
// rate_limit_windows table for auditing. Writes happen on a background
// goroutine and are dropped when the queue is full.
type MirrorStore struct {
	inner   Store
	factory *repository.Factory
	queue   chan models.RateLimitWindow
	wg      sync.WaitGroup
	once    sync.Once
}

func NewMirrorStore(inner Store, factory *repository.Factory) *MirrorStore {
	m := &MirrorStore{
		inner:   inner,
		factory: factory,
		queue:   make(chan models.RateLimitWindow, mirrorQueueSize),
	}
	m.wg.Add(1)
	go m.run()
	return m
}

func (m *MirrorStore) run() {
	defer m.wg.Done()
	repo := m.factory.GetRepositories().RateLimitWindow
	for w := range m.queue {
		w := w
		if err := repo.Upsert(&w); err != nil {
			log.Warnf("[RateLimit] Mirror write for %s/%s failed: %v", w.Action, w.ActorKey, err)
		}
	}
}

func (m *MirrorStore) Get(ctx context.Context, action, actorKey string, now time.Time) (Window, bool, error) {
	return m.inner.Get(ctx, action, actorKey, now)
}

func (m *MirrorStore) Hit(ctx context.Context, action, actorKey string, window time.Duration, now time.Time) (Window, error) {
	w, err := m.inner.Hit(ctx, action, actorKey, window, now)
	if err != nil {
		return w, err
	}
	row := models.RateLimitWindow{
		Action:      action,
		ActorKey:    actorKey,
		Hits:        w.Hits,
		WindowStart: w.Start.UTC(),
		WindowEnd:   w.End.UTC(),
	}
	select {
	case m.queue <- row:
	default:
		log.Debugf("[RateLimit] Mirror queue full, dropping %s/%s", action, actorKey)
	}
	return w, nil
}

func (m *MirrorStore) Expire(ctx context.Context, action, actorKey string) error {
	return m.inner.Expire(ctx, action, actorKey)
}

// Close drains pending mirror writes.
func (m *MirrorStore) Close() error {
	m.once.Do(func() { close(m.queue) })
	m.wg.Wait()
	return nil
}
