package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Window is one fixed rate limit window. It starts with the first hit and
// ends a full window length later.
type Window struct {
	Hits  int64
	Start time.Time
	End   time.Time
}

// ActiveAt reports whether the window still counts at now.
func (w Window) ActiveAt(now time.Time) bool {
	return now.Before(w.End)
}

// Store keeps rate limit windows keyed by (action, actor).
type Store interface {
	// Get returns the current window; ok is false when none is active.
	Get(ctx context.Context, action, actorKey string, now time.Time) (w Window, ok bool, err error)
	// Hit counts one hit, opening a new window when none is active.
	Hit(ctx context.Context, action, actorKey string, window time.Duration, now time.Time) (Window, error)
	// Expire drops the window.
	Expire(ctx context.Context, action, actorKey string) error
}

const memoryPurgeEvery = 1024

// MemoryStore keeps windows in process memory. Suitable for a single instance.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]Window
	hits    int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]Window)}
}

func memoryKey(action, actorKey string) string {
	return action + "\x00" + actorKey
}

func (s *MemoryStore) Get(_ context.Context, action, actorKey string, now time.Time) (Window, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[memoryKey(action, actorKey)]
	if !ok || !w.ActiveAt(now) {
		return Window{}, false, nil
	}
	return w, true, nil
}

func (s *MemoryStore) Hit(_ context.Context, action, actorKey string, window time.Duration, now time.Time) (Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hits++
	if s.hits%memoryPurgeEvery == 0 {
		for k, w := range s.windows {
			if !w.ActiveAt(now) {
				delete(s.windows, k)
			}
		}
	}

	key := memoryKey(action, actorKey)
	w, ok := s.windows[key]
	if !ok || !w.ActiveAt(now) {
		w = Window{Start: now, End: now.Add(window)}
	}
	w.Hits++
	s.windows[key] = w
	return w, nil
}

func (s *MemoryStore) Expire(_ context.Context, action, actorKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, memoryKey(action, actorKey))
	return nil
}

// Len returns the number of stored windows, active or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}
