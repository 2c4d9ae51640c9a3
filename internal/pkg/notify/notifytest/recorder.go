// Package notifytest provides an in-memory notify.Notifier for tests.
package notifytest

import (
	"context"
	"sync"

	"github.com/ManuelReschke/ServiceBoard/internal/pkg/notify"
)

// Recorder keeps every message it is given.
type Recorder struct {
	mu       sync.Mutex
	messages []notify.Message
}

func (r *Recorder) Notify(_ context.Context, msg notify.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

// Messages returns a copy of the recorded messages.
func (r *Recorder) Messages() []notify.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// Types returns the recorded message types in order.
func (r *Recorder) Types() []string {
	msgs := r.Messages()
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Type
	}
	return out
}
