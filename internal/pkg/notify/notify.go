// Package notify delivers best-effort notifications after a transaction has
// committed. Failures are logged and counted, never returned to the caller.
package notify

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/time/rate"

	"github.com/ManuelReschke/ServiceBoard/internal/pkg/jobqueue"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/metrics/prom"
)

// Message is a single notification addressed to one account.
type Message struct {
	AccountID uint   `json:"account_id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Link      string `json:"link,omitempty"`
}

// Notifier is implemented by anything services can hand notifications to.
type Notifier interface {
	Notify(ctx context.Context, msg Message)
}

// Sink delivers a message to one destination.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, msg Message) error
}

// Nop drops every message.
type Nop struct{}

func (Nop) Notify(context.Context, Message) {}

const inlineDeliveryTimeout = 10 * time.Second

// Dispatcher hands messages to the job queue, or delivers them inline in a
// goroutine when no queue is configured.
type Dispatcher struct {
	queue   *jobqueue.Queue
	sinks   []Sink
	limiter *rate.Limiter
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher. perSecond <= 0 disables pacing.
func NewDispatcher(queue *jobqueue.Queue, perSecond float64, sinks ...Sink) *Dispatcher {
	limit := rate.Inf
	burst := 1
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		burst = int(perSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &Dispatcher{
		queue:   queue,
		sinks:   sinks,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Notify schedules delivery of msg. It never blocks on the sinks.
func (d *Dispatcher) Notify(ctx context.Context, msg Message) {
	if msg.AccountID == 0 || len(d.sinks) == 0 {
		return
	}

	if d.queue != nil {
		payload, err := jobqueue.PayloadToMap(msg)
		if err == nil {
			_, err = d.queue.EnqueueJob(ctx, jobqueue.JobTypeNotification, payload)
		}
		if err == nil {
			return
		}
		log.Warnf("[Notify] Enqueue failed, delivering inline: %v", err)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), inlineDeliveryTimeout)
		defer cancel()
		if err := d.Deliver(ctx, msg); err != nil {
			log.Errorf("[Notify] Delivery to account %d failed: %v", msg.AccountID, err)
		}
	}()
}

// Deliver sends msg to every sink. It fails only when no sink accepted the
// message, so a retried job does not duplicate partial deliveries.
func (d *Dispatcher) Deliver(ctx context.Context, msg Message) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}

	var errs []error
	for _, s := range d.sinks {
		if err := s.Deliver(ctx, msg); err != nil {
			prom.Notifications.WithLabelValues(s.Name(), "error").Inc()
			log.Warnf("[Notify] Sink %s failed for account %d: %v", s.Name(), msg.AccountID, err)
			errs = append(errs, err)
			continue
		}
		prom.Notifications.WithLabelValues(s.Name(), "ok").Inc()
	}
	if len(errs) == len(d.sinks) {
		return errors.Join(errs...)
	}
	return nil
}

// ProcessJob is the job queue handler for jobqueue.JobTypeNotification.
func (d *Dispatcher) ProcessJob(ctx context.Context, job *jobqueue.Job) error {
	var msg Message
	if err := job.DecodePayload(&msg); err != nil {
		return err
	}
	return d.Deliver(ctx, msg)
}

// Close waits for inline deliveries and closes sinks that hold connections.
func (d *Dispatcher) Close() error {
	d.wg.Wait()
	var errs []error
	for _, s := range d.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
