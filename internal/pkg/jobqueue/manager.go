package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// ManagerOptions wires the periodic background tasks.
type ManagerOptions struct {
	// Sweep runs the lifecycle sweep. Nil disables the sweep worker.
	Sweep func(ctx context.Context) error
	// SweepInterval is consulted after every run so changed settings apply
	// without a restart.
	SweepInterval func() time.Duration
	// FlushCounters persists buffered counters. Nil disables the flush worker.
	FlushCounters        func(ctx context.Context) error
	CounterFlushInterval time.Duration
}

// Manager manages the job queue and background tasks
type Manager struct {
	queue              *Queue
	opts               ManagerOptions
	sweepTicker        *time.Ticker
	counterFlushTicker *time.Ticker
	stopCh             chan struct{}
	wg                 sync.WaitGroup
	mu                 sync.Mutex
	running            bool
}

// NewManager creates a manager. queue may be nil when no Redis is configured.
func NewManager(queue *Queue, opts ManagerOptions) *Manager {
	if opts.CounterFlushInterval <= 0 {
		opts.CounterFlushInterval = 5 * time.Second
	}
	return &Manager{
		queue:  queue,
		opts:   opts,
		stopCh: make(chan struct{}),
	}
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// IsRunning reports whether the background workers are active
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	if m.queue != nil {
		m.queue.Start()
	}

	if m.opts.Sweep != nil {
		m.sweepTicker = time.NewTicker(m.sweepInterval())
		m.wg.Add(1)
		go m.sweepWorker(m.stopCh)
	}

	if m.opts.FlushCounters != nil {
		m.counterFlushTicker = time.NewTicker(m.opts.CounterFlushInterval)
		m.wg.Add(1)
		go m.counterFlushWorker(m.stopCh)
	}

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.sweepTicker != nil {
		m.sweepTicker.Stop()
	}
	if m.counterFlushTicker != nil {
		m.counterFlushTicker.Stop()
	}

	// Signal workers to stop
	close(m.stopCh)
	m.running = false
	m.mu.Unlock()

	// Wait for background workers to finish
	m.wg.Wait()

	// Flush whatever the counter worker buffered since its last tick.
	if m.opts.FlushCounters != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.opts.FlushCounters(ctx); err != nil {
			log.Errorf("[JobQueue Manager] Final counter flush failed: %v", err)
		}
		cancel()
	}

	if m.queue != nil {
		m.queue.Stop()
	}

	log.Info("[JobQueue Manager] Stopped successfully")
}

func (m *Manager) sweepInterval() time.Duration {
	if m.opts.SweepInterval != nil {
		if d := m.opts.SweepInterval(); d > 0 {
			return d
		}
	}
	return time.Minute
}

// sweepWorker periodically pauses expired publications and expires stale top-ups
func (m *Manager) sweepWorker(stopCh <-chan struct{}) {
	defer m.wg.Done()
	current := m.sweepInterval()
	log.Infof("[JobQueue Manager] Started sweep worker (interval: %s)", current)

	for {
		select {
		case <-stopCh:
			log.Info("[JobQueue Manager] Sweep worker stopping")
			return
		case <-m.sweepTicker.C:
			ctx, cancel := context.WithTimeout(context.Background(), current)
			if err := m.opts.Sweep(ctx); err != nil {
				log.Errorf("[JobQueue Manager] Sweep failed: %v", err)
			}
			cancel()

			if next := m.sweepInterval(); next != current {
				log.Infof("[JobQueue Manager] Sweep interval changed: %s -> %s", current, next)
				current = next
				m.sweepTicker.Reset(next)
			}
		}
	}
}

// counterFlushWorker periodically flushes buffered counters from Redis to DB
func (m *Manager) counterFlushWorker(stopCh <-chan struct{}) {
	defer m.wg.Done()
	for {
		select {
		case <-stopCh:
			log.Info("[JobQueue Manager] Counter flush worker stopping")
			return
		case <-m.counterFlushTicker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := m.opts.FlushCounters(ctx); err != nil {
				log.Errorf("[JobQueue Manager] Counter flush failed: %v", err)
			}
			cancel()
		}
	}
}
