package jobqueue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManagerDefaults(t *testing.T) {
	m := NewManager(nil, ManagerOptions{})

	assert.Nil(t, m.GetQueue())
	assert.NotNil(t, m.stopCh)
	assert.False(t, m.IsRunning())
	assert.Equal(t, 5*time.Second, m.opts.CounterFlushInterval)
	assert.Equal(t, time.Minute, m.sweepInterval())
}

func TestManager_StopWithoutStart(t *testing.T) {
	m := NewManager(nil, ManagerOptions{})
	m.Stop()
	assert.False(t, m.IsRunning())
}

func TestManagerRunsSweepAndFlush(t *testing.T) {
	var sweeps, flushes int32
	m := NewManager(nil, ManagerOptions{
		Sweep: func(ctx context.Context) error {
			atomic.AddInt32(&sweeps, 1)
			return nil
		},
		SweepInterval: func() time.Duration { return 10 * time.Millisecond },
		FlushCounters: func(ctx context.Context) error {
			atomic.AddInt32(&flushes, 1)
			return nil
		},
		CounterFlushInterval: 10 * time.Millisecond,
	})

	m.Start()
	m.Start() // idempotent
	assert.True(t, m.IsRunning())

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&sweeps) >= 2 && atomic.LoadInt32(&flushes) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	m.Stop()
	assert.False(t, m.IsRunning())

	stoppedSweeps := atomic.LoadInt32(&sweeps)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stoppedSweeps, atomic.LoadInt32(&sweeps))
}

func TestManagerFlushesOnStop(t *testing.T) {
	var flushes int32
	m := NewManager(nil, ManagerOptions{
		FlushCounters: func(ctx context.Context) error {
			atomic.AddInt32(&flushes, 1)
			return nil
		},
		CounterFlushInterval: time.Hour,
	})
	m.Start()
	m.Stop()
	assert.Equal(t, int32(1), atomic.LoadInt32(&flushes))
}

func TestManagerPicksUpChangedSweepInterval(t *testing.T) {
	var interval atomic.Int64
	interval.Store(int64(20 * time.Millisecond))
	var sweeps int32
	m := NewManager(nil, ManagerOptions{
		Sweep: func(ctx context.Context) error {
			atomic.AddInt32(&sweeps, 1)
			return nil
		},
		SweepInterval: func() time.Duration { return time.Duration(interval.Load()) },
	})
	m.Start()
	defer m.Stop()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&sweeps) >= 1 }, time.Second, 5*time.Millisecond)
	interval.Store(int64(time.Hour))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&sweeps) >= 2 }, time.Second, 5*time.Millisecond)

	// After the second run the ticker moved to an hour.
	settled := atomic.LoadInt32(&sweeps)
	time.Sleep(80 * time.Millisecond)
	assert.LessOrEqual(t, atomic.LoadInt32(&sweeps), settled+1)
}
