package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_RunsTasks(t *testing.T) {
	pool := NewWorkerPool(&Config{Name: "test", MaxWorkers: 2, QueueSize: 8})

	var ran int32
	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(Task{ID: "t", Fn: func(context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		}}))
	}
	require.NoError(t, pool.Stop(time.Second))

	assert.Equal(t, int32(5), atomic.LoadInt32(&ran), "queued tasks drain on stop")
	stats := pool.Stats()
	assert.Equal(t, uint64(5), stats.TotalTasks)
	assert.Equal(t, uint64(5), stats.CompletedTasks)
	assert.Equal(t, 100.0, stats.SuccessRate())
}

func TestWorkerPool_FailuresAndPanics(t *testing.T) {
	pool := NewWorkerPool(&Config{Name: "test", MaxWorkers: 1, QueueSize: 4})

	require.True(t, pool.TrySubmit(Task{ID: "fail", Fn: func(context.Context) error {
		return errors.New("boom")
	}}))
	require.True(t, pool.TrySubmit(Task{ID: "panic", Fn: func(context.Context) error {
		panic("boom")
	}}))
	require.NoError(t, pool.Stop(time.Second))

	assert.Equal(t, uint64(2), pool.Stats().FailedTasks)
}

func TestWorkerPool_CoalescesByKey(t *testing.T) {
	pool := NewWorkerPool(&Config{Name: "test", MaxWorkers: 1, QueueSize: 4})

	release := make(chan struct{})
	started := make(chan struct{})
	require.True(t, pool.TrySubmit(Task{ID: "blocker", Fn: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started

	var passes int32
	pass := Task{ID: "pass", Key: "replicate", Fn: func(context.Context) error {
		atomic.AddInt32(&passes, 1)
		return nil
	}}
	assert.True(t, pool.TrySubmit(pass))
	assert.False(t, pool.TrySubmit(pass), "a second pass with the same key is dropped while one is queued")
	assert.NoError(t, pool.Submit(pass))

	close(release)
	require.NoError(t, pool.Stop(time.Second))

	assert.Equal(t, int32(1), atomic.LoadInt32(&passes))
	assert.Equal(t, uint64(2), pool.Stats().CoalescedTasks)
}

func TestWorkerPool_QueueFull(t *testing.T) {
	pool := NewWorkerPool(&Config{Name: "test", MaxWorkers: 1, QueueSize: 1})

	release := make(chan struct{})
	started := make(chan struct{})
	require.True(t, pool.TrySubmit(Task{ID: "blocker", Fn: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started

	noop := func(context.Context) error { return nil }
	require.True(t, pool.TrySubmit(Task{ID: "queued", Key: "k", Fn: noop}))
	assert.False(t, pool.TrySubmit(Task{ID: "overflow", Fn: noop}))
	assert.Error(t, pool.Submit(Task{ID: "overflow", Fn: noop}))

	close(release)
	require.NoError(t, pool.Stop(time.Second))
	assert.Equal(t, uint64(2), pool.Stats().RejectedTasks)
}

func TestWorkerPool_StopTimeoutCancelsTasks(t *testing.T) {
	pool := NewWorkerPool(&Config{Name: "test", MaxWorkers: 1, QueueSize: 1})

	started := make(chan struct{})
	cancelled := make(chan struct{})
	require.True(t, pool.TrySubmit(Task{ID: "slow", Fn: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}}))
	<-started

	assert.Error(t, pool.Stop(10*time.Millisecond))
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("task context was not cancelled")
	}

	assert.False(t, pool.TrySubmit(Task{ID: "late", Fn: func(context.Context) error { return nil }}))
}
