package task

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type mockTaskQueue struct {
	ch chan int64
}

func newMockTaskQueue() *mockTaskQueue {
	return &mockTaskQueue{ch: make(chan int64, 10)}
}

func (m *mockTaskQueue) GetChannel() <-chan int64 {
	return m.ch
}

func TestNewWorkerPool(t *testing.T) {
	logger := setupTestLogger()
	queue := newMockTaskQueue()
	noop := func(context.Context, int64) error { return nil }

	pool := NewWorkerPool(queue, noop, WorkerPoolConfig{WorkerCount: 5}, logger)
	assert.Equal(t, 5, pool.workerCount)
	assert.Nil(t, pool.errorHandler)

	for _, n := range []int{0, -5} {
		pool = NewWorkerPool(queue, noop, WorkerPoolConfig{WorkerCount: n}, logger)
		assert.Equal(t, 1, pool.workerCount)
	}

	assert.Equal(t, 2, DefaultWorkerPoolConfig().WorkerCount)
}

func TestWorkerPool_ProcessesAndDrains(t *testing.T) {
	defer goleak.VerifyNone(t)

	queue := NewTaskQueue(10, setupTestLogger())
	var (
		mu   sync.Mutex
		seen []int64
	)
	handler := func(_ context.Context, id int64) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, id)
		return nil
	}

	pool := NewWorkerPool(queue, handler, WorkerPoolConfig{WorkerCount: 3}, setupTestLogger())
	pool.Start()

	for id := int64(1); id <= 6; id++ {
		require.NoError(t, queue.Enqueue(id))
	}
	queue.Close()
	pool.Stop()

	assert.ElementsMatch(t, []int64{1, 2, 3, 4, 5, 6}, seen)
}

func TestWorkerPool_ErrorHandler(t *testing.T) {
	defer goleak.VerifyNone(t)

	queue := NewTaskQueue(10, setupTestLogger())
	handler := func(_ context.Context, id int64) error {
		switch id {
		case 1:
			return errors.New("engine down")
		case 2:
			panic("boom")
		}
		return nil
	}

	var (
		mu     sync.Mutex
		failed = map[int64]error{}
	)
	pool := NewWorkerPool(queue, handler, WorkerPoolConfig{WorkerCount: 1}, setupTestLogger())
	pool.SetErrorHandler(func(id int64, err error) {
		mu.Lock()
		defer mu.Unlock()
		failed[id] = err
	})
	pool.Start()

	for id := int64(1); id <= 3; id++ {
		require.NoError(t, queue.Enqueue(id))
	}
	queue.Close()
	pool.Stop()

	require.Len(t, failed, 2)
	assert.EqualError(t, failed[1], "engine down")
	assert.Contains(t, failed[2].Error(), "panic processing task 2")
}

func TestWorkerPool_Abort(t *testing.T) {
	defer goleak.VerifyNone(t)

	queue := newMockTaskQueue()
	started := make(chan struct{})
	var cancelled atomic.Bool
	handler := func(ctx context.Context, _ int64) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}

	pool := NewWorkerPool(queue, handler, WorkerPoolConfig{WorkerCount: 1}, setupTestLogger())
	pool.Start()
	queue.ch <- 1

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("handler never started")
	}

	pool.Abort()
	assert.True(t, cancelled.Load())
}
