package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Common errors returned by the TaskQueue
var (
	ErrQueueClosed = errors.New("task queue is closed")
	ErrQueueFull   = errors.New("task queue is full")
)

// TaskQueue is a buffered queue of task ids that satisfies both
// TaskQueueReader and TaskQueueWriter.
type TaskQueue struct {
	mu     sync.RWMutex
	ids    chan int64
	logger *slog.Logger
	closed bool

	// done is closed first by Close so blocked EnqueueWait calls give up
	// before the write lock is taken.
	done      chan struct{}
	closeOnce sync.Once
}

// NewTaskQueue creates a new task queue with the specified buffer size.
func NewTaskQueue(size int, logger *slog.Logger) *TaskQueue {
	if size < 1 {
		size = 1
	}
	return &TaskQueue{
		ids:    make(chan int64, size),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Enqueue adds a task id without blocking.
func (q *TaskQueue) Enqueue(id int64) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.ids <- id:
		q.logger.Debug("task enqueued",
			"task_id", id,
			"queue_len", len(q.ids),
			"queue_cap", cap(q.ids))
		return nil
	default:
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, cap(q.ids))
	}
}

// EnqueueWait adds a task id, waiting for room while the queue is full. It
// gives up when ctx is done or the queue is closed.
func (q *TaskQueue) EnqueueWait(ctx context.Context, id int64) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.ids <- id:
		q.logger.Debug("task enqueued",
			"task_id", id,
			"queue_len", len(q.ids),
			"queue_cap", cap(q.ids))
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the queue. It is safe to call more than once.
func (q *TaskQueue) Close() {
	q.closeOnce.Do(func() { close(q.done) })

	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.ids)
		q.logger.Info("task queue closed")
	}
}

// GetChannel returns a read-only channel for consuming task ids.
func (q *TaskQueue) GetChannel() <-chan int64 {
	return q.ids
}

// Len reports how many ids are waiting.
func (q *TaskQueue) Len() int {
	return len(q.ids)
}
