package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/phrazzld/mediascribe/internal/domain"
	"github.com/phrazzld/mediascribe/internal/store"
)

// ErrTaskFailed is reported to the error handler when a submitted task ends
// up failed.
var ErrTaskFailed = errors.New("task did not complete")

// TaskRunnerConfig holds configuration for the task runner
type TaskRunnerConfig struct {
	// WorkerCount determines how many concurrent workers process tasks
	WorkerCount int

	// QueueSize determines the buffer size for the in-memory task queue
	QueueSize int
}

// DefaultTaskRunnerConfig returns a TaskRunnerConfig with reasonable defaults
func DefaultTaskRunnerConfig() TaskRunnerConfig {
	return TaskRunnerConfig{
		WorkerCount: 2,
		QueueSize:   100,
	}
}

// TaskRunner accepts task ids for background processing. Work survives a
// restart through the task status stored alongside each task.
type TaskRunner struct {
	store  store.TaskStore
	queue  *TaskQueue
	pool   *WorkerPool
	logger *slog.Logger

	// feed tracks the goroutine requeueing the pending backlog.
	feed       sync.WaitGroup
	cancelFeed context.CancelFunc
}

// NewTaskRunner creates a runner that processes ids with processor.
func NewTaskRunner(st store.TaskStore, processor Processor, config TaskRunnerConfig, logger *slog.Logger) *TaskRunner {
	logger = logger.With("component", "task_runner")
	queue := NewTaskQueue(config.QueueSize, logger)

	handler := func(ctx context.Context, id int64) error {
		if !processor.Process(ctx, id) {
			return fmt.Errorf("%w: task %d", ErrTaskFailed, id)
		}
		return nil
	}
	pool := NewWorkerPool(queue, handler, WorkerPoolConfig{WorkerCount: config.WorkerCount}, logger)
	pool.SetErrorHandler(func(id int64, err error) {
		logger.Warn("background task did not complete", "task_id", id, "error", err)
	})

	return &TaskRunner{
		store:  st,
		queue:  queue,
		pool:   pool,
		logger: logger,
	}
}

// SetErrorHandler replaces the handler told about failed or panicking
// tasks. It must be called before Start.
func (r *TaskRunner) SetErrorHandler(handler func(id int64, err error)) {
	r.pool.SetErrorHandler(handler)
}

// Submit queues a pending task for background processing.
func (r *TaskRunner) Submit(ctx context.Context, id int64) error {
	t, err := r.store.GetTask(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load task: %w", err)
	}
	if t.Status != domain.TaskStatusPending {
		return fmt.Errorf("%w: task %d is %s", domain.ErrInvalidTransition, id, t.Status)
	}
	if err := r.queue.Enqueue(id); err != nil {
		return fmt.Errorf("failed to submit task %d: %w", id, err)
	}
	return nil
}

// Start fails interrupted tasks, starts the workers and then feeds the
// pending backlog to the queue in the background. The backlog may be larger
// than the queue; feeding waits for room as the workers drain it.
func (r *TaskRunner) Start(ctx context.Context) error {
	// Interrupted tasks are settled before any worker can claim a new one.
	pending, err := r.recoverInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover tasks: %w", err)
	}

	r.pool.Start()

	feedCtx, cancel := context.WithCancel(ctx)
	r.cancelFeed = cancel
	r.feed.Add(1)
	go func() {
		defer r.feed.Done()
		r.requeue(feedCtx, pending)
	}()
	return nil
}

// Stop abandons the rest of the backlog feed, closes the queue, lets the
// workers finish what was queued and waits for them. Tasks never queued stay
// pending for the next start.
func (r *TaskRunner) Stop() {
	if r.cancelFeed != nil {
		r.cancelFeed()
	}
	r.feed.Wait()
	r.queue.Close()
	r.pool.Stop()
}

// Recover requeues pending tasks left from a previous run. Tasks still
// marked processing were interrupted mid-flight; they are failed rather than
// requeued so their status never moves backwards. RetryTask resets them.
// Recover blocks while the queue is full, so something must be draining it
// when the backlog exceeds the queue size.
func (r *TaskRunner) Recover(ctx context.Context) error {
	pending, err := r.recoverInterrupted(ctx)
	if err != nil {
		return err
	}
	r.requeue(ctx, pending)
	return nil
}

// recoverInterrupted fails every processing task and returns the pending
// ones, oldest first.
func (r *TaskRunner) recoverInterrupted(ctx context.Context) ([]*domain.Task, error) {
	pending, err := r.store.ListTasksByStatus(ctx, domain.TaskStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending tasks: %w", err)
	}

	processing, err := r.store.ListStuckTasks(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to get processing tasks: %w", err)
	}

	r.logger.Info("recovering unfinished tasks",
		"pending_count", len(pending),
		"processing_count", len(processing))

	for _, t := range processing {
		if err := r.store.UpdateTaskStatus(ctx, t.ID, domain.TaskStatusFailed, MsgProcessingInterrupted); err != nil {
			r.logger.Error("failed to fail interrupted task", "task_id", t.ID, "error", err)
		}
	}
	return pending, nil
}

func (r *TaskRunner) requeue(ctx context.Context, pending []*domain.Task) {
	for i, t := range pending {
		if err := r.queue.EnqueueWait(ctx, t.ID); err != nil {
			// The rest stay pending and are picked up on the next start.
			r.logger.Warn("stopped requeueing pending tasks",
				"task_id", t.ID,
				"remaining", len(pending)-i,
				"error", err)
			return
		}
	}
}
