package task

import (
	"context"
	"errors"
	"time"

	"github.com/phrazzld/mediascribe/internal/store"
)

// Common orchestration errors.
var (
	// ErrRetriesExhausted is wrapped around the last transient error once the
	// retry ceiling is reached.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrNoEngine is returned when a selector has no engine to offer.
	ErrNoEngine = errors.New("no processing engine available")
)

// Fixed failure messages persisted on tasks.
const (
	MsgDownloadFailed        = "download failed"
	MsgProcessingInterrupted = "processing interrupted"
)

// Store is the persistence the orchestrator needs.
type Store interface {
	store.TaskStore
	store.ResultStore
}

// Downloader fetches a remote resource and returns its local path.
type Downloader interface {
	Download(ctx context.Context, url string) (string, error)
}

// AttemptObserver is told about every engine invocation.
type AttemptObserver interface {
	ObserveAttempt(engine, outcome string, d time.Duration)
}

// Processor processes one stored task and reports success.
type Processor interface {
	Process(ctx context.Context, id int64) bool
}

// TaskQueueReader provides read-only access to queued task ids so workers
// can consume them without being able to enqueue.
type TaskQueueReader interface {
	GetChannel() <-chan int64
}

// TaskQueueWriter provides write access to the task queue.
type TaskQueueWriter interface {
	// Enqueue adds a task id to the queue. It returns an error if the queue
	// is full or closed.
	Enqueue(id int64) error

	// EnqueueWait adds a task id, blocking while the queue is full.
	EnqueueWait(ctx context.Context, id int64) error

	// Close prevents further submission. Queued ids are still delivered.
	Close()
}

type nopObserver struct{}

func (nopObserver) ObserveAttempt(string, string, time.Duration) {}
