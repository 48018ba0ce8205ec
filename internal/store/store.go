package store

import (
	"context"
	"time"

	"github.com/phrazzld/mediascribe/internal/domain"
)

// TaskStore persists tasks and enforces their status ordering.
type TaskStore interface {
	// CreateTask inserts a pending task and returns its store-assigned id.
	CreateTask(ctx context.Context, task *domain.Task) (int64, error)

	// GetTask returns ErrTaskNotFound when the id does not exist.
	GetTask(ctx context.Context, id int64) (*domain.Task, error)

	// ListTasks returns all tasks, newest first.
	ListTasks(ctx context.Context) ([]*domain.Task, error)

	// ListTasksByStatus returns tasks in the given status, oldest first.
	ListTasksByStatus(ctx context.Context, status domain.TaskStatus) ([]*domain.Task, error)

	// ListStuckTasks returns processing tasks not updated for at least olderThan.
	// A zero duration returns every processing task.
	ListStuckTasks(ctx context.Context, olderThan time.Duration) ([]*domain.Task, error)

	// UpdateTaskStatus moves a task to status. The error message is stored
	// only for failed tasks. Transitions that would move a task backwards
	// fail with ErrUpdateFailed wrapping domain.ErrInvalidTransition.
	UpdateTaskStatus(ctx context.Context, id int64, status domain.TaskStatus, errorMessage string) error

	// ClaimTask moves a pending task to processing in a single conditional
	// write. Only one caller can claim a given task; every other caller gets
	// ErrUpdateFailed wrapping domain.ErrInvalidTransition.
	ClaimTask(ctx context.Context, id int64) error

	// UpdateTaskFilePath records where the task's resource was downloaded to.
	UpdateTaskFilePath(ctx context.Context, id int64, filePath string) error

	// ResetTask moves a failed task back to pending and clears its error.
	ResetTask(ctx context.Context, id int64) error

	// DeleteTask removes the task along with its result and note attachments.
	DeleteTask(ctx context.Context, id int64) error
}

// ResultStore persists task results.
type ResultStore interface {
	// CreateResult inserts the result and marks its task completed in the
	// same transaction. A second result for a task fails with ErrDuplicate.
	CreateResult(ctx context.Context, result *domain.Result) (int64, error)

	// GetResultByTask returns ErrResultNotFound when the task has no result.
	GetResultByTask(ctx context.Context, taskID int64) (*domain.Result, error)

	// GetResult returns ErrResultNotFound when the id does not exist.
	GetResult(ctx context.Context, id int64) (*domain.Result, error)

	// DeleteResult removes a result and moves its completed task back to
	// pending, so no completed task is left without a result.
	DeleteResult(ctx context.Context, id int64) error
}

// NoteStore persists note relations.
type NoteStore interface {
	// GetOrCreateNote returns the relation for noteURL, creating a pending
	// one if needed. The URL must already be normalized.
	GetOrCreateNote(ctx context.Context, noteURL string) (*domain.NoteRelation, error)

	// GetNote returns ErrNoteNotFound when no relation exists for noteURL.
	GetNote(ctx context.Context, noteURL string) (*domain.NoteRelation, error)

	// AttachTasks appends task ids of the given kind to the note. Ids that
	// are already attached keep their original position.
	AttachTasks(ctx context.Context, noteID int64, kind domain.TaskKind, taskIDs ...int64) error

	UpdateNoteStatus(ctx context.Context, noteID int64, status domain.NoteStatus) error

	// ListNotesByTask returns every note the task is attached to.
	ListNotesByTask(ctx context.Context, taskID int64) ([]*domain.NoteRelation, error)
}

// DataSourceStore persists the input files tasks came from.
type DataSourceStore interface {
	// GetOrCreateDataSource returns the existing source with the same path
	// or inserts ds. Looking up an existing source never writes to it.
	GetOrCreateDataSource(ctx context.Context, ds *domain.DataSource) (*domain.DataSource, error)
}

// Store groups every persistence interface a backend provides.
type Store interface {
	TaskStore
	ResultStore
	NoteStore
	DataSourceStore

	// Close releases the underlying connection pool.
	Close() error
}
