package domain

import (
	"fmt"
	"strings"
	"time"
)

// TaskStatus represents the processing state of a task.
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// IsTerminal reports whether no further automatic transition can happen.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next keeps the status
// ordering monotonic. Writing the same status again is allowed so that
// stores can be idempotent. The failed -> pending reset is not a transition;
// it goes through CanReset.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case TaskStatusPending:
		return next == TaskStatusProcessing || next == TaskStatusFailed
	case TaskStatusProcessing:
		return next == TaskStatusCompleted || next == TaskStatusFailed
	}
	return false
}

// CanReset reports whether an explicit retry may move the task back to pending.
func (s TaskStatus) CanReset() bool {
	return s == TaskStatusFailed
}

// TaskKind distinguishes the media a task operates on.
type TaskKind string

const (
	TaskKindImage TaskKind = "image"
	TaskKindVideo TaskKind = "video"
)

// Valid reports whether k is a known kind.
func (k TaskKind) Valid() bool {
	return k == TaskKindImage || k == TaskKindVideo
}

// ParseTaskKind converts user input into a TaskKind. An empty string maps to
// image, which is what the batch driver and API default to.
func ParseTaskKind(s string) (TaskKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(TaskKindImage):
		return TaskKindImage, nil
	case string(TaskKindVideo):
		return TaskKindVideo, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTaskKind, s)
}

// Task is a single unit of work: one resource processed by one engine.
type Task struct {
	ID           int64      `json:"id"`
	URL          string     `json:"url,omitempty"`
	FilePath     string     `json:"file_path,omitempty"`
	Engine       string     `json:"engine"`
	Kind         TaskKind   `json:"kind"`
	Status       TaskStatus `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NewTask builds a pending task. It returns ErrInvalidInput when neither a
// URL nor a file path is supplied.
func NewTask(url, filePath, engine string, kind TaskKind) (*Task, error) {
	now := time.Now().UTC()
	t := &Task{
		URL:       strings.TrimSpace(url),
		FilePath:  strings.TrimSpace(filePath),
		Engine:    engine,
		Kind:      kind,
		Status:    TaskStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks the task invariants that hold regardless of status.
func (t *Task) Validate() error {
	if t.URL == "" && t.FilePath == "" {
		return ErrInvalidInput
	}
	if !t.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTaskKind, t.Kind)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTaskStatus, t.Status)
	}
	if t.Status != TaskStatusFailed && t.ErrorMessage != "" {
		return fmt.Errorf("%w: error message set on %s task", ErrValidation, t.Status)
	}
	return nil
}

// NeedsDownload reports whether the resource must be fetched before an engine
// can run against it.
func (t *Task) NeedsDownload() bool {
	return t.FilePath == "" && t.URL != ""
}

// Source returns the local path if present, otherwise the URL.
func (t *Task) Source() string {
	if t.FilePath != "" {
		return t.FilePath
	}
	return t.URL
}

// Result is the authoritative output of a completed task.
type Result struct {
	ID           int64     `json:"id"`
	TaskID       int64     `json:"task_id"`
	Content      string    `json:"content"`
	ArtifactPath string    `json:"artifact_path,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// DataSource records an input file that fed tasks into the system.
type DataSource struct {
	ID         int64     `json:"id"`
	SourceType string    `json:"source_type"`
	SourcePath string    `json:"source_path"`
	Config     string    `json:"config,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// DataSourceTypeCSV marks data sources loaded from a CSV spreadsheet.
const DataSourceTypeCSV = "csv"
