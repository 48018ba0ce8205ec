package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/mediascribe/internal/domain"
)

// TaskFinishedEvent reports that a task reached completed or failed.
type TaskFinishedEvent struct {
	ID           uuid.UUID         `json:"id"`
	TaskID       int64             `json:"task_id"`
	Kind         domain.TaskKind   `json:"kind"`
	Engine       string            `json:"engine"`
	Status       domain.TaskStatus `json:"status"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Attempts     int               `json:"attempts"`
	Duration     time.Duration     `json:"duration"`
	OccurredAt   time.Time         `json:"occurred_at"`
}

// NewTaskFinishedEvent builds an event for task in its current status.
func NewTaskFinishedEvent(task *domain.Task, attempts int, duration time.Duration) *TaskFinishedEvent {
	return &TaskFinishedEvent{
		ID:           uuid.New(),
		TaskID:       task.ID,
		Kind:         task.Kind,
		Engine:       task.Engine,
		Status:       task.Status,
		ErrorMessage: task.ErrorMessage,
		Attempts:     attempts,
		Duration:     duration,
		OccurredAt:   time.Now().UTC(),
	}
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	HandleEvent(ctx context.Context, event *TaskFinishedEvent) error
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, event *TaskFinishedEvent) error

// HandleEvent calls f.
func (f EventHandlerFunc) HandleEvent(ctx context.Context, event *TaskFinishedEvent) error {
	return f(ctx, event)
}

// EventEmitter defines an interface for components that can emit events.
type EventEmitter interface {
	EmitEvent(ctx context.Context, event *TaskFinishedEvent) error
}

// NopEmitter discards every event.
type NopEmitter struct{}

// EmitEvent implements EventEmitter.
func (NopEmitter) EmitEvent(context.Context, *TaskFinishedEvent) error { return nil }
