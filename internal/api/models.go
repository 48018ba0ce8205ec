package api

import (
	"time"

	"github.com/phrazzld/mediascribe/internal/domain"
)

// CreateTaskRequest is the body of POST /api/tasks.
type CreateTaskRequest struct {
	URL      string `json:"url"       validate:"required_without=FilePath,max=4096"`
	FilePath string `json:"file_path" validate:"omitempty,max=4096"`
	Engine   string `json:"engine"    validate:"omitempty,max=64"`
	Kind     string `json:"kind"      validate:"omitempty,oneof=image video"`
}

// TaskResponse is the API view of a task.
type TaskResponse struct {
	ID           int64     `json:"id"`
	URL          string    `json:"url,omitempty"`
	FilePath     string    `json:"file_path,omitempty"`
	Engine       string    `json:"engine"`
	Kind         string    `json:"kind"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ResultResponse is the API view of a task result.
type ResultResponse struct {
	TaskID       int64     `json:"task_id"`
	Content      string    `json:"content"`
	ArtifactPath string    `json:"artifact_path,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// NoteResultsResponse is returned by GET /api/notes/results.
type NoteResultsResponse struct {
	NoteURL      string  `json:"note_url"`
	Status       string  `json:"status"`
	ImageTaskIDs []int64 `json:"image_task_ids"`
	VideoTaskIDs []int64 `json:"video_task_ids"`
	ImageText    string  `json:"image_text"`
	VideoText    string  `json:"video_text"`
	Combined     string  `json:"combined"`
}

// DeleteAllResponse reports how many tasks DELETE /api/tasks removed.
type DeleteAllResponse struct {
	Deleted int `json:"deleted"`
}

func taskToResponse(t *domain.Task) TaskResponse {
	return TaskResponse{
		ID:           t.ID,
		URL:          t.URL,
		FilePath:     t.FilePath,
		Engine:       t.Engine,
		Kind:         string(t.Kind),
		Status:       string(t.Status),
		ErrorMessage: t.ErrorMessage,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

func resultToResponse(r *domain.Result) ResultResponse {
	return ResultResponse{
		TaskID:       r.TaskID,
		Content:      r.Content,
		ArtifactPath: r.ArtifactPath,
		CreatedAt:    r.CreatedAt,
	}
}
