package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/phrazzld/mediascribe/internal/api/shared"
	"github.com/phrazzld/mediascribe/internal/domain"
	"github.com/phrazzld/mediascribe/internal/engine"
	"github.com/phrazzld/mediascribe/internal/platform/logger"
)

// TaskService is the part of the orchestrator the task endpoints use.
type TaskService interface {
	CreateTask(ctx context.Context, url, filePath, engineID string, kind domain.TaskKind) (int64, error)
	GetTask(ctx context.Context, id int64) (*domain.Task, error)
	GetAllTasks(ctx context.Context) ([]*domain.Task, error)
	GetTaskResult(ctx context.Context, id int64) (*domain.Result, error)
	DeleteTask(ctx context.Context, id int64) bool
	DeleteAllTasks(ctx context.Context) int
	RetryTask(ctx context.Context, id int64) error
}

// TaskSubmitter queues a pending task for background processing.
type TaskSubmitter interface {
	Submit(ctx context.Context, id int64) error
}

// EngineLookup resolves an engine identifier without falling back to a
// default.
type EngineLookup interface {
	Lookup(id string) (engine.Engine, bool)
}

// TaskHandler serves the /api/tasks endpoints.
type TaskHandler struct {
	tasks     TaskService
	submitter TaskSubmitter
	images    EngineLookup
	videos    EngineLookup
	validator *validator.Validate
	logger    *slog.Logger
}

// NewTaskHandler creates a TaskHandler. images and videos are consulted to
// reject unknown engines before a task is created.
func NewTaskHandler(
	tasks TaskService,
	submitter TaskSubmitter,
	images, videos EngineLookup,
	logger *slog.Logger,
) *TaskHandler {
	return &TaskHandler{
		tasks:     tasks,
		submitter: submitter,
		images:    images,
		videos:    videos,
		validator: validator.New(),
		logger:    logger.With("component", "task_handler"),
	}
}

// CreateTask handles POST /api/tasks. The task is created pending and
// submitted to the runner; the response is 202 with the stored task.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	kind, err := domain.ParseTaskKind(req.Kind)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	if err := h.checkEngine(kind, req.Engine); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	id, err := h.tasks.CreateTask(r.Context(), req.URL, req.FilePath, req.Engine, kind)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to create task")
		return
	}

	// A task that cannot be queued stays pending and is picked up by the
	// next pending sweep.
	if err := h.submitter.Submit(r.Context(), id); err != nil {
		logger.FromContextOrDefault(r.Context(), h.logger).Warn("task created but not queued",
			"task_id", id, "error", err)
	}

	h.respondWithTask(w, r, id, http.StatusAccepted)
}

func (h *TaskHandler) checkEngine(kind domain.TaskKind, id string) error {
	if id == "" {
		return nil
	}
	lookup := h.images
	if kind == domain.TaskKindVideo {
		lookup = h.videos
	}
	if _, ok := lookup.Lookup(id); !ok {
		return fmt.Errorf("%w %q for %s tasks", errUnknownEngine, id, kind)
	}
	return nil
}

// ListTasks handles GET /api/tasks.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.tasks.GetAllTasks(r.Context())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list tasks")
		return
	}
	resp := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		resp = append(resp, taskToResponse(t))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// GetTask handles GET /api/tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := handlePathID(w, r)
	if !ok {
		return
	}
	h.respondWithTask(w, r, id, http.StatusOK)
}

// GetTaskResult handles GET /api/tasks/{id}/result. It returns 404 both for
// unknown tasks and for tasks that have not produced a result yet.
func (h *TaskHandler) GetTaskResult(w http.ResponseWriter, r *http.Request) {
	id, ok := handlePathID(w, r)
	if !ok {
		return
	}
	if _, err := h.tasks.GetTask(r.Context(), id); err != nil {
		HandleAPIError(w, r, err, "Failed to load task")
		return
	}

	res, err := h.tasks.GetTaskResult(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to load result")
		return
	}
	if res == nil {
		shared.RespondWithError(w, r, http.StatusNotFound, "Result not found")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resultToResponse(res))
}

// RetryTask handles POST /api/tasks/{id}/retry. Only failed tasks can be
// retried; anything else is a 409.
func (h *TaskHandler) RetryTask(w http.ResponseWriter, r *http.Request) {
	id, ok := handlePathID(w, r)
	if !ok {
		return
	}
	if err := h.tasks.RetryTask(r.Context(), id); err != nil {
		HandleAPIError(w, r, err, "Failed to retry task")
		return
	}
	if err := h.submitter.Submit(r.Context(), id); err != nil {
		logger.FromContextOrDefault(r.Context(), h.logger).Warn("task reset but not queued",
			"task_id", id, "error", err)
	}
	h.respondWithTask(w, r, id, http.StatusAccepted)
}

// DeleteTask handles DELETE /api/tasks/{id}.
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := handlePathID(w, r)
	if !ok {
		return
	}
	if _, err := h.tasks.GetTask(r.Context(), id); err != nil {
		HandleAPIError(w, r, err, "Failed to delete task")
		return
	}
	if !h.tasks.DeleteTask(r.Context(), id) {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to delete task",
			errors.New("delete task returned false"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteAllTasks handles DELETE /api/tasks.
func (h *TaskHandler) DeleteAllTasks(w http.ResponseWriter, r *http.Request) {
	deleted := h.tasks.DeleteAllTasks(r.Context())
	shared.RespondWithJSON(w, r, http.StatusOK, DeleteAllResponse{Deleted: deleted})
}

func (h *TaskHandler) respondWithTask(w http.ResponseWriter, r *http.Request, id int64, status int) {
	t, err := h.tasks.GetTask(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to load task")
		return
	}
	shared.RespondWithJSON(w, r, status, taskToResponse(t))
}
