package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/mediascribe/internal/domain"
	"github.com/phrazzld/mediascribe/internal/engine"
	"github.com/phrazzld/mediascribe/internal/mocks"
	"github.com/phrazzld/mediascribe/internal/note"
	"github.com/phrazzld/mediascribe/internal/task"
)

type recordingSubmitter struct {
	mu  sync.Mutex
	ids []int64
	err error
}

func (s *recordingSubmitter) Submit(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, id)
	return s.err
}

type apiFixture struct {
	router    http.Handler
	store     *mocks.MockStore
	orch      *task.Orchestrator
	notes     note.Service
	submitter *recordingSubmitter
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st := mocks.NewMockStore()
	images := engine.NewSelector(engine.IDMistral, logger,
		mocks.NewMockEngine(engine.IDLocal, "plain"),
		mocks.NewMockEngine(engine.IDMistral, "# heading"))
	videos := engine.NewSelector(engine.IDParaformer, logger,
		mocks.NewMockEngine(engine.IDParaformer, "transcript"))

	orch := task.NewOrchestrator(st, &mocks.MockDownloader{Dir: "/tmp"}, images, videos, task.Config{
		DefaultEngine:      string(engine.IDMistral),
		DefaultVideoEngine: string(engine.IDParaformer),
		EngineTimeout:      time.Second,
		Retry:              task.RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond},
	}, logger)

	notes, err := note.NewService(st, orch, logger)
	require.NoError(t, err)

	submitter := &recordingSubmitter{}
	tasks := NewTaskHandler(orch, submitter, images, videos, logger)
	noteHandler := NewNoteHandler(notes, logger)

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Get("/tasks", tasks.ListTasks)
		r.Post("/tasks", tasks.CreateTask)
		r.Delete("/tasks", tasks.DeleteAllTasks)
		r.Get("/tasks/{id}", tasks.GetTask)
		r.Get("/tasks/{id}/result", tasks.GetTaskResult)
		r.Post("/tasks/{id}/retry", tasks.RetryTask)
		r.Delete("/tasks/{id}", tasks.DeleteTask)
		r.Get("/notes/results", noteHandler.GetNoteResults)
	})

	return &apiFixture{router: r, store: st, orch: orch, notes: notes, submitter: submitter}
}

func (f *apiFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestCreateTask(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantEngine string
		wantKind   string
	}{
		{"default image engine", `{"url":"https://example.com/a.jpg"}`, http.StatusAccepted, "mistral", "image"},
		{"explicit engine", `{"url":"https://example.com/a.jpg","engine":"local"}`, http.StatusAccepted, "local", "image"},
		{"video default", `{"url":"https://example.com/v.mp4","kind":"video"}`, http.StatusAccepted, "ali_paraformer_v2", "video"},
		{"file path only", `{"file_path":"/data/a.png"}`, http.StatusAccepted, "mistral", "image"},
		{"no source", `{"engine":"local"}`, http.StatusBadRequest, "", ""},
		{"bad kind", `{"url":"https://example.com/a.jpg","kind":"audio"}`, http.StatusBadRequest, "", ""},
		{"unknown engine", `{"url":"https://example.com/a.jpg","engine":"gpt"}`, http.StatusBadRequest, "", ""},
		{"image engine for video", `{"url":"https://example.com/v.mp4","kind":"video","engine":"local"}`, http.StatusBadRequest, "", ""},
		{"unknown field", `{"url":"https://example.com/a.jpg","priority":1}`, http.StatusBadRequest, "", ""},
		{"empty body", ``, http.StatusBadRequest, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newAPIFixture(t)

			rec := f.do(t, http.MethodPost, "/api/tasks", tt.body)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())

			if tt.wantStatus != http.StatusAccepted {
				assert.Zero(t, f.store.TaskCount())
				assert.Empty(t, f.submitter.ids)
				return
			}
			resp := decode[TaskResponse](t, rec)
			assert.Equal(t, tt.wantEngine, resp.Engine)
			assert.Equal(t, tt.wantKind, resp.Kind)
			assert.Equal(t, "pending", resp.Status)
			assert.Equal(t, []int64{resp.ID}, f.submitter.ids)
		})
	}
}

func TestCreateTask_QueueFullStillAccepted(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)
	f.submitter.err = task.ErrQueueFull

	rec := f.do(t, http.MethodPost, "/api/tasks", `{"url":"https://example.com/a.jpg"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, f.store.TaskCount())
}

func TestGetTaskAndResult(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)
	ctx := context.Background()

	id, err := f.orch.CreateTask(ctx, "https://example.com/a.jpg", "", "", domain.TaskKindImage)
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/tasks/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, decode[TaskResponse](t, rec).ID)

	rec = f.do(t, http.MethodGet, "/api/tasks/1/result", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "no result before processing")

	require.True(t, f.orch.Process(ctx, id))

	rec = f.do(t, http.MethodGet, "/api/tasks/1/result", "")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[ResultResponse](t, rec)
	assert.Equal(t, "# heading", res.Content)
	assert.Equal(t, id, res.TaskID)

	rec = f.do(t, http.MethodGet, "/api/tasks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]TaskResponse](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "completed", list[0].Status)
}

func TestGetTask_Errors(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/tasks/42", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/tasks/42/result", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/tasks/abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/tasks/0", "").Code)

	rec := f.do(t, http.MethodGet, "/api/tasks/42", "")
	assert.Equal(t, "Task not found", decode[map[string]any](t, rec)["error"])
}

func TestRetryTask(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)
	ctx := context.Background()

	id, err := f.orch.CreateTask(ctx, "https://example.com/a.jpg", "", "", domain.TaskKindImage)
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/api/tasks/1/retry", "")
	assert.Equal(t, http.StatusConflict, rec.Code, "pending task cannot be retried")

	f.store.SetTaskStatus(id, domain.TaskStatusFailed, "boom")
	rec = f.do(t, http.MethodPost, "/api/tasks/1/retry", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decode[TaskResponse](t, rec)
	assert.Equal(t, "pending", resp.Status)
	assert.Empty(t, resp.ErrorMessage)
	assert.Equal(t, []int64{id}, f.submitter.ids)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/tasks/9/retry", "").Code)
}

func TestDeleteTasks(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)
	ctx := context.Background()

	for range 3 {
		_, err := f.orch.CreateTask(ctx, "https://example.com/a.jpg", "", "", domain.TaskKindImage)
		require.NoError(t, err)
	}

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/tasks/2", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/api/tasks/2", "").Code)

	rec := f.do(t, http.MethodDelete, "/api/tasks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[DeleteAllResponse](t, rec).Deleted)
	assert.Zero(t, f.store.TaskCount())
}

func TestGetNoteResults(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)
	ctx := context.Background()

	ok, _, ids := f.notes.ProcessNote(ctx, note.Record{
		NoteURL:   "https://www.xiaohongshu.com/discovery/item/abc123?xsec=1",
		ImageList: "https://example.com/1.jpg,https://example.com/2.jpg",
	}, note.Options{})
	require.True(t, ok)
	require.Len(t, ids, 2)
	require.True(t, f.orch.Process(ctx, ids[0]))

	rec := f.do(t, http.MethodGet, "/api/notes/results?url=https://www.xiaohongshu.com/explore/abc123", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[NoteResultsResponse](t, rec)
	assert.Equal(t, "https://www.xiaohongshu.com/explore/abc123", resp.NoteURL)
	assert.Equal(t, ids, resp.ImageTaskIDs)
	assert.Empty(t, resp.VideoTaskIDs)
	assert.Equal(t, "【图片1内容解析】\n# heading", resp.ImageText)
	assert.Equal(t, resp.ImageText, resp.Combined)
}

func TestGetNoteResults_Errors(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/notes/results", "").Code)

	rec := f.do(t, http.MethodGet, "/api/notes/results?url=https://www.xiaohongshu.com/explore/none", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Note not found", decode[map[string]any](t, rec)["error"])
}

func TestMapErrorToStatusCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrInvalidInput, http.StatusBadRequest},
		{domain.ErrInvalidTaskKind, http.StatusBadRequest},
		{errUnknownEngine, http.StatusBadRequest},
		{domain.ErrInvalidTransition, http.StatusConflict},
		{errors.Join(errors.New("wrapped"), domain.ErrInvalidTransition), http.StatusConflict},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MapErrorToStatusCode(tt.err), tt.err.Error())
	}
	assert.Equal(t, "An unexpected error occurred", GetSafeErrorMessage(errors.New("password=secret")))
}

func TestSanitizeValidationError(t *testing.T) {
	t.Parallel()

	msg := "Key: 'CreateTaskRequest.Kind' Error:Field validation for 'Kind' failed on the 'oneof' tag"
	assert.Equal(t, "Invalid Kind: invalid value", SanitizeValidationError(errors.New(msg)))
	assert.Equal(t, "Validation error", SanitizeValidationError(errors.New("something else")))
}
