// Package storetest holds a behavioural test suite shared by every
// store.Store backend.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/mediascribe/internal/domain"
	"github.com/phrazzld/mediascribe/internal/store"
)

// Factory returns an empty store for a single subtest.
type Factory func(t *testing.T) store.Store

// Run exercises s against the store contract.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndGetTask", func(t *testing.T) { testCreateAndGetTask(t, newStore(t)) })
	t.Run("CreateTaskRejectsInvalid", func(t *testing.T) { testCreateTaskRejectsInvalid(t, newStore(t)) })
	t.Run("ListOrdering", func(t *testing.T) { testListOrdering(t, newStore(t)) })
	t.Run("StatusTransitions", func(t *testing.T) { testStatusTransitions(t, newStore(t)) })
	t.Run("ClaimTask", func(t *testing.T) { testClaimTask(t, newStore(t)) })
	t.Run("ResetTask", func(t *testing.T) { testResetTask(t, newStore(t)) })
	t.Run("StuckTasks", func(t *testing.T) { testStuckTasks(t, newStore(t)) })
	t.Run("Results", func(t *testing.T) { testResults(t, newStore(t)) })
	t.Run("DeleteResult", func(t *testing.T) { testDeleteResult(t, newStore(t)) })
	t.Run("DeleteCascades", func(t *testing.T) { testDeleteCascades(t, newStore(t)) })
	t.Run("Notes", func(t *testing.T) { testNotes(t, newStore(t)) })
	t.Run("DataSources", func(t *testing.T) { testDataSources(t, newStore(t)) })
}

func newTask(t *testing.T, s store.Store, url string, kind domain.TaskKind) *domain.Task {
	t.Helper()
	task, err := domain.NewTask(url, "", "mistral", kind)
	require.NoError(t, err)
	_, err = s.CreateTask(context.Background(), task)
	require.NoError(t, err)
	return task
}

func testCreateAndGetTask(t *testing.T, s store.Store) {
	ctx := context.Background()
	task := newTask(t, s, "https://a.test/1.jpg", domain.TaskKindImage)
	assert.NotZero(t, task.ID)

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.URL, got.URL)
	assert.Equal(t, "mistral", got.Engine)
	assert.Equal(t, domain.TaskKindImage, got.Kind)
	assert.Equal(t, domain.TaskStatusPending, got.Status)
	assert.Empty(t, got.ErrorMessage)

	_, err = s.GetTask(ctx, task.ID+1000)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
	assert.True(t, store.IsNotFoundError(err))

	require.NoError(t, s.UpdateTaskFilePath(ctx, task.ID, "/tmp/1.jpg"))
	got, err = s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/1.jpg", got.FilePath)
	assert.ErrorIs(t, s.UpdateTaskFilePath(ctx, task.ID+1000, "x"), store.ErrTaskNotFound)
}

func testCreateTaskRejectsInvalid(t *testing.T, s store.Store) {
	_, err := s.CreateTask(context.Background(), &domain.Task{Engine: "mistral", Kind: domain.TaskKindImage,
		Status: domain.TaskStatusPending})
	assert.ErrorIs(t, err, store.ErrInvalidEntity)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func testListOrdering(t *testing.T, s store.Store) {
	ctx := context.Background()
	first := newTask(t, s, "https://a.test/1.jpg", domain.TaskKindImage)
	time.Sleep(5 * time.Millisecond)
	second := newTask(t, s, "https://a.test/2.jpg", domain.TaskKindImage)

	all, err := s.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID, "newest first")

	pending, err := s.ListTasksByStatus(ctx, domain.TaskStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID, "oldest first")

	none, err := s.ListTasksByStatus(ctx, domain.TaskStatusCompleted)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testStatusTransitions(t *testing.T, s store.Store) {
	ctx := context.Background()
	task := newTask(t, s, "https://a.test/1.jpg", domain.TaskKindImage)

	require.NoError(t, s.UpdateTaskStatus(ctx, task.ID, domain.TaskStatusProcessing, "ignored"))
	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusProcessing, got.Status)
	assert.Empty(t, got.ErrorMessage, "message only stored for failed tasks")

	require.NoError(t, s.UpdateTaskStatus(ctx, task.ID, domain.TaskStatusFailed, "boom"))
	got, err = s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Equal(t, "boom", got.ErrorMessage)

	err = s.UpdateTaskStatus(ctx, task.ID, domain.TaskStatusProcessing, "")
	assert.ErrorIs(t, err, store.ErrUpdateFailed)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	assert.ErrorIs(t, s.UpdateTaskStatus(ctx, task.ID+1000, domain.TaskStatusProcessing, ""), store.ErrTaskNotFound)
}

func testClaimTask(t *testing.T, s store.Store) {
	ctx := context.Background()
	task := newTask(t, s, "https://a.test/1.jpg", domain.TaskKindImage)

	require.NoError(t, s.ClaimTask(ctx, task.ID))
	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusProcessing, got.Status)

	err = s.ClaimTask(ctx, task.ID)
	assert.ErrorIs(t, err, store.ErrUpdateFailed, "second claim must fail")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = s.CreateResult(ctx, &domain.Result{TaskID: task.ID, Content: "x"})
	require.NoError(t, err)
	assert.ErrorIs(t, s.ClaimTask(ctx, task.ID), domain.ErrInvalidTransition, "completed tasks cannot be claimed")

	assert.ErrorIs(t, s.ClaimTask(ctx, task.ID+1000), store.ErrTaskNotFound)
}

func testResetTask(t *testing.T, s store.Store) {
	ctx := context.Background()
	task := newTask(t, s, "https://a.test/1.jpg", domain.TaskKindImage)

	err := s.ResetTask(ctx, task.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "pending tasks cannot be reset")

	require.NoError(t, s.UpdateTaskStatus(ctx, task.ID, domain.TaskStatusFailed, "boom"))
	require.NoError(t, s.ResetTask(ctx, task.ID))

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, got.Status)
	assert.Empty(t, got.ErrorMessage)

	assert.ErrorIs(t, s.ResetTask(ctx, task.ID+1000), store.ErrTaskNotFound)
}

func testStuckTasks(t *testing.T, s store.Store) {
	ctx := context.Background()
	task := newTask(t, s, "https://a.test/1.jpg", domain.TaskKindImage)
	newTask(t, s, "https://a.test/2.jpg", domain.TaskKindImage)
	require.NoError(t, s.UpdateTaskStatus(ctx, task.ID, domain.TaskStatusProcessing, ""))

	stuck, err := s.ListStuckTasks(ctx, 0)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, task.ID, stuck[0].ID)

	stuck, err = s.ListStuckTasks(ctx, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, stuck)
}

func testResults(t *testing.T, s store.Store) {
	ctx := context.Background()
	task := newTask(t, s, "https://a.test/1.jpg", domain.TaskKindImage)

	_, err := s.CreateResult(ctx, &domain.Result{TaskID: task.ID, Content: "early"})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "pending task cannot complete")

	require.NoError(t, s.UpdateTaskStatus(ctx, task.ID, domain.TaskStatusProcessing, ""))
	res := &domain.Result{TaskID: task.ID, Content: "hello", ArtifactPath: "/r/1_mistral.txt"}
	id, err := s.CreateResult(ctx, res)
	require.NoError(t, err)
	assert.Equal(t, id, res.ID)

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)

	stored, err := s.GetResultByTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", stored.Content)
	assert.Equal(t, "/r/1_mistral.txt", stored.ArtifactPath)

	_, err = s.CreateResult(ctx, &domain.Result{TaskID: task.ID, Content: "again"})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	_, err = s.GetResultByTask(ctx, task.ID+1000)
	assert.ErrorIs(t, err, store.ErrResultNotFound)

	_, err = s.CreateResult(ctx, &domain.Result{TaskID: task.ID + 1000, Content: "x"})
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func testDeleteResult(t *testing.T, s store.Store) {
	ctx := context.Background()
	task := newTask(t, s, "https://a.test/1.jpg", domain.TaskKindImage)
	require.NoError(t, s.ClaimTask(ctx, task.ID))
	id, err := s.CreateResult(ctx, &domain.Result{TaskID: task.ID, Content: "hello"})
	require.NoError(t, err)

	got, err := s.GetResult(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.TaskID)
	assert.Equal(t, "hello", got.Content)

	_, err = s.GetResult(ctx, id+1000)
	assert.ErrorIs(t, err, store.ErrResultNotFound)

	require.NoError(t, s.DeleteResult(ctx, id))

	_, err = s.GetResult(ctx, id)
	assert.ErrorIs(t, err, store.ErrResultNotFound)
	_, err = s.GetResultByTask(ctx, task.ID)
	assert.ErrorIs(t, err, store.ErrResultNotFound)

	reopened, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, reopened.Status, "a completed task never lacks a result")

	assert.ErrorIs(t, s.DeleteResult(ctx, id), store.ErrResultNotFound)

	// The reopened task can be claimed and completed again.
	require.NoError(t, s.ClaimTask(ctx, task.ID))
	_, err = s.CreateResult(ctx, &domain.Result{TaskID: task.ID, Content: "again"})
	require.NoError(t, err)
}

func testDeleteCascades(t *testing.T, s store.Store) {
	ctx := context.Background()
	task := newTask(t, s, "https://a.test/1.jpg", domain.TaskKindImage)
	require.NoError(t, s.UpdateTaskStatus(ctx, task.ID, domain.TaskStatusProcessing, ""))
	_, err := s.CreateResult(ctx, &domain.Result{TaskID: task.ID, Content: "x"})
	require.NoError(t, err)

	note, err := s.GetOrCreateNote(ctx, "https://www.xiaohongshu.com/explore/abc")
	require.NoError(t, err)
	require.NoError(t, s.AttachTasks(ctx, note.ID, domain.TaskKindImage, task.ID))

	require.NoError(t, s.DeleteTask(ctx, task.ID))

	_, err = s.GetTask(ctx, task.ID)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
	_, err = s.GetResultByTask(ctx, task.ID)
	assert.ErrorIs(t, err, store.ErrResultNotFound)

	note, err = s.GetNote(ctx, note.NoteURL)
	require.NoError(t, err)
	assert.Empty(t, note.ImageTaskIDs)

	assert.ErrorIs(t, s.DeleteTask(ctx, task.ID), store.ErrTaskNotFound)
}

func testNotes(t *testing.T, s store.Store) {
	ctx := context.Background()
	const url = "https://www.xiaohongshu.com/explore/abc"

	_, err := s.GetNote(ctx, url)
	assert.ErrorIs(t, err, store.ErrNoteNotFound)

	note, err := s.GetOrCreateNote(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, domain.NoteStatusPending, note.Status)
	again, err := s.GetOrCreateNote(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, note.ID, again.ID)

	img1 := newTask(t, s, "https://a.test/1.jpg", domain.TaskKindImage)
	img2 := newTask(t, s, "https://a.test/2.jpg", domain.TaskKindImage)
	vid := newTask(t, s, "https://a.test/v.mp4", domain.TaskKindVideo)

	require.NoError(t, s.AttachTasks(ctx, note.ID, domain.TaskKindImage, img2.ID, img1.ID))
	require.NoError(t, s.AttachTasks(ctx, note.ID, domain.TaskKindImage, img1.ID))
	require.NoError(t, s.AttachTasks(ctx, note.ID, domain.TaskKindVideo, vid.ID))

	got, err := s.GetNote(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, []int64{img2.ID, img1.ID}, got.ImageTaskIDs)
	assert.Equal(t, []int64{vid.ID}, got.VideoTaskIDs)

	assert.ErrorIs(t, s.AttachTasks(ctx, note.ID+1000, domain.TaskKindImage, img1.ID), store.ErrNoteNotFound)

	require.NoError(t, s.UpdateNoteStatus(ctx, note.ID, domain.NoteStatusCompletedWithErrors))
	got, err = s.GetNote(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, domain.NoteStatusCompletedWithErrors, got.Status)

	other, err := s.GetOrCreateNote(ctx, "https://www.xiaohongshu.com/explore/def")
	require.NoError(t, err)
	require.NoError(t, s.AttachTasks(ctx, other.ID, domain.TaskKindImage, img1.ID))

	notes, err := s.ListNotesByTask(ctx, img1.ID)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, note.ID, notes[0].ID)
	assert.Equal(t, other.ID, notes[1].ID)

	notes, err = s.ListNotesByTask(ctx, vid.ID+1000)
	require.NoError(t, err)
	assert.Empty(t, notes)
}

func testDataSources(t *testing.T, s store.Store) {
	ctx := context.Background()
	ds, err := s.GetOrCreateDataSource(ctx, &domain.DataSource{
		SourceType: domain.DataSourceTypeCSV,
		SourcePath: "/data/notes.csv",
		Config:     `{"url_column":"图片链接"}`,
	})
	require.NoError(t, err)
	assert.NotZero(t, ds.ID)
	assert.Equal(t, domain.DataSourceTypeCSV, ds.SourceType)

	time.Sleep(5 * time.Millisecond)
	again, err := s.GetOrCreateDataSource(ctx, &domain.DataSource{
		SourceType: domain.DataSourceTypeCSV,
		SourcePath: "/data/notes.csv",
	})
	require.NoError(t, err)
	assert.Equal(t, ds.ID, again.ID)
	assert.Equal(t, ds.Config, again.Config)
	assert.True(t, ds.UpdatedAt.Equal(again.UpdatedAt), "lookup must not touch the row: %s != %s",
		ds.UpdatedAt, again.UpdatedAt)
}
