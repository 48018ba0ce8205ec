package note

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/mediascribe/internal/domain"
	"github.com/phrazzld/mediascribe/internal/engine"
	"github.com/phrazzld/mediascribe/internal/events"
	"github.com/phrazzld/mediascribe/internal/mocks"
	"github.com/phrazzld/mediascribe/internal/store"
	"github.com/phrazzld/mediascribe/internal/task"
)

const noteURL = "https://www.xiaohongshu.com/explore/64a1b2c3d4"

type fixture struct {
	svc   Service
	orch  *task.Orchestrator
	store *mocks.MockStore
	ocr   *mocks.MockEngine
	video *mocks.MockEngine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &fixture{
		store: mocks.NewMockStore(),
		ocr:   mocks.NewMockEngine(engine.IDMistral, ""),
		video: mocks.NewMockEngine(engine.IDParaformer, "transcript"),
	}
	// Echo the downloaded file name so results can be told apart.
	f.ocr.ProcessFn = func(_ context.Context, input string, _ int) (*engine.Output, error) {
		return &engine.Output{Text: "text of " + input}, nil
	}

	emitter := events.NewInMemoryEventEmitter(logger)
	f.orch = task.NewOrchestrator(f.store,
		&mocks.MockDownloader{Dir: "/dl"},
		engine.NewSelector(engine.IDMistral, logger, f.ocr),
		engine.NewSelector(engine.IDParaformer, logger, f.video),
		task.Config{Retry: task.RetryPolicy{MaxRetries: 0}},
		logger,
		task.WithEventEmitter(emitter),
		task.WithSleep(func(context.Context, time.Duration) error { return nil }),
	)

	svc, err := NewService(f.store, f.orch, logger)
	require.NoError(t, err)
	emitter.RegisterHandler(svc)
	f.svc = svc
	return f
}

func TestNewService_RequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := NewService(nil, nil, nil)
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "create_service", svcErr.Operation)

	_, err = NewService(mocks.NewMockStore(), nil, nil)
	assert.ErrorContains(t, err, "task creator cannot be nil")
}

func TestProcessNote_EmptyURL(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	ok, msg, ids := f.svc.ProcessNote(context.Background(), Record{NoteURL: "  ", ImageList: "https://a/1.jpg"}, Options{})
	assert.False(t, ok)
	assert.Equal(t, "note URL is empty", msg)
	assert.Nil(t, ids)
	assert.Zero(t, f.store.TaskCount())
}

func TestProcessNote_CreatesTasks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	rec := Record{
		NoteURL:   noteURL + "?xsec_token=abc",
		ImageList: "https://cdn.example.com/1.jpg, https://example.com/page.html，https://cdn.example.com/2.png",
		VideoURL:  "https://sns-video-bd.xhscdn.com/stream/110/258/01e5c3",
	}

	ok, msg, ids := f.svc.ProcessNote(ctx, rec, Options{ProcessVideo: true})
	require.True(t, ok)
	assert.Equal(t, "created 3 tasks (images: 2, videos: 1)", msg)
	require.Len(t, ids, 3)

	rel, err := f.svc.GetNote(ctx, noteURL)
	require.NoError(t, err)
	assert.Equal(t, noteURL, rel.NoteURL)
	assert.Equal(t, ids[:2], rel.ImageTaskIDs)
	assert.Equal(t, ids[2:], rel.VideoTaskIDs)
	assert.Equal(t, domain.NoteStatusProcessing, rel.Status)

	video, err := f.orch.GetTask(ctx, ids[2])
	require.NoError(t, err)
	assert.Equal(t, domain.TaskKindVideo, video.Kind)
	assert.Equal(t, string(engine.IDParaformer), video.Engine)

	// Same note again without video: new image tasks append, video stays.
	ok, msg, more := f.svc.ProcessNote(ctx, Record{NoteURL: noteURL, ImageList: "https://cdn.example.com/3.jpg", VideoURL: rec.VideoURL}, Options{})
	require.True(t, ok)
	assert.Equal(t, "created 1 tasks (images: 1, videos: 0)", msg)

	rel, err = f.svc.GetNote(ctx, noteURL)
	require.NoError(t, err)
	assert.Equal(t, append(ids[:2:2], more...), rel.ImageTaskIDs)
	assert.Len(t, rel.VideoTaskIDs, 1)
}

func TestProcessNote_NoValidResources(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	ok, msg, ids := f.svc.ProcessNote(ctx, Record{NoteURL: noteURL, ImageList: "not-a-url"}, Options{ProcessVideo: true})
	assert.True(t, ok)
	assert.Equal(t, "created 0 tasks (images: 0, videos: 0)", msg)
	assert.Empty(t, ids)

	_, err := f.svc.GetNote(ctx, noteURL)
	assert.ErrorIs(t, err, store.ErrNoteNotFound)
}

type failingCreator struct {
	inner TaskCreator
	after int
	calls int
}

func (c *failingCreator) CreateTask(ctx context.Context, url, filePath, engineID string, kind domain.TaskKind) (int64, error) {
	c.calls++
	if c.calls > c.after {
		return 0, errors.New("database is locked")
	}
	return c.inner.CreateTask(ctx, url, filePath, engineID, kind)
}

func TestProcessNote_CreateFailureKeepsCreatedTasks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	svc, err := NewService(f.store, &failingCreator{inner: f.orch, after: 1}, nil)
	require.NoError(t, err)

	ok, msg, ids := svc.ProcessNote(ctx, Record{NoteURL: noteURL, ImageList: "https://a/1.jpg,https://a/2.jpg"}, Options{})
	assert.False(t, ok)
	assert.Contains(t, msg, "database is locked")
	require.Len(t, ids, 1)

	rel, err := svc.GetNote(ctx, noteURL)
	require.NoError(t, err)
	assert.Equal(t, ids, rel.ImageTaskIDs)
}

func TestGetNoteResults_AttachmentOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	// The first image finishes last.
	f.ocr.ProcessFn = func(_ context.Context, input string, _ int) (*engine.Output, error) {
		if strings.HasSuffix(input, "a.jpg") {
			time.Sleep(30 * time.Millisecond)
		}
		return &engine.Output{Text: "text of " + input}, nil
	}

	_, _, ids := f.svc.ProcessNote(ctx, Record{
		NoteURL:   noteURL,
		ImageList: "https://a/a.jpg,https://a/b.jpg,https://a/c.jpg",
	}, Options{})
	require.Len(t, ids, 3)

	results := f.orch.ProcessTasksInParallel(ctx, ids, 3)
	require.Len(t, results, 3)

	want := "【图片1内容解析】\ntext of /dl/a.jpg\n\n" +
		"【图片2内容解析】\ntext of /dl/b.jpg\n\n" +
		"【图片3内容解析】\ntext of /dl/c.jpg"
	assert.Equal(t, want, f.svc.GetNoteOCRResults(ctx, noteURL+"?share=1"))

	status, err := f.svc.RefreshStatus(ctx, noteURL)
	require.NoError(t, err)
	assert.Equal(t, domain.NoteStatusCompleted, status)
}

func TestGetNoteResults_PartialAndCombined(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	f.ocr.ProcessFn = func(_ context.Context, input string, _ int) (*engine.Output, error) {
		if strings.HasSuffix(input, "b.jpg") {
			return nil, fmt.Errorf("%w: unreadable", engine.ErrTerminal)
		}
		return &engine.Output{Text: "text of " + input}, nil
	}

	_, _, ids := f.svc.ProcessNote(ctx, Record{
		NoteURL:   noteURL,
		ImageList: "https://a/a.jpg,https://a/b.jpg,https://a/c.jpg",
		VideoURL:  "https://cdn.example.com/clip.mp4",
	}, Options{ProcessVideo: true})
	require.Len(t, ids, 4)

	// Nothing processed yet.
	ok, msg, text := f.svc.GetNoteAllResults(ctx, noteURL)
	assert.False(t, ok)
	assert.Equal(t, ErrNoResults.Error(), msg)
	assert.Empty(t, text)

	for _, id := range ids {
		f.orch.Process(ctx, id)
	}

	ocr := f.svc.GetNoteOCRResults(ctx, noteURL)
	assert.Equal(t, "【图片1内容解析】\ntext of /dl/a.jpg\n\n【图片3内容解析】\ntext of /dl/c.jpg", ocr)
	assert.NotContains(t, ocr, "【图片2")

	videoText := f.svc.GetNoteVideoResults(ctx, noteURL)
	assert.Equal(t, "【视频语音字幕解析1】\ntranscript", videoText)

	ok, _, text = f.svc.GetNoteAllResults(ctx, noteURL)
	assert.True(t, ok)
	assert.Equal(t, ocr+"\n\n"+SectionSeparator+"\n\n"+videoText, text)

	// The event handler derived the status as the tasks finished.
	rel, err := f.svc.GetNote(ctx, noteURL)
	require.NoError(t, err)
	assert.Equal(t, domain.NoteStatusCompletedWithErrors, rel.Status)
}

func TestGetNoteResults_UnknownNote(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	assert.Empty(t, f.svc.GetNoteOCRResults(ctx, "https://example.com/nothing"))
	assert.Empty(t, f.svc.GetNoteVideoResults(ctx, "https://example.com/nothing"))

	_, err := f.svc.RefreshStatus(ctx, "https://example.com/nothing")
	assert.ErrorIs(t, err, store.ErrNoteNotFound)
}

func TestHandleEvent_AllFailed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.ocr.ProcessFn = func(context.Context, string, int) (*engine.Output, error) {
		return nil, fmt.Errorf("%w: bad", engine.ErrTerminal)
	}

	_, _, ids := f.svc.ProcessNote(ctx, Record{NoteURL: noteURL, ImageList: "https://a/a.jpg,https://a/b.jpg"}, Options{})
	require.Len(t, ids, 2)

	f.orch.Process(ctx, ids[0])
	rel, err := f.svc.GetNote(ctx, noteURL)
	require.NoError(t, err)
	assert.Equal(t, domain.NoteStatusProcessing, rel.Status)

	f.orch.Process(ctx, ids[1])
	rel, err = f.svc.GetNote(ctx, noteURL)
	require.NoError(t, err)
	assert.Equal(t, domain.NoteStatusFailed, rel.Status)
}
