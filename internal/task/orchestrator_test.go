package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/mediascribe/internal/domain"
	"github.com/phrazzld/mediascribe/internal/engine"
	"github.com/phrazzld/mediascribe/internal/events"
	"github.com/phrazzld/mediascribe/internal/mocks"
)

type attemptRecord struct {
	engine, outcome string
}

type recordingObserver struct {
	mu       sync.Mutex
	attempts []attemptRecord
}

func (r *recordingObserver) ObserveAttempt(engineID, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, attemptRecord{engineID, outcome})
}

// remoteEngine is a video engine that reads URLs itself.
type remoteEngine struct {
	*mocks.MockEngine
}

func (remoteEngine) AcceptsURL(string) bool { return true }

type fixture struct {
	orch       *Orchestrator
	store      *mocks.MockStore
	downloader *mocks.MockDownloader
	local      *mocks.MockEngine
	mistral    *mocks.MockEngine
	video      *mocks.MockEngine
	observer   *recordingObserver
	delays     []time.Duration
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	logger := setupTestLogger()

	f := &fixture{
		store:      mocks.NewMockStore(),
		downloader: &mocks.MockDownloader{Dir: "/tmp"},
		local:      mocks.NewMockEngine(engine.IDLocal, "hello"),
		mistral:    mocks.NewMockEngine(engine.IDMistral, "# hello"),
		video:      mocks.NewMockEngine(engine.IDParaformer, "transcript"),
		observer:   &recordingObserver{},
	}

	var mu sync.Mutex
	sleep := func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		f.delays = append(f.delays, d)
		mu.Unlock()
		return ctx.Err()
	}

	images := engine.NewSelector(engine.IDMistral, logger, f.local, f.mistral)
	videos := engine.NewSelector(engine.IDParaformer, logger, f.video)
	cfg := Config{
		EngineTimeout: time.Second,
		Retry:         RetryPolicy{MaxRetries: 2, BaseDelay: 10 * time.Millisecond},
	}
	opts = append([]Option{WithSleep(sleep), WithAttemptObserver(f.observer)}, opts...)
	f.orch = NewOrchestrator(f.store, f.downloader, images, videos, cfg, logger, opts...)
	return f
}

func (f *fixture) create(t *testing.T, url, filePath, engineID string, kind domain.TaskKind) int64 {
	t.Helper()
	id, err := f.orch.CreateTask(context.Background(), url, filePath, engineID, kind)
	require.NoError(t, err)
	return id
}

func (f *fixture) task(t *testing.T, id int64) *domain.Task {
	t.Helper()
	got, err := f.orch.GetTask(context.Background(), id)
	require.NoError(t, err)
	return got
}

func TestProcessTask_DownloadsAndCompletes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.local.Output = &engine.Output{Text: "hello", ArtifactPath: "/tmp/a.txt"}

	id := f.create(t, "http://x/a.jpg", "", "local", domain.TaskKindImage)

	require.True(t, f.orch.ProcessTask(ctx, id))

	got := f.task(t, id)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)
	assert.Equal(t, "/tmp/a.jpg", got.FilePath)
	assert.Empty(t, got.ErrorMessage)

	result, err := f.orch.GetTaskResult(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "hello", result.Content)
	assert.Equal(t, "/tmp/a.txt", result.ArtifactPath)

	assert.Equal(t, []string{"http://x/a.jpg"}, f.downloader.URLs())
	assert.Equal(t, []string{"/tmp/a.jpg"}, f.local.Inputs())
	assert.Zero(t, f.mistral.Calls())
	assert.Equal(t, []attemptRecord{{"local", outcomeSuccess}}, f.observer.attempts)
}

func TestProcessTask_RetriesExhausted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.local.Output = nil
	f.local.Err = errors.New("rate limited")

	id := f.create(t, "http://x/a.jpg", "", "local", domain.TaskKindImage)

	assert.False(t, f.orch.ProcessTask(ctx, id))

	got := f.task(t, id)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "retries exhausted")
	assert.Contains(t, got.ErrorMessage, "rate limited")

	// One initial call plus MaxRetries retries, each preceded by a backoff.
	assert.Equal(t, 3, f.local.Calls())
	require.Len(t, f.delays, 2)
	assert.GreaterOrEqual(t, f.delays[0], 10*time.Millisecond)
	assert.GreaterOrEqual(t, f.delays[1], 20*time.Millisecond)

	result, err := f.orch.GetTaskResult(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestProcessTask_ErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		processFn func(ctx context.Context, input string, call int) (*engine.Output, error)
		wantOK    bool
		wantCalls int
		wantMsg   string
	}{
		{
			name: "terminal error is not retried",
			processFn: func(context.Context, string, int) (*engine.Output, error) {
				return nil, fmt.Errorf("%w: unsupported image", engine.ErrTerminal)
			},
			wantCalls: 1,
			wantMsg:   "unsupported image",
		},
		{
			name: "unclassified error is not retried",
			processFn: func(context.Context, string, int) (*engine.Output, error) {
				return nil, errors.New("corrupt file")
			},
			wantCalls: 1,
			wantMsg:   "corrupt file",
		},
		{
			name: "transient then success",
			processFn: func(_ context.Context, _ string, call int) (*engine.Output, error) {
				if call == 1 {
					return nil, fmt.Errorf("%w: 503", engine.ErrTransient)
				}
				return &engine.Output{Text: "recovered"}, nil
			},
			wantOK:    true,
			wantCalls: 2,
		},
		{
			name: "deadline is retried",
			processFn: func(_ context.Context, _ string, call int) (*engine.Output, error) {
				if call < 3 {
					return nil, context.DeadlineExceeded
				}
				return &engine.Output{Text: "late"}, nil
			},
			wantOK:    true,
			wantCalls: 3,
		},
		{
			name: "empty output fails",
			processFn: func(context.Context, string, int) (*engine.Output, error) {
				return &engine.Output{Text: "   "}, nil
			},
			wantCalls: 1,
			wantMsg:   engine.ErrEmptyOutput.Error(),
		},
		{
			name: "secrets are redacted",
			processFn: func(context.Context, string, int) (*engine.Output, error) {
				return nil, errors.New("401 unauthorized for api_key=abcdef123456")
			},
			wantCalls: 1,
			wantMsg:   "api_key=[REDACTED_KEY]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.local.ProcessFn = tt.processFn

			id := f.create(t, "", "/data/a.png", "local", domain.TaskKindImage)
			assert.Equal(t, tt.wantOK, f.orch.ProcessTask(context.Background(), id))
			assert.Equal(t, tt.wantCalls, f.local.Calls())

			got := f.task(t, id)
			if tt.wantOK {
				assert.Equal(t, domain.TaskStatusCompleted, got.Status)
				return
			}
			assert.Equal(t, domain.TaskStatusFailed, got.Status)
			assert.Contains(t, got.ErrorMessage, tt.wantMsg)
		})
	}
}

func TestProcessTask_DownloadFailed(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.downloader.Err = errors.New("404 from https://x/a.jpg?token=secret123")

	id := f.create(t, "https://x/a.jpg", "", "", domain.TaskKindImage)
	assert.False(t, f.orch.ProcessTask(context.Background(), id))

	got := f.task(t, id)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Equal(t, MsgDownloadFailed, got.ErrorMessage)
	assert.Zero(t, f.mistral.Calls())
}

func TestProcessTask_LocalFileSkipsDownload(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	id := f.create(t, "https://x/a.jpg", "/data/a.jpg", "mistral", domain.TaskKindImage)
	require.True(t, f.orch.ProcessTask(context.Background(), id))

	assert.Empty(t, f.downloader.URLs())
	assert.Equal(t, []string{"/data/a.jpg"}, f.mistral.Inputs())
}

func TestProcessTask_OnlyPendingTasks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	id := f.create(t, "", "/data/a.png", "local", domain.TaskKindImage)
	require.True(t, f.orch.ProcessTask(ctx, id))

	assert.False(t, f.orch.ProcessTask(ctx, id))
	assert.Equal(t, 1, f.local.Calls())
	assert.Equal(t, domain.TaskStatusCompleted, f.task(t, id).Status)

	assert.False(t, f.orch.ProcessTask(ctx, 4242))
}

func TestProcessTask_ConcurrentCallersRunEngineOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.local.ProcessFn = func(context.Context, string, int) (*engine.Output, error) {
		time.Sleep(20 * time.Millisecond)
		return &engine.Output{Text: "hello"}, nil
	}

	id := f.create(t, "", "/data/a.png", "local", domain.TaskKindImage)

	const callers = 8
	var (
		wg        sync.WaitGroup
		completed atomic.Int32
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.orch.ProcessTask(ctx, id) {
				completed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, completed.Load())
	assert.Equal(t, 1, f.local.Calls())

	got := f.task(t, id)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)
	assert.Empty(t, got.ErrorMessage)
}

func TestProcessTask_PanicFailsTask(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.local.ProcessFn = func(context.Context, string, int) (*engine.Output, error) {
		panic("decoder exploded")
	}

	id := f.create(t, "", "/data/a.png", "local", domain.TaskKindImage)
	assert.False(t, f.orch.ProcessTask(context.Background(), id))

	got := f.task(t, id)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "decoder exploded")
}

func TestProcessTask_BackoffInterrupted(t *testing.T) {
	t.Parallel()
	f := newFixture(t, WithSleep(func(context.Context, time.Duration) error {
		return context.Canceled
	}))
	f.local.Err = fmt.Errorf("%w: throttled", engine.ErrTransient)

	id := f.create(t, "", "/data/a.png", "local", domain.TaskKindImage)
	assert.False(t, f.orch.ProcessTask(context.Background(), id))

	assert.Equal(t, 1, f.local.Calls())
	got := f.task(t, id)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "throttled")
}

func TestProcessTask_UnknownEngineUsesDefault(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	id := f.create(t, "", "/data/a.png", "tesseract-9000", domain.TaskKindImage)
	require.True(t, f.orch.ProcessTask(context.Background(), id))
	assert.Equal(t, 1, f.mistral.Calls())
}

func TestProcessVideoTask(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("platform url bypasses download", func(t *testing.T) {
		f := newFixture(t)
		url := "https://www.bilibili.com/video/BV1xx"
		id := f.create(t, url, "", "", domain.TaskKindVideo)

		require.True(t, f.orch.ProcessVideoTask(ctx, id))
		assert.Empty(t, f.downloader.URLs())
		assert.Equal(t, []string{url}, f.video.Inputs())
		assert.Equal(t, string(engine.IDParaformer), f.task(t, id).Engine)
	})

	t.Run("direct url is downloaded", func(t *testing.T) {
		f := newFixture(t)
		id := f.create(t, "https://cdn.example.com/clip.mp4", "", "", domain.TaskKindVideo)

		require.True(t, f.orch.Process(ctx, id))
		assert.Equal(t, []string{"/tmp/clip.mp4"}, f.video.Inputs())
	})

	t.Run("remote fetcher bypasses download", func(t *testing.T) {
		logger := setupTestLogger()
		st := mocks.NewMockStore()
		dl := &mocks.MockDownloader{}
		remote := remoteEngine{mocks.NewMockEngine(engine.IDParaformer, "text")}
		orch := NewOrchestrator(st, dl,
			engine.NewSelector(engine.IDLocal, logger, mocks.NewMockEngine(engine.IDLocal, "x")),
			engine.NewSelector(engine.IDParaformer, logger, remote),
			Config{}, logger, WithSleep(func(context.Context, time.Duration) error { return nil }))

		id, err := orch.CreateVideoTask(ctx, "https://cdn.example.com/clip.mp4", "", "")
		require.NoError(t, err)
		require.True(t, orch.Process(ctx, id))
		assert.Empty(t, dl.URLs())
		assert.Equal(t, []string{"https://cdn.example.com/clip.mp4"}, remote.Inputs())
	})
}

func TestCreateTask(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("invalid input persists nothing", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.orch.CreateTask(ctx, "", " ", "local", domain.TaskKindImage)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)

		tasks, err := f.orch.GetAllTasks(ctx)
		require.NoError(t, err)
		assert.Empty(t, tasks)
	})

	t.Run("default engine by kind", func(t *testing.T) {
		f := newFixture(t)
		img := f.create(t, "https://x/a.jpg", "", "", domain.TaskKindImage)
		vid := f.create(t, "https://x/a.mp4", "", "", domain.TaskKindVideo)

		assert.Equal(t, string(engine.IDMistral), f.task(t, img).Engine)
		assert.Equal(t, string(engine.IDParaformer), f.task(t, vid).Engine)
		assert.Equal(t, domain.TaskStatusPending, f.task(t, img).Status)
	})

	t.Run("store error", func(t *testing.T) {
		f := newFixture(t)
		f.store.CreateTaskErr = errors.New("disk full")
		_, err := f.orch.CreateTask(ctx, "https://x/a.jpg", "", "", domain.TaskKindImage)
		assert.ErrorContains(t, err, "disk full")
	})
}

func TestRetryTask(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.local.Err = fmt.Errorf("%w: bad image", engine.ErrTerminal)

	id := f.create(t, "", "/data/a.png", "local", domain.TaskKindImage)

	err := f.orch.RetryTask(ctx, id)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "pending tasks cannot be retried")

	require.False(t, f.orch.ProcessTask(ctx, id))
	require.NoError(t, f.orch.RetryTask(ctx, id))

	got := f.task(t, id)
	assert.Equal(t, domain.TaskStatusPending, got.Status)
	assert.Empty(t, got.ErrorMessage)

	f.local.Err = nil
	require.True(t, f.orch.ProcessTask(ctx, id))
	assert.ErrorIs(t, f.orch.RetryTask(ctx, id), domain.ErrInvalidTransition)
}

func TestDeleteTasks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	a := f.create(t, "", "/data/a.png", "local", domain.TaskKindImage)
	f.create(t, "", "/data/b.png", "local", domain.TaskKindImage)
	f.create(t, "", "/data/c.png", "local", domain.TaskKindImage)
	require.True(t, f.orch.ProcessTask(ctx, a))

	assert.True(t, f.orch.DeleteTask(ctx, a))
	assert.False(t, f.orch.DeleteTask(ctx, a))

	_, err := f.orch.GetTask(ctx, a)
	assert.Error(t, err)
	result, err := f.orch.GetTaskResult(ctx, a)
	require.NoError(t, err)
	assert.Nil(t, result)

	assert.Equal(t, 2, f.orch.DeleteAllTasks(ctx))
	tasks, err := f.orch.GetAllTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestProcessTask_EmitsFinishedEvents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var (
		mu       sync.Mutex
		finished []*events.TaskFinishedEvent
	)
	emitter := events.NewInMemoryEventEmitter(setupTestLogger())
	emitter.RegisterHandler(events.EventHandlerFunc(func(_ context.Context, e *events.TaskFinishedEvent) error {
		mu.Lock()
		defer mu.Unlock()
		finished = append(finished, e)
		return nil
	}))

	f := newFixture(t, WithEventEmitter(emitter))
	ok := f.create(t, "", "/data/a.png", "local", domain.TaskKindImage)
	bad := f.create(t, "https://x/b.png", "", "local", domain.TaskKindImage)
	f.downloader.Err = errors.New("unreachable")

	require.True(t, f.orch.ProcessTask(ctx, ok))
	require.False(t, f.orch.ProcessTask(ctx, bad))

	require.Len(t, finished, 2)
	assert.Equal(t, ok, finished[0].TaskID)
	assert.Equal(t, domain.TaskStatusCompleted, finished[0].Status)
	assert.Equal(t, 1, finished[0].Attempts)
	assert.Equal(t, bad, finished[1].TaskID)
	assert.Equal(t, domain.TaskStatusFailed, finished[1].Status)
	assert.Equal(t, MsgDownloadFailed, finished[1].ErrorMessage)
	assert.Zero(t, finished[1].Attempts)
}

func TestProcessTasksInParallel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	var inFlight, peak atomic.Int32
	f.local.ProcessFn = func(_ context.Context, input string, _ int) (*engine.Output, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		if input == "/data/bad.png" {
			return nil, fmt.Errorf("%w: unreadable", engine.ErrTerminal)
		}
		return &engine.Output{Text: input}, nil
	}

	var ids []int64
	for _, name := range []string{"a", "b", "c", "d", "bad"} {
		ids = append(ids, f.create(t, "", "/data/"+name+".png", "local", domain.TaskKindImage))
	}

	results := f.orch.ProcessTasksInParallel(ctx, append(ids, ids[0]), 2)

	require.Len(t, results, 5)
	for _, id := range ids[:4] {
		assert.True(t, results[id])
	}
	assert.False(t, results[ids[4]])
	assert.Equal(t, 5, f.local.Calls(), "duplicate ids are processed once")
	assert.LessOrEqual(t, peak.Load(), int32(2))

	assert.Empty(t, f.orch.ProcessTasksInParallel(ctx, nil, 4))
}

func TestProcessPending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	done := f.create(t, "", "/data/a.png", "local", domain.TaskKindImage)
	require.True(t, f.orch.ProcessTask(ctx, done))
	p1 := f.create(t, "", "/data/b.png", "local", domain.TaskKindImage)
	p2 := f.create(t, "https://www.douyin.com/video/1", "", "", domain.TaskKindVideo)

	results, err := f.orch.ProcessPending(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, map[int64]bool{p1: true, p2: true}, results)
	assert.Equal(t, 2, f.local.Calls())
	assert.Equal(t, 1, f.video.Calls())
}
