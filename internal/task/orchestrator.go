package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/phrazzld/mediascribe/internal/domain"
	"github.com/phrazzld/mediascribe/internal/engine"
	"github.com/phrazzld/mediascribe/internal/events"
	"github.com/phrazzld/mediascribe/internal/media"
	"github.com/phrazzld/mediascribe/internal/redact"
	"github.com/phrazzld/mediascribe/internal/store"
)

// Attempt outcomes reported to the AttemptObserver.
const (
	outcomeSuccess   = "success"
	outcomeTransient = "transient"
	outcomeTerminal  = "terminal"
)

// Config holds the orchestrator settings.
type Config struct {
	// DefaultEngine is used for image tasks created without an engine.
	DefaultEngine string
	// DefaultVideoEngine is used for video tasks created without an engine.
	DefaultVideoEngine string

	EngineTimeout  time.Duration
	MinInterval    time.Duration
	DispatchJitter time.Duration
	Retry          RetryPolicy
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithEventEmitter sets where TaskFinishedEvents are published.
func WithEventEmitter(emitter events.EventEmitter) Option {
	return func(o *Orchestrator) { o.emitter = emitter }
}

// WithAttemptObserver sets the observer told about every engine call.
func WithAttemptObserver(observer AttemptObserver) Option {
	return func(o *Orchestrator) { o.observer = observer }
}

// WithSleep replaces the function used for backoff and jitter waits.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) {
		o.sleep = sleep
		o.throttle.sleep = sleep
	}
}

// Orchestrator turns stored tasks into engine calls and persists outcomes.
// It is safe for concurrent use.
type Orchestrator struct {
	store      Store
	downloader Downloader
	images     *engine.Selector
	videos     *engine.Selector
	cfg        Config
	policy     RetryPolicy
	throttle   *Throttle
	sleep      sleepFunc
	emitter    events.EventEmitter
	observer   AttemptObserver
	logger     *slog.Logger
}

// NewOrchestrator wires an orchestrator. images and videos select engines
// for the two task kinds.
func NewOrchestrator(
	st Store,
	downloader Downloader,
	images, videos *engine.Selector,
	cfg Config,
	logger *slog.Logger,
	opts ...Option,
) *Orchestrator {
	if cfg.DefaultEngine == "" {
		cfg.DefaultEngine = string(images.DefaultID())
	}
	if cfg.DefaultVideoEngine == "" {
		cfg.DefaultVideoEngine = string(videos.DefaultID())
	}

	o := &Orchestrator{
		store:      st,
		downloader: downloader,
		images:     images,
		videos:     videos,
		cfg:        cfg,
		policy:     cfg.Retry.withDefaults(),
		throttle:   NewThrottle(cfg.MinInterval, cfg.DispatchJitter),
		sleep:      sleepCtx,
		emitter:    events.NopEmitter{},
		observer:   nopObserver{},
		logger:     logger.With("component", "orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CreateTask inserts a pending task. It fails with domain.ErrInvalidInput,
// persisting nothing, when both url and filePath are empty. An empty engine
// selects the default for the kind.
func (o *Orchestrator) CreateTask(ctx context.Context, url, filePath, engineID string, kind domain.TaskKind) (int64, error) {
	if engineID == "" {
		engineID = o.cfg.DefaultEngine
		if kind == domain.TaskKindVideo {
			engineID = o.cfg.DefaultVideoEngine
		}
	}

	t, err := domain.NewTask(url, filePath, engineID, kind)
	if err != nil {
		return 0, err
	}

	id, err := o.store.CreateTask(ctx, t)
	if err != nil {
		return 0, fmt.Errorf("failed to create task: %w", err)
	}

	o.logger.Debug("task created", "task_id", id, "kind", kind, "engine", engineID)
	return id, nil
}

// CreateVideoTask creates a video task with the video default engine when
// engineID is empty.
func (o *Orchestrator) CreateVideoTask(ctx context.Context, url, filePath, engineID string) (int64, error) {
	return o.CreateTask(ctx, url, filePath, engineID, domain.TaskKindVideo)
}

// Process dispatches the task by kind.
func (o *Orchestrator) Process(ctx context.Context, id int64) bool {
	t, err := o.store.GetTask(ctx, id)
	if err != nil {
		o.logger.Error("cannot process task", "task_id", id, "error", err)
		return false
	}
	if t.Kind == domain.TaskKindVideo {
		return o.ProcessVideoTask(ctx, id)
	}
	return o.ProcessTask(ctx, id)
}

// ProcessTask runs an image task to a terminal status using the image
// engines and reports whether it completed.
func (o *Orchestrator) ProcessTask(ctx context.Context, id int64) bool {
	return o.run(ctx, id, o.images)
}

// ProcessVideoTask runs a video task using the video engines. Platform video
// URLs, and any URL the engine can fetch itself, skip the local download.
func (o *Orchestrator) ProcessVideoTask(ctx context.Context, id int64) bool {
	return o.run(ctx, id, o.videos)
}

func (o *Orchestrator) run(ctx context.Context, id int64, selector *engine.Selector) (ok bool) {
	start := time.Now()
	attempts := 0
	log := o.logger.With("task_id", id)

	// Terminal writes must land even if the caller gave up.
	persistCtx := context.WithoutCancel(ctx)

	defer func() {
		if p := recover(); p != nil {
			log.Error("panic while processing task", "panic", p, "stack", string(debug.Stack()))
			o.fail(persistCtx, id, fmt.Sprintf("panic: %v", p), attempts, start)
			ok = false
		}
	}()

	t, err := o.store.GetTask(ctx, id)
	if err != nil {
		log.Error("failed to load task", "error", err)
		return false
	}
	log = log.With("kind", t.Kind, "engine", t.Engine)

	// Only the caller that moves the task out of pending may run it.
	if err := o.store.ClaimTask(ctx, id); err != nil {
		log.Warn("task not claimed", "status", t.Status, "error", err)
		return false
	}

	if t.URL == "" && t.FilePath == "" {
		o.fail(persistCtx, id, domain.ErrInvalidInput.Error(), attempts, start)
		return false
	}

	eng := selector.Select(t.Engine)
	if eng == nil {
		o.fail(persistCtx, id, ErrNoEngine.Error(), attempts, start)
		return false
	}

	input := t.Source()
	if o.needsDownload(t, eng) {
		path, err := o.downloader.Download(ctx, t.URL)
		if err != nil {
			log.Warn("resource download failed", "url", t.URL, "error", redact.Error(err))
			o.fail(persistCtx, id, MsgDownloadFailed, attempts, start)
			return false
		}
		if err := o.store.UpdateTaskFilePath(ctx, id, path); err != nil {
			log.Error("failed to record downloaded path", "error", err)
			o.fail(persistCtx, id, err.Error(), attempts, start)
			return false
		}
		input = path
	}

	out, attempts, err := o.execute(ctx, eng, input, log)
	if err != nil {
		log.Warn("task failed", "attempts", attempts, "error", redact.Error(err))
		o.fail(persistCtx, id, err.Error(), attempts, start)
		return false
	}

	result := &domain.Result{TaskID: id, Content: out.Text, ArtifactPath: out.ArtifactPath}
	if _, err := o.store.CreateResult(persistCtx, result); err != nil {
		log.Error("failed to store result", "error", err)
		o.fail(persistCtx, id, err.Error(), attempts, start)
		return false
	}

	log.Info("task completed", "attempts", attempts, "chars", len(out.Text), "duration", time.Since(start))
	o.emit(persistCtx, id, attempts, start)
	return true
}

// needsDownload reports whether the resource must be fetched locally before
// eng can process it.
func (o *Orchestrator) needsDownload(t *domain.Task, eng engine.Engine) bool {
	if !t.NeedsDownload() {
		return false
	}
	if t.Kind == domain.TaskKindVideo && media.IsPlatformVideoURL(t.URL) {
		return false
	}
	if rf, ok := eng.(engine.RemoteFetcher); ok && rf.AcceptsURL(t.URL) {
		return false
	}
	return true
}

// execute calls eng with throttling and retries. It returns the number of
// engine calls made.
func (o *Orchestrator) execute(ctx context.Context, eng engine.Engine, input string, log *slog.Logger) (*engine.Output, int, error) {
	engineID := string(eng.ID())
	var lastErr error

	for attempt := 0; attempt <= o.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := o.policy.Backoff(attempt)
			log.Info("retrying engine call", "attempt", attempt+1, "delay", delay, "error", redact.Error(lastErr))
			if err := o.sleep(ctx, delay); err != nil {
				return nil, attempt, fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
		}
		if err := o.throttle.Wait(ctx); err != nil {
			return nil, attempt, err
		}

		started := time.Now()
		out, err := eng.Process(ctx, input, o.cfg.EngineTimeout)
		if err == nil && (out == nil || strings.TrimSpace(out.Text) == "") {
			err = fmt.Errorf("%w: %w", engine.ErrTerminal, engine.ErrEmptyOutput)
		}
		if err == nil {
			o.observer.ObserveAttempt(engineID, outcomeSuccess, time.Since(started))
			return out, attempt + 1, nil
		}

		lastErr = err
		if !o.policy.IsRetryable(err) {
			o.observer.ObserveAttempt(engineID, outcomeTerminal, time.Since(started))
			return nil, attempt + 1, err
		}
		o.observer.ObserveAttempt(engineID, outcomeTransient, time.Since(started))
		if ctx.Err() != nil {
			return nil, attempt + 1, err
		}
	}

	calls := o.policy.MaxRetries + 1
	return nil, calls, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, calls, lastErr)
}

// fail marks the task failed and publishes the outcome.
func (o *Orchestrator) fail(ctx context.Context, id int64, message string, attempts int, start time.Time) {
	if err := o.store.UpdateTaskStatus(ctx, id, domain.TaskStatusFailed, redact.Secrets(message)); err != nil {
		o.logger.Error("failed to mark task failed", "task_id", id, "error", err)
		return
	}
	o.emit(ctx, id, attempts, start)
}

func (o *Orchestrator) emit(ctx context.Context, id int64, attempts int, start time.Time) {
	t, err := o.store.GetTask(ctx, id)
	if err != nil {
		o.logger.Error("failed to reload finished task", "task_id", id, "error", err)
		return
	}
	if err := o.emitter.EmitEvent(ctx, events.NewTaskFinishedEvent(t, attempts, time.Since(start))); err != nil {
		o.logger.Warn("task finished event handler failed", "task_id", id, "error", err)
	}
}

// GetTask returns the task with id.
func (o *Orchestrator) GetTask(ctx context.Context, id int64) (*domain.Task, error) {
	return o.store.GetTask(ctx, id)
}

// GetAllTasks returns every task, newest first.
func (o *Orchestrator) GetAllTasks(ctx context.Context) ([]*domain.Task, error) {
	return o.store.ListTasks(ctx)
}

// GetTaskResult returns the task's result, or nil if it has none.
func (o *Orchestrator) GetTaskResult(ctx context.Context, id int64) (*domain.Result, error) {
	r, err := o.store.GetResultByTask(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return r, err
}

// DeleteTask removes the task and its result.
func (o *Orchestrator) DeleteTask(ctx context.Context, id int64) bool {
	if err := o.store.DeleteTask(ctx, id); err != nil {
		o.logger.Warn("failed to delete task", "task_id", id, "error", err)
		return false
	}
	return true
}

// DeleteAllTasks deletes every task it can and returns how many it removed.
func (o *Orchestrator) DeleteAllTasks(ctx context.Context) int {
	tasks, err := o.store.ListTasks(ctx)
	if err != nil {
		o.logger.Error("failed to list tasks for deletion", "error", err)
		return 0
	}
	deleted := 0
	for _, t := range tasks {
		if o.DeleteTask(ctx, t.ID) {
			deleted++
		}
	}
	o.logger.Info("deleted tasks", "deleted", deleted, "total", len(tasks))
	return deleted
}

// RetryTask moves a failed task back to pending. Any other status is
// rejected with domain.ErrInvalidTransition.
func (o *Orchestrator) RetryTask(ctx context.Context, id int64) error {
	if err := o.store.ResetTask(ctx, id); err != nil {
		return fmt.Errorf("failed to retry task %d: %w", id, err)
	}
	o.logger.Info("task reset for retry", "task_id", id)
	return nil
}
