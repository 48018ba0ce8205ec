package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/phrazzld/mediascribe/internal/batch"
	"github.com/phrazzld/mediascribe/internal/config"
	"github.com/phrazzld/mediascribe/internal/engine"
	"github.com/phrazzld/mediascribe/internal/events"
	"github.com/phrazzld/mediascribe/internal/fetch"
	"github.com/phrazzld/mediascribe/internal/note"
	"github.com/phrazzld/mediascribe/internal/platform/gemini"
	"github.com/phrazzld/mediascribe/internal/platform/metrics"
	"github.com/phrazzld/mediascribe/internal/platform/mistral"
	"github.com/phrazzld/mediascribe/internal/platform/paraformer"
	"github.com/phrazzld/mediascribe/internal/platform/postgres"
	"github.com/phrazzld/mediascribe/internal/platform/sqlite"
	"github.com/phrazzld/mediascribe/internal/platform/tesseract"
	"github.com/phrazzld/mediascribe/internal/store"
	"github.com/phrazzld/mediascribe/internal/task"
)

// application holds the shared dependencies of every command and owns
// their shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger

	store   store.Store
	metrics *metrics.Metrics

	images *engine.Selector
	videos *engine.Selector

	orchestrator *task.Orchestrator
	taskRunner   *task.TaskRunner
	notes        note.Service
	batch        *batch.Driver
}

// newApplication opens the store and builds the pipeline on top of it.
// The task runner is created but not started; serve starts it.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	st, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	app, err := assemble(ctx, cfg, logger, st, buildEngines(ctx, cfg, logger), fetch.NewHTTPDownloader(cfg.Paths.DownloadDir, nil, logger))
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return app, nil
}

// assemble wires the components around an already opened store. Engines
// are split into image and video selectors by identifier.
func assemble(
	_ context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	st store.Store,
	engines []engine.Engine,
	downloader task.Downloader,
) (*application, error) {
	app := &application{config: cfg, logger: logger, store: st}

	var err error
	app.metrics, err = metrics.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	var imageEngines, videoEngines []engine.Engine
	for _, e := range engines {
		if e.ID() == engine.IDParaformer {
			videoEngines = append(videoEngines, e)
		} else {
			imageEngines = append(imageEngines, e)
		}
	}
	app.images = engine.NewSelector(engine.ID(cfg.Task.DefaultEngine), logger, imageEngines...)
	app.videos = engine.NewSelector(engine.ID(cfg.Task.DefaultVideoEngine), logger, videoEngines...)

	emitter := events.NewInMemoryEventEmitter(logger)
	app.orchestrator = task.NewOrchestrator(st, downloader, app.images, app.videos, task.Config{
		DefaultEngine:      string(app.images.DefaultID()),
		DefaultVideoEngine: string(app.videos.DefaultID()),
		EngineTimeout:      cfg.Task.EngineTimeout,
		MinInterval:        cfg.Task.MinInterval,
		DispatchJitter:     cfg.Task.DispatchJitter,
		Retry: task.RetryPolicy{
			MaxRetries: cfg.Task.MaxRetries,
			BaseDelay:  cfg.Task.RetryBaseDelay,
			Classifier: engine.NewClassifier(cfg.Task.RetryablePhrases...),
		},
	}, logger, task.WithEventEmitter(emitter), task.WithAttemptObserver(app.metrics))

	app.notes, err = note.NewService(st, app.orchestrator, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create note service: %w", err)
	}
	emitter.RegisterHandler(app.notes)
	emitter.RegisterHandler(app.metrics)

	app.taskRunner = task.NewTaskRunner(st, app.orchestrator, task.TaskRunnerConfig{
		WorkerCount: cfg.Task.MaxWorkers,
		QueueSize:   cfg.Task.QueueSize,
	}, logger)
	app.taskRunner.SetErrorHandler(func(id int64, err error) {
		if !errors.Is(err, task.ErrTaskFailed) {
			logger.Error("task runner error", "task_id", id, "error", err)
		}
	})

	app.batch = batch.NewDriver(app.notes, app.orchestrator, st, cfg.Paths.ResultDir, logger)

	logger.Info("application initialized",
		"image_engines", app.images.IDs(),
		"video_engines", app.videos.IDs(),
		"database", cfg.Database.Driver)
	return app, nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (store.Store, error) {
	switch cfg.Driver {
	case "postgres":
		db, err := postgres.Open(ctx, cfg.URL, logger)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, db, "up", logger); err != nil {
			_ = db.Close()
			return nil, err
		}
		return postgres.NewStore(db), nil
	case "sqlite", "":
		return sqlite.Open(ctx, cfg.SQLitePath, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// openPostgres is used by the migrate command, which needs the raw handle.
func openPostgres(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*sql.DB, error) {
	if cfg.Driver != "postgres" {
		return nil, fmt.Errorf("migrations apply to the postgres driver only, configured driver is %q", cfg.Driver)
	}
	return postgres.Open(ctx, cfg.URL, logger)
}

// buildEngines constructs every engine whose credentials are present.
// Tesseract is always registered; it reports itself unavailable when the
// binary is missing.
func buildEngines(ctx context.Context, cfg *config.Config, logger *slog.Logger) []engine.Engine {
	ec := cfg.Engines
	resultDir := cfg.Paths.ResultDir
	client := &http.Client{Timeout: cfg.Task.EngineTimeout}

	engines := []engine.Engine{
		tesseract.New(tesseract.Config{Binary: ec.TesseractPath, Language: ec.TesseractLang, ResultDir: resultDir}, logger),
		mistral.New(mistral.Config{APIKey: ec.MistralAPIKey, BaseURL: ec.MistralBaseURL, ResultDir: resultDir}, client, logger),
		paraformer.New(paraformer.Config{APIKey: ec.ParaformerAPIKey, BaseURL: ec.ParaformerBaseURL, ResultDir: resultDir}, nil, logger),
	}

	if ec.GeminiAPIKey == "" {
		logger.Info("gemini API key not set, nlp engine disabled")
	} else if g, err := gemini.New(ctx, gemini.Config{APIKey: ec.GeminiAPIKey, Model: ec.GeminiModel, ResultDir: resultDir}, logger); err != nil {
		logger.Warn("failed to initialize nlp engine", "error", err)
	} else {
		engines = append(engines, g)
	}

	for _, e := range engines {
		if !e.CheckAvailability(ctx) {
			logger.Warn("engine registered but unavailable", "engine", e.ID())
		}
	}
	return engines
}

// ensureDirs creates the working directories.
func ensureDirs(cfg *config.Config) error {
	for _, dir := range []string{cfg.Paths.DownloadDir, cfg.Paths.ResultDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// cleanup stops the runner and closes the store.
func (app *application) cleanup() {
	if app.taskRunner != nil {
		app.taskRunner.Stop()
	}
	if app.store != nil {
		if err := app.store.Close(); err != nil {
			app.logger.Error("error closing store", "error", err)
		}
	}
	app.logger.Info("application shutdown completed")
}
