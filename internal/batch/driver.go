package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/mediascribe/internal/domain"
	"github.com/phrazzld/mediascribe/internal/note"
	"github.com/phrazzld/mediascribe/internal/store"
)

// Column names of the batch file format.
const (
	ColumnNoteURL   = "note_url"
	ColumnImageList = "image_list"
	ColumnVideoURL  = "video_url"
	ColumnImageText = "image_txt"
	ColumnVideoText = "video_txt"
)

// Output file prefixes.
const (
	PrefixProcessed = "processed"
	PrefixUpdated   = "updated"
)

const timestampLayout = "20060102_150405"

// Dispatcher runs stored tasks. *task.Orchestrator implements it.
type Dispatcher interface {
	Process(ctx context.Context, id int64) bool
	ProcessTasksInParallel(ctx context.Context, ids []int64, maxWorkers int) map[int64]bool
}

// Options controls ProcessFile.
type Options struct {
	ImageEngine  string
	ProcessVideo bool
	VideoEngine  string

	// Parallel dispatches all collected tasks through a bounded pool of
	// MaxWorkers instead of processing them one by one.
	Parallel   bool
	MaxWorkers int
}

// Driver processes batch files.
type Driver struct {
	notes     note.Service
	tasks     Dispatcher
	sources   store.DataSourceStore
	resultDir string
	logger    *slog.Logger
	now       func() time.Time
}

// NewDriver creates a driver that writes output files to resultDir.
func NewDriver(notes note.Service, tasks Dispatcher, sources store.DataSourceStore, resultDir string, logger *slog.Logger) *Driver {
	return &Driver{
		notes:     notes,
		tasks:     tasks,
		sources:   sources,
		resultDir: resultDir,
		logger:    logger.With("component", "batch_driver"),
		now:       time.Now,
	}
}

// ProcessFile creates tasks for every row of the CSV at path, runs them,
// and writes a copy of the file with the extracted text filled in. It
// returns whether the file was processed, a summary message and the output
// path. Row failures are counted, not fatal.
func (d *Driver) ProcessFile(ctx context.Context, path string, opts Options) (bool, string, string) {
	runID := uuid.New()
	log := d.logger.With("file", path, "run_id", runID)

	table, errMsg := d.load(path, log)
	if errMsg != "" {
		log.Warn("batch file rejected", "reason", errMsg)
		return false, errMsg, ""
	}

	noteCol := table.Column(ColumnNoteURL)
	imageCol := table.Column(ColumnImageList)
	videoCol := table.Column(ColumnVideoURL)
	imageTextCol := table.EnsureColumn(ColumnImageText)
	videoTextCol := -1
	if opts.ProcessVideo {
		videoTextCol = table.EnsureColumn(ColumnVideoText)
	}

	d.registerSource(ctx, path, runID, opts, log)

	total := len(table.Rows)
	var processed, failed int
	var taskIDs []int64

	for i := range table.Rows {
		if ctx.Err() != nil {
			failed += total - i
			log.Warn("batch interrupted", "remaining_rows", total-i, "error", ctx.Err())
			break
		}

		noteURL := table.Cell(i, noteCol)
		if noteURL == "" {
			log.Warn("row has no note URL, skipping", "row", i+1)
			failed++
			continue
		}

		ok, msg, ids := d.notes.ProcessNote(ctx, note.Record{
			NoteURL:   noteURL,
			ImageList: table.Cell(i, imageCol),
			VideoURL:  table.Cell(i, videoCol),
		}, note.Options{
			ImageEngine:  opts.ImageEngine,
			ProcessVideo: opts.ProcessVideo,
			VideoEngine:  opts.VideoEngine,
		})
		taskIDs = append(taskIDs, ids...)
		if !ok {
			log.Warn("row failed", "row", i+1, "message", msg)
			failed++
			continue
		}
		log.Debug("row processed", "row", i+1, "message", msg)
		processed++
	}

	d.dispatch(ctx, taskIDs, opts, log)

	filled := 0
	for i := range table.Rows {
		noteURL := table.Cell(i, noteCol)
		if noteURL == "" {
			continue
		}
		if text := d.notes.GetNoteOCRResults(ctx, noteURL); text != "" {
			table.Rows[i][imageTextCol] = text
			filled++
		}
		if videoTextCol >= 0 {
			if text := d.notes.GetNoteVideoResults(ctx, noteURL); text != "" {
				table.Rows[i][videoTextCol] = text
			}
		}
	}
	log.Info("results written to rows", "filled", filled, "total", total)

	out, err := d.write(table, path, PrefixProcessed)
	if err != nil {
		log.Error("failed to write output file", "error", err)
		return false, fmt.Sprintf("failed to write output file: %v", err), ""
	}

	msg := fmt.Sprintf("processed %d/%d rows, %d failed", processed, total, failed)
	log.Info("batch file processed",
		"processed", processed,
		"failed", failed,
		"tasks", len(taskIDs),
		"output", out)
	return true, msg, out
}

// UpdateFileWithResults re-reads a CSV and fills the result columns from
// notes processed earlier. No tasks are created.
func (d *Driver) UpdateFileWithResults(ctx context.Context, path string, includeVideo bool) (bool, string, string) {
	log := d.logger.With("file", path)

	table, errMsg := d.load(path, log)
	if errMsg != "" {
		log.Warn("batch file rejected", "reason", errMsg)
		return false, errMsg, ""
	}

	noteCol := table.Column(ColumnNoteURL)
	imageTextCol := table.EnsureColumn(ColumnImageText)
	videoTextCol := -1
	if includeVideo {
		videoTextCol = table.EnsureColumn(ColumnVideoText)
	}

	updated := 0
	for i := range table.Rows {
		noteURL := table.Cell(i, noteCol)
		if noteURL == "" {
			log.Warn("row has no note URL, skipping", "row", i+1)
			continue
		}

		rowUpdated := false
		if text := d.notes.GetNoteOCRResults(ctx, noteURL); text != "" {
			table.Rows[i][imageTextCol] = text
			rowUpdated = true
		}
		if videoTextCol >= 0 {
			if text := d.notes.GetNoteVideoResults(ctx, noteURL); text != "" {
				table.Rows[i][videoTextCol] = text
				rowUpdated = true
			}
		}
		if rowUpdated {
			updated++
		} else {
			log.Debug("row has no results", "row", i+1)
		}
	}

	out, err := d.write(table, path, PrefixUpdated)
	if err != nil {
		log.Error("failed to write output file", "error", err)
		return false, fmt.Sprintf("failed to write output file: %v", err), ""
	}

	msg := fmt.Sprintf("updated %d/%d rows", updated, len(table.Rows))
	log.Info("batch file updated", "updated", updated, "output", out)
	return true, msg, out
}

// load reads and validates the file, returning a user-facing message when
// it cannot be used.
func (d *Driver) load(path string, log *slog.Logger) (*Table, string) {
	table, err := ReadTable(path)
	if err != nil {
		return nil, fmt.Sprintf("failed to read CSV file: %v", err)
	}
	if table.ExtraColumns > 0 {
		log.Warn("rows wider than the header, extra cells kept under generated columns",
			"extra_columns", table.ExtraColumns)
	}
	if table.Column(ColumnNoteURL) < 0 {
		return nil, "missing required column: " + ColumnNoteURL
	}
	return table, ""
}

func (d *Driver) registerSource(ctx context.Context, path string, runID uuid.UUID, opts Options, log *slog.Logger) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	cfg, _ := json.Marshal(map[string]any{
		"run_id":        runID.String(),
		"process_video": opts.ProcessVideo,
		"image_engine":  opts.ImageEngine,
		"video_engine":  opts.VideoEngine,
	})
	ds, err := d.sources.GetOrCreateDataSource(ctx, &domain.DataSource{
		SourceType: domain.DataSourceTypeCSV,
		SourcePath: abs,
		Config:     string(cfg),
	})
	if err != nil {
		log.Warn("failed to register data source", "error", err)
		return
	}
	log.Debug("data source registered", "data_source_id", ds.ID)
}

func (d *Driver) dispatch(ctx context.Context, ids []int64, opts Options, log *slog.Logger) {
	if len(ids) == 0 {
		return
	}
	start := time.Now()

	var succeeded int
	if opts.Parallel {
		for _, ok := range d.tasks.ProcessTasksInParallel(ctx, ids, opts.MaxWorkers) {
			if ok {
				succeeded++
			}
		}
	} else {
		for _, id := range ids {
			if ctx.Err() != nil {
				break
			}
			if d.tasks.Process(ctx, id) {
				succeeded++
			}
		}
	}

	log.Info("batch tasks dispatched",
		"tasks", len(ids),
		"succeeded", succeeded,
		"parallel", opts.Parallel,
		"duration", time.Since(start))
}

func (d *Driver) write(table *Table, path, prefix string) (string, error) {
	base, _, _ := strings.Cut(filepath.Base(path), ".")
	name := fmt.Sprintf("%s_%s_%s.csv", prefix, base, d.now().Format(timestampLayout))
	out := filepath.Join(d.resultDir, name)
	if err := table.Write(out); err != nil {
		return "", err
	}
	return out, nil
}
