package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/phrazzld/mediascribe/internal/domain"
	"github.com/phrazzld/mediascribe/internal/store"
)

// Store implements store.Store on a SQLite database file.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and migrates the
// schema.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := path + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying DB: %w", err)
	}
	// A single connection serialises writers and keeps transactions simple.
	sqlDB.SetMaxOpenConns(1)

	if err := db.WithContext(ctx).AutoMigrate(
		&taskRecord{}, &resultRecord{}, &noteRecord{}, &noteTaskRecord{}, &dataSourceRecord{},
	); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate sqlite schema: %w", err)
	}

	logger.Info("database connection established", "driver", "sqlite", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
	case errors.Is(err, gorm.ErrForeignKeyViolated), errors.Is(err, gorm.ErrCheckConstraintViolated):
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	return err
}

func taskNotFound(id int64) error {
	return fmt.Errorf("%w: id %d", store.ErrTaskNotFound, id)
}

func loadTask(tx *gorm.DB, id int64) (*taskRecord, error) {
	var rec taskRecord
	err := tx.First(&rec, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, taskNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %d: %w", id, mapError(err))
	}
	return &rec, nil
}

func checkTransition(from, to domain.TaskStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %w: %s -> %s", store.ErrUpdateFailed, domain.ErrInvalidTransition, from, to)
	}
	return nil
}

func toTasks(recs []taskRecord) []*domain.Task {
	tasks := make([]*domain.Task, 0, len(recs))
	for i := range recs {
		tasks = append(tasks, recs[i].toDomain())
	}
	return tasks
}

// CreateTask implements store.TaskStore.
func (s *Store) CreateTask(ctx context.Context, task *domain.Task) (int64, error) {
	if err := task.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}
	rec := taskRecord{
		URL:          task.URL,
		FilePath:     task.FilePath,
		Engine:       task.Engine,
		Kind:         string(task.Kind),
		Status:       string(task.Status),
		ErrorMessage: task.ErrorMessage,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		s.logger.Error("failed to create task", "engine", task.Engine, "error", err)
		return 0, fmt.Errorf("failed to create task: %w", mapError(err))
	}
	task.ID, task.CreatedAt, task.UpdatedAt = rec.ID, rec.CreatedAt, rec.UpdatedAt
	return rec.ID, nil
}

// GetTask implements store.TaskStore.
func (s *Store) GetTask(ctx context.Context, id int64) (*domain.Task, error) {
	rec, err := loadTask(s.db.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	return rec.toDomain(), nil
}

// ListTasks implements store.TaskStore.
func (s *Store) ListTasks(ctx context.Context) ([]*domain.Task, error) {
	var recs []taskRecord
	if err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", mapError(err))
	}
	return toTasks(recs), nil
}

// ListTasksByStatus implements store.TaskStore.
func (s *Store) ListTasksByStatus(ctx context.Context, status domain.TaskStatus) ([]*domain.Task, error) {
	var recs []taskRecord
	err := s.db.WithContext(ctx).Where("status = ?", string(status)).Order("created_at ASC, id ASC").Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks by status: %w", mapError(err))
	}
	return toTasks(recs), nil
}

// ListStuckTasks implements store.TaskStore.
func (s *Store) ListStuckTasks(ctx context.Context, olderThan time.Duration) ([]*domain.Task, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	var recs []taskRecord
	err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at <= ?", string(domain.TaskStatusProcessing), cutoff).
		Order("created_at ASC, id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stuck tasks: %w", mapError(err))
	}
	return toTasks(recs), nil
}

// UpdateTaskStatus implements store.TaskStore.
func (s *Store) UpdateTaskStatus(ctx context.Context, id int64, status domain.TaskStatus, errorMessage string) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %w", store.ErrUpdateFailed, domain.ErrInvalidTaskStatus)
	}
	if status != domain.TaskStatusFailed {
		errorMessage = ""
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := loadTask(tx, id)
		if err != nil {
			return err
		}
		if err := checkTransition(domain.TaskStatus(rec.Status), status); err != nil {
			return err
		}
		err = tx.Model(rec).Updates(map[string]any{
			"status":        string(status),
			"error_message": errorMessage,
		}).Error
		if err != nil {
			return fmt.Errorf("failed to update task status: %w", mapError(err))
		}
		return nil
	})
}

// ClaimTask implements store.TaskStore.
func (s *Store) ClaimTask(ctx context.Context, id int64) error {
	db := s.db.WithContext(ctx)
	res := db.Model(&taskRecord{}).
		Where("id = ? AND status = ?", id, string(domain.TaskStatusPending)).
		Updates(map[string]any{
			"status":        string(domain.TaskStatusProcessing),
			"error_message": "",
		})
	if res.Error != nil {
		return fmt.Errorf("failed to claim task: %w", mapError(res.Error))
	}
	if res.RowsAffected > 0 {
		return nil
	}

	rec, err := loadTask(db, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %w: cannot claim %s task", store.ErrUpdateFailed, domain.ErrInvalidTransition, rec.Status)
}

// UpdateTaskFilePath implements store.TaskStore.
func (s *Store) UpdateTaskFilePath(ctx context.Context, id int64, filePath string) error {
	res := s.db.WithContext(ctx).Model(&taskRecord{}).Where("id = ?", id).Update("file_path", filePath)
	if res.Error != nil {
		return fmt.Errorf("failed to update task file path: %w", mapError(res.Error))
	}
	if res.RowsAffected == 0 {
		return taskNotFound(id)
	}
	return nil
}

// ResetTask implements store.TaskStore.
func (s *Store) ResetTask(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := loadTask(tx, id)
		if err != nil {
			return err
		}
		if !domain.TaskStatus(rec.Status).CanReset() {
			return fmt.Errorf("%w: %w: cannot reset %s task", store.ErrUpdateFailed, domain.ErrInvalidTransition, rec.Status)
		}
		err = tx.Model(rec).Updates(map[string]any{
			"status":        string(domain.TaskStatusPending),
			"error_message": "",
		}).Error
		if err != nil {
			return fmt.Errorf("failed to reset task: %w", mapError(err))
		}
		return nil
	})
}

// DeleteTask implements store.TaskStore.
func (s *Store) DeleteTask(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("task_id = ?", id).Delete(&noteTaskRecord{}).Error; err != nil {
			return fmt.Errorf("failed to detach task: %w", mapError(err))
		}
		if err := tx.Where("task_id = ?", id).Delete(&resultRecord{}).Error; err != nil {
			return fmt.Errorf("failed to delete result: %w", mapError(err))
		}
		res := tx.Delete(&taskRecord{}, id)
		if res.Error != nil {
			return fmt.Errorf("failed to delete task: %w", mapError(res.Error))
		}
		if res.RowsAffected == 0 {
			return taskNotFound(id)
		}
		return nil
	})
}

// CreateResult implements store.ResultStore.
func (s *Store) CreateResult(ctx context.Context, result *domain.Result) (int64, error) {
	rec := resultRecord{
		TaskID:       result.TaskID,
		Content:      result.Content,
		ArtifactPath: result.ArtifactPath,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		task, err := loadTask(tx, result.TaskID)
		if err != nil {
			return err
		}
		if err := checkTransition(domain.TaskStatus(task.Status), domain.TaskStatusCompleted); err != nil {
			return err
		}
		if err := tx.Create(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: result for task %d", store.ErrDuplicate, result.TaskID)
			}
			return fmt.Errorf("failed to create result: %w", mapError(err))
		}
		err = tx.Model(task).Updates(map[string]any{
			"status":        string(domain.TaskStatusCompleted),
			"error_message": "",
		}).Error
		if err != nil {
			return fmt.Errorf("failed to complete task: %w", mapError(err))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	result.ID, result.CreatedAt = rec.ID, rec.CreatedAt
	return rec.ID, nil
}

// GetResultByTask implements store.ResultStore.
func (s *Store) GetResultByTask(ctx context.Context, taskID int64) (*domain.Result, error) {
	var rec resultRecord
	err := s.db.WithContext(ctx).Where("task_id = ?", taskID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: task %d", store.ErrResultNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", mapError(err))
	}
	return rec.toDomain(), nil
}

// GetResult implements store.ResultStore.
func (s *Store) GetResult(ctx context.Context, id int64) (*domain.Result, error) {
	var rec resultRecord
	err := s.db.WithContext(ctx).First(&rec, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: id %d", store.ErrResultNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", mapError(err))
	}
	return rec.toDomain(), nil
}

// DeleteResult implements store.ResultStore.
func (s *Store) DeleteResult(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec resultRecord
		err := tx.First(&rec, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: id %d", store.ErrResultNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("failed to get result: %w", mapError(err))
		}
		if err := tx.Delete(&rec).Error; err != nil {
			return fmt.Errorf("failed to delete result: %w", mapError(err))
		}

		err = tx.Model(&taskRecord{}).
			Where("id = ? AND status = ?", rec.TaskID, string(domain.TaskStatusCompleted)).
			Updates(map[string]any{
				"status":        string(domain.TaskStatusPending),
				"error_message": "",
			}).Error
		if err != nil {
			return fmt.Errorf("failed to reopen task: %w", mapError(err))
		}
		return nil
	})
}

// GetOrCreateNote implements store.NoteStore.
func (s *Store) GetOrCreateNote(ctx context.Context, noteURL string) (*domain.NoteRelation, error) {
	if noteURL == "" {
		return nil, domain.ErrEmptyNoteURL
	}
	rec := noteRecord{NoteURL: noteURL, Status: string(domain.NoteStatusPending)}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "note_url"}}, DoNothing: true}).
		Create(&rec).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create note: %w", mapError(err))
	}
	return s.GetNote(ctx, noteURL)
}

// GetNote implements store.NoteStore.
func (s *Store) GetNote(ctx context.Context, noteURL string) (*domain.NoteRelation, error) {
	var rec noteRecord
	err := s.db.WithContext(ctx).
		Preload("Tasks", func(db *gorm.DB) *gorm.DB { return db.Order("kind, position") }).
		Where("note_url = ?", noteURL).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", store.ErrNoteNotFound, noteURL)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get note: %w", mapError(err))
	}

	note := &domain.NoteRelation{
		ID:           rec.ID,
		NoteURL:      rec.NoteURL,
		Status:       domain.NoteStatus(rec.Status),
		ImageTaskIDs: []int64{},
		VideoTaskIDs: []int64{},
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
	for _, link := range rec.Tasks {
		if domain.TaskKind(link.Kind) == domain.TaskKindVideo {
			note.VideoTaskIDs = append(note.VideoTaskIDs, link.TaskID)
		} else {
			note.ImageTaskIDs = append(note.ImageTaskIDs, link.TaskID)
		}
	}
	return note, nil
}

// AttachTasks implements store.NoteStore.
func (s *Store) AttachTasks(ctx context.Context, noteID int64, kind domain.TaskKind, taskIDs ...int64) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, domain.ErrInvalidTaskKind)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&noteRecord{}).Where("id = ?", noteID).Update("updated_at", time.Now().UTC())
		if res.Error != nil {
			return fmt.Errorf("failed to touch note: %w", mapError(res.Error))
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: id %d", store.ErrNoteNotFound, noteID)
		}

		var next int
		err := tx.Model(&noteTaskRecord{}).
			Where("note_id = ? AND kind = ?", noteID, string(kind)).
			Select("COALESCE(MAX(position) + 1, 0)").
			Scan(&next).Error
		if err != nil {
			return fmt.Errorf("failed to read note task position: %w", mapError(err))
		}

		for _, id := range taskIDs {
			if _, err := loadTask(tx, id); err != nil {
				return err
			}
			link := noteTaskRecord{NoteID: noteID, TaskID: id, Kind: string(kind), Position: next}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&link)
			if res.Error != nil {
				return fmt.Errorf("failed to attach task %d: %w", id, mapError(res.Error))
			}
			if res.RowsAffected > 0 {
				next++
			}
		}
		return nil
	})
}

// UpdateNoteStatus implements store.NoteStore.
func (s *Store) UpdateNoteStatus(ctx context.Context, noteID int64, status domain.NoteStatus) error {
	res := s.db.WithContext(ctx).Model(&noteRecord{}).Where("id = ?", noteID).Update("status", string(status))
	if res.Error != nil {
		return fmt.Errorf("failed to update note status: %w", mapError(res.Error))
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: id %d", store.ErrNoteNotFound, noteID)
	}
	return nil
}

// ListNotesByTask implements store.NoteStore.
func (s *Store) ListNotesByTask(ctx context.Context, taskID int64) ([]*domain.NoteRelation, error) {
	var urls []string
	err := s.db.WithContext(ctx).Model(&noteRecord{}).
		Joins("JOIN note_tasks ON note_tasks.note_id = note_relations.id").
		Where("note_tasks.task_id = ?", taskID).
		Order("note_relations.id").
		Pluck("note_relations.note_url", &urls).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list notes by task: %w", mapError(err))
	}

	notes := make([]*domain.NoteRelation, 0, len(urls))
	for _, u := range urls {
		n, err := s.GetNote(ctx, u)
		if err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, nil
}

// GetOrCreateDataSource implements store.DataSourceStore.
func (s *Store) GetOrCreateDataSource(ctx context.Context, ds *domain.DataSource) (*domain.DataSource, error) {
	rec := dataSourceRecord{SourceType: ds.SourceType, SourcePath: ds.SourcePath, Config: ds.Config}
	db := s.db.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_path"}},
		DoNothing: true,
	}).Create(&rec).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create data source: %w", mapError(err))
	}

	var out dataSourceRecord
	if err := db.Where("source_path = ?", ds.SourcePath).First(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to load data source: %w", mapError(err))
	}
	return out.toDomain(), nil
}
