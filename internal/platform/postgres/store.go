package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/phrazzld/mediascribe/internal/domain"
	"github.com/phrazzld/mediascribe/internal/platform/logger"
	"github.com/phrazzld/mediascribe/internal/store"
)

// Store implements store.Store on a PostgreSQL database.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// NewStore wraps an open database. The schema must already be migrated.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

const taskColumns = `id, url, file_path, engine, kind, status, error_message, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var t domain.Task
	if err := row.Scan(&t.ID, &t.URL, &t.FilePath, &t.Engine, &t.Kind, &t.Status,
		&t.ErrorMessage, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]*domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	tasks := []*domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}
	return tasks, nil
}

// CreateTask implements store.TaskStore.
func (s *Store) CreateTask(ctx context.Context, task *domain.Task) (int64, error) {
	if err := task.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	now := time.Now().UTC()
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tasks (url, file_path, engine, kind, status, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING id`,
		task.URL, task.FilePath, task.Engine, task.Kind, task.Status, task.ErrorMessage, now,
	).Scan(&id)
	if err != nil {
		logger.FromContext(ctx).Error("failed to create task", "engine", task.Engine, "error", err)
		return 0, fmt.Errorf("failed to create task: %w", MapError(err))
	}

	task.ID, task.CreatedAt, task.UpdatedAt = id, now, now
	return id, nil
}

// GetTask implements store.TaskStore.
func (s *Store) GetTask(ctx context.Context, id int64) (*domain.Task, error) {
	return getTask(ctx, s.db, id, false)
}

func getTask(ctx context.Context, db store.DBTX, id int64, forUpdate bool) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	t, err := scanTask(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", store.ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %d: %w", id, MapError(err))
	}
	return t, nil
}

// ListTasks implements store.TaskStore.
func (s *Store) ListTasks(ctx context.Context) ([]*domain.Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC, id DESC`)
}

// ListTasksByStatus implements store.TaskStore.
func (s *Store) ListTasksByStatus(ctx context.Context, status domain.TaskStatus) ([]*domain.Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE status = $1 ORDER BY created_at ASC, id ASC`, status)
}

// ListStuckTasks implements store.TaskStore.
func (s *Store) ListStuckTasks(ctx context.Context, olderThan time.Duration) ([]*domain.Task, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE status = $1 AND updated_at <= $2 ORDER BY created_at ASC, id ASC`,
		domain.TaskStatusProcessing, cutoff)
}

// UpdateTaskStatus implements store.TaskStore.
func (s *Store) UpdateTaskStatus(ctx context.Context, id int64, status domain.TaskStatus, errorMessage string) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %w", store.ErrUpdateFailed, domain.ErrInvalidTaskStatus)
	}
	if status != domain.TaskStatusFailed {
		errorMessage = ""
	}

	return store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		current, err := getTask(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if err := checkTransition(current.Status, status); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE tasks SET status = $1, error_message = $2, updated_at = $3 WHERE id = $4`,
			status, errorMessage, time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("failed to update task status: %w", MapError(err))
		}
		return nil
	})
}

// ClaimTask implements store.TaskStore.
func (s *Store) ClaimTask(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = $1, error_message = '', updated_at = $2 WHERE id = $3 AND status = $4`,
		domain.TaskStatusProcessing, time.Now().UTC(), id, domain.TaskStatusPending)
	if err != nil {
		return fmt.Errorf("failed to claim task: %w", MapError(err))
	}
	if n, err := res.RowsAffected(); err != nil || n > 0 {
		return err
	}

	current, err := getTask(ctx, s.db, id, false)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %w: cannot claim %s task", store.ErrUpdateFailed, domain.ErrInvalidTransition, current.Status)
}

func checkTransition(from, to domain.TaskStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %w: %s -> %s", store.ErrUpdateFailed, domain.ErrInvalidTransition, from, to)
	}
	return nil
}

// UpdateTaskFilePath implements store.TaskStore.
func (s *Store) UpdateTaskFilePath(ctx context.Context, id int64, filePath string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET file_path = $1, updated_at = $2 WHERE id = $3`, filePath, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update task file path: %w", MapError(err))
	}
	return CheckRowsAffected(res, fmt.Errorf("%w: id %d", store.ErrTaskNotFound, id))
}

// ResetTask implements store.TaskStore.
func (s *Store) ResetTask(ctx context.Context, id int64) error {
	return store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		current, err := getTask(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if !current.Status.CanReset() {
			return fmt.Errorf("%w: %w: cannot reset %s task", store.ErrUpdateFailed, domain.ErrInvalidTransition, current.Status)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE tasks SET status = $1, error_message = '', updated_at = $2 WHERE id = $3`,
			domain.TaskStatusPending, time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("failed to reset task: %w", MapError(err))
		}
		return nil
	})
}

// DeleteTask implements store.TaskStore. Results and note attachments are
// removed by ON DELETE CASCADE.
func (s *Store) DeleteTask(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", MapError(err))
	}
	return CheckRowsAffected(res, fmt.Errorf("%w: id %d", store.ErrTaskNotFound, id))
}

// CreateResult implements store.ResultStore.
func (s *Store) CreateResult(ctx context.Context, result *domain.Result) (int64, error) {
	now := time.Now().UTC()
	var id int64
	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		current, err := getTask(ctx, tx, result.TaskID, true)
		if err != nil {
			return err
		}
		if err := checkTransition(current.Status, domain.TaskStatusCompleted); err != nil {
			return err
		}

		err = tx.QueryRowContext(ctx, `
			INSERT INTO results (task_id, content, artifact_path, created_at)
			VALUES ($1, $2, $3, $4)
			RETURNING id`,
			result.TaskID, result.Content, result.ArtifactPath, now,
		).Scan(&id)
		if err != nil {
			if IsUniqueViolation(err) {
				return fmt.Errorf("%w: result for task %d", store.ErrDuplicate, result.TaskID)
			}
			return fmt.Errorf("failed to create result: %w", MapError(err))
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE tasks SET status = $1, error_message = '', updated_at = $2 WHERE id = $3`,
			domain.TaskStatusCompleted, now, result.TaskID)
		if err != nil {
			return fmt.Errorf("failed to complete task: %w", MapError(err))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	result.ID, result.CreatedAt = id, now
	return id, nil
}

// GetResultByTask implements store.ResultStore.
func (s *Store) GetResultByTask(ctx context.Context, taskID int64) (*domain.Result, error) {
	var r domain.Result
	err := s.db.QueryRowContext(ctx,
		`SELECT id, task_id, content, artifact_path, created_at FROM results WHERE task_id = $1`, taskID,
	).Scan(&r.ID, &r.TaskID, &r.Content, &r.ArtifactPath, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: task %d", store.ErrResultNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", MapError(err))
	}
	return &r, nil
}

// GetResult implements store.ResultStore.
func (s *Store) GetResult(ctx context.Context, id int64) (*domain.Result, error) {
	var r domain.Result
	err := s.db.QueryRowContext(ctx,
		`SELECT id, task_id, content, artifact_path, created_at FROM results WHERE id = $1`, id,
	).Scan(&r.ID, &r.TaskID, &r.Content, &r.ArtifactPath, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", store.ErrResultNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", MapError(err))
	}
	return &r, nil
}

// DeleteResult implements store.ResultStore.
func (s *Store) DeleteResult(ctx context.Context, id int64) error {
	return store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		var taskID int64
		err := tx.QueryRowContext(ctx, `DELETE FROM results WHERE id = $1 RETURNING task_id`, id).Scan(&taskID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: id %d", store.ErrResultNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("failed to delete result: %w", MapError(err))
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE tasks SET status = $1, error_message = '', updated_at = $2 WHERE id = $3 AND status = $4`,
			domain.TaskStatusPending, time.Now().UTC(), taskID, domain.TaskStatusCompleted)
		if err != nil {
			return fmt.Errorf("failed to reopen task: %w", MapError(err))
		}
		return nil
	})
}

// GetOrCreateNote implements store.NoteStore.
func (s *Store) GetOrCreateNote(ctx context.Context, noteURL string) (*domain.NoteRelation, error) {
	if noteURL == "" {
		return nil, domain.ErrEmptyNoteURL
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO note_relations (note_url, status, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (note_url) DO NOTHING`,
		noteURL, domain.NoteStatusPending, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create note: %w", MapError(err))
	}
	return s.GetNote(ctx, noteURL)
}

// GetNote implements store.NoteStore.
func (s *Store) GetNote(ctx context.Context, noteURL string) (*domain.NoteRelation, error) {
	var n domain.NoteRelation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, note_url, status, created_at, updated_at FROM note_relations WHERE note_url = $1`, noteURL,
	).Scan(&n.ID, &n.NoteURL, &n.Status, &n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrNoteNotFound, noteURL)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get note: %w", MapError(err))
	}
	if err := s.loadNoteTasks(ctx, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *Store) loadNoteTasks(ctx context.Context, n *domain.NoteRelation) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, kind FROM note_tasks WHERE note_id = $1 ORDER BY kind, position`, n.ID)
	if err != nil {
		return fmt.Errorf("failed to load note tasks: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	n.ImageTaskIDs, n.VideoTaskIDs = []int64{}, []int64{}
	for rows.Next() {
		var id int64
		var kind domain.TaskKind
		if err := rows.Scan(&id, &kind); err != nil {
			return fmt.Errorf("failed to scan note task: %w", err)
		}
		if kind == domain.TaskKindVideo {
			n.VideoTaskIDs = append(n.VideoTaskIDs, id)
		} else {
			n.ImageTaskIDs = append(n.ImageTaskIDs, id)
		}
	}
	return rows.Err()
}

// AttachTasks implements store.NoteStore.
func (s *Store) AttachTasks(ctx context.Context, noteID int64, kind domain.TaskKind, taskIDs ...int64) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, domain.ErrInvalidTaskKind)
	}
	return store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE note_relations SET updated_at = $1 WHERE id = $2`, time.Now().UTC(), noteID)
		if err != nil {
			return fmt.Errorf("failed to touch note: %w", MapError(err))
		}
		if err := CheckRowsAffected(res, fmt.Errorf("%w: id %d", store.ErrNoteNotFound, noteID)); err != nil {
			return err
		}

		var next int
		err = tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(position) + 1, 0) FROM note_tasks WHERE note_id = $1 AND kind = $2`,
			noteID, kind).Scan(&next)
		if err != nil {
			return fmt.Errorf("failed to read note task position: %w", MapError(err))
		}

		for _, id := range taskIDs {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO note_tasks (note_id, task_id, kind, position)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (note_id, task_id) DO NOTHING`,
				noteID, id, kind, next)
			if err != nil {
				if IsForeignKeyViolation(err) {
					return fmt.Errorf("%w: id %d", store.ErrTaskNotFound, id)
				}
				return fmt.Errorf("failed to attach task %d: %w", id, MapError(err))
			}
			if n, _ := res.RowsAffected(); n > 0 {
				next++
			}
		}
		return nil
	})
}

// UpdateNoteStatus implements store.NoteStore.
func (s *Store) UpdateNoteStatus(ctx context.Context, noteID int64, status domain.NoteStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE note_relations SET status = $1, updated_at = $2 WHERE id = $3`, status, time.Now().UTC(), noteID)
	if err != nil {
		return fmt.Errorf("failed to update note status: %w", MapError(err))
	}
	return CheckRowsAffected(res, fmt.Errorf("%w: id %d", store.ErrNoteNotFound, noteID))
}

// ListNotesByTask implements store.NoteStore.
func (s *Store) ListNotesByTask(ctx context.Context, taskID int64) ([]*domain.NoteRelation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT n.note_url FROM note_relations n
		JOIN note_tasks nt ON nt.note_id = n.id
		WHERE nt.task_id = $1
		ORDER BY n.id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes by task: %w", MapError(err))
	}
	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan note url: %w", err)
		}
		urls = append(urls, u)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO data_sources (source_type, source_path, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (source_path) DO NOTHING`,
		ds.SourceType, ds.SourcePath, ds.Config, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to create data source: %w", MapError(err))
	}

	var out domain.DataSource
	err = s.db.QueryRowContext(ctx, `
		SELECT id, source_type, source_path, config, created_at, updated_at
		FROM data_sources WHERE source_path = $1`, ds.SourcePath,
	).Scan(&out.ID, &out.SourceType, &out.SourcePath, &out.Config, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load data source: %w", MapError(err))
	}
	return &out, nil
}
