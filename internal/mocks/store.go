package mocks

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/phrazzld/mediascribe/internal/domain"
	"github.com/phrazzld/mediascribe/internal/store"
)

// MockStore is an in-memory store.Store with the same status rules as the
// database backends. The *Err fields inject failures.
type MockStore struct {
	CreateTaskErr   error
	CreateResultErr error
	DeleteTaskErr   error

	mu      sync.Mutex
	nextID  int64
	tasks   map[int64]*domain.Task
	results map[int64]*domain.Result
	notes   map[string]*domain.NoteRelation
	sources map[string]*domain.DataSource
}

var _ store.Store = (*MockStore)(nil)

// NewMockStore creates an empty store.
func NewMockStore() *MockStore {
	return &MockStore{
		tasks:   make(map[int64]*domain.Task),
		results: make(map[int64]*domain.Result),
		notes:   make(map[string]*domain.NoteRelation),
		sources: make(map[string]*domain.DataSource),
	}
}

func (m *MockStore) id() int64 {
	m.nextID++
	return m.nextID
}

// CreateTask implements store.TaskStore.
func (m *MockStore) CreateTask(_ context.Context, task *domain.Task) (int64, error) {
	if m.CreateTaskErr != nil {
		return 0, m.CreateTaskErr
	}
	if err := task.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *task
	cp.ID = m.id()
	// Keep creation order observable even when the clock does not advance.
	cp.CreatedAt = time.Now().UTC().Add(time.Duration(cp.ID) * time.Microsecond)
	cp.UpdatedAt = cp.CreatedAt
	m.tasks[cp.ID] = &cp
	task.ID, task.CreatedAt, task.UpdatedAt = cp.ID, cp.CreatedAt, cp.UpdatedAt
	return cp.ID, nil
}

func (m *MockStore) task(id int64) (*domain.Task, error) {
	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", store.ErrTaskNotFound, id)
	}
	return t, nil
}

// GetTask implements store.TaskStore.
func (m *MockStore) GetTask(_ context.Context, id int64) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.task(id)
	if err != nil {
		return nil, err
	}
	cp := *t
	return &cp, nil
}

func (m *MockStore) list(keep func(*domain.Task) bool, newestFirst bool) []*domain.Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []*domain.Task{}
	for _, t := range m.tasks {
		if keep(t) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].ID > out[j].ID
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ListTasks implements store.TaskStore.
func (m *MockStore) ListTasks(context.Context) ([]*domain.Task, error) {
	return m.list(func(*domain.Task) bool { return true }, true), nil
}

// ListTasksByStatus implements store.TaskStore.
func (m *MockStore) ListTasksByStatus(_ context.Context, status domain.TaskStatus) ([]*domain.Task, error) {
	return m.list(func(t *domain.Task) bool { return t.Status == status }, false), nil
}

// ListStuckTasks implements store.TaskStore.
func (m *MockStore) ListStuckTasks(_ context.Context, olderThan time.Duration) ([]*domain.Task, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	return m.list(func(t *domain.Task) bool {
		return t.Status == domain.TaskStatusProcessing && !t.UpdatedAt.After(cutoff)
	}, false), nil
}

// UpdateTaskStatus implements store.TaskStore.
func (m *MockStore) UpdateTaskStatus(_ context.Context, id int64, status domain.TaskStatus, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.task(id)
	if err != nil {
		return err
	}
	if !t.Status.CanTransitionTo(status) {
		return fmt.Errorf("%w: %w: %s -> %s", store.ErrUpdateFailed, domain.ErrInvalidTransition, t.Status, status)
	}
	if status != domain.TaskStatusFailed {
		errorMessage = ""
	}
	t.Status, t.ErrorMessage, t.UpdatedAt = status, errorMessage, time.Now().UTC()
	return nil
}

// ClaimTask implements store.TaskStore.
func (m *MockStore) ClaimTask(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.task(id)
	if err != nil {
		return err
	}
	if t.Status != domain.TaskStatusPending {
		return fmt.Errorf("%w: %w: cannot claim %s task", store.ErrUpdateFailed, domain.ErrInvalidTransition, t.Status)
	}
	t.Status, t.ErrorMessage, t.UpdatedAt = domain.TaskStatusProcessing, "", time.Now().UTC()
	return nil
}

// UpdateTaskFilePath implements store.TaskStore.
func (m *MockStore) UpdateTaskFilePath(_ context.Context, id int64, filePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.task(id)
	if err != nil {
		return err
	}
	t.FilePath, t.UpdatedAt = filePath, time.Now().UTC()
	return nil
}

// ResetTask implements store.TaskStore.
func (m *MockStore) ResetTask(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.task(id)
	if err != nil {
		return err
	}
	if !t.Status.CanReset() {
		return fmt.Errorf("%w: %w: cannot reset %s task", store.ErrUpdateFailed, domain.ErrInvalidTransition, t.Status)
	}
	t.Status, t.ErrorMessage, t.UpdatedAt = domain.TaskStatusPending, "", time.Now().UTC()
	return nil
}

// DeleteTask implements store.TaskStore.
func (m *MockStore) DeleteTask(_ context.Context, id int64) error {
	if m.DeleteTaskErr != nil {
		return m.DeleteTaskErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.task(id); err != nil {
		return err
	}
	delete(m.tasks, id)
	delete(m.results, id)
	for _, n := range m.notes {
		n.ImageTaskIDs = slices.DeleteFunc(n.ImageTaskIDs, func(v int64) bool { return v == id })
		n.VideoTaskIDs = slices.DeleteFunc(n.VideoTaskIDs, func(v int64) bool { return v == id })
	}
	return nil
}

// CreateResult implements store.ResultStore.
func (m *MockStore) CreateResult(_ context.Context, result *domain.Result) (int64, error) {
	if m.CreateResultErr != nil {
		return 0, m.CreateResultErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.task(result.TaskID)
	if err != nil {
		return 0, err
	}
	if !t.Status.CanTransitionTo(domain.TaskStatusCompleted) {
		return 0, fmt.Errorf("%w: %w: %s -> completed", store.ErrUpdateFailed, domain.ErrInvalidTransition, t.Status)
	}
	if _, ok := m.results[result.TaskID]; ok {
		return 0, fmt.Errorf("%w: result for task %d", store.ErrDuplicate, result.TaskID)
	}

	cp := *result
	cp.ID = m.id()
	cp.CreatedAt = time.Now().UTC()
	m.results[cp.TaskID] = &cp
	t.Status, t.ErrorMessage, t.UpdatedAt = domain.TaskStatusCompleted, "", cp.CreatedAt

	result.ID, result.CreatedAt = cp.ID, cp.CreatedAt
	return cp.ID, nil
}

// GetResultByTask implements store.ResultStore.
func (m *MockStore) GetResultByTask(_ context.Context, taskID int64) (*domain.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: task %d", store.ErrResultNotFound, taskID)
	}
	cp := *r
	return &cp, nil
}

// GetResult implements store.ResultStore.
func (m *MockStore) GetResult(_ context.Context, id int64) (*domain.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.results {
		if r.ID == id {
			cp := *r
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: id %d", store.ErrResultNotFound, id)
}

// DeleteResult implements store.ResultStore.
func (m *MockStore) DeleteResult(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for taskID, r := range m.results {
		if r.ID != id {
			continue
		}
		delete(m.results, taskID)
		if t, ok := m.tasks[taskID]; ok && t.Status == domain.TaskStatusCompleted {
			t.Status, t.ErrorMessage, t.UpdatedAt = domain.TaskStatusPending, "", time.Now().UTC()
		}
		return nil
	}
	return fmt.Errorf("%w: id %d", store.ErrResultNotFound, id)
}

func copyNote(n *domain.NoteRelation) *domain.NoteRelation {
	cp := *n
	cp.ImageTaskIDs = append([]int64{}, n.ImageTaskIDs...)
	cp.VideoTaskIDs = append([]int64{}, n.VideoTaskIDs...)
	return &cp
}

// GetOrCreateNote implements store.NoteStore.
func (m *MockStore) GetOrCreateNote(_ context.Context, noteURL string) (*domain.NoteRelation, error) {
	if noteURL == "" {
		return nil, domain.ErrEmptyNoteURL
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.notes[noteURL]
	if !ok {
		now := time.Now().UTC()
		n = &domain.NoteRelation{
			ID:        m.id(),
			NoteURL:   noteURL,
			Status:    domain.NoteStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		m.notes[noteURL] = n
	}
	return copyNote(n), nil
}

// GetNote implements store.NoteStore.
func (m *MockStore) GetNote(_ context.Context, noteURL string) (*domain.NoteRelation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notes[noteURL]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrNoteNotFound, noteURL)
	}
	return copyNote(n), nil
}

func (m *MockStore) noteByID(id int64) (*domain.NoteRelation, error) {
	for _, n := range m.notes {
		if n.ID == id {
			return n, nil
		}
	}
	return nil, fmt.Errorf("%w: id %d", store.ErrNoteNotFound, id)
}

// AttachTasks implements store.NoteStore.
func (m *MockStore) AttachTasks(_ context.Context, noteID int64, kind domain.TaskKind, taskIDs ...int64) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, domain.ErrInvalidTaskKind)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.noteByID(noteID)
	if err != nil {
		return err
	}
	for _, id := range taskIDs {
		if _, err := m.task(id); err != nil {
			return err
		}
	}
	if kind == domain.TaskKindVideo {
		n.VideoTaskIDs = domain.AppendUnique(n.VideoTaskIDs, taskIDs...)
	} else {
		n.ImageTaskIDs = domain.AppendUnique(n.ImageTaskIDs, taskIDs...)
	}
	n.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateNoteStatus implements store.NoteStore.
func (m *MockStore) UpdateNoteStatus(_ context.Context, noteID int64, status domain.NoteStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, err := m.noteByID(noteID)
	if err != nil {
		return err
	}
	n.Status, n.UpdatedAt = status, time.Now().UTC()
	return nil
}

// ListNotesByTask implements store.NoteStore.
func (m *MockStore) ListNotesByTask(_ context.Context, taskID int64) ([]*domain.NoteRelation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.NoteRelation{}
	for _, n := range m.notes {
		if n.Has(taskID) {
			out = append(out, copyNote(n))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetOrCreateDataSource implements store.DataSourceStore.
func (m *MockStore) GetOrCreateDataSource(_ context.Context, ds *domain.DataSource) (*domain.DataSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sources[ds.SourcePath]; ok {
		cp := *existing
		return &cp, nil
	}
	cp := *ds
	cp.ID = m.id()
	cp.CreatedAt = time.Now().UTC()
	cp.UpdatedAt = cp.CreatedAt
	m.sources[cp.SourcePath] = &cp
	out := cp
	return &out, nil
}

// Close implements store.Store.
func (m *MockStore) Close() error { return nil }

// SetTaskStatus forces a status without transition checks, for arranging
// test fixtures.
func (m *MockStore) SetTaskStatus(id int64, status domain.TaskStatus, errorMessage string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[id]; ok {
		t.Status, t.ErrorMessage = status, errorMessage
	}
}

// TaskCount reports how many tasks are stored.
func (m *MockStore) TaskCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}
