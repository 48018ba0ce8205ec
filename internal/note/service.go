package note

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/phrazzld/mediascribe/internal/domain"
	"github.com/phrazzld/mediascribe/internal/events"
	"github.com/phrazzld/mediascribe/internal/media"
	"github.com/phrazzld/mediascribe/internal/store"
)

// Result text layout.
const (
	ImageMarkerFormat = "【图片%d内容解析】"
	VideoMarkerFormat = "【视频语音字幕解析%d】"
	SectionSeparator  = "----------------------------------------"
)

// ErrNoResults is reported by GetNoteAllResults when a note has no finished
// image or video text.
var ErrNoResults = errors.New("note has no results")

// Record is one note as read from a batch file.
type Record struct {
	NoteURL string
	// ImageList holds comma separated image URLs.
	ImageList string
	VideoURL  string
}

// Options controls which tasks ProcessNote creates.
type Options struct {
	// ImageEngine is the engine for image tasks; empty uses the default.
	ImageEngine  string
	ProcessVideo bool
	// VideoEngine is the engine for video tasks; empty uses the default.
	VideoEngine string
}

// TaskCreator creates pending tasks. *task.Orchestrator implements it.
type TaskCreator interface {
	CreateTask(ctx context.Context, url, filePath, engineID string, kind domain.TaskKind) (int64, error)
}

// Store is the persistence the note service needs.
type Store interface {
	store.NoteStore
	GetTask(ctx context.Context, id int64) (*domain.Task, error)
	GetResultByTask(ctx context.Context, taskID int64) (*domain.Result, error)
}

// Service aggregates tasks per note.
type Service interface {
	// ProcessNote creates tasks for the record's valid resources and
	// attaches them to the note. It returns whether the record was
	// accepted, a summary message and the created task ids.
	ProcessNote(ctx context.Context, rec Record, opts Options) (bool, string, []int64)

	// GetNoteOCRResults returns the finished image texts in attachment order.
	GetNoteOCRResults(ctx context.Context, noteURL string) string

	// GetNoteVideoResults returns the finished video transcripts in
	// attachment order.
	GetNoteVideoResults(ctx context.Context, noteURL string) string

	// GetNoteAllResults joins image and video text. ok is false only when
	// both are empty.
	GetNoteAllResults(ctx context.Context, noteURL string) (ok bool, message, text string)

	// GetNote returns the relation for noteURL.
	GetNote(ctx context.Context, noteURL string) (*domain.NoteRelation, error)

	// RefreshStatus recomputes the note status from its tasks.
	RefreshStatus(ctx context.Context, noteURL string) (domain.NoteStatus, error)

	events.EventHandler
}

// ServiceError wraps errors from the note service with context.
type ServiceError struct {
	// Operation is the operation that failed (e.g. "refresh_status")
	Operation string
	Message   string
	Err       error
}

// Error implements the error interface for ServiceError.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("note service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("note service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError wraps err. Missing notes are returned as
// store.ErrNoteNotFound so callers can match them directly.
func NewServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNoteNotFound) {
		return store.ErrNoteNotFound
	}
	return &ServiceError{Operation: operation, Message: message, Err: err}
}

type serviceImpl struct {
	store  Store
	tasks  TaskCreator
	logger *slog.Logger
}

// NewService creates a note Service.
func NewService(st Store, tasks TaskCreator, logger *slog.Logger) (Service, error) {
	if st == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "store cannot be nil"}
	}
	if tasks == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "task creator cannot be nil"}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &serviceImpl{
		store:  st,
		tasks:  tasks,
		logger: logger.With("component", "note_service"),
	}, nil
}

func (s *serviceImpl) ProcessNote(ctx context.Context, rec Record, opts Options) (bool, string, []int64) {
	noteURL := NormalizeNoteURL(rec.NoteURL)
	if noteURL == "" {
		return false, domain.ErrEmptyNoteURL.Error(), nil
	}
	log := s.logger.With("note_url", noteURL)

	var imageIDs, videoIDs []int64
	var createErr error

	for _, u := range media.SplitList(rec.ImageList) {
		if !media.IsValidImageURL(u) {
			log.Debug("skipping invalid image url", "url", u)
			continue
		}
		id, err := s.tasks.CreateTask(ctx, u, "", opts.ImageEngine, domain.TaskKindImage)
		if err != nil {
			createErr = err
			break
		}
		imageIDs = append(imageIDs, id)
	}

	videoURL := strings.TrimSpace(rec.VideoURL)
	if createErr == nil && opts.ProcessVideo && videoURL != "" {
		if media.IsValidVideoURL(videoURL) {
			id, err := s.tasks.CreateTask(ctx, videoURL, "", opts.VideoEngine, domain.TaskKindVideo)
			if err != nil {
				createErr = err
			} else {
				videoIDs = append(videoIDs, id)
			}
		} else {
			log.Debug("skipping invalid video url", "url", videoURL)
		}
	}

	taskIDs := append(append([]int64{}, imageIDs...), videoIDs...)
	if len(taskIDs) > 0 {
		if err := s.attach(ctx, noteURL, imageIDs, videoIDs); err != nil {
			log.Error("failed to save note relation", "error", err)
			return false, fmt.Sprintf("failed to save note relation: %v", err), taskIDs
		}
	}
	if createErr != nil {
		log.Error("failed to create task for note", "error", createErr, "created", len(taskIDs))
		return false, fmt.Sprintf("failed to create task: %v", createErr), taskIDs
	}

	msg := fmt.Sprintf("created %d tasks (images: %d, videos: %d)", len(taskIDs), len(imageIDs), len(videoIDs))
	log.Info("note processed", "images", len(imageIDs), "videos", len(videoIDs))
	return true, msg, taskIDs
}

func (s *serviceImpl) attach(ctx context.Context, noteURL string, imageIDs, videoIDs []int64) error {
	rel, err := s.store.GetOrCreateNote(ctx, noteURL)
	if err != nil {
		return err
	}
	if len(imageIDs) > 0 {
		if err := s.store.AttachTasks(ctx, rel.ID, domain.TaskKindImage, imageIDs...); err != nil {
			return err
		}
	}
	if len(videoIDs) > 0 {
		if err := s.store.AttachTasks(ctx, rel.ID, domain.TaskKindVideo, videoIDs...); err != nil {
			return err
		}
	}
	return s.store.UpdateNoteStatus(ctx, rel.ID, domain.NoteStatusProcessing)
}

func (s *serviceImpl) GetNote(ctx context.Context, noteURL string) (*domain.NoteRelation, error) {
	rel, err := s.store.GetNote(ctx, NormalizeNoteURL(noteURL))
	if err != nil {
		return nil, NewServiceError("get_note", "failed to load note", err)
	}
	return rel, nil
}

func (s *serviceImpl) GetNoteOCRResults(ctx context.Context, noteURL string) string {
	rel, ok := s.relation(ctx, noteURL)
	if !ok {
		return ""
	}
	return s.collect(ctx, rel.ImageTaskIDs, ImageMarkerFormat)
}

func (s *serviceImpl) GetNoteVideoResults(ctx context.Context, noteURL string) string {
	rel, ok := s.relation(ctx, noteURL)
	if !ok {
		return ""
	}
	return s.collect(ctx, rel.VideoTaskIDs, VideoMarkerFormat)
}

func (s *serviceImpl) GetNoteAllResults(ctx context.Context, noteURL string) (bool, string, string) {
	var sections []string
	if text := s.GetNoteOCRResults(ctx, noteURL); text != "" {
		sections = append(sections, text)
	}
	if text := s.GetNoteVideoResults(ctx, noteURL); text != "" {
		sections = append(sections, text)
	}
	if len(sections) == 0 {
		return false, ErrNoResults.Error(), ""
	}
	return true, "results loaded", strings.Join(sections, "\n\n"+SectionSeparator+"\n\n")
}

func (s *serviceImpl) relation(ctx context.Context, noteURL string) (*domain.NoteRelation, bool) {
	key := NormalizeNoteURL(noteURL)
	rel, err := s.store.GetNote(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("note relation not found", "note_url", key)
		} else {
			s.logger.Error("failed to load note relation", "note_url", key, "error", err)
		}
		return nil, false
	}
	return rel, true
}

// collect numbers results by attachment position, so a missing result
// leaves a gap in the numbering instead of shifting later markers.
func (s *serviceImpl) collect(ctx context.Context, ids []int64, markerFormat string) string {
	parts := make([]string, 0, len(ids))
	for i, id := range ids {
		res, err := s.store.GetResultByTask(ctx, id)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				s.logger.Warn("failed to load task result", "task_id", id, "error", err)
			}
			continue
		}
		if strings.TrimSpace(res.Content) == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf(markerFormat, i+1)+"\n"+res.Content)
	}
	return strings.Join(parts, "\n\n")
}

func (s *serviceImpl) RefreshStatus(ctx context.Context, noteURL string) (domain.NoteStatus, error) {
	rel, err := s.store.GetNote(ctx, NormalizeNoteURL(noteURL))
	if err != nil {
		return "", NewServiceError("refresh_status", "failed to load note", err)
	}
	return s.refresh(ctx, rel)
}

func (s *serviceImpl) refresh(ctx context.Context, rel *domain.NoteRelation) (domain.NoteStatus, error) {
	ids := rel.TaskIDs()
	statuses := make([]domain.TaskStatus, 0, len(ids))
	for _, id := range ids {
		t, err := s.store.GetTask(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return "", NewServiceError("refresh_status", "failed to load task", err)
		}
		statuses = append(statuses, t.Status)
	}

	status := domain.DeriveNoteStatus(statuses)
	if status == rel.Status {
		return status, nil
	}
	if err := s.store.UpdateNoteStatus(ctx, rel.ID, status); err != nil {
		return "", NewServiceError("refresh_status", "failed to update note status", err)
	}
	s.logger.Info("note status changed", "note_url", rel.NoteURL, "from", rel.Status, "to", status)
	return status, nil
}

// HandleEvent refreshes every note the finished task belongs to.
func (s *serviceImpl) HandleEvent(ctx context.Context, event *events.TaskFinishedEvent) error {
	notes, err := s.store.ListNotesByTask(ctx, event.TaskID)
	if err != nil {
		return NewServiceError("handle_event", "failed to find notes for task", err)
	}
	var firstErr error
	for _, rel := range notes {
		if _, err := s.refresh(ctx, rel); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
