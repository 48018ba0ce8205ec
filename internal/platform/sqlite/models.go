package sqlite

import (
	"time"

	"github.com/phrazzld/mediascribe/internal/domain"
)

type taskRecord struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	URL          string    `gorm:"not null;default:''"`
	FilePath     string    `gorm:"not null;default:''"`
	Engine       string    `gorm:"not null"`
	Kind         string    `gorm:"not null;default:image"`
	Status       string    `gorm:"not null;index:idx_tasks_status_created,priority:1"`
	ErrorMessage string    `gorm:"not null;default:''"`
	CreatedAt    time.Time `gorm:"index:idx_tasks_status_created,priority:2"`
	UpdatedAt    time.Time

	Result    *resultRecord    `gorm:"foreignKey:TaskID;constraint:OnDelete:CASCADE"`
	NoteLinks []noteTaskRecord `gorm:"foreignKey:TaskID;constraint:OnDelete:CASCADE"`
}

func (taskRecord) TableName() string { return "tasks" }

func (r *taskRecord) toDomain() *domain.Task {
	return &domain.Task{
		ID:           r.ID,
		URL:          r.URL,
		FilePath:     r.FilePath,
		Engine:       r.Engine,
		Kind:         domain.TaskKind(r.Kind),
		Status:       domain.TaskStatus(r.Status),
		ErrorMessage: r.ErrorMessage,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

type resultRecord struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	TaskID       int64  `gorm:"not null;uniqueIndex"`
	Content      string `gorm:"not null;default:''"`
	ArtifactPath string `gorm:"not null;default:''"`
	CreatedAt    time.Time
}

func (resultRecord) TableName() string { return "results" }

func (r *resultRecord) toDomain() *domain.Result {
	return &domain.Result{
		ID:           r.ID,
		TaskID:       r.TaskID,
		Content:      r.Content,
		ArtifactPath: r.ArtifactPath,
		CreatedAt:    r.CreatedAt,
	}
}

type noteRecord struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	NoteURL   string `gorm:"not null;uniqueIndex"`
	Status    string `gorm:"not null;default:pending"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Tasks []noteTaskRecord `gorm:"foreignKey:NoteID;constraint:OnDelete:CASCADE"`
}

func (noteRecord) TableName() string { return "note_relations" }

type noteTaskRecord struct {
	NoteID   int64  `gorm:"primaryKey;autoIncrement:false"`
	TaskID   int64  `gorm:"primaryKey;autoIncrement:false;index"`
	Kind     string `gorm:"not null"`
	Position int    `gorm:"not null"`
}

func (noteTaskRecord) TableName() string { return "note_tasks" }

type dataSourceRecord struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	SourceType string `gorm:"not null"`
	SourcePath string `gorm:"not null;uniqueIndex"`
	Config     string `gorm:"not null;default:''"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (dataSourceRecord) TableName() string { return "data_sources" }

func (r *dataSourceRecord) toDomain() *domain.DataSource {
	return &domain.DataSource{
		ID:         r.ID,
		SourceType: r.SourceType,
		SourcePath: r.SourcePath,
		Config:     r.Config,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}
