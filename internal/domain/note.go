package domain

import (
	"slices"
	"time"
)

// NoteStatus represents the aggregate processing state of a note.
type NoteStatus string

// Possible note status values
const (
	NoteStatusPending             NoteStatus = "pending"
	NoteStatusProcessing          NoteStatus = "processing"
	NoteStatusCompleted           NoteStatus = "completed"
	NoteStatusCompletedWithErrors NoteStatus = "completed_with_errors"
	NoteStatusFailed              NoteStatus = "failed"
)

// NoteRelation links a normalized note URL to the tasks created for its
// images and videos. Task id order is first-attachment order.
type NoteRelation struct {
	ID           int64      `json:"id"`
	NoteURL      string     `json:"note_url"`
	ImageTaskIDs []int64    `json:"image_task_ids"`
	VideoTaskIDs []int64    `json:"video_task_ids"`
	Status       NoteStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TaskIDs returns image task ids followed by video task ids.
func (n *NoteRelation) TaskIDs() []int64 {
	ids := make([]int64, 0, len(n.ImageTaskIDs)+len(n.VideoTaskIDs))
	ids = append(ids, n.ImageTaskIDs...)
	return append(ids, n.VideoTaskIDs...)
}

// Has reports whether the task id is attached under either kind.
func (n *NoteRelation) Has(taskID int64) bool {
	return slices.Contains(n.ImageTaskIDs, taskID) || slices.Contains(n.VideoTaskIDs, taskID)
}

// AppendUnique appends ids that are not yet in dst, preserving order.
func AppendUnique(dst []int64, ids ...int64) []int64 {
	for _, id := range ids {
		if !slices.Contains(dst, id) {
			dst = append(dst, id)
		}
	}
	return dst
}

// DeriveNoteStatus computes the note status from the statuses of its tasks.
// A note without tasks stays pending.
func DeriveNoteStatus(statuses []TaskStatus) NoteStatus {
	if len(statuses) == 0 {
		return NoteStatusPending
	}
	var completed, failed int
	for _, s := range statuses {
		switch s {
		case TaskStatusCompleted:
			completed++
		case TaskStatusFailed:
			failed++
		default:
			return NoteStatusProcessing
		}
	}
	switch {
	case failed == 0:
		return NoteStatusCompleted
	case completed == 0:
		return NoteStatusFailed
	default:
		return NoteStatusCompletedWithErrors
	}
}
