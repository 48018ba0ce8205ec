package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/phrazzld/mediascribe/internal/api/shared"
	"github.com/phrazzld/mediascribe/internal/domain"
)

// NoteService is the part of the note service the note endpoints use.
type NoteService interface {
	GetNote(ctx context.Context, noteURL string) (*domain.NoteRelation, error)
	GetNoteOCRResults(ctx context.Context, noteURL string) string
	GetNoteVideoResults(ctx context.Context, noteURL string) string
	GetNoteAllResults(ctx context.Context, noteURL string) (bool, string, string)
}

// NoteHandler serves the /api/notes endpoints.
type NoteHandler struct {
	notes  NoteService
	logger *slog.Logger
}

// NewNoteHandler creates a NoteHandler.
func NewNoteHandler(notes NoteService, logger *slog.Logger) *NoteHandler {
	return &NoteHandler{notes: notes, logger: logger.With("component", "note_handler")}
}

// GetNoteResults handles GET /api/notes/results?url=...
func (h *NoteHandler) GetNoteResults(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("url"))
	if raw == "" {
		HandleAPIError(w, r, domain.ErrEmptyNoteURL, "")
		return
	}

	rel, err := h.notes.GetNote(r.Context(), raw)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to load note")
		return
	}

	resp := NoteResultsResponse{
		NoteURL:      rel.NoteURL,
		Status:       string(rel.Status),
		ImageTaskIDs: nonNil(rel.ImageTaskIDs),
		VideoTaskIDs: nonNil(rel.VideoTaskIDs),
		ImageText:    h.notes.GetNoteOCRResults(r.Context(), raw),
		VideoText:    h.notes.GetNoteVideoResults(r.Context(), raw),
	}
	if ok, msg, text := h.notes.GetNoteAllResults(r.Context(), raw); ok {
		resp.Combined = text
	} else {
		h.logger.Debug("note has no combined results", "note_url", rel.NoteURL, "message", msg)
	}

	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
