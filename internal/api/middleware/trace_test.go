package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/phrazzld/mediascribe/internal/api/shared"
	"github.com/phrazzld/mediascribe/internal/platform/logger"
)

func TestTraceMiddleware(t *testing.T) {
	t.Parallel()

	base := slog.New(slog.NewTextHandler(io.Discard, nil))
	var seenTrace string
	var seenLogger *slog.Logger

	handler := NewTraceMiddleware(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenTrace = shared.GetTraceID(r.Context())
		seenLogger = logger.FromContextOrDefault(r.Context(), nil)
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tasks", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotEmpty(t, seenTrace)
	assert.Equal(t, seenTrace, rec.Header().Get("X-Trace-ID"))
	assert.NotNil(t, seenLogger)
}
