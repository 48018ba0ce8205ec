package middleware

import (
	"log/slog"
	"net/http"

	"github.com/phrazzld/mediascribe/internal/api/shared"
	"github.com/phrazzld/mediascribe/internal/platform/logger"
)

// NewTraceMiddleware adds a trace ID to the request context, along with a
// logger that carries it. It should run early in the middleware chain so
// every handler sees both.
func NewTraceMiddleware(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := shared.SetTraceID(r.Context())
			traceID := shared.GetTraceID(ctx)

			log := base.With(slog.String("trace_id", traceID))
			ctx = logger.WithLogger(ctx, log)

			log.Debug("request started",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr))

			w.Header().Set("X-Trace-ID", traceID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
