// Package middleware contains the HTTP middleware applied by the router:
// trace ID injection and bearer-token authentication.
package middleware

import (
	"log/slog"
	"net/http"

	"github.com/kwestin/docsmith-api/internal/api/shared"
	"github.com/kwestin/docsmith-api/internal/platform/logger"
)

// TraceMiddleware attaches a trace ID to the request context and makes a
// trace-scoped logger available to everything downstream. Apply it first
// so that every handler and service log line carries the trace ID.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := shared.SetTraceID(r.Context())
		traceID := shared.GetTraceID(ctx)

		log := slog.Default().With(slog.String("trace_id", traceID))
		ctx = logger.WithLogger(ctx, log)

		log.Debug("request started",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote_addr", r.RemoteAddr))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
