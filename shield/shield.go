// Package shield holds the HTTP middleware of the topdf-audit viewer:
// security headers, HEAD handling, a read-only method guard and per-request
// tracing.
//
//	r := chi.NewRouter()
//	for _, mw := range shield.ViewerStack(logger) {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// ViewerStack returns the middleware for a read-only viewer, outermost first:
// HeadToGet, ReadOnly, SecurityHeaders, TraceID.
func ViewerStack(logger *slog.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		ReadOnly,
		SecurityHeaders(DefaultHeaders()),
		TraceID(logger),
	}
}

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
