// Package runctx generates and threads a per-daily-cycle run/correlation
// id through log lines, so every log entry emitted during one cycle run
// can be grepped together regardless of which component emitted it.
// Grounded on internal/modules/planning's recommendation-id generation
// (uuid.New().String()), applied here to a run scope instead of a
// recommendation row.
package runctx

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey int

const runIDKey contextKey = iota

// NewRunID generates a fresh run id via uuid.New().String().
func NewRunID() string {
	return uuid.New().String()
}

// WithRunID returns a context carrying runID, retrievable via RunID.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunID returns the run id carried by ctx, or "" if none was set.
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey).(string)
	return id
}

// Logger returns log with a "run_id" field set from ctx, so every line a
// component logs during this run carries the correlation id — the same
// `.With().Str(...).Logger()` sub-logger pattern used throughout this
// repo's components.
func Logger(ctx context.Context, log zerolog.Logger) zerolog.Logger {
	runID := RunID(ctx)
	if runID == "" {
		return log
	}
	return log.With().Str("run_id", runID).Logger()
}

// StartRun generates a new run id, attaches it to ctx, and returns both the
// new context and a logger pre-scoped with it — the one call sites need at
// the top of a daily-cycle invocation.
func StartRun(ctx context.Context, log zerolog.Logger) (context.Context, zerolog.Logger) {
	runID := NewRunID()
	ctx = WithRunID(ctx, runID)
	return ctx, Logger(ctx, log)
}
