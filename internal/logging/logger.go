// Package logging defines the structured-logging interface used across
// goterm and its slog-backed implementation.
package logging

import "context"

// Logger takes alternating key/value args after the message:
//
//	log.Info(ctx, "session connected", "session_id", id, "profile_id", pid)
//
// Secrets never go into args.
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	// Warn is for recoverable trouble: a dropped event, a failed keepalive.
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that prepends args to every record.
	With(args ...any) Logger
}
