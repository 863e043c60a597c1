package logging

import (
	"context"
	"log/slog"

	"paperpipe/internal/stage"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldRunID identifies one pipeline run.
	FieldRunID = "run_id"
	// FieldStage is the standardized structured logging key for pipeline stage names.
	FieldStage = "stage"
	// FieldIdentityKey is the item identity key used for deduplication.
	FieldIdentityKey = "identity_key"
	// FieldEventType is a stable, greppable name for the event being logged.
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to check next.
	FieldErrorHint = "error_hint"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldErrorKind carries the stage.Kind of a failure.
	FieldErrorKind = "error_kind"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if id, ok := stage.RunIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldRunID, id))
	}
	if name, ok := stage.StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, name))
	}
	if key, ok := stage.IdentityKeyFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldIdentityKey, key))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
