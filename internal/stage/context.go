package stage

import "context"

type contextKey string

const (
	runIDKey       contextKey = "run_id"
	stageKey       contextKey = "stage"
	identityKeyKey contextKey = "identity_key"
)

// WithRunID annotates context with the pipeline run identifier.
func WithRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext extracts the pipeline run identifier if present.
func RunIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(runIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithStage annotates context with the stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(stageKey)
	if str, ok := v.(string); ok && str != "" {
		return str, true
	}
	return "", false
}

// WithIdentityKey annotates context with the record identity key being processed.
func WithIdentityKey(ctx context.Context, key string) context.Context {
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, identityKeyKey, key)
}

// IdentityKeyFromContext returns the record identity key if present.
func IdentityKeyFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(identityKeyKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
