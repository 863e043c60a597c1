package logging

import (
	"log/slog"
	"time"

	"paperpipe/internal/stage"
)

// Attr is re-exported so callers build attributes without importing slog.
type Attr = slog.Attr

func Int(key string, value int) Attr { return slog.Int(key, value) }

func String(key string, value string) Attr { return slog.String(key, value) }

func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }

func Error(err error) Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}

// ErrorKind tags a failure with its stage.Kind.
func ErrorKind(err error) Attr {
	return slog.String(FieldErrorKind, string(stage.KindOf(err)))
}

// Args converts attrs to the variadic form slog.Logger methods accept.
func Args(attrs ...Attr) []any {
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}
	return args
}

// NewNop returns a logger that discards everything.
func NewNop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// NewComponentLogger scopes logger to a component. A nil logger yields a
// no-op logger.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(String(FieldComponent, component))
}

// WarnWithContext logs a warning that always carries event_type, error_hint
// and impact. Missing fields get generic values.
func WarnWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	attrs = withDefaults(attrs,
		String(FieldEventType, eventType),
		String(FieldErrorHint, "check logs for details"),
		String(FieldImpact, "run continues without this item"),
	)
	logger.Warn(msg, Args(attrs...)...)
}

// ErrorWithContext logs an error that always carries event_type and
// error_hint.
func ErrorWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	attrs = withDefaults(attrs,
		String(FieldEventType, eventType),
		String(FieldErrorHint, "check logs for details"),
	)
	logger.Error(msg, Args(attrs...)...)
}

func withDefaults(attrs []Attr, defaults ...Attr) []Attr {
	for _, def := range defaults {
		present := false
		for _, a := range attrs {
			if a.Key == def.Key {
				present = true
				break
			}
		}
		if !present {
			attrs = append(attrs, def)
		}
	}
	return attrs
}
