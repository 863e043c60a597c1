package logging

import (
	"context"
	"log/slog"
	"slices"
)

// teeHandler writes each record to every handler that accepts its level.
type teeHandler []slog.Handler

// TeeHandler duplicates every record to each non-nil handler. The daily log
// file uses it to keep a JSON copy next to console output.
func TeeHandler(handlers ...slog.Handler) slog.Handler {
	var live teeHandler
	for _, h := range handlers {
		if h != nil {
			live = append(live, h)
		}
	}
	switch len(live) {
	case 0:
		return slog.DiscardHandler
	case 1:
		return live[0]
	}
	return live
}

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return slices.ContainsFunc(t, func(h slog.Handler) bool { return h.Enabled(ctx, level) })
}

func (t teeHandler) Handle(ctx context.Context, record slog.Record) error {
	var first error
	for _, h := range t {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		// Handlers may retain the record; each gets its own copy of the attrs.
		if err := h.Handle(ctx, record.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return t.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	return t.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (t teeHandler) each(fn func(slog.Handler) slog.Handler) teeHandler {
	next := make(teeHandler, len(t))
	for i, h := range t {
		next[i] = fn(h)
	}
	return next
}
