package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
)

func TestTeeHandlerCollapses(t *testing.T) {
	if TeeHandler(nil, nil) != slog.DiscardHandler {
		t.Fatal("expected the discard handler when every handler is nil")
	}
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, nil)
	if TeeHandler(nil, inner) != inner {
		t.Fatal("expected single handler to be returned unwrapped")
	}
}

func TestTeeHandlerRespectsEachLevel(t *testing.T) {
	var info, warn bytes.Buffer
	h := TeeHandler(
		slog.NewJSONHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewJSONHandler(&warn, &slog.HandlerOptions{Level: slog.LevelWarn}),
	)
	if h.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug should not be enabled")
	}

	logger := slog.New(h)
	logger.Info("fetched")
	if info.Len() == 0 {
		t.Fatal("expected info output")
	}
	if warn.Len() != 0 {
		t.Fatalf("warn handler should drop info, got %s", warn.String())
	}

	logger.Warn("retrying")
	if !bytes.Contains(warn.Bytes(), []byte("retrying")) {
		t.Fatal("expected warn output")
	}
}

func TestTeeHandlerPropagatesAttrsAndGroups(t *testing.T) {
	var a, b bytes.Buffer
	h := TeeHandler(slog.NewJSONHandler(&a, nil), slog.NewJSONHandler(&b, nil))
	logger := slog.New(h).With(String(FieldRunID, "r1")).WithGroup("item")
	logger.Info("merged", String("slug", "x"))

	for name, buf := range map[string]*bytes.Buffer{"a": &a, "b": &b} {
		if !bytes.Contains(buf.Bytes(), []byte(`"run_id":"r1"`)) {
			t.Errorf("%s: missing run_id: %s", name, buf.String())
		}
		if !bytes.Contains(buf.Bytes(), []byte(`"item":{"slug":"x"}`)) {
			t.Errorf("%s: missing grouped attr: %s", name, buf.String())
		}
	}
}
