package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// consoleHandler renders one human-readable line per record:
//
//	15:04:05 INFO  [fetch 2501.00001] artifact stored slug="..." elapsed=1.5s
//
// The component and identity key move into the bracketed prefix. run_id is
// left to the JSON log file.
type consoleHandler struct {
	mu        *sync.Mutex
	w         io.Writer
	level     *slog.LevelVar
	addSource bool

	component   string
	identityKey string
	prefix      string // dotted group path for new attrs
	preformat   []byte // attrs bound with WithAttrs, already rendered
}

func newConsoleHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return &consoleHandler{mu: &sync.Mutex{}, w: w, level: lvl, addSource: addSource}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	component, key := h.component, h.identityKey
	var attrs bytes.Buffer
	record.Attrs(func(a slog.Attr) bool {
		h.appendAttr(&attrs, h.prefix, a, &component, &key)
		return true
	})

	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	var line bytes.Buffer
	line.WriteString(ts.Format(time.TimeOnly))
	fmt.Fprintf(&line, " %-5s ", levelLabel(record.Level))
	if component != "" || key != "" {
		line.WriteByte('[')
		line.WriteString(strings.TrimSpace(component + " " + key))
		line.WriteString("] ")
	}
	msg := strings.TrimSpace(record.Message)
	if msg == "" {
		msg = "(no message)"
	}
	line.WriteString(msg)
	if h.addSource {
		if src := record.Source(); src != nil {
			fmt.Fprintf(&line, " (%s:%d)", filepath.Base(src.File), src.Line)
		}
	}
	line.Write(h.preformat)
	line.Write(attrs.Bytes())
	line.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(line.Bytes())
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	next := *h
	var buf bytes.Buffer
	for _, a := range attrs {
		h.appendAttr(&buf, h.prefix, a, &next.component, &next.identityKey)
	}
	next.preformat = append(append([]byte(nil), h.preformat...), buf.Bytes()...)
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

// appendAttr renders a as " key=value", flattening groups into dotted keys.
// Top-level component and identity_key attrs are captured instead.
func (h *consoleHandler) appendAttr(buf *bytes.Buffer, prefix string, a slog.Attr, component, key *string) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, child := range a.Value.Group() {
			h.appendAttr(buf, prefix, child, component, key)
		}
		return
	}
	if a.Key == "" {
		return
	}
	if prefix == "" {
		switch a.Key {
		case FieldComponent:
			*component = a.Value.String()
			return
		case FieldIdentityKey:
			*key = a.Value.String()
			return
		case FieldRunID:
			return
		}
	}
	buf.WriteByte(' ')
	buf.WriteString(prefix)
	buf.WriteString(a.Key)
	buf.WriteByte('=')
	buf.WriteString(consoleValue(a.Value))
}

func consoleValue(v slog.Value) string {
	var s string
	switch v.Kind() {
	case slog.KindDuration:
		return v.Duration().Round(time.Millisecond).String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindString:
		s = v.String()
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			s = err.Error()
		} else {
			s = fmt.Sprint(v.Any())
		}
	default:
		return v.String()
	}
	if s == "" || strings.ContainsFunc(s, func(r rune) bool { return r <= ' ' || r == '=' || r == '"' }) {
		return strconv.Quote(s)
	}
	return s
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}
