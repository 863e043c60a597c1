package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"paperpipe/internal/config"
)

const (
	userAgent       = "paperpipe-notify/1.0"
	defaultNtfyHost = "https://ntfy.sh/"
)

// Event names a notification kind.
type Event string

const (
	EventRunCompleted Event = "run_completed"
	EventRunFailed    Event = "run_failed"
	EventDegradedKeys Event = "degraded_keys"
	EventTest         Event = "test"
)

// Payload carries event-specific values.
type Payload map[string]any

// Service publishes pipeline events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	if !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		topic = defaultNtfyHost + strings.TrimPrefix(topic, "/")
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:  topic,
		client:    &http.Client{Timeout: timeout},
		onSuccess: cfg.Notifications.OnSuccess,
		onFailure: cfg.Notifications.OnFailure,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint  string
	client    *http.Client
	onSuccess bool
	onFailure bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, data Payload) error {
	msg, ok := n.format(event, data)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) format(event Event, data Payload) (payload, bool) {
	switch event {
	case EventRunCompleted:
		if !n.onSuccess {
			return payload{}, false
		}
		committed := intValue(data["committed"])
		failed := intValue(data["failed"])
		if committed == 0 && failed == 0 {
			// Nothing new; stay quiet on empty daily runs.
			return payload{}, false
		}
		duration := durationText(data["duration"])
		message := fmt.Sprintf("📚 %d new papers added to the corpus in %s", committed, duration)
		title := "paperpipe - Run Complete"
		if failed > 0 {
			title = "paperpipe - Run Complete (with errors)"
			message = fmt.Sprintf("📚 %d added, %d failed in %s", committed, failed, duration)
		}
		return payload{
			title:   title,
			message: message,
			tags:    []string{"paperpipe", "run", "completed"},
		}, true
	case EventRunFailed:
		if !n.onFailure {
			return payload{}, false
		}
		var builder strings.Builder
		builder.WriteString("❌ Run failed")
		if runID := stringValue(data["run_id"]); runID != "" {
			builder.WriteString(" (")
			builder.WriteString(runID)
			builder.WriteString(")")
		}
		builder.WriteString(": ")
		if msg := stringValue(data["error"]); msg != "" {
			builder.WriteString(msg)
		} else {
			builder.WriteString("unknown")
		}
		return payload{
			title:    "paperpipe - Error",
			message:  builder.String(),
			tags:     []string{"paperpipe", "error", "alert"},
			priority: "high",
		}, true
	case EventDegradedKeys:
		if !n.onFailure {
			return payload{}, false
		}
		return payload{
			title:   "paperpipe - Listing Changed",
			message: fmt.Sprintf("⚠️ %d records had no arXiv id; the listing format may have changed", intValue(data["count"])),
			tags:    []string{"paperpipe", "source", "warning"},
		}, true
	case EventTest:
		return payload{
			title:    "paperpipe - Test",
			message:  "🧪 Notification system test",
			tags:     []string{"paperpipe", "test"},
			priority: "low",
		}, true
	default:
		return payload{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case error:
		return strings.TrimSpace(s.Error())
	case fmt.Stringer:
		return strings.TrimSpace(s.String())
	default:
		return ""
	}
}

func durationText(v any) string {
	d, _ := v.(time.Duration)
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	return d.String()
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
