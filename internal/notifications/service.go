package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"streamhost/internal/config"
	"streamhost/internal/stream"
)

const userAgent = "streamhost/0.1.0"

// Service publishes stream alerts.
type Service interface {
	// Notify sends an alert for event, or does nothing for event types the
	// service does not alert on.
	Notify(ctx context.Context, event stream.Event) error
	TestNotification(ctx context.Context) error
	Enabled() bool
}

// NewService builds an ntfy-backed service, or a noop service when no
// topic is configured.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint:      topic,
		client:        &http.Client{Timeout: timeout},
		notifyCrashes: cfg.Notifications.NotifyCrashes,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint      string
	client        *http.Client
	notifyCrashes bool
}

func (n *ntfyService) Enabled() bool { return true }

func (n *ntfyService) Notify(ctx context.Context, event stream.Event) error {
	data, ok := n.payloadFor(event)
	if !ok {
		return nil
	}
	return n.send(ctx, data)
}

func (n *ntfyService) payloadFor(event stream.Event) (payload, bool) {
	subject := subjectFor(event)
	switch event.Type {
	case stream.EventGivenUp:
		return payload{
			title:    "streamhost - Stream Offline",
			message:  fmt.Sprintf("Stream %s gave up after %d restart attempts.\n%s", subject, event.Attempt, firstLine(event.Error)),
			tags:     []string{"streamhost", "given_up", "rotating_light"},
			priority: "urgent",
		}, true
	case stream.EventCrashed:
		if !n.notifyCrashes {
			return payload{}, false
		}
		return payload{
			title:    "streamhost - Encoder Crashed",
			message:  fmt.Sprintf("Encoder for %s exited with code %d; restarting.\n%s", subject, event.ExitCode, firstLine(event.Error)),
			tags:     []string{"streamhost", "crashed", "warning"},
			priority: "high",
		}, true
	case stream.EventRestarted:
		if !n.notifyCrashes {
			return payload{}, false
		}
		return payload{
			title:   "streamhost - Stream Recovered",
			message: fmt.Sprintf("Stream %s is live again after restart attempt %d.", subject, event.Attempt),
			tags:    []string{"streamhost", "restarted", "white_check_mark"},
		}, true
	default:
		return payload{}, false
	}
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "streamhost - Test",
		message:  "Notification system test",
		tags:     []string{"streamhost", "test"},
		priority: "low",
	})
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

// subjectFor names the stream by correlation id when the caller supplied
// one, else by session id.
func subjectFor(event stream.Event) string {
	if event.CorrelationID != "" {
		return event.CorrelationID
	}
	return event.SessionID
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

type noopService struct{}

func (noopService) Notify(context.Context, stream.Event) error { return nil }
func (noopService) TestNotification(context.Context) error     { return nil }
func (noopService) Enabled() bool                              { return false }
