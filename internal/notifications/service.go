package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"maichart/internal/config"
	"maichart/internal/session"
)

const userAgent = "MaiChart/1.0"

// Event names a notification type.
type Event string

const (
	// EventMedicalAlert carries one derived medical alert.
	EventMedicalAlert Event = "medical_alert"
	// EventSessionFailed reports a session that ended in error.
	EventSessionFailed Event = "session_failed"
	// EventTest is sent by `maichart test-notify`.
	EventTest Event = "test"
)

// Payload holds event fields keyed by name.
type Payload map[string]any

// Service defines the notification surface exposed to workers.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

// AlertThreshold reports whether an alert of priority p should be pushed
// given the configured minimum.
func AlertThreshold(cfg *config.Config, p session.Priority) bool {
	minimum := session.PriorityHigh
	if cfg != nil && cfg.Notifications.MinAlertPriority != "" {
		minimum = session.Priority(cfg.Notifications.MinAlertPriority)
	}
	return p.Rank() <= minimum.Rank()
}

// AlertPayload flattens a medical alert for Publish.
func AlertPayload(alert session.MedicalAlert) Payload {
	return Payload{
		"sessionID": alert.SessionID,
		"priority":  string(alert.Priority),
		"title":     alert.Title,
		"message":   alert.Message,
		"action":    alert.ActionRequired,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) Publish(ctx context.Context, event Event, data Payload) error {
	msg, ok := format(event, data)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, data Payload) (payload, bool) {
	switch event {
	case EventMedicalAlert:
		priority := strings.ToLower(data.str("priority"))
		var body strings.Builder
		body.WriteString(data.str("title"))
		if msg := data.str("message"); msg != "" {
			body.WriteString(": ")
			body.WriteString(msg)
		}
		if action := data.str("action"); action != "" {
			body.WriteString("\nAction: ")
			body.WriteString(action)
		}
		if id := data.str("sessionID"); id != "" {
			body.WriteString("\nSession: ")
			body.WriteString(id)
		}
		label := "Medical Alert"
		if priority != "" {
			label = strings.ToUpper(priority[:1]) + priority[1:] + " Alert"
		}
		return payload{
			title:    "MaiChart - " + label,
			message:  body.String(),
			tags:     []string{"maichart", "medical", nonEmpty(priority, "alert")},
			priority: ntfyPriority(session.Priority(priority)),
		}, true
	case EventSessionFailed:
		subject := data.str("sessionID")
		if name := data.str("filename"); name != "" {
			subject = fmt.Sprintf("%s (%s)", subject, name)
		}
		return payload{
			title:    "MaiChart - Processing Failed",
			message:  fmt.Sprintf("Session %s failed: %s", subject, nonEmpty(data.str("error"), "unknown error")),
			tags:     []string{"maichart", "error"},
			priority: "high",
		}, true
	case EventTest:
		return payload{
			title:    "MaiChart - Test",
			message:  "Notification system test",
			tags:     []string{"maichart", "test"},
			priority: "low",
		}, true
	default:
		return payload{}, false
	}
}

func ntfyPriority(p session.Priority) string {
	switch p {
	case session.PriorityCritical:
		return "urgent"
	case session.PriorityHigh:
		return "high"
	default:
		return ""
	}
}

func (p Payload) str(key string) string {
	if p == nil {
		return ""
	}
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func nonEmpty(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
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

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
