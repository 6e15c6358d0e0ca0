package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"maichart/internal/config"
	"maichart/internal/notifications"
	"maichart/internal/session"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventTest, nil); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:  "critical alert",
			event: notifications.EventMedicalAlert,
			payload: notifications.AlertPayload(session.MedicalAlert{
				SessionID:      "s-1",
				Priority:       session.PriorityCritical,
				Title:          "Severe symptom",
				Message:        "chest pain reported",
				ActionRequired: "Evaluate immediately",
			}),
			expectTitle:    "MaiChart - Critical Alert",
			expectMessage:  "Severe symptom: chest pain reported\nAction: Evaluate immediately\nSession: s-1",
			expectTags:     "maichart,medical,critical",
			expectPriority: "urgent",
		},
		{
			name:  "high alert",
			event: notifications.EventMedicalAlert,
			payload: notifications.AlertPayload(session.MedicalAlert{
				SessionID: "s-2",
				Priority:  session.PriorityHigh,
				Title:     "Allergy",
			}),
			expectTitle:    "MaiChart - High Alert",
			expectMessage:  "Allergy\nSession: s-2",
			expectTags:     "maichart,medical,high",
			expectPriority: "high",
		},
		{
			name:  "session failed",
			event: notifications.EventSessionFailed,
			payload: notifications.Payload{
				"sessionID": "abc",
				"filename":  "visit.wav",
				"error":     "transcription service unavailable",
			},
			expectTitle:    "MaiChart - Processing Failed",
			expectMessage:  "Session abc (visit.wav) failed: transcription service unavailable",
			expectTags:     "maichart,error",
			expectPriority: "high",
		},
		{
			name:           "test",
			event:          notifications.EventTest,
			expectTitle:    "MaiChart - Test",
			expectMessage:  "Notification system test",
			expectTags:     "maichart,test",
			expectPriority: "low",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Errorf("read body: %v", err)
				}
				captured.body = string(body)
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeoutSeconds = 5

			svc := notifications.NewService(&cfg)
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyServiceIgnoresUnknownEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected call for unknown event: %s", r.URL.String())
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL

	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.Event("extraction_started"), notifications.Payload{"value": "ignored"}); err != nil {
		t.Fatalf("expected no error for unknown event, got %v", err)
	}
}

func TestNtfyServiceReportsHTTPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic disabled", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL

	err := notifications.NewService(&cfg).Publish(context.Background(), notifications.EventTest, nil)
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 error, got %v", err)
	}
}

func TestAlertThreshold(t *testing.T) {
	cfg := config.Default()
	if !notifications.AlertThreshold(&cfg, session.PriorityCritical) || !notifications.AlertThreshold(&cfg, session.PriorityHigh) {
		t.Fatal("critical and high should pass the default threshold")
	}
	if notifications.AlertThreshold(&cfg, session.PriorityMedium) {
		t.Fatal("medium should not pass the default threshold")
	}
	cfg.Notifications.MinAlertPriority = "critical"
	if notifications.AlertThreshold(&cfg, session.PriorityHigh) {
		t.Fatal("high should not pass a critical threshold")
	}
}
