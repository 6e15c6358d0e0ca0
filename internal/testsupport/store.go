package testsupport

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"maichart/internal/config"
	"maichart/internal/queue"
	"maichart/internal/session"
)

// MustOpenSessions opens a session.Store for tests and registers cleanup.
func MustOpenSessions(t testing.TB, cfg *config.Config) *session.Store {
	t.Helper()

	store, err := session.Open(cfg)
	if err != nil {
		t.Fatalf("session.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenQueue opens a queue.Store for tests and registers cleanup.
func MustOpenQueue(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewSession creates a queued upload session with a random ID.
func NewSession(t testing.TB, store *session.Store, filename string) *session.Session {
	t.Helper()

	sess := &session.Session{
		ID:            uuid.NewString(),
		Filename:      filename,
		FileSize:      1024,
		RecordingMode: session.ModeUpload,
	}
	if err := store.Create(context.Background(), sess); err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return sess
}

// CompleteSession drives sess to completed with the given transcript text.
func CompleteSession(t testing.TB, store *session.Store, id, text string) {
	t.Helper()

	ctx := context.Background()
	if err := store.SaveTranscript(ctx, session.Transcript{SessionID: id, Text: text, Confidence: 0.9, Duration: 12}); err != nil {
		t.Fatalf("store.SaveTranscript: %v", err)
	}
	if _, err := store.UpdateStatus(ctx, id, session.StatusUpdate{Status: session.StatusCompleted, AudioDuration: 12}); err != nil {
		t.Fatalf("store.UpdateStatus: %v", err)
	}
}
