package ingest_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"maichart/internal/ingest"
	"maichart/internal/jobs"
	"maichart/internal/logging"
	"maichart/internal/services"
	"maichart/internal/testsupport"
	"maichart/internal/upload"
)

type recordingUploader struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (r *recordingUploader) UploadAudio(_ context.Context, file upload.File) (*upload.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.names = append(r.names, file.Filename)
	return &upload.Result{ID: "id-" + file.Filename, FileSize: file.Size}, nil
}

func (r *recordingUploader) uploaded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func TestIngestFileUploadsThroughCoordinator(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Ingest.WatchDir = filepath.Join(testsupport.BaseDir(cfg), "inbox")
	sessions := testsupport.MustOpenSessions(t, cfg)
	q := testsupport.MustOpenQueue(t, cfg)
	coord := upload.NewCoordinator(cfg, sessions, q, logging.NewNop())
	w := ingest.New(cfg, coord, logging.NewNop())

	path := testsupport.WriteAudio(t, cfg.Ingest.WatchDir, "visit.wav", 4096)
	if err := w.IngestFile(context.Background(), path); err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected dropped file to be removed, stat err=%v", err)
	}
	list, err := sessions.List(context.Background(), 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Filename != "visit.wav" {
		t.Fatalf("expected one visit.wav session, got %+v", list)
	}
	n, err := q.Pending(context.Background(), jobs.StreamAudio, jobs.GroupAudio)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 queued job, got %d", n)
	}
}

func TestIngestFileMovesRejectedFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Ingest.WatchDir = t.TempDir()
	uploader := &recordingUploader{err: services.Wrap(services.ErrValidation, "", "", "Empty file", nil)}
	w := ingest.New(cfg, uploader, logging.NewNop())

	path := testsupport.WriteAudio(t, cfg.Ingest.WatchDir, "empty.wav", 16)
	if err := w.IngestFile(context.Background(), path); err == nil {
		t.Fatal("expected rejection error")
	}
	if _, err := os.Stat(filepath.Join(cfg.Ingest.WatchDir, ingest.RejectedDir, "empty.wav")); err != nil {
		t.Fatalf("expected file in rejected dir: %v", err)
	}
}

func TestIngestFileKeepsFileOnTransientError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Ingest.WatchDir = t.TempDir()
	uploader := &recordingUploader{err: services.Wrap(services.ErrTransient, "", "", "queue down", nil)}
	w := ingest.New(cfg, uploader, logging.NewNop())

	path := testsupport.WriteAudio(t, cfg.Ingest.WatchDir, "visit.mp3", 16)
	err := w.IngestFile(context.Background(), path)
	if !services.IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file left in place: %v", err)
	}
}

func TestRunPicksUpExistingAndDroppedFiles(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Ingest.WatchDir = t.TempDir()
	uploader := &recordingUploader{}
	w := ingest.New(cfg, uploader, logging.NewNop(), ingest.WithSettle(50*time.Millisecond))

	testsupport.WriteAudio(t, cfg.Ingest.WatchDir, "before.wav", 64)
	if err := os.WriteFile(filepath.Join(cfg.Ingest.WatchDir, "readme.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	waitFor(t, func() bool { return len(uploader.uploaded()) == 1 })
	testsupport.WriteAudio(t, cfg.Ingest.WatchDir, "after.m4a", 64)
	waitFor(t, func() bool { return len(uploader.uploaded()) == 2 })

	got := uploader.uploaded()
	if got[0] != "before.wav" || got[1] != "after.m4a" {
		t.Fatalf("unexpected uploads: %v", got)
	}
	if _, err := os.Stat(filepath.Join(cfg.Ingest.WatchDir, "readme.txt")); err != nil {
		t.Fatalf("non-audio file should be ignored: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
