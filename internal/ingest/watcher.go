// Package ingest feeds recordings dropped into a watch folder through the same
// upload path as POST /upload_audio.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"maichart/internal/config"
	"maichart/internal/logging"
	"maichart/internal/services"
	"maichart/internal/upload"
)

// RejectedDir is the subdirectory of the watch folder that holds files the
// upload path refused.
const RejectedDir = "rejected"

const minTick = 100 * time.Millisecond

// Uploader accepts a recording.
type Uploader interface {
	UploadAudio(ctx context.Context, file upload.File) (*upload.Result, error)
}

// Option customizes a Watcher.
type Option func(*Watcher)

// WithSettle overrides how long a file must stay quiet before ingest.
func WithSettle(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.settle = d
		}
	}
}

// Watcher monitors a directory and uploads recordings once writes settle.
type Watcher struct {
	dir      string
	settle   time.Duration
	allowed  []string
	uploader Uploader
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	pending map[string]time.Time
}

// New constructs a watcher for cfg.Ingest.WatchDir.
func New(cfg *config.Config, uploader Uploader, logger *slog.Logger, opts ...Option) *Watcher {
	w := &Watcher{
		dir:      cfg.Ingest.WatchDir,
		settle:   cfg.IngestSettle(),
		allowed:  cfg.Upload.AllowedExtensions,
		uploader: uploader,
		logger:   logging.NewComponentLogger(logger, "ingest"),
		now:      time.Now,
		pending:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.settle <= 0 {
		w.settle = time.Second
	}
	return w
}

// Run watches until ctx is cancelled. Files already present are queued first.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create watch dir: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()
	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	if err := w.backfill(); err != nil {
		return err
	}
	w.logger.Info("watching for recordings", logging.String("dir", w.dir), logging.Duration("settle", w.settle))

	tick := max(w.settle/2, minTick)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if evt.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				w.touch(evt.Name)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logging.WarnWithContext(w.logger, "watcher error", "ingest_watch_error",
				logging.Error(err),
				logging.String(logging.FieldImpact, "dropped files may be picked up late"),
			)
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

func (w *Watcher) backfill() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("read watch dir: %w", err)
	}
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			w.touch(filepath.Join(w.dir, entry.Name()))
		}
	}
	return nil
}

// touch records activity on path; ingest waits until it has been quiet for
// the settle window.
func (w *Watcher) touch(path string) {
	if !w.accepts(path) {
		return
	}
	w.mu.Lock()
	w.pending[path] = w.now()
	w.mu.Unlock()
}

func (w *Watcher) flush(ctx context.Context) {
	now := w.now()
	w.mu.Lock()
	var ready []string
	for path, seen := range w.pending {
		if now.Sub(seen) >= w.settle {
			ready = append(ready, path)
		}
	}
	w.mu.Unlock()
	slices.Sort(ready)

	for _, path := range ready {
		err := w.IngestFile(ctx, path)
		w.mu.Lock()
		if err != nil && services.IsRetryable(err) {
			w.pending[path] = w.now()
		} else {
			delete(w.pending, path)
		}
		w.mu.Unlock()
	}
}

// IngestFile uploads one recording. Accepted files are removed from the watch
// folder; rejected ones move to RejectedDir. A retryable error leaves the file
// in place.
func (w *Watcher) IngestFile(ctx context.Context, path string) error {
	logger := w.logger.With(logging.String("path", path))
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		f.Close()
		return err
	}

	res, err := w.uploader.UploadAudio(ctx, upload.File{
		Filename: filepath.Base(path),
		Size:     info.Size(),
		Body:     f,
	})
	f.Close()
	if err != nil {
		if services.IsRetryable(err) {
			logging.WarnWithContext(logger, "ingest deferred", "ingest_retry",
				logging.Error(err),
				logging.String(logging.FieldImpact, "file stays in the watch folder for another attempt"),
			)
			return err
		}
		logging.WarnWithContext(logger, "ingest rejected", "ingest_rejected",
			logging.Error(err),
			logging.String(logging.FieldErrorKind, string(services.Kind(err))),
			logging.String(logging.FieldErrorHint, "fix the file and drop it into the watch folder again"),
			logging.String(logging.FieldImpact, "file moved to "+RejectedDir),
		)
		if moveErr := w.reject(path); moveErr != nil {
			return errors.Join(err, moveErr)
		}
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.WarnWithContext(logger, "remove ingested file failed", "ingest_cleanup_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "file may be uploaded again after restart"),
		)
	}
	logger.Info("recording ingested",
		logging.String(logging.FieldSessionID, res.ID),
		logging.Int64("size", res.FileSize),
	)
	return nil
}

func (w *Watcher) reject(path string) error {
	dir := filepath.Join(w.dir, RejectedDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create rejected dir: %w", err)
	}
	if err := os.Rename(path, filepath.Join(dir, filepath.Base(path))); err != nil {
		return fmt.Errorf("move rejected file: %w", err)
	}
	return nil
}

// accepts ignores hidden files and extensions the upload path would refuse.
func (w *Watcher) accepts(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(base)), ".")
	return ext != "" && slices.Contains(w.allowed, ext)
}
