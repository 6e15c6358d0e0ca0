package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"maichart/internal/config"
	"maichart/internal/ingest"
	"maichart/internal/logging"
	"maichart/internal/queue"
	"maichart/internal/session"
	"maichart/internal/workflow"
)

// Components are the optional parts a daemon runs. Nil parts are skipped.
type Components struct {
	Handler  http.Handler
	Workflow *workflow.Manager
	Janitor  *Janitor
	Ingest   *ingest.Watcher
}

// Daemon coordinates the background services and enforces single-instance
// execution per data directory.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	sessions *session.Store
	queue    *queue.Store
	parts    Components
	api      *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool
	Address       string
	Workflow      *workflow.StatusSummary
	SessionDBPath string
	QueueDBPath   string
	LockFilePath  string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, sessions *session.Store, q *queue.Store, logger *slog.Logger, parts Components) (*Daemon, error) {
	if cfg == nil || sessions == nil || q == nil {
		return nil, errors.New("daemon requires config, session store, and queue store")
	}
	logger = logging.NewComponentLogger(logger, "daemon")
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logger,
		sessions: sessions,
		queue:    q,
		parts:    parts,
		api:      newAPIServer(cfg, parts.Handler, logger),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the lock and launches every configured component.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another maichart server is already running for this data directory")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.startComponents(runCtx); err != nil {
		cancel()
		d.stopComponents()
		_ = d.lock.Unlock()
		return err
	}
	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("maichart daemon started",
		logging.String("lock", d.lockPath),
		logging.String("address", d.api.addr()),
		logging.Bool("workers", d.parts.Workflow != nil),
		logging.Bool("ingest", d.parts.Ingest != nil),
	)
	return nil
}

func (d *Daemon) startComponents(ctx context.Context) error {
	if d.parts.Workflow != nil {
		if err := d.parts.Workflow.Start(ctx); err != nil {
			return fmt.Errorf("start workflow: %w", err)
		}
	}
	if d.parts.Janitor != nil {
		if err := d.parts.Janitor.Start(ctx); err != nil {
			return fmt.Errorf("start janitor: %w", err)
		}
	}
	if err := d.api.start(ctx); err != nil {
		return err
	}
	if w := d.parts.Ingest; w != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := w.Run(ctx); err != nil {
				logging.ErrorWithContext(d.logger, "ingest watcher stopped", "ingest_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check ingest.watch_dir permissions"),
				)
			}
		}()
	}
	return nil
}

func (d *Daemon) stopComponents() {
	d.api.stop()
	if d.parts.Janitor != nil {
		d.parts.Janitor.Stop()
	}
	if d.parts.Workflow != nil {
		d.parts.Workflow.Stop()
	}
	d.wg.Wait()
}

// Stop halts background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.stopComponents()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "next start may report the daemon as already running"),
		)
	}
	d.running.Store(false)
	d.logger.Info("maichart daemon stopped")
}

// Errors reports fatal API server failures after Start.
func (d *Daemon) Errors() <-chan error {
	if d.api == nil {
		return nil
	}
	return d.api.errs
}

// Close stops the daemon. Stores are owned by the caller.
func (d *Daemon) Close() error {
	d.Stop()
	return nil
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:       d.running.Load(),
		Address:       d.api.addr(),
		SessionDBPath: d.sessions.Path(),
		QueueDBPath:   d.queue.Path(),
		LockFilePath:  d.lockPath,
	}
	if d.parts.Workflow != nil {
		summary := d.parts.Workflow.Status(ctx)
		status.Workflow = &summary
	}
	return status
}
