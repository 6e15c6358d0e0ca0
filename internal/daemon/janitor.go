package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"maichart/internal/config"
	"maichart/internal/logging"
	"maichart/internal/queue"
	"maichart/internal/session"
	"maichart/internal/upload"
)

// SweepReport summarizes one cleanup pass.
type SweepReport struct {
	StalledStreams  []string
	ExpiredSessions []string
	TrimmedMessages int64
}

// Janitor fails stalled streaming sessions, expires old sessions with their
// files and trims acknowledged queue messages on the configured cron schedule.
type Janitor struct {
	cfg      *config.Config
	sessions *session.Store
	queue    *queue.Store
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// NewJanitor constructs a janitor. Nothing is scheduled until Start.
func NewJanitor(cfg *config.Config, sessions *session.Store, q *queue.Store, logger *slog.Logger) *Janitor {
	return &Janitor{
		cfg:      cfg,
		sessions: sessions,
		queue:    q,
		logger:   logging.NewComponentLogger(logger, "janitor"),
		now:      time.Now,
	}
}

// Start schedules RunOnce. An empty schedule disables the janitor.
func (j *Janitor) Start(ctx context.Context) error {
	schedule := j.cfg.Sessions.CleanupSchedule
	if schedule == "" {
		j.logger.Info("cleanup schedule empty; janitor disabled")
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if _, err := j.RunOnce(ctx); err != nil {
			logging.WarnWithContext(j.logger, "cleanup sweep failed", "janitor_sweep_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "expired sessions stay on disk until the next sweep"),
			)
		}
	}); err != nil {
		return fmt.Errorf("schedule cleanup %q: %w", schedule, err)
	}
	j.mu.Lock()
	j.cron = c
	j.mu.Unlock()
	c.Start()
	j.logger.Info("janitor scheduled", logging.String("schedule", schedule))
	return nil
}

// Stop halts scheduling and waits for a running sweep.
func (j *Janitor) Stop() {
	j.mu.Lock()
	c := j.cron
	j.cron = nil
	j.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// RunOnce performs a single sweep.
func (j *Janitor) RunOnce(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	now := j.now()

	if idle := j.cfg.StreamIdleTimeout(); idle > 0 {
		failed, err := j.failStalledStreams(ctx, now.Add(-idle))
		report.StalledStreams = failed
		if err != nil {
			return report, fmt.Errorf("fail stalled streams: %w", err)
		}
	}

	if expiry := j.cfg.SessionExpiry(); expiry > 0 {
		ids, err := j.sessions.ExpireBefore(ctx, now.Add(-expiry))
		report.ExpiredSessions = ids
		for _, id := range ids {
			if rmErr := upload.RemoveArtifacts(j.cfg, id); rmErr != nil {
				logging.WarnWithContext(j.logger, "remove expired session files failed", "janitor_cleanup_failed",
					logging.String(logging.FieldSessionID, id),
					logging.Error(rmErr),
					logging.String(logging.FieldImpact, "orphaned files remain in the upload directory"),
				)
			}
		}
		if err != nil {
			return report, fmt.Errorf("expire sessions: %w", err)
		}
	}

	retention := time.Duration(j.cfg.Queue.RetentionHours) * time.Hour
	if retention > 0 {
		trimmed, err := j.queue.Trim(ctx, now.Add(-retention))
		if err != nil {
			return report, fmt.Errorf("trim queue: %w", err)
		}
		report.TrimmedMessages = trimmed
	}

	if len(report.StalledStreams) > 0 || len(report.ExpiredSessions) > 0 || report.TrimmedMessages > 0 {
		j.logger.Info("cleanup sweep finished",
			logging.Int("stalled_streams", len(report.StalledStreams)),
			logging.Int("expired_sessions", len(report.ExpiredSessions)),
			logging.Int64("trimmed_messages", report.TrimmedMessages),
		)
	}
	return report, nil
}

// failStalledStreams moves streaming sessions that stopped making progress to
// error. The write goes through the guarded status update, so a session a
// worker finalizes concurrently keeps its completed status.
func (j *Janitor) failStalledStreams(ctx context.Context, cutoff time.Time) ([]string, error) {
	stalled, err := j.sessions.StalledStreams(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	var failed []string
	for _, sess := range stalled {
		chunks, err := j.sessions.ListChunks(ctx, sess.ID)
		if err != nil {
			return failed, err
		}
		reason := stallReason(sess, chunks)
		_, err = j.sessions.UpdateStatus(ctx, sess.ID, session.StatusUpdate{
			Status: session.StatusError,
			Error:  reason,
		})
		switch {
		case errors.Is(err, session.ErrStatusRegression), errors.Is(err, session.ErrNotFound):
			continue
		case err != nil:
			return failed, err
		}
		failed = append(failed, sess.ID)
		logging.WarnWithContext(j.logger, "streaming session stalled", "stream_stalled",
			logging.String(logging.FieldSessionID, sess.ID),
			logging.String("reason", reason),
			logging.String(logging.FieldImpact, "session marked as failed; the client must upload again"),
		)
	}
	return failed, nil
}

// stallReason names the chunks a stalled session is still waiting for.
func stallReason(sess *session.Session, chunks []session.ChunkTranscript) string {
	if sess.LastChunkSequence == nil {
		return fmt.Sprintf("streaming session incomplete: final chunk never received (%d chunks transcribed)", len(chunks))
	}
	last := *sess.LastChunkSequence
	have := make(map[int]bool, len(chunks))
	for _, chunk := range chunks {
		have[chunk.Sequence] = true
	}
	var missing []string
	for seq := 0; seq <= last; seq++ {
		if !have[seq] {
			missing = append(missing, strconv.Itoa(seq))
		}
	}
	if len(missing) == 0 {
		return fmt.Sprintf("streaming session incomplete: all %d chunks transcribed but never finalized", last+1)
	}
	return fmt.Sprintf("streaming session incomplete: missing chunks %s of 0..%d", strings.Join(missing, ", "), last)
}
