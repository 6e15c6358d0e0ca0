package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"maichart/internal/config"
	"maichart/internal/jobs"
	"maichart/internal/logging"
	"maichart/internal/notifications"
	"maichart/internal/services"
	"maichart/internal/session"
)

// finisher holds the completion path shared by the whole-file and chunk stages.
type finisher struct {
	cfg       *config.Config
	store     *session.Store
	publisher jobs.Publisher
	notifier  notifications.Service
	logger    *slog.Logger
}

// SetNotifier routes session failures to n.
func (f *finisher) SetNotifier(n notifications.Service) {
	f.notifier = n
}

// complete stores the transcript, writes the text export, marks the session
// completed and queues automatic extraction. Re-running it for a session that
// already completed is harmless.
func (f *finisher) complete(ctx context.Context, sess *session.Session, tr session.Transcript) error {
	logger := logging.WithContext(ctx, f.logger)
	tr.SessionID = sess.ID
	if tr.Filename == "" {
		tr.Filename = sess.Filename
	}
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = time.Now().UTC()
	}
	if err := f.store.SaveTranscript(ctx, tr); err != nil {
		return services.Wrap(services.ErrTransient, "transcription", "save transcript", "persist transcript", err)
	}

	exportPath, err := writeExport(f.cfg.Paths.TranscriptDir, sess, tr)
	if err != nil {
		logging.WarnWithContext(logger, "transcript export failed", "transcript_export_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check transcript_dir permissions"),
			logging.String(logging.FieldImpact, "transcript download still served from the database"),
		)
	}

	extraction := session.ExtractionPending
	if !f.cfg.Extraction.Enabled {
		extraction = session.ExtractionSkipped
	}
	worker, _ := services.WorkerFromContext(ctx)
	_, err = f.store.UpdateStatus(ctx, sess.ID, session.StatusUpdate{
		Status:         session.StatusCompleted,
		Worker:         worker,
		AudioDuration:  tr.Duration,
		TranscriptPath: exportPath,
		Extraction:     extraction,
	})
	if errors.Is(err, session.ErrStatusRegression) {
		logger.Debug("session already settled, skipping completion")
		return nil
	}
	if err != nil {
		return services.Wrap(services.ErrTransient, "transcription", "complete", "mark session completed", err)
	}
	logger.Info("transcription completed",
		logging.String(logging.FieldEventType, "transcription_completed"),
		logging.Int("word_count", session.WordCount(tr.Text)),
		logging.Float64("confidence", tr.Confidence),
		logging.Float64("duration_seconds", tr.Duration),
	)

	if extraction != session.ExtractionPending {
		return nil
	}
	job := jobs.ExtractionJob{SessionID: sess.ID, Trigger: jobs.TriggerAuto}
	if _, _, err := f.publisher.Publish(ctx, jobs.StreamExtraction, jobs.AutoExtractionKey(sess.ID), job); err != nil {
		logging.WarnWithContext(logger, "queue extraction failed", "extraction_enqueue_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "trigger extraction manually once the queue is healthy"),
			logging.String(logging.FieldImpact, "medical data will not be extracted automatically"),
		)
		if _, terr := f.store.TransitionExtraction(ctx, sess.ID, session.ExtractionError, "failed to queue extraction", session.ExtractionPending); terr != nil {
			logger.Warn("record extraction enqueue failure", logging.Error(terr))
		}
	}
	return nil
}

// fail records cause on the session and returns a non-retryable error so the
// delivery is acknowledged.
func (f *finisher) fail(ctx context.Context, id, step string, cause error) error {
	message := services.Message(cause)
	if message == "" {
		message = "transcription failed"
	}
	worker, _ := services.WorkerFromContext(ctx)
	_, err := f.store.UpdateStatus(ctx, id, session.StatusUpdate{
		Status: session.StatusError,
		Step:   step,
		Error:  message,
		Worker: worker,
	})
	if err != nil && !errors.Is(err, session.ErrStatusRegression) && !errors.Is(err, session.ErrNotFound) {
		return services.Wrap(services.ErrTransient, "transcription", "record failure", "persist session error", err)
	}
	if err == nil {
		f.notifyFailure(ctx, id, message)
	}
	if services.IsRetryable(cause) {
		return services.Wrap(services.ErrExternalTool, "transcription", step, message, nil)
	}
	return cause
}

// deadLetter fails the session after its message used up every delivery.
func (f *finisher) deadLetter(ctx context.Context, id, reason string) error {
	if strings.TrimSpace(id) == "" {
		return nil
	}
	message := "exceeded delivery attempts: " + reason
	_, err := f.store.UpdateStatus(ctx, id, session.StatusUpdate{
		Status: session.StatusError,
		Error:  message,
	})
	if err != nil && !errors.Is(err, session.ErrStatusRegression) && !errors.Is(err, session.ErrNotFound) {
		return err
	}
	if err == nil {
		f.notifyFailure(ctx, id, message)
	}
	return nil
}

func (f *finisher) notifyFailure(ctx context.Context, id, message string) {
	if f.notifier == nil {
		return
	}
	payload := notifications.Payload{"sessionID": id, "error": message}
	if err := f.notifier.Publish(ctx, notifications.EventSessionFailed, payload); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, f.logger), "failure notification not sent", "notification_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
			logging.String(logging.FieldImpact, "no push message for the failed session"),
		)
	}
}

// step moves a session to processing with the given step label.
func (f *finisher) step(ctx context.Context, id, step string) error {
	worker, _ := services.WorkerFromContext(ctx)
	_, err := f.store.UpdateStatus(ctx, id, session.StatusUpdate{
		Status: session.StatusProcessing,
		Step:   step,
		Worker: worker,
	})
	if err != nil && !errors.Is(err, session.ErrStatusRegression) {
		return services.Wrap(services.ErrTransient, "transcription", "update step", step, err)
	}
	return err
}

// ExportPath returns where the text export for a session is written.
func ExportPath(dir, sessionID string) string {
	return filepath.Join(dir, sessionID+"_transcript.txt")
}

func writeExport(dir string, sess *session.Session, tr session.Transcript) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create transcript dir: %w", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Session: %s\n", sess.ID)
	fmt.Fprintf(&b, "Filename: %s\n", tr.Filename)
	fmt.Fprintf(&b, "Recording mode: %s\n", sess.RecordingMode)
	fmt.Fprintf(&b, "Confidence: %.2f\n", tr.Confidence)
	fmt.Fprintf(&b, "Duration: %.1fs\n", tr.Duration)
	if tr.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", tr.Language)
	}
	fmt.Fprintf(&b, "Created: %s\n", tr.CreatedAt.UTC().Format(time.RFC3339))
	b.WriteString(strings.Repeat("-", 40))
	b.WriteString("\n\n")
	b.WriteString(tr.Text)
	b.WriteString("\n")

	path := ExportPath(dir, sess.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write transcript export: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("finalize transcript export: %w", err)
	}
	return path, nil
}
