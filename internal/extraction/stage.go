package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"maichart/internal/config"
	"maichart/internal/jobs"
	"maichart/internal/logging"
	"maichart/internal/notifications"
	"maichart/internal/queue"
	"maichart/internal/services"
	"maichart/internal/session"
	"maichart/internal/stage"
)

// Stage is the worker for the medical_extraction_queue stream.
type Stage struct {
	cfg       *config.Config
	store     *session.Store
	extractor Extractor
	notifier  notifications.Service
	logger    *slog.Logger
}

// NewStage builds the extraction handler.
func NewStage(cfg *config.Config, store *session.Store, extractor Extractor, logger *slog.Logger) *Stage {
	return &Stage{
		cfg:       cfg,
		store:     store,
		extractor: extractor,
		logger:    logging.NewComponentLogger(logger, "medical-extraction"),
	}
}

// SetNotifier pushes alerts at or above the configured priority to n.
func (s *Stage) SetNotifier(n notifications.Service) {
	s.notifier = n
}

// Handle extracts medical data for one completed session.
func (s *Stage) Handle(ctx context.Context, delivery *queue.Delivery) error {
	var job jobs.ExtractionJob
	if err := delivery.Decode(&job); err != nil {
		return services.Wrap(services.ErrValidation, "extraction", "decode job", "malformed extraction job", err)
	}
	if strings.TrimSpace(job.SessionID) == "" {
		return services.Wrap(services.ErrValidation, "extraction", "decode job", "extraction job missing session_id", nil)
	}
	ctx = services.WithSessionID(ctx, job.SessionID)
	logger := logging.WithContext(ctx, s.logger).With(logging.String("trigger", job.Trigger))

	sess, err := s.store.Get(ctx, job.SessionID)
	if errors.Is(err, session.ErrNotFound) {
		logger.Info("session no longer exists, dropping job", logging.String(logging.FieldEventType, "session_missing"))
		return nil
	}
	if err != nil {
		return services.Wrap(services.ErrTransient, "extraction", "load session", "read session", err)
	}
	if sess.Status != session.StatusCompleted {
		logger.Info("session not completed, skipping extraction",
			logging.String(logging.FieldEventType, "extraction_not_ready"),
			logging.String("status", string(sess.Status)),
		)
		return nil
	}

	transcript, err := s.store.GetTranscript(ctx, sess.ID)
	if errors.Is(err, session.ErrTranscriptNotFound) || (err == nil && strings.TrimSpace(transcript.Text) == "") {
		return s.skip(ctx, logger, sess.ID, "no transcript text")
	}
	if err != nil {
		return services.Wrap(services.ErrTransient, "extraction", "load transcript", "read transcript", err)
	}
	if !s.cfg.Extraction.Enabled {
		return s.skip(ctx, logger, sess.ID, "extraction disabled")
	}
	if c, ok := s.extractor.(interface{ Configured() bool }); ok && !c.Configured() {
		return s.skip(ctx, logger, sess.ID, "extraction api key not configured")
	}

	from := []session.ExtractionStatus{
		session.ExtractionNone, session.ExtractionPending, session.ExtractionError,
		session.ExtractionCompleted, session.ExtractionSkipped,
	}
	if delivery.Redelivered() {
		from = append(from, session.ExtractionProcessing)
	}
	claimed, err := s.store.TransitionExtraction(ctx, sess.ID, session.ExtractionProcessing, "", from...)
	if err != nil {
		return services.Wrap(services.ErrTransient, "extraction", "claim", "mark extraction processing", err)
	}
	if !claimed {
		logger.Info("extraction already in progress, skipping", logging.String(logging.FieldEventType, "extraction_in_progress"))
		return nil
	}

	logger.Info("extracting medical data",
		logging.String(logging.FieldEventType, "extraction_start"),
		logging.Int("transcript_length", len(transcript.Text)),
	)
	data, err := s.extractor.Extract(ctx, transcript.Text)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return s.fail(ctx, sess.ID, err)
	}
	data.SessionID = sess.ID
	if err := s.store.SaveMedicalData(ctx, data); err != nil {
		return s.fail(ctx, sess.ID, services.Wrap(services.ErrTransient, "extraction", "save", "persist medical data", err))
	}
	alerts := DeriveAlerts(data)
	if err := s.store.ReplaceAlerts(ctx, sess.ID, alerts); err != nil {
		return s.fail(ctx, sess.ID, services.Wrap(services.ErrTransient, "extraction", "save", "persist medical alerts", err))
	}
	if _, err := s.store.TransitionExtraction(ctx, sess.ID, session.ExtractionCompleted, "", session.ExtractionProcessing); err != nil {
		return services.Wrap(services.ErrTransient, "extraction", "complete", "mark extraction completed", err)
	}
	logger.Info("medical extraction completed",
		logging.String(logging.FieldEventType, "extraction_completed"),
		logging.Int("alert_count", len(alerts)),
		logging.Float64("processing_time_seconds", data.ExtractionMetadata.ProcessingTimeSeconds),
	)
	s.notifyAlerts(ctx, logger, sess.ID, alerts)
	return nil
}

// notifyAlerts is best effort; a failed push never fails the job.
func (s *Stage) notifyAlerts(ctx context.Context, logger *slog.Logger, id string, alerts []session.MedicalAlert) {
	if s.notifier == nil {
		return
	}
	for _, alert := range alerts {
		if !notifications.AlertThreshold(s.cfg, alert.Priority) {
			continue
		}
		alert.SessionID = id
		if err := s.notifier.Publish(ctx, notifications.EventMedicalAlert, notifications.AlertPayload(alert)); err != nil {
			logging.WarnWithContext(logger, "alert notification not sent", "notification_failed",
				logging.Error(err),
				logging.String("alert_title", alert.Title),
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
				logging.String(logging.FieldImpact, "alert is stored but was not pushed"),
			)
			return
		}
	}
}

// DeadLetter records the extraction failure once the job ran out of deliveries.
func (s *Stage) DeadLetter(ctx context.Context, delivery *queue.Delivery, reason string) error {
	var job jobs.ExtractionJob
	if err := delivery.Decode(&job); err != nil || job.SessionID == "" {
		return nil
	}
	_, err := s.store.TransitionExtraction(ctx, job.SessionID, session.ExtractionError, "exceeded delivery attempts: "+reason)
	return err
}

// HealthCheck reports whether the stage can run.
func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	const name = "medical-extraction"
	if s.store == nil || s.extractor == nil {
		return stage.Unhealthy(name, "stage not configured")
	}
	if !s.cfg.Extraction.Enabled {
		return stage.Healthy(name)
	}
	if c, ok := s.extractor.(interface{ Configured() bool }); ok && !c.Configured() {
		return stage.Unhealthy(name, "extraction api key not configured")
	}
	if err := s.store.Ping(ctx); err != nil {
		return stage.Unhealthy(name, fmt.Sprintf("session store: %v", err))
	}
	return stage.Healthy(name)
}

func (s *Stage) skip(ctx context.Context, logger *slog.Logger, id, reason string) error {
	if _, err := s.store.TransitionExtraction(ctx, id, session.ExtractionSkipped, reason); err != nil {
		return services.Wrap(services.ErrTransient, "extraction", "skip", "mark extraction skipped", err)
	}
	logger.Info("medical extraction skipped",
		logging.String(logging.FieldEventType, "extraction_skipped"),
		logging.String("reason", reason),
	)
	return nil
}

// fail records the error on the session's extraction status and returns
// cause so retryable failures are redelivered.
func (s *Stage) fail(ctx context.Context, id string, cause error) error {
	message := services.Message(cause)
	if _, err := s.store.TransitionExtraction(ctx, id, session.ExtractionError, message, session.ExtractionProcessing); err != nil {
		return services.Wrap(services.ErrTransient, "extraction", "record failure", "persist extraction error", err)
	}
	return cause
}
