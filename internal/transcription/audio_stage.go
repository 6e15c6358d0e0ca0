package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"maichart/internal/config"
	"maichart/internal/jobs"
	"maichart/internal/logging"
	"maichart/internal/queue"
	"maichart/internal/services"
	"maichart/internal/session"
	"maichart/internal/stage"
)

// AudioStage transcribes whole uploaded files.
type AudioStage struct {
	finisher
	transcriber Transcriber
}

// NewAudioStage builds the handler for the audio_input stream.
func NewAudioStage(cfg *config.Config, store *session.Store, publisher jobs.Publisher, transcriber Transcriber, logger *slog.Logger) *AudioStage {
	return &AudioStage{
		finisher: finisher{
			cfg:       cfg,
			store:     store,
			publisher: publisher,
			logger:    logging.NewComponentLogger(logger, "transcription"),
		},
		transcriber: transcriber,
	}
}

// Handle processes one upload job.
func (s *AudioStage) Handle(ctx context.Context, delivery *queue.Delivery) error {
	var job jobs.AudioJob
	if err := delivery.Decode(&job); err != nil {
		return services.Wrap(services.ErrValidation, "transcription", "decode job", "malformed audio job", err)
	}
	if strings.TrimSpace(job.SessionID) == "" {
		return services.Wrap(services.ErrValidation, "transcription", "decode job", "audio job missing session_id", nil)
	}
	ctx = services.WithSessionID(ctx, job.SessionID)
	logger := logging.WithContext(ctx, s.logger)

	sess, err := s.store.Get(ctx, job.SessionID)
	if errors.Is(err, session.ErrNotFound) {
		logger.Info("session no longer exists, dropping job", logging.String(logging.FieldEventType, "session_missing"))
		return nil
	}
	if err != nil {
		return services.Wrap(services.ErrTransient, "transcription", "load session", "read session", err)
	}
	if sess.Status.IsTerminal() {
		logger.Info("session already settled, skipping",
			logging.String(logging.FieldEventType, "duplicate_delivery"),
			logging.String("status", string(sess.Status)),
		)
		return nil
	}

	if err := s.step(ctx, sess.ID, session.StepAnalyzingAudio); err != nil {
		return skipIfSettled(err)
	}
	path := job.FilePath
	if path == "" {
		path = sess.AudioPath
	}
	info, err := os.Stat(path)
	switch {
	case err != nil:
		return s.fail(ctx, sess.ID, session.StepAnalyzingAudio,
			services.Wrap(services.ErrValidation, "transcription", "analyze audio", "audio file not found", err))
	case info.Size() == 0:
		return s.fail(ctx, sess.ID, session.StepAnalyzingAudio,
			services.Wrap(services.ErrValidation, "transcription", "analyze audio", "audio file is empty", nil))
	}

	if err := s.step(ctx, sess.ID, session.StepProcessingAudio); err != nil {
		return skipIfSettled(err)
	}
	logger.Info("transcribing audio",
		logging.String(logging.FieldEventType, "transcription_start"),
		logging.String("filename", sess.Filename),
		logging.Int64("file_size", info.Size()),
	)
	result, err := s.transcriber.Transcribe(ctx, path)
	if err != nil {
		if services.IsRetryable(err) || errors.Is(err, context.Canceled) {
			return err
		}
		return s.fail(ctx, sess.ID, session.StepProcessingAudio, err)
	}

	if err := s.step(ctx, sess.ID, session.StepSavingTranscript); err != nil {
		return skipIfSettled(err)
	}
	return s.complete(ctx, sess, session.Transcript{
		Text:       result.Text,
		Confidence: result.Confidence,
		Duration:   result.Duration,
		Language:   result.Language,
		Filename:   sess.Filename,
	})
}

// DeadLetter fails the session once the message exhausted its deliveries.
func (s *AudioStage) DeadLetter(ctx context.Context, delivery *queue.Delivery, reason string) error {
	var job jobs.AudioJob
	if err := delivery.Decode(&job); err != nil {
		return nil
	}
	return s.deadLetter(ctx, job.SessionID, reason)
}

// HealthCheck reports whether the stage can reach its dependencies.
func (s *AudioStage) HealthCheck(ctx context.Context) stage.Health {
	return healthOf(ctx, "transcription", s.store, s.transcriber)
}

func skipIfSettled(err error) error {
	if errors.Is(err, session.ErrStatusRegression) {
		return nil
	}
	return err
}

type configured interface {
	Configured() bool
}

func healthOf(ctx context.Context, name string, store *session.Store, transcriber Transcriber) stage.Health {
	if store == nil {
		return stage.Unhealthy(name, "session store unavailable")
	}
	if transcriber == nil {
		return stage.Unhealthy(name, "transcriber unavailable")
	}
	if c, ok := transcriber.(configured); ok && !c.Configured() {
		return stage.Unhealthy(name, "transcription api key not configured")
	}
	if err := store.Ping(ctx); err != nil {
		return stage.Unhealthy(name, fmt.Sprintf("session store: %v", err))
	}
	return stage.Healthy(name)
}
