package extraction

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"maichart/internal/config"
	"maichart/internal/jobs"
	"maichart/internal/logging"
	"maichart/internal/services"
	"maichart/internal/session"
)

// Service queues extraction requests on behalf of API callers.
type Service struct {
	cfg       *config.Config
	store     *session.Store
	publisher jobs.Publisher
	logger    *slog.Logger
}

// NewService builds the manual trigger service.
func NewService(cfg *config.Config, store *session.Store, publisher jobs.Publisher, logger *slog.Logger) *Service {
	return &Service{
		cfg:       cfg,
		store:     store,
		publisher: publisher,
		logger:    logging.NewComponentLogger(logger, "extraction-trigger"),
	}
}

// TriggerResult describes a queued manual extraction.
type TriggerResult struct {
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// Trigger queues a manual extraction for a completed session with a
// transcript. A session whose extraction is already running is rejected with
// a conflict.
func (s *Service) Trigger(ctx context.Context, id string) (TriggerResult, error) {
	if !s.cfg.Extraction.Enabled {
		return TriggerResult{}, services.Wrap(services.ErrConfiguration, "extraction", "trigger", "Medical extraction is disabled", nil)
	}
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return TriggerResult{}, err
	}
	if sess.Status != session.StatusCompleted {
		return TriggerResult{}, services.Wrap(services.ErrConflict, "", "", "Session not completed", nil)
	}
	if _, err := s.store.GetTranscript(ctx, id); err != nil {
		return TriggerResult{}, err
	}

	queued, err := s.store.TransitionExtraction(ctx, id, session.ExtractionPending, "",
		session.ExtractionNone, session.ExtractionPending, session.ExtractionError,
		session.ExtractionCompleted, session.ExtractionSkipped)
	if err != nil {
		return TriggerResult{}, services.Wrap(services.ErrTransient, "extraction", "trigger", "mark extraction pending", err)
	}
	if !queued {
		return TriggerResult{}, services.Wrap(services.ErrConflict, "", "", "Medical extraction already in progress", nil)
	}

	requestID, ok := services.RequestIDFromContext(ctx)
	if !ok {
		requestID = uuid.NewString()
	}
	job := jobs.ExtractionJob{SessionID: id, Trigger: jobs.TriggerManual}
	msgID, _, err := s.publisher.Publish(ctx, jobs.StreamExtraction, jobs.ManualExtractionKey(id, requestID), job)
	if err != nil {
		if _, terr := s.store.TransitionExtraction(ctx, id, session.ExtractionError, "failed to queue extraction", session.ExtractionPending); terr != nil {
			err = errors.Join(err, terr)
		}
		return TriggerResult{}, services.Wrap(services.ErrTransient, "extraction", "trigger", "queue extraction", err)
	}
	logging.WithContext(ctx, s.logger).Info("manual extraction queued",
		logging.String(logging.FieldEventType, "extraction_triggered"),
		logging.String(logging.FieldMessageID, msgID),
	)
	return TriggerResult{SessionID: id, MessageID: msgID, Status: string(session.ExtractionPending)}, nil
}
