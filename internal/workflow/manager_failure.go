package workflow

import (
	"context"
	"log/slog"

	"maichart/internal/logging"
	"maichart/internal/queue"
	"maichart/internal/services"
)

// handleStageFailure settles a delivery whose handler returned an error.
// Retryable errors release the message for redelivery after a backoff; all
// other errors were already recorded on the session by the handler, so the
// message is acknowledged.
func (m *Manager) handleStageFailure(ctx context.Context, lane *laneState, logger *slog.Logger, delivery *queue.Delivery, stageErr error) {
	m.setLastError(stageErr)
	attrs := []logging.Attr{
		logging.Error(stageErr),
		logging.String(logging.FieldErrorKind, string(services.Kind(stageErr))),
		logging.String("error_message", services.Message(stageErr)),
	}

	if services.IsRetryable(stageErr) {
		delay := m.errorBackoff(delivery.DeliveryCount)
		if err := m.store.Release(ctx, delivery, delay, services.Message(stageErr)); err != nil {
			m.logAckFailure(logger, err)
			return
		}
		attrs = append(attrs,
			logging.Duration("retry_in", delay),
			logging.String(logging.FieldImpact, "message will be redelivered"),
		)
		logging.WarnWithContext(logger, "stage failed, will retry", "stage_retry", attrs...)
		m.recordDelivery(lane, delivery, OutcomeReleased, stageErr)
		return
	}

	if err := m.store.DeadLetter(ctx, delivery, services.Message(stageErr)); err != nil {
		m.logAckFailure(logger, err)
		return
	}
	attrs = append(attrs, logging.Alert("stage_failure"))
	logging.ErrorWithContext(logger, "stage failed", "stage_failure", attrs...)
	m.recordDelivery(lane, delivery, OutcomeFailed, stageErr)
}
