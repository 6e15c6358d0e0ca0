package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"maichart/internal/logging"
	"maichart/internal/queue"
	"maichart/internal/services"
	"maichart/internal/stage"
)

// finishTimeout bounds the ack or release issued after shutdown interrupted a handler.
const finishTimeout = 5 * time.Second

func (m *Manager) processDelivery(ctx context.Context, lane *laneState, laneLogger *slog.Logger, delivery *queue.Delivery) {
	stageCtx := withStageContext(ctx, lane, delivery)
	logger := logging.WithContext(stageCtx, laneLogger).With(
		logging.String(logging.FieldMessageID, delivery.ID),
		logging.String(logging.FieldStream, delivery.Stream),
		logging.Int("delivery_count", delivery.DeliveryCount),
	)

	if limit := m.cfg.Queue.MaxDeliveries; limit > 0 && delivery.DeliveryCount > limit {
		m.deadLetter(stageCtx, lane, logger, delivery, fmt.Sprintf("gave up after %d deliveries", delivery.DeliveryCount-1))
		return
	}

	start := time.Now()
	logger.Info("message received",
		logging.String(logging.FieldEventType, "message_start"),
		logging.Bool("redelivered", delivery.Redelivered()),
	)

	execErr := m.executeWithHeartbeat(stageCtx, lane.handler, delivery)
	if execErr != nil {
		if errors.Is(execErr, context.Canceled) && ctx.Err() != nil {
			logger.Debug("handler interrupted by shutdown")
			m.finishAfterShutdown(delivery, logger)
			return
		}
		m.handleStageFailure(stageCtx, lane, logger, delivery, execErr)
		return
	}

	if err := m.store.Ack(stageCtx, delivery); err != nil {
		m.logAckFailure(logger, err)
		m.setLastError(err)
		return
	}
	logger.Info("message processed",
		logging.String(logging.FieldEventType, "message_complete"),
		logging.Duration("duration", time.Since(start)),
	)
	m.recordDelivery(lane, delivery, OutcomeAcked, nil)
}

func (m *Manager) executeWithHeartbeat(ctx context.Context, handler stage.Handler, delivery *queue.Delivery) error {
	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, delivery)

	execErr := handler.Handle(ctx, delivery)
	hbCancel()
	hbWG.Wait()
	return execErr
}

// finishAfterShutdown hands an interrupted delivery back to the group so
// another consumer can take it without waiting for the lease to expire.
func (m *Manager) finishAfterShutdown(delivery *queue.Delivery, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()
	if err := m.store.Release(ctx, delivery, 0, "interrupted by shutdown"); err != nil && !errors.Is(err, queue.ErrLeaseLost) {
		logger.Warn("failed to release interrupted delivery", logging.Error(err))
	}
}

func (m *Manager) deadLetter(ctx context.Context, lane *laneState, logger *slog.Logger, delivery *queue.Delivery, reason string) {
	if handler, ok := lane.handler.(stage.DeadLetterHandler); ok {
		if err := handler.DeadLetter(ctx, delivery, reason); err != nil {
			logger.Warn("dead letter hook failed", logging.Error(err))
		}
	}
	if err := m.store.DeadLetter(ctx, delivery, reason); err != nil {
		m.logAckFailure(logger, err)
		m.setLastError(err)
		return
	}
	logging.ErrorWithContext(logger, "message dead-lettered", "message_dead_lettered",
		logging.String("reason", reason),
		logging.Alert("dead_letter"),
		logging.String(logging.FieldErrorHint, "inspect the session error and re-upload if needed"),
	)
	m.recordDelivery(lane, delivery, OutcomeDeadLettered, errors.New(reason))
}

func (m *Manager) logAckFailure(logger *slog.Logger, err error) {
	if errors.Is(err, queue.ErrLeaseLost) {
		logging.WarnWithContext(logger, "delivery was reclaimed before acknowledgement", "ack_lease_lost",
			logging.String(logging.FieldImpact, "message may be processed again; writes are idempotent"),
		)
		return
	}
	logger.Error("failed to acknowledge delivery",
		logging.Error(err),
		logging.String(logging.FieldEventType, "ack_failed"),
		logging.String(logging.FieldErrorHint, "check queue database access"),
	)
}

func withStageContext(ctx context.Context, lane *laneState, delivery *queue.Delivery) context.Context {
	ctx = services.WithStage(ctx, lane.name)
	ctx = services.WithWorker(ctx, delivery.Consumer)
	if id := sessionIDFromPayload(delivery.Payload); id != "" {
		ctx = services.WithSessionID(ctx, id)
	}
	return ctx
}

func sessionIDFromPayload(payload json.RawMessage) string {
	var envelope struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return ""
	}
	return envelope.SessionID
}
