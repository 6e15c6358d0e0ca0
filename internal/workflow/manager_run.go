package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"maichart/internal/logging"
	"maichart/internal/queue"
)

// Start registers consumer groups and begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	lanes := append([]*laneState(nil), m.lanes...)
	if len(lanes) == 0 {
		m.mu.Unlock()
		return errors.New("workflow stages not configured")
	}

	for _, lane := range lanes {
		if err := m.store.EnsureGroup(ctx, lane.stream, lane.group); err != nil {
			m.mu.Unlock()
			return fmt.Errorf("register %s consumer group: %w", lane.name, err)
		}
		lane.logger = m.laneLogger(lane)
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	total := 0
	for _, lane := range lanes {
		total += lane.workers
	}
	m.wg.Add(total)
	m.mu.Unlock()

	for _, lane := range lanes {
		for i := 0; i < lane.workers; i++ {
			go m.runLane(runCtx, lane, m.consumerName(lane, i))
		}
	}
	return nil
}

// Stop terminates background processing and waits for in-flight handlers.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) consumerName(lane *laneState, index int) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "local"
	}
	return fmt.Sprintf("%s-%s-%s-%d-%d", m.cfg.Queue.ConsumerNamePrefix, lane.name, host, os.Getpid(), index)
}

func (m *Manager) runLane(ctx context.Context, lane *laneState, consumer string) {
	defer m.wg.Done()
	logger := lane.logger.With(logging.String(logging.FieldWorker, consumer))
	logger.Info("worker started",
		logging.String(logging.FieldEventType, "worker_start"),
		logging.String(logging.FieldStream, lane.stream),
		logging.String("group", lane.group),
	)

	req := queue.ClaimRequest{
		Stream:   lane.stream,
		Group:    lane.group,
		Consumer: consumer,
		Lease:    m.lease,
	}
	consecutiveErrors := 0
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker stopped", logging.String(logging.FieldEventType, "worker_stop"))
			return
		default:
		}

		delivery, err := m.store.Read(ctx, req, m.block)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				continue
			}
			consecutiveErrors++
			m.handleReadError(ctx, logger, err, consecutiveErrors)
			continue
		}
		consecutiveErrors = 0
		if delivery == nil {
			continue
		}

		m.processDelivery(ctx, lane, logger, delivery)
	}
}

// errorBackoff grows linearly with consecutive failures up to the ceiling.
func (m *Manager) errorBackoff(consecutive int) time.Duration {
	step := time.Duration(m.cfg.Workflow.ErrorRetryInterval) * time.Second
	ceiling := time.Duration(m.cfg.Workflow.MaxErrorBackoff) * time.Second
	delay := step * time.Duration(consecutive)
	if ceiling > 0 && delay > ceiling {
		delay = ceiling
	}
	return delay
}

func (m *Manager) handleReadError(ctx context.Context, logger *slog.Logger, err error, consecutive int) {
	m.setLastError(err)
	delay := m.errorBackoff(consecutive)
	logger.Error("failed to read from stream",
		logging.Error(err),
		logging.Int("consecutive_errors", consecutive),
		logging.Duration("retry_in", delay),
		logging.String(logging.FieldEventType, "queue_read_failed"),
		logging.String(logging.FieldErrorHint, "check queue database access"),
	)
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

func (m *Manager) laneLogger(lane *laneState) *slog.Logger {
	base := m.logger
	if base == nil {
		base = logging.NewNop()
	}
	return logging.NewComponentLogger(base, "workflow").With(
		logging.String(logging.FieldStage, lane.name),
	)
}
