package workflow

import (
	"context"
	"time"

	"maichart/internal/logging"
	"maichart/internal/queue"
	"maichart/internal/stage"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running      bool
	LastError    string
	LastDelivery *DeliverySummary
	Streams      map[string]queue.StreamStats
	StageHealth  map[string]stage.Health
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	running := m.running
	lastErr := m.lastErr
	lastDelivery := m.lastDelivery
	lanes := append([]*laneState(nil), m.lanes...)
	m.mu.RUnlock()

	streams := make(map[string]queue.StreamStats, len(lanes))
	health := make(map[string]stage.Health, len(lanes))
	for _, lane := range lanes {
		stats, err := m.store.Stats(ctx, lane.stream)
		if err != nil {
			if m.logger != nil {
				m.logger.Warn("failed to read stream stats", logging.String(logging.FieldStream, lane.stream), logging.Error(err))
			}
		} else {
			streams[lane.stream] = stats
		}
		health[lane.name] = lane.handler.HealthCheck(ctx)
	}

	summary := StatusSummary{Running: running, Streams: streams, StageHealth: health}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}
	if lastDelivery != nil {
		copy := *lastDelivery
		summary.LastDelivery = &copy
	}
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) recordDelivery(lane *laneState, delivery *queue.Delivery, outcome string, err error) {
	summary := &DeliverySummary{
		Stage:      lane.name,
		Stream:     delivery.Stream,
		MessageID:  delivery.ID,
		Consumer:   delivery.Consumer,
		Outcome:    outcome,
		FinishedAt: time.Now().UTC(),
	}
	if err != nil {
		summary.Error = err.Error()
	}
	m.mu.Lock()
	m.lastDelivery = summary
	m.mu.Unlock()
}
