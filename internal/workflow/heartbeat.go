package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"maichart/internal/logging"
	"maichart/internal/queue"
)

// LeaseKeeper extends delivery leases while a handler is still working so
// long transcriptions are not reclaimed by another consumer.
type LeaseKeeper struct {
	store    *queue.Store
	logger   *slog.Logger
	interval time.Duration
	lease    time.Duration
}

// NewLeaseKeeper creates a new keeper.
func NewLeaseKeeper(store *queue.Store, logger *slog.Logger, interval, lease time.Duration) *LeaseKeeper {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &LeaseKeeper{store: store, logger: logger, interval: interval, lease: lease}
}

// StartLoop extends the delivery lease every interval until ctx is done or
// the lease is lost.
func (h *LeaseKeeper) StartLoop(ctx context.Context, wg *sync.WaitGroup, delivery *queue.Delivery) {
	defer wg.Done()
	if h.interval <= 0 {
		return
	}
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, logging.NewComponentLogger(h.logger, "workflow-heartbeat"))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := h.store.Extend(ctx, delivery, h.lease)
			switch {
			case err == nil:
			case errors.Is(err, context.Canceled):
				logger.Debug("shutting down, lease extension cancelled")
				return
			case errors.Is(err, queue.ErrLeaseLost):
				logging.WarnWithContext(logger, "delivery lease lost", "lease_lost",
					logging.String(logging.FieldMessageID, delivery.ID),
					logging.String(logging.FieldImpact, "another consumer may process the same message"),
				)
				return
			default:
				logger.Warn("lease extension failed", logging.Error(err))
			}
		}
	}
}
