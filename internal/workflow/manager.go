package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"maichart/internal/config"
	"maichart/internal/queue"
)

// Manager coordinates queue consumers for the registered stage handlers.
type Manager struct {
	cfg    *config.Config
	store  *queue.Store
	logger *slog.Logger

	lease     time.Duration
	block     time.Duration
	heartbeat *LeaseKeeper

	lanes []*laneState

	mu           sync.RWMutex
	running      bool
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	lastErr      error
	lastDelivery *DeliverySummary
}

// NewManager constructs a new workflow manager.
func NewManager(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Manager {
	lease := cfg.ClaimIdle()
	return &Manager{
		cfg:    cfg,
		store:  store,
		logger: logger,
		lease:  lease,
		block:  cfg.BlockWindow(),
		heartbeat: NewLeaseKeeper(
			store,
			logger,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
			lease,
		),
	}
}
