package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"

	"github.com/robfig/cron/v3"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateUpload(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateSessions(); err != nil {
		return err
	}
	if err := c.validateIngest(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateAPI() error {
	if _, _, err := net.SplitHostPort(c.API.Bind); err != nil {
		return fmt.Errorf("api.bind %q: %w", c.API.Bind, err)
	}
	return nil
}

func (c *Config) validateUpload() error {
	if c.Upload.MaxFileSizeMB <= 0 {
		return errors.New("upload.max_file_size_mb must be positive")
	}
	if len(c.Upload.AllowedExtensions) == 0 {
		return errors.New("upload.allowed_extensions must not be empty")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.TranscriptionWorkers < 0 || c.Workflow.ChunkWorkers < 0 || c.Workflow.ExtractionWorkers < 0 {
		return errors.New("workflow worker counts must not be negative")
	}
	if c.Workflow.HeartbeatInterval >= c.Queue.ClaimIdleSeconds {
		return fmt.Errorf("workflow.heartbeat_interval (%d) must be shorter than queue.claim_idle_seconds (%d)",
			c.Workflow.HeartbeatInterval, c.Queue.ClaimIdleSeconds)
	}
	return nil
}

func (c *Config) validateQueue() error {
	if c.Queue.MaxDeliveries < 1 {
		return errors.New("queue.max_deliveries must be at least 1")
	}
	return nil
}

func (c *Config) validateSessions() error {
	if c.Sessions.CleanupSchedule == "" {
		return nil
	}
	if _, err := cron.ParseStandard(c.Sessions.CleanupSchedule); err != nil {
		return fmt.Errorf("sessions.cleanup_schedule %q: %w", c.Sessions.CleanupSchedule, err)
	}
	return nil
}

func (c *Config) validateIngest() error {
	if !c.Ingest.Enabled {
		return nil
	}
	if filepath.Clean(c.Ingest.WatchDir) == filepath.Clean(c.Paths.UploadDir) {
		return errors.New("ingest.watch_dir must differ from paths.upload_dir")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	switch c.Notifications.MinAlertPriority {
	case "critical", "high", "medium", "low":
		return nil
	default:
		return fmt.Errorf("notifications.min_alert_priority %q must be critical, high, medium, or low", c.Notifications.MinAlertPriority)
	}
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q must be console or json", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level %q must be debug, info, warn, or error", c.Logging.Level)
	}
}
