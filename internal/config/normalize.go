package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// loadEnvFiles populates the process environment from .env files next to the
// config file and in the working directory. Variables already set win.
func loadEnvFiles(configDir string) {
	candidates := []string{".env"}
	if configDir != "" {
		candidates = append(candidates, filepath.Join(configDir, ".env"))
	}
	for _, file := range candidates {
		if info, err := os.Stat(file); err != nil || info.IsDir() {
			continue
		}
		_ = godotenv.Load(file)
	}
}

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAPI()
	c.normalizeUpload()
	c.normalizeTranscription()
	c.normalizeExtraction()
	c.normalizeQueue()
	c.normalizeWorkflow()
	c.normalizeSessions()
	c.normalizeNotifications()
	c.normalizeLogging()
	return c.normalizeIngest()
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.UploadDir) == "" {
		c.Paths.UploadDir = filepath.Join(c.Paths.DataDir, "uploads")
	}
	if c.Paths.UploadDir, err = expandPath(c.Paths.UploadDir); err != nil {
		return fmt.Errorf("paths.upload_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.TranscriptDir) == "" {
		c.Paths.TranscriptDir = filepath.Join(c.Paths.DataDir, "transcripts")
	}
	if c.Paths.TranscriptDir, err = expandPath(c.Paths.TranscriptDir); err != nil {
		return fmt.Errorf("paths.transcript_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.DataDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	if value, ok := os.LookupEnv("MAICHART_CORS_ALLOWED_ORIGINS"); ok && strings.TrimSpace(value) != "" {
		c.API.CORSAllowedOrigins = strings.Split(value, ",")
	}
	origins := make([]string, 0, len(c.API.CORSAllowedOrigins))
	for _, origin := range c.API.CORSAllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c.API.CORSAllowedOrigins = origins
	if c.API.ReadTimeoutSeconds <= 0 {
		c.API.ReadTimeoutSeconds = defaultAPIReadTimeoutSeconds
	}
	if c.API.WriteTimeoutSeconds <= 0 {
		c.API.WriteTimeoutSeconds = defaultAPIWriteTimeoutSeconds
	}
}

func (c *Config) normalizeUpload() {
	seen := make(map[string]struct{}, len(c.Upload.AllowedExtensions))
	exts := make([]string, 0, len(c.Upload.AllowedExtensions))
	for _, ext := range c.Upload.AllowedExtensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext == "" {
			continue
		}
		if _, ok := seen[ext]; ok {
			continue
		}
		seen[ext] = struct{}{}
		exts = append(exts, ext)
	}
	if len(exts) == 0 {
		exts = append(exts, DefaultAllowedExtensions...)
	}
	c.Upload.AllowedExtensions = exts
}

func (c *Config) normalizeTranscription() {
	c.Transcription.APIKey = strings.TrimSpace(c.Transcription.APIKey)
	if c.Transcription.APIKey == "" {
		c.Transcription.APIKey = firstEnv("MAICHART_TRANSCRIPTION_API_KEY", "OPENAI_API_KEY")
	}
	c.Transcription.BaseURL = strings.TrimSpace(c.Transcription.BaseURL)
	if c.Transcription.BaseURL == "" {
		c.Transcription.BaseURL = defaultTranscriptionBaseURL
	}
	c.Transcription.Model = strings.TrimSpace(c.Transcription.Model)
	if c.Transcription.Model == "" {
		c.Transcription.Model = defaultTranscriptionModel
	}
	c.Transcription.Language = strings.ToLower(strings.TrimSpace(c.Transcription.Language))
	if c.Transcription.TimeoutSeconds <= 0 {
		c.Transcription.TimeoutSeconds = defaultTranscriptionTimeoutSeconds
	}
}

func (c *Config) normalizeExtraction() {
	c.Extraction.APIKey = strings.TrimSpace(c.Extraction.APIKey)
	if c.Extraction.APIKey == "" {
		c.Extraction.APIKey = firstEnv("MAICHART_EXTRACTION_API_KEY", "OPENAI_API_KEY")
	}
	c.Extraction.BaseURL = strings.TrimSpace(c.Extraction.BaseURL)
	if c.Extraction.BaseURL == "" {
		c.Extraction.BaseURL = defaultExtractionBaseURL
	}
	c.Extraction.Model = strings.TrimSpace(c.Extraction.Model)
	if c.Extraction.Model == "" {
		c.Extraction.Model = defaultExtractionModel
	}
	if c.Extraction.TimeoutSeconds <= 0 {
		c.Extraction.TimeoutSeconds = defaultExtractionTimeoutSeconds
	}
}

func (c *Config) normalizeQueue() {
	if c.Queue.BlockMillis <= 0 {
		c.Queue.BlockMillis = defaultQueueBlockMillis
	}
	if c.Queue.ClaimIdleSeconds <= 0 {
		c.Queue.ClaimIdleSeconds = defaultQueueClaimIdleSeconds
	}
	if c.Queue.MaxDeliveries <= 0 {
		c.Queue.MaxDeliveries = defaultQueueMaxDeliveries
	}
	if c.Queue.RetentionHours <= 0 {
		c.Queue.RetentionHours = defaultQueueRetentionHours
	}
	c.Queue.ConsumerNamePrefix = strings.TrimSpace(c.Queue.ConsumerNamePrefix)
	if c.Queue.ConsumerNamePrefix == "" {
		c.Queue.ConsumerNamePrefix = defaultConsumerNamePrefix
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.HeartbeatInterval <= 0 {
		c.Workflow.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		c.Workflow.ErrorRetryInterval = defaultErrorRetryInterval
	}
	if c.Workflow.MaxErrorBackoff <= 0 {
		c.Workflow.MaxErrorBackoff = defaultMaxErrorBackoff
	}
}

func (c *Config) normalizeSessions() {
	if c.Sessions.ExpirySeconds < 0 {
		c.Sessions.ExpirySeconds = 0
	}
	if c.Sessions.StreamIdleSeconds < 0 {
		c.Sessions.StreamIdleSeconds = 0
	}
	c.Sessions.CleanupSchedule = strings.TrimSpace(c.Sessions.CleanupSchedule)
}

func (c *Config) normalizeIngest() error {
	if c.Ingest.SettleSeconds <= 0 {
		c.Ingest.SettleSeconds = defaultIngestSettleSeconds
	}
	c.Ingest.WatchDir = strings.TrimSpace(c.Ingest.WatchDir)
	if c.Ingest.WatchDir == "" {
		c.Ingest.WatchDir = filepath.Join(c.Paths.DataDir, "inbox")
	}
	var err error
	if c.Ingest.WatchDir, err = expandPath(c.Ingest.WatchDir); err != nil {
		return fmt.Errorf("ingest.watch_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		c.Notifications.NtfyTopic = firstEnv("MAICHART_NTFY_TOPIC")
	}
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNotifyTimeoutSeconds
	}
	c.Notifications.MinAlertPriority = strings.ToLower(strings.TrimSpace(c.Notifications.MinAlertPriority))
	if c.Notifications.MinAlertPriority == "" {
		c.Notifications.MinAlertPriority = defaultMinAlertPriority
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}
