package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory locations used by the server and workers.
type Paths struct {
	DataDir       string `toml:"data_dir"`
	UploadDir     string `toml:"upload_dir"`
	TranscriptDir string `toml:"transcript_dir"`
	LogDir        string `toml:"log_dir"`
}

// API contains HTTP server settings.
type API struct {
	Bind                string   `toml:"bind"`
	CORSAllowedOrigins  []string `toml:"cors_allowed_origins"`
	ReadTimeoutSeconds  int      `toml:"read_timeout_seconds"`
	WriteTimeoutSeconds int      `toml:"write_timeout_seconds"`
}

// Upload contains validation limits for incoming audio.
type Upload struct {
	MaxFileSizeMB     int      `toml:"max_file_size_mb"`
	AllowedExtensions []string `toml:"allowed_extensions"`
}

// Transcription contains speech-to-text connection settings.
type Transcription struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Language       string `toml:"language"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Extraction contains LLM settings for medical entity extraction.
type Extraction struct {
	Enabled        bool   `toml:"enabled"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Queue contains transport tuning for the durable streams.
type Queue struct {
	BlockMillis        int    `toml:"block_ms"`
	ClaimIdleSeconds   int    `toml:"claim_idle_seconds"`
	MaxDeliveries      int    `toml:"max_deliveries"`
	RetentionHours     int    `toml:"retention_hours"`
	ConsumerNamePrefix string `toml:"consumer_name_prefix"`
}

// Workflow contains worker loop timing.
type Workflow struct {
	HeartbeatInterval    int `toml:"heartbeat_interval"`
	ErrorRetryInterval   int `toml:"error_retry_interval"`
	MaxErrorBackoff      int `toml:"max_error_backoff"`
	TranscriptionWorkers int `toml:"transcription_workers"`
	ChunkWorkers         int `toml:"chunk_workers"`
	ExtractionWorkers    int `toml:"extraction_workers"`
}

// Sessions contains session retention settings. Streaming sessions left in
// processing longer than StreamIdleSeconds without a chunk are failed.
type Sessions struct {
	ExpirySeconds     int    `toml:"expiry_seconds"`
	CleanupSchedule   string `toml:"cleanup_schedule"`
	StreamIdleSeconds int    `toml:"stream_idle_seconds"` // 0 disables the stalled-stream check
}

// Ingest configures the watch folder that feeds dropped recordings into the
// upload path.
type Ingest struct {
	Enabled       bool   `toml:"enabled"`
	WatchDir      string `toml:"watch_dir"`
	SettleSeconds int    `toml:"settle_seconds"`
}

// Notifications configures ntfy push messages for urgent alerts and failed
// sessions. An empty topic disables them.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	MinAlertPriority      string `toml:"min_alert_priority"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for MaiChart.
//
// Configuration sections by subsystem:
//   - Paths: data, upload, transcript, and log directories
//   - API: HTTP bind address and CORS origins
//   - Upload: size and type limits
//   - Transcription: speech-to-text API
//   - Extraction: medical extraction LLM
//   - Queue: stream blocking, redelivery, and retention
//   - Workflow: worker lane counts and timing
//   - Sessions: expiry and cleanup schedule
//   - Ingest: optional watch folder
//   - Notifications: ntfy push for alerts and failures
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	API           API           `toml:"api"`
	Upload        Upload        `toml:"upload"`
	Transcription Transcription `toml:"transcription"`
	Extraction    Extraction    `toml:"extraction"`
	Queue         Queue         `toml:"queue"`
	Workflow      Workflow      `toml:"workflow"`
	Sessions      Sessions      `toml:"sessions"`
	Ingest        Ingest        `toml:"ingest"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	loadEnvFiles(filepath.Dir(resolvedPath))

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("maichart.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for server and worker operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.UploadDir, c.Paths.TranscriptDir, c.Paths.LogDir}
	if c.Ingest.Enabled {
		dirs = append(dirs, c.Ingest.WatchDir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SessionDBPath returns the location of the session database.
func (c *Config) SessionDBPath() string {
	return filepath.Join(c.Paths.DataDir, "sessions.db")
}

// QueueDBPath returns the location of the queue database.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.Paths.DataDir, "queue.db")
}

// LockPath returns the daemon lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "maichart.lock")
}

// MaxUploadBytes returns the single-shot upload cap in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Upload.MaxFileSizeMB) * 1024 * 1024
}

// StreamIdleTimeout returns how long a streaming session may sit in
// processing without progress.
func (c *Config) StreamIdleTimeout() time.Duration {
	return time.Duration(c.Sessions.StreamIdleSeconds) * time.Second
}

// SessionExpiry returns how long sessions are retained.
func (c *Config) SessionExpiry() time.Duration {
	return time.Duration(c.Sessions.ExpirySeconds) * time.Second
}

// ClaimIdle returns the delivery lease duration.
func (c *Config) ClaimIdle() time.Duration {
	return time.Duration(c.Queue.ClaimIdleSeconds) * time.Second
}

// IngestSettle returns how long a dropped file must stay unchanged before it
// is ingested.
func (c *Config) IngestSettle() time.Duration {
	return time.Duration(c.Ingest.SettleSeconds) * time.Second
}

// BlockWindow returns how long a consumer waits for a message before re-polling.
func (c *Config) BlockWindow() time.Duration {
	return time.Duration(c.Queue.BlockMillis) * time.Millisecond
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
