package testsupport

import (
	"path/filepath"
	"testing"

	"maichart/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.UploadDir = filepath.Join(base, "uploads")
	cfgVal.Paths.TranscriptDir = filepath.Join(base, "transcripts")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.API.Bind = "127.0.0.1:0"
	cfgVal.Transcription.APIKey = "test"
	cfgVal.Extraction.APIKey = "test"
	cfgVal.Queue.BlockMillis = 10
	cfgVal.Workflow.HeartbeatInterval = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithMaxUploadMB overrides the upload size cap.
func WithMaxUploadMB(mb int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Upload.MaxFileSizeMB = mb
	}
}

// WithExtractionDisabled turns off medical extraction.
func WithExtractionDisabled() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Extraction.Enabled = false
	}
}

// WithMaxDeliveries sets how many deliveries a message gets before it is dead-lettered.
func WithMaxDeliveries(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue.MaxDeliveries = n
	}
}

// WithClaimIdleSeconds sets how long a delivery lease lasts.
func WithClaimIdleSeconds(seconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue.ClaimIdleSeconds = seconds
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
