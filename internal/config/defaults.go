package config

const (
	defaultConfigPath                  = "~/.config/maichart/config.toml"
	defaultDataDir                     = "~/.local/share/maichart"
	defaultUploadDir                   = "~/.local/share/maichart/uploads"
	defaultTranscriptDir               = "~/.local/share/maichart/transcripts"
	defaultLogDir                      = "~/.local/share/maichart/logs"
	defaultAPIBind                     = "127.0.0.1:5001"
	defaultAPIReadTimeoutSeconds       = 120
	defaultAPIWriteTimeoutSeconds      = 120
	defaultMaxFileSizeMB               = 90
	defaultTranscriptionBaseURL        = "https://api.openai.com/v1"
	defaultTranscriptionModel          = "whisper-1"
	defaultTranscriptionTimeoutSeconds = 300
	defaultExtractionBaseURL           = "https://api.openai.com/v1"
	defaultExtractionModel             = "gpt-4o-mini"
	defaultExtractionTimeoutSeconds    = 120
	defaultQueueBlockMillis            = 1000
	defaultQueueClaimIdleSeconds       = 300
	defaultQueueMaxDeliveries          = 3
	defaultQueueRetentionHours         = 24
	defaultConsumerNamePrefix          = "worker"
	defaultHeartbeatInterval           = 30
	defaultErrorRetryInterval          = 5
	defaultMaxErrorBackoff             = 30
	defaultSessionExpirySeconds        = 14400
	defaultSessionCleanupSchedule      = "@every 10m"
	defaultStreamIdleSeconds           = 1800
	defaultIngestSettleSeconds         = 2
	defaultNotifyTimeoutSeconds        = 10
	defaultMinAlertPriority            = "high"
	defaultLogFormat                   = "console"
	defaultLogLevel                    = "info"
)

// DefaultAllowedExtensions lists the accepted audio containers.
var DefaultAllowedExtensions = []string{"webm", "wav", "mp3", "ogg", "m4a"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:       defaultDataDir,
			UploadDir:     defaultUploadDir,
			TranscriptDir: defaultTranscriptDir,
			LogDir:        defaultLogDir,
		},
		API: API{
			Bind:                defaultAPIBind,
			CORSAllowedOrigins:  []string{"*"},
			ReadTimeoutSeconds:  defaultAPIReadTimeoutSeconds,
			WriteTimeoutSeconds: defaultAPIWriteTimeoutSeconds,
		},
		Upload: Upload{
			MaxFileSizeMB:     defaultMaxFileSizeMB,
			AllowedExtensions: append([]string(nil), DefaultAllowedExtensions...),
		},
		Transcription: Transcription{
			BaseURL:        defaultTranscriptionBaseURL,
			Model:          defaultTranscriptionModel,
			TimeoutSeconds: defaultTranscriptionTimeoutSeconds,
		},
		Extraction: Extraction{
			Enabled:        true,
			BaseURL:        defaultExtractionBaseURL,
			Model:          defaultExtractionModel,
			TimeoutSeconds: defaultExtractionTimeoutSeconds,
		},
		Queue: Queue{
			BlockMillis:        defaultQueueBlockMillis,
			ClaimIdleSeconds:   defaultQueueClaimIdleSeconds,
			MaxDeliveries:      defaultQueueMaxDeliveries,
			RetentionHours:     defaultQueueRetentionHours,
			ConsumerNamePrefix: defaultConsumerNamePrefix,
		},
		Workflow: Workflow{
			HeartbeatInterval:    defaultHeartbeatInterval,
			ErrorRetryInterval:   defaultErrorRetryInterval,
			MaxErrorBackoff:      defaultMaxErrorBackoff,
			TranscriptionWorkers: 1,
			ChunkWorkers:         1,
			ExtractionWorkers:    1,
		},
		Sessions: Sessions{
			ExpirySeconds:     defaultSessionExpirySeconds,
			CleanupSchedule:   defaultSessionCleanupSchedule,
			StreamIdleSeconds: defaultStreamIdleSeconds,
		},
		Ingest: Ingest{
			SettleSeconds: defaultIngestSettleSeconds,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNotifyTimeoutSeconds,
			MinAlertPriority:      defaultMinAlertPriority,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
