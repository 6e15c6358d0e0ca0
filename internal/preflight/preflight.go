package preflight

import (
	"context"

	"maichart/internal/config"
	"maichart/internal/services/llm"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Options selects which external checks run.
type Options struct {
	// Probe contacts the APIs; without it only key presence is checked.
	Probe bool
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config, opts Options) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Upload directory", cfg.Paths.UploadDir),
		CheckDirectoryAccess("Transcript directory", cfg.Paths.TranscriptDir),
	}
	if cfg.Ingest.Enabled {
		results = append(results, CheckDirectoryAccess("Ingest directory", cfg.Ingest.WatchDir))
	}

	transcription := llm.Config{
		APIKey:         cfg.Transcription.APIKey,
		BaseURL:        cfg.Transcription.BaseURL,
		Model:          cfg.Transcription.Model,
		TimeoutSeconds: cfg.Transcription.TimeoutSeconds,
	}
	results = append(results, checkAPI(ctx, "Transcription API", transcription, opts.Probe))

	if cfg.Extraction.Enabled {
		extraction := llm.Config{
			APIKey:         cfg.Extraction.APIKey,
			BaseURL:        cfg.Extraction.BaseURL,
			Model:          cfg.Extraction.Model,
			TimeoutSeconds: cfg.Extraction.TimeoutSeconds,
		}
		if !opts.Probe || !sameEndpoint(transcription, extraction) {
			results = append(results, checkAPI(ctx, "Extraction API", extraction, opts.Probe))
		}
	}
	return results
}

func checkAPI(ctx context.Context, name string, cfg llm.Config, probe bool) Result {
	if !probe {
		return CheckAPIKey(name, cfg.APIKey)
	}
	return CheckLLM(ctx, name, cfg)
}

// sameEndpoint reports whether two configs hit the same account, in which
// case one probe covers both.
func sameEndpoint(a, b llm.Config) bool {
	return a.APIKey == b.APIKey && a.BaseURL == b.BaseURL
}
