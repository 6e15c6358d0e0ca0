package transcription

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"maichart/internal/config"
	"maichart/internal/services/llm"
)

// Result is the output of transcribing one audio file.
type Result struct {
	Text       string
	Language   string
	Duration   float64
	Confidence float64
}

// Transcriber converts an audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (Result, error)
}

// WhisperTranscriber calls an OpenAI-compatible transcription endpoint.
type WhisperTranscriber struct {
	client   *llm.Client
	language string
}

// NewWhisperTranscriber builds a transcriber from the transcription config.
func NewWhisperTranscriber(cfg config.Transcription, opts ...llm.Option) *WhisperTranscriber {
	return &WhisperTranscriber{
		client: llm.NewClient(llm.Config{
			APIKey:         cfg.APIKey,
			BaseURL:        cfg.BaseURL,
			Model:          cfg.Model,
			TimeoutSeconds: cfg.TimeoutSeconds,
		}, opts...),
		language: cfg.Language,
	}
}

// Configured reports whether the transcriber has credentials.
func (w *WhisperTranscriber) Configured() bool {
	return w != nil && w.client.Configured()
}

// Transcribe uploads path and returns the recognized text.
func (w *WhisperTranscriber) Transcribe(ctx context.Context, path string) (Result, error) {
	open := func() (io.ReadCloser, error) {
		return os.Open(path)
	}
	out, err := w.client.Transcribe(ctx, filepath.Base(path), w.language, open)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Text:       out.Text,
		Language:   out.Language,
		Duration:   out.Duration,
		Confidence: out.Confidence,
	}, nil
}
