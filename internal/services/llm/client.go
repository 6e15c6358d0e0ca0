package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"maichart/internal/services"
)

const (
	defaultHTTPTimeout    = 120 * time.Second
	defaultRetryMaxDelay  = 10 * time.Second
	defaultRetryBaseDelay = 1 * time.Second
	defaultRetryAttempts  = 3
)

// Config captures the runtime settings required to talk to the API.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	TimeoutSeconds int
}

// Client wraps a go-openai client with retry handling.
type Client struct {
	cfg Config
	api *openai.Client

	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
	sleeper          func(time.Duration)
}

// Option customizes the client.
type Option func(*Client)

// WithRetryMaxAttempts overrides the default attempt count.
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) {
		c.retryMaxAttempts = attempts
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.retryBaseDelay = baseDelay
		c.retryMaxDelay = maxDelay
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// NewClient constructs a client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.Model = strings.TrimSpace(cfg.Model)

	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	apiCfg.HTTPClient = &http.Client{Timeout: timeout}

	client := &Client{
		cfg:              cfg,
		api:              openai.NewClientWithConfig(apiCfg),
		retryMaxAttempts: defaultRetryAttempts,
		retryBaseDelay:   defaultRetryBaseDelay,
		retryMaxDelay:    defaultRetryMaxDelay,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c != nil && c.cfg.APIKey != ""
}

// HealthCheck lists models to confirm the endpoint is reachable and the key
// is accepted.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.Configured() {
		return services.Wrap(services.ErrConfiguration, "llm", "health", "api key required", nil)
	}
	return c.withRetry(ctx, "health", func() error {
		_, err := c.api.ListModels(ctx)
		return err
	})
}

// CompleteJSON issues a JSON-mode chat completion and returns the raw content.
func (c *Client) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	systemPrompt = strings.TrimSpace(systemPrompt)
	userPrompt = strings.TrimSpace(userPrompt)
	if systemPrompt == "" || userPrompt == "" {
		return "", services.Wrap(services.ErrValidation, "llm", "complete", "system and user prompts are required", nil)
	}
	if !c.Configured() {
		return "", services.Wrap(services.ErrConfiguration, "llm", "complete", "api key required", nil)
	}
	req := openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	var content string
	err := c.withRetry(ctx, "complete", func() error {
		resp, err := c.api.CreateChatCompletion(ctx, req)
		if err != nil {
			return err
		}
		for _, choice := range resp.Choices {
			if text := strings.TrimSpace(choice.Message.Content); text != "" {
				content = text
				return nil
			}
		}
		finish := ""
		if len(resp.Choices) > 0 {
			finish = string(resp.Choices[0].FinishReason)
		}
		return &emptyContentError{FinishReason: finish}
	})
	if err != nil {
		return "", err
	}
	return content, nil
}

// Transcription is the result of a speech-to-text request.
type Transcription struct {
	Text       string
	Language   string
	Duration   float64
	Confidence float64
}

// Transcribe sends audio to the transcription endpoint. name is used as the
// upload filename so the API can infer the container format. open is called
// once per attempt so retries resend the full payload.
func (c *Client) Transcribe(ctx context.Context, name, language string, open func() (io.ReadCloser, error)) (Transcription, error) {
	if !c.Configured() {
		return Transcription{}, services.Wrap(services.ErrConfiguration, "llm", "transcribe", "api key required", nil)
	}
	model := c.cfg.Model
	if model == "" {
		model = openai.Whisper1
	}

	var result Transcription
	err := c.withRetry(ctx, "transcribe", func() error {
		reader, err := open()
		if err != nil {
			return services.Wrap(services.ErrValidation, "llm", "transcribe", "open audio", err)
		}
		defer reader.Close()
		resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
			Model:    model,
			FilePath: name,
			Reader:   reader,
			Language: language,
			Format:   openai.AudioResponseFormatVerboseJSON,
		})
		if err != nil {
			return err
		}
		result = Transcription{
			Text:       strings.TrimSpace(resp.Text),
			Language:   resp.Language,
			Duration:   resp.Duration,
			Confidence: segmentConfidence(resp),
		}
		return nil
	})
	return result, err
}

type emptyContentError struct {
	FinishReason string
}

func (e *emptyContentError) Error() string {
	return fmt.Sprintf("empty content (finish_reason=%q)", e.FinishReason)
}

func (c *Client) withRetry(ctx context.Context, op string, call func() error) error {
	attempts := c.retryMaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := call()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == attempts || !retryable(ctx, err) {
			break
		}
		if err := c.sleep(ctx, c.backoffDelay(attempt)); err != nil {
			return err
		}
	}
	return Classify(op, lastErr)
}

// Classify maps an API error onto a services marker so callers can decide
// whether to retry. Rate limits, timeouts and 5xx responses are transient;
// authentication failures are configuration errors; other 4xx responses are
// external tool errors.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, services.ErrValidation) || errors.Is(err, services.ErrConfiguration) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTransient, "llm", op, "request timed out", err)
	}
	switch status := httpStatus(err); {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return services.Wrap(services.ErrConfiguration, "llm", op, fmt.Sprintf("rejected credentials (http %d)", status), err)
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return services.Wrap(services.ErrTransient, "llm", op, fmt.Sprintf("service unavailable (http %d)", status), err)
	case status >= http.StatusBadRequest:
		return services.Wrap(services.ErrExternalTool, "llm", op, fmt.Sprintf("request rejected (http %d)", status), err)
	}
	var empty *emptyContentError
	if errors.As(err, &empty) {
		return services.Wrap(services.ErrTransient, "llm", op, "model returned no content", err)
	}
	return services.Wrap(services.ErrTransient, "llm", op, "request failed", err)
}

func httpStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, services.ErrValidation) || errors.Is(err, services.ErrConfiguration) {
		return false
	}
	var empty *emptyContentError
	if errors.As(err, &empty) {
		return true
	}
	status := httpStatus(err)
	if status == 0 {
		return true
	}
	return status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	delay := c.retryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.retryMaxDelay {
			return c.retryMaxDelay
		}
	}
	return delay
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if c.sleeper != nil {
		c.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
