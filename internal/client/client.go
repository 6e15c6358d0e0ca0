// Package client talks to a running MaiChart API over HTTP. It is explicitly
// constructed from a Config; nothing is discovered from globals.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"maichart/internal/api"
	"maichart/internal/services"
)

const defaultTimeoutMs = 30000

// Config identifies the API and bounds each request.
type Config struct {
	BaseURL   string
	TimeoutMs int
}

// HTTPDoer abstracts http.Client.Do for testing.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient swaps the transport.
func WithHTTPClient(doer HTTPDoer) Option {
	return func(c *Client) {
		if doer != nil {
			c.http = doer
		}
	}
}

// WithSleeper replaces the wait between poll attempts.
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// Client issues requests against one API base URL.
type Client struct {
	baseURL string
	http    HTTPDoer
	sleep   func(context.Context, time.Duration) error
}

// New validates cfg and returns a client.
func New(cfg Config, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, services.Wrap(services.ErrConfiguration, "client", "new", "base URL is required", nil)
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, services.Wrap(services.ErrConfiguration, "client", "new", fmt.Sprintf("invalid base URL %q", cfg.BaseURL), err)
	}
	timeout := cfg.TimeoutMs
	if timeout <= 0 {
		timeout = defaultTimeoutMs
	}
	c := &Client{
		baseURL: base,
		http:    &http.Client{Timeout: time.Duration(timeout) * time.Millisecond},
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the normalized API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// HTTPError is a non-2xx API reply. It unwraps to the services marker for
// its status code so services.Kind classifies it.
type HTTPError struct {
	StatusCode int
	Detail     string
	Kind       string
}

func (e *HTTPError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("api returned %d", e.StatusCode)
	}
	return fmt.Sprintf("api returned %d: %s", e.StatusCode, e.Detail)
}

func (e *HTTPError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return services.ErrValidation
	case http.StatusNotFound:
		return services.ErrNotFound
	case http.StatusConflict:
		return services.ErrConflict
	case http.StatusRequestEntityTooLarge:
		return services.ErrTooLarge
	case http.StatusBadGateway:
		return services.ErrExternalTool
	case http.StatusServiceUnavailable:
		return services.ErrTransient
	case http.StatusGatewayTimeout:
		return services.ErrTimeout
	default:
		return nil
	}
}

// Status fetches GET /status/{id}.
func (c *Client) Status(ctx context.Context, id string) (*api.SessionStatus, error) {
	var out api.SessionStatus
	if err := c.getJSON(ctx, "/status/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transcript fetches GET /transcript/{id}.
func (c *Client) Transcript(ctx context.Context, id string) (*api.TranscriptResponse, error) {
	var out api.TranscriptResponse
	if err := c.getJSON(ctx, "/transcript/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Notes fetches GET /notes. A limit of 0 returns every note.
func (c *Client) Notes(ctx context.Context, limit int) (*api.NotesResponse, error) {
	path := "/notes"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out api.NotesResponse
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// QueueStatus fetches GET /queue_status.
func (c *Client) QueueStatus(ctx context.Context) (*api.QueueStatusResponse, error) {
	var out api.QueueStatusResponse
	if err := c.getJSON(ctx, "/queue_status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health fetches GET /health.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var out api.HealthResponse
	if err := c.getJSON(ctx, "/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadResult is the reply to a single-shot upload.
type UploadResult struct {
	Success       bool   `json:"success"`
	ID            string `json:"id"`
	Filename      string `json:"filename"`
	Size          int64  `json:"size"`
	Status        string `json:"status"`
	RecordingMode string `json:"recording_mode"`
	Message       string `json:"message"`
}

// UploadFile streams the file at path to POST /upload_audio.
func (c *Client) UploadFile(ctx context.Context, path string) (*UploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		part, err := form.CreateFormFile("audio", filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = form.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload_audio", pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	var out UploadResult
	if err := c.do(req, &out); err != nil {
		pr.Close()
		return nil, err
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "client", req.Method+" "+req.URL.Path, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return services.Wrap(services.ErrTransient, "client", req.Method+" "+req.URL.Path, "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		httpErr := &HTTPError{StatusCode: resp.StatusCode}
		var payload api.ErrorResponse
		if json.Unmarshal(body, &payload) == nil {
			httpErr.Detail = payload.Detail
			httpErr.Kind = payload.ErrorKind
		} else {
			httpErr.Detail = strings.TrimSpace(string(body))
		}
		return httpErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	return errors.Is(err, services.ErrNotFound)
}
