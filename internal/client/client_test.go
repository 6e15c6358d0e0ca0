package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maichart/internal/api"
	"maichart/internal/services"
)

type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.sleeps = append(s.sleeps, d)
	s.mu.Unlock()
	return ctx.Err()
}

// statusSequence replies with each status in turn, repeating the last.
func statusSequence(t *testing.T, replies ...func(http.ResponseWriter)) *httptest.Server {
	t.Helper()
	var (
		mu sync.Mutex
		n  int
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.URL.Path, "/status/"))
		mu.Lock()
		idx := min(n, len(replies)-1)
		n++
		mu.Unlock()
		replies[idx](w)
	}))
	t.Cleanup(server.Close)
	return server
}

func withStatus(status, step, errMsg string) func(http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(api.SessionStatus{SessionID: "s1", Status: status, Step: step, Error: errMsg})
	}
}

func withError(code int, detail string) func(http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{Detail: detail})
	}
}

func newTestClient(t *testing.T, baseURL string, rec *sleepRecorder) *Client {
	t.Helper()
	c, err := New(Config{BaseURL: baseURL, TimeoutMs: 2000}, WithSleeper(rec.sleep))
	require.NoError(t, err)
	return c
}

func TestNewValidatesBaseURL(t *testing.T) {
	_, err := New(Config{})
	assert.Equal(t, services.KindConfiguration, services.Kind(err))

	_, err = New(Config{BaseURL: "not a url"})
	assert.Equal(t, services.KindConfiguration, services.Kind(err))

	c, err := New(Config{BaseURL: "http://localhost:5001/"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:5001", c.BaseURL())
}

func TestPollSucceedsAfterProgress(t *testing.T) {
	server := statusSequence(t,
		withStatus("queued", "", ""),
		withStatus("processing", "analyzing_audio", ""),
		withStatus("processing", "processing_audio", ""),
		withStatus("processing", "saving_transcript", ""),
		withStatus("completed", "", ""),
	)
	rec := &sleepRecorder{}
	c := newTestClient(t, server.URL, rec)

	var steps []string
	res := c.Poll(context.Background(), "s1", Policy{
		MaxAttempts: 10,
		Interval:    time.Second,
		OnStatus:    func(s api.SessionStatus) { steps = append(steps, s.Step) },
	})

	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, 5, res.Attempts)
	require.NotNil(t, res.Status)
	assert.Equal(t, "completed", res.Status.Status)
	assert.Equal(t, []string{"", "analyzing_audio", "processing_audio", "saving_transcript", ""}, steps)
	assert.Len(t, rec.sleeps, 4)
}

func TestPollReportsFailure(t *testing.T) {
	server := statusSequence(t,
		withStatus("processing", "processing_audio", ""),
		withStatus("error", "", "Transcription failed: unsupported codec"),
	)
	c := newTestClient(t, server.URL, &sleepRecorder{})

	res := c.Poll(context.Background(), "s1", DefaultPolicy())
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, "Transcription failed: unsupported codec", res.Reason)
	assert.Equal(t, 2, res.Attempts)
}

func TestPollNotFoundFailsImmediately(t *testing.T) {
	server := statusSequence(t, withError(http.StatusNotFound, "Session not found"))
	c := newTestClient(t, server.URL, &sleepRecorder{})

	res := c.Poll(context.Background(), "s1", DefaultPolicy())
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, "session not found", res.Reason)
	assert.Equal(t, 1, res.Attempts)
}

func TestPollTimesOutWithBackoff(t *testing.T) {
	server := statusSequence(t, withStatus("processing", "processing_audio", ""))
	rec := &sleepRecorder{}
	c := newTestClient(t, server.URL, rec)

	res := c.Poll(context.Background(), "s1", Policy{
		MaxAttempts: 5,
		Interval:    100 * time.Millisecond,
		Multiplier:  2,
		MaxInterval: 300 * time.Millisecond,
	})
	assert.Equal(t, OutcomeTimedOut, res.Outcome)
	assert.Equal(t, "processing timed out", res.Reason)
	assert.Equal(t, 5, res.Attempts)
	assert.Equal(t, "processing", res.Status.Status)
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		300 * time.Millisecond,
		300 * time.Millisecond,
	}, rec.sleeps)
}

func TestPollKeepsGoingThroughServerErrors(t *testing.T) {
	server := statusSequence(t,
		withError(http.StatusServiceUnavailable, "database busy"),
		withError(http.StatusInternalServerError, "Internal server error"),
		withStatus("completed", "", ""),
	)
	c := newTestClient(t, server.URL, &sleepRecorder{})

	res := c.Poll(context.Background(), "s1", Policy{MaxAttempts: 5, Interval: time.Millisecond})
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, 3, res.Attempts)
}

func TestPollPendingWhenContextEnds(t *testing.T) {
	server := statusSequence(t, withStatus("queued", "", ""))
	c := newTestClient(t, server.URL, &sleepRecorder{})

	ctx, cancel := context.WithCancel(context.Background())
	res := c.Poll(ctx, "s1", Policy{
		MaxAttempts: 10,
		Interval:    time.Millisecond,
		OnStatus:    func(api.SessionStatus) { cancel() },
	})
	assert.Equal(t, OutcomePending, res.Outcome)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "queued", res.Status.Status)
}

func TestHTTPErrorClassification(t *testing.T) {
	server := statusSequence(t, withError(http.StatusConflict, "Session not completed"))
	c := newTestClient(t, server.URL, &sleepRecorder{})

	_, err := c.Status(context.Background(), "s1")
	require.Error(t, err)
	assert.Equal(t, services.KindConflict, services.Kind(err))
	assert.Contains(t, err.Error(), "Session not completed")
}

func TestUploadFileStreamsMultipart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "visit.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFFdata"), 0o644))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/upload_audio", r.URL.Path)
		file, header, err := r.FormFile("audio")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		body, _ := io.ReadAll(file)
		assert.Equal(t, "visit.wav", header.Filename)
		assert.Equal(t, "RIFFdata", string(body))
		_ = json.NewEncoder(w).Encode(UploadResult{Success: true, ID: "abc", Filename: header.Filename, Size: int64(len(body)), Status: "queued"})
	}))
	t.Cleanup(server.Close)

	c := newTestClient(t, server.URL, &sleepRecorder{})
	res, err := c.UploadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "abc", res.ID)
	assert.EqualValues(t, 8, res.Size)
}
