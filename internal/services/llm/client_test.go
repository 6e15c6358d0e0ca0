package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maichart/internal/services"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *[]time.Duration) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	var sleeps []time.Duration
	client := NewClient(
		Config{APIKey: "test", BaseURL: srv.URL, Model: "gpt-test", TimeoutSeconds: 5},
		WithRetryBackoff(10*time.Millisecond, 40*time.Millisecond),
		WithSleeper(func(d time.Duration) { sleeps = append(sleeps, d) }),
	)
	return client, &sleeps
}

const okCompletion = `{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"{\"ok\":true}"},"finish_reason":"stop"}]}`

func TestCompleteJSONRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client, sleeps := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}
		_, _ = w.Write([]byte(okCompletion))
	})

	content, err := client.CompleteJSON(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, content)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, *sleeps)
}

func TestCompleteJSONDoesNotRetryAuthFailures(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	})

	_, err := client.CompleteJSON(context.Background(), "system", "user")
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrConfiguration), "got %v", err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCompleteJSONExhaustedRetriesAreTransient(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	})

	_, err := client.CompleteJSON(context.Background(), "system", "user")
	require.Error(t, err)
	assert.True(t, services.IsRetryable(err), "got %v", err)
}

func TestCompleteJSONRequiresKey(t *testing.T) {
	client := NewClient(Config{Model: "gpt-test"})
	_, err := client.CompleteJSON(context.Background(), "system", "user")
	assert.True(t, errors.Is(err, services.ErrConfiguration))
	assert.False(t, client.Configured())
}

func TestClassifyFallbacks(t *testing.T) {
	err := Classify("complete", errors.New("boom"))
	assert.True(t, services.IsRetryable(err))

	err = Classify("complete", context.DeadlineExceeded)
	assert.True(t, services.IsRetryable(err))

	assert.NoError(t, Classify("complete", nil))
}

func TestBackoffDelayCaps(t *testing.T) {
	client := NewClient(Config{}, WithRetryBackoff(time.Second, 3*time.Second))
	assert.Equal(t, time.Second, client.backoffDelay(1))
	assert.Equal(t, 2*time.Second, client.backoffDelay(2))
	assert.Equal(t, 3*time.Second, client.backoffDelay(3))
	assert.Equal(t, 3*time.Second, client.backoffDelay(8))
}

func TestHealthCheckListsModels(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		assert.Equal(t, "Bearer test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"whisper-1","object":"model"}]}`))
	})
	require.NoError(t, client.HealthCheck(context.Background()))
}

func TestHealthCheckRejectedKey(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	})
	err := client.HealthCheck(context.Background())
	assert.Equal(t, services.KindConfiguration, services.Kind(err))
}
