package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"maichart/internal/config"
	"maichart/internal/services/llm"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func modelsServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"denied","type":"invalid_request_error"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"object":"list","data":[]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCheckLLM_OK(t *testing.T) {
	srv := modelsServer(t, http.StatusOK)
	result := CheckLLM(context.Background(), "Transcription API", llm.Config{APIKey: "k", BaseURL: srv.URL})
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckLLM_BadKey(t *testing.T) {
	srv := modelsServer(t, http.StatusUnauthorized)
	result := CheckLLM(context.Background(), "Transcription API", llm.Config{APIKey: "k", BaseURL: srv.URL})
	if result.Passed {
		t.Fatal("expected failure for bad key")
	}
	if result.Detail != "auth failed (invalid api key)" {
		t.Fatalf("unexpected detail: %s", result.Detail)
	}
}

func TestCheckLLM_MissingKey(t *testing.T) {
	result := CheckLLM(context.Background(), "Extraction API", llm.Config{BaseURL: "http://localhost"})
	if result.Passed {
		t.Fatal("expected failure for missing key")
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil, Options{}); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func minimalConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.UploadDir = t.TempDir()
	cfg.Paths.TranscriptDir = t.TempDir()
	cfg.Transcription.APIKey = "k"
	cfg.Extraction.APIKey = "k"
	return &cfg
}

func TestRunAll_KeyPresenceWithoutProbe(t *testing.T) {
	cfg := minimalConfig(t)
	results := RunAll(context.Background(), cfg, Options{})
	// three directories plus both API keys
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
	for _, r := range results {
		if !r.Passed {
			t.Errorf("check %q failed: %s", r.Name, r.Detail)
		}
	}
}

func TestRunAll_ProbeSharesEndpoint(t *testing.T) {
	srv := modelsServer(t, http.StatusOK)
	cfg := minimalConfig(t)
	cfg.Transcription.BaseURL = srv.URL
	cfg.Extraction.BaseURL = srv.URL
	cfg.Ingest.Enabled = true
	cfg.Ingest.WatchDir = t.TempDir()

	results := RunAll(context.Background(), cfg, Options{Probe: true})
	names := map[string]bool{}
	for _, r := range results {
		names[r.Name] = r.Passed
	}
	if !names["Ingest directory"] {
		t.Fatal("expected passing ingest directory check")
	}
	if !names["Transcription API"] {
		t.Fatal("expected passing transcription probe")
	}
	if _, ok := names["Extraction API"]; ok {
		t.Fatal("extraction probe should be skipped when it shares the endpoint")
	}
}
