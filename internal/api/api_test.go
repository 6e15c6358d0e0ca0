package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"maichart/internal/api"
	"maichart/internal/config"
	"maichart/internal/extraction"
	"maichart/internal/jobs"
	"maichart/internal/logging"
	"maichart/internal/queue"
	"maichart/internal/session"
	"maichart/internal/testsupport"
	"maichart/internal/upload"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	cfg      *config.Config
	sessions *session.Store
	queue    *queue.Store
	handler  http.Handler
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	sessions := testsupport.MustOpenSessions(t, cfg)
	q := testsupport.MustOpenQueue(t, cfg)
	logger := logging.NewNop()
	srv := api.NewServer(api.Deps{
		Config:      cfg,
		Sessions:    sessions,
		Queue:       q,
		Coordinator: upload.NewCoordinator(cfg, sessions, q, logger),
		Extraction:  extraction.NewService(cfg, sessions, q, logger),
		Logger:      logger,
	})
	return &fixture{cfg: cfg, sessions: sessions, queue: q, handler: srv.Handler()}
}

func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	return f.do(t, httptest.NewRequest(http.MethodGet, path, nil))
}

func multipartUpload(t *testing.T, filename string, body []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	part, err := w.CreateFormFile("audio", filename)
	require.NoError(t, err)
	_, err = part.Write(body)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload_audio", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestUploadAudioThenStatus(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, multipartUpload(t, "visit.wav", testsupport.AudioBytes(2048), nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[map[string]any](t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "queued", body["status"])
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)

	status := decode[api.SessionStatus](t, f.get(t, "/status/"+id))
	assert.Equal(t, "queued", status.Status)
	assert.Equal(t, "visit.wav", status.Filename)
	assert.EqualValues(t, 2048, status.FileSize)
	assert.NotEmpty(t, status.UploadedAt)

	n, err := f.queue.Pending(context.Background(), jobs.StreamAudio, jobs.GroupAudio)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFailedSessionStatusHasNoStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := testsupport.NewSession(t, f.sessions, "visit.wav")
	_, err := f.sessions.UpdateStatus(ctx, sess.ID, session.StatusUpdate{Status: session.StatusProcessing, Step: session.StepProcessingAudio})
	require.NoError(t, err)

	status := decode[api.SessionStatus](t, f.get(t, "/status/"+sess.ID))
	assert.Equal(t, session.StepProcessingAudio, status.Step)

	_, err = f.sessions.UpdateStatus(ctx, sess.ID, session.StatusUpdate{
		Status: session.StatusError,
		Step:   session.StepProcessingAudio,
		Error:  "transcription failed",
	})
	require.NoError(t, err)

	status = decode[api.SessionStatus](t, f.get(t, "/status/"+sess.ID))
	assert.Equal(t, "error", status.Status)
	assert.Empty(t, status.Step)
	assert.Equal(t, "processing_audio: transcription failed", status.Error)
}

func TestUploadAudioRejections(t *testing.T) {
	f := newFixture(t, testsupport.WithMaxUploadMB(1))

	rec := f.do(t, multipartUpload(t, "notes.txt", []byte("hello"), nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	errBody := decode[api.ErrorResponse](t, rec)
	assert.False(t, errBody.Success)
	assert.Equal(t, "validation", errBody.ErrorKind)

	rec = f.do(t, multipartUpload(t, "big.wav", testsupport.AudioBytes(1<<20+1), nil))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, decode[api.ErrorResponse](t, rec).Detail, "Maximum size: 1MB")

	req := httptest.NewRequest(http.MethodPost, "/upload_audio", strings.NewReader(""))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	assert.Equal(t, http.StatusBadRequest, f.do(t, req).Code)
}

func TestStreamingUpload(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/initialize_streaming_session", strings.NewReader(`{"session_id":"live-1"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := f.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	for seq := 0; seq < 2; seq++ {
		rec = f.do(t, multipartUpload(t, "chunk.webm", testsupport.AudioBytes(512), map[string]string{
			"is_streaming":   "true",
			"session_id":     "live-1",
			"chunk_sequence": strconv.Itoa(seq),
			"is_last_chunk":  strconv.FormatBool(seq == 1),
		}))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	status := decode[api.SessionStatus](t, f.get(t, "/status/live-1"))
	assert.Equal(t, session.ModeStreaming, status.RecordingMode)
	assert.Equal(t, 2, status.ChunksReceived)
	require.NotNil(t, status.LastChunkSequence)
	assert.Equal(t, 1, *status.LastChunkSequence)

	rec = f.do(t, multipartUpload(t, "chunk.webm", testsupport.AudioBytes(512), map[string]string{
		"is_streaming":   "true",
		"session_id":     "live-1",
		"chunk_sequence": "5",
	}))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, multipartUpload(t, "chunk.webm", testsupport.AudioBytes(512), map[string]string{
		"is_streaming": "true",
		"session_id":   "live-1",
	}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInitializeStreamingRequiresID(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/initialize_streaming_session", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, f.do(t, req).Code)
}

func TestUnknownSessionIsNotFound(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{
		"/status/missing",
		"/transcript/missing",
		"/transcript/missing/download",
		"/medical_data/missing",
		"/medical_alerts/missing",
	} {
		rec := f.get(t, path)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
	rec := f.do(t, httptest.NewRequest(http.MethodDelete, "/cleanup/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTranscriptEndpoints(t *testing.T) {
	f := newFixture(t)
	sess := testsupport.NewSession(t, f.sessions, "visit.mp3")

	rec := f.get(t, "/transcript/"+sess.ID+"/download")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	testsupport.CompleteSession(t, f.sessions, sess.ID, "patient reports headache")

	tr := decode[api.TranscriptResponse](t, f.get(t, "/transcript/"+sess.ID))
	assert.True(t, tr.Success)
	assert.Equal(t, "patient reports headache", tr.Transcript.Text)
	assert.InDelta(t, 0.9, tr.Transcript.Confidence, 1e-9)

	rec = f.get(t, "/transcript/"+sess.ID+"/download")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "patient reports headache", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "medical_note_"+sess.ID[:8]+".txt")
}

func TestMedicalEndpoints(t *testing.T) {
	f := newFixture(t)
	sess := testsupport.NewSession(t, f.sessions, "visit.mp3")

	rec := f.do(t, httptest.NewRequest(http.MethodPost, "/trigger_medical_extraction/"+sess.ID, nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	testsupport.CompleteSession(t, f.sessions, sess.ID, "chest pain, allergic to penicillin")
	rec = f.do(t, httptest.NewRequest(http.MethodPost, "/trigger_medical_extraction/"+sess.ID, nil))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "pending", body["medical_extraction_status"])

	assert.Equal(t, http.StatusNotFound, f.get(t, "/medical_data/"+sess.ID).Code)

	ctx := context.Background()
	require.NoError(t, f.sessions.SaveMedicalData(ctx, session.MedicalData{
		SessionID:       sess.ID,
		ChiefComplaints: []string{"chest pain"},
		Allergies:       []string{"penicillin"},
	}))
	require.NoError(t, f.sessions.ReplaceAlerts(ctx, sess.ID, []session.MedicalAlert{{
		SessionID: sess.ID,
		Title:     "ALLERGY ALERT",
		Priority:  session.PriorityCritical,
		Message:   "Patient has allergies: penicillin",
	}}))

	data := decode[api.MedicalDataResponse](t, f.get(t, "/medical_data/"+sess.ID))
	assert.Equal(t, []string{"chest pain"}, data.MedicalData.ChiefComplaints)

	alerts := decode[api.AlertsResponse](t, f.get(t, "/medical_alerts/"+sess.ID))
	require.Equal(t, 1, alerts.Count)
	assert.Equal(t, session.PriorityCritical, alerts.Alerts[0].Priority)
}

func TestTriggerExtractionDisabled(t *testing.T) {
	f := newFixture(t, testsupport.WithExtractionDisabled())
	sess := testsupport.NewSession(t, f.sessions, "visit.mp3")
	testsupport.CompleteSession(t, f.sessions, sess.ID, "text")

	rec := f.do(t, httptest.NewRequest(http.MethodPost, "/trigger_medical_extraction/"+sess.ID, nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNotesAndExport(t *testing.T) {
	f := newFixture(t)
	first := testsupport.NewSession(t, f.sessions, "a.wav")
	second := testsupport.NewSession(t, f.sessions, "b.wav")
	testsupport.NewSession(t, f.sessions, "pending.wav")
	testsupport.CompleteSession(t, f.sessions, first.ID, "first note")
	testsupport.CompleteSession(t, f.sessions, second.ID, "second note")

	notes := decode[api.NotesResponse](t, f.get(t, "/notes"))
	assert.Equal(t, 2, notes.Count)

	limited := decode[api.NotesResponse](t, f.get(t, "/notes?limit=1"))
	assert.Equal(t, 1, limited.Count)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/notes?limit=abc").Code)

	rec := f.get(t, "/export/notes")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".json")
	doc := decode[api.ExportDocument](t, rec)
	assert.Equal(t, 2, doc.Count)

	rec = f.get(t, "/export/notes?format=yaml")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".yaml")
	var parsed map[string]any
	require.NoError(t, yaml.Unmarshal(rec.Body.Bytes(), &parsed))
	assert.EqualValues(t, 2, parsed["count"])
	assert.Contains(t, rec.Body.String(), "session_id:")

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/export/notes?format=xml").Code)
}

func TestCleanupRemovesSession(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, multipartUpload(t, "visit.wav", testsupport.AudioBytes(256), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	id := decode[map[string]any](t, rec)["id"].(string)

	rec = f.do(t, httptest.NewRequest(http.MethodDelete, "/cleanup/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, http.StatusNotFound, f.get(t, "/status/"+id).Code)
}

func TestQueueStatusAndHealth(t *testing.T) {
	f := newFixture(t)
	f.do(t, multipartUpload(t, "visit.wav", testsupport.AudioBytes(256), nil))

	qs := decode[api.QueueStatusResponse](t, f.get(t, "/queue_status"))
	assert.True(t, qs.Success)
	require.Contains(t, qs.Queues, "direct_transcription")
	assert.Contains(t, qs.Queues, "chunk_transcription")
	assert.Contains(t, qs.Queues, "medical_extraction")
	assert.Equal(t, 1, qs.Queues["direct_transcription"].Length)

	rec := f.get(t, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[api.HealthResponse](t, rec)
	assert.Equal(t, "healthy", health.Status)
	assert.True(t, health.Queue.Healthy)
	assert.Nil(t, health.Workflow)
}

func TestRequestIDEchoed(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/status/missing", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := f.do(t, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "abc-123", decode[api.ErrorResponse](t, rec).RequestID)
}
