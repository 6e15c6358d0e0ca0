package api

import (
	"maichart/internal/queue"
	"maichart/internal/session"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Detail    string `json:"detail"`
	ErrorKind string `json:"error_kind,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// SessionStatus is the payload of GET /status/{id}.
type SessionStatus struct {
	SessionID               string  `json:"session_id"`
	Status                  string  `json:"status"`
	Step                    string  `json:"step,omitempty"`
	Error                   string  `json:"error,omitempty"`
	ErrorAt                 string  `json:"error_at,omitempty"`
	Filename                string  `json:"filename"`
	FileSize                int64   `json:"file_size"`
	RecordingMode           string  `json:"recording_mode"`
	ChunksReceived          int     `json:"chunks_received,omitempty"`
	LastChunkSequence       *int    `json:"last_chunk_sequence,omitempty"`
	UploadedAt              string  `json:"uploaded_at"`
	UpdatedAt               string  `json:"updated_at"`
	ProcessingStartedAt     string  `json:"processing_started_at,omitempty"`
	ProcessingCompletedAt   string  `json:"processing_completed_at,omitempty"`
	AudioDuration           float64 `json:"audio_duration,omitempty"`
	Worker                  string  `json:"worker,omitempty"`
	MedicalExtractionStatus string  `json:"medical_extraction_status,omitempty"`
	MedicalExtractionError  string  `json:"medical_extraction_error,omitempty"`
}

// Transcript is the transcript body returned by GET /transcript/{id}.
type Transcript struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Duration   float64 `json:"duration"`
	WordCount  int     `json:"word_count"`
	Filename   string  `json:"filename"`
	Language   string  `json:"language,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

// TranscriptResponse wraps a transcript.
type TranscriptResponse struct {
	Success    bool       `json:"success"`
	SessionID  string     `json:"session_id"`
	Transcript Transcript `json:"transcript"`
}

// Note summarizes a completed session.
type Note struct {
	SessionID               string  `json:"session_id"`
	Text                    string  `json:"text"`
	Confidence              float64 `json:"confidence"`
	CreatedAt               string  `json:"created_at"`
	Filename                string  `json:"filename"`
	FileSize                int64   `json:"file_size"`
	Duration                float64 `json:"duration"`
	WordCount               int     `json:"word_count"`
	RecordingMode           string  `json:"recording_mode"`
	MedicalExtractionStatus string  `json:"medical_extraction_status,omitempty"`
}

// NotesResponse lists notes newest first.
type NotesResponse struct {
	Success bool   `json:"success"`
	Count   int    `json:"count"`
	Notes   []Note `json:"notes"`
}

// ExportedNote bundles a note with its medical output.
type ExportedNote struct {
	Note
	MedicalData   *session.MedicalData   `json:"medical_data,omitempty"`
	MedicalAlerts []session.MedicalAlert `json:"medical_alerts"`
}

// ExportDocument is the attachment returned by GET /export/notes.
type ExportDocument struct {
	ExportedAt string         `json:"exported_at"`
	Count      int            `json:"count"`
	Notes      []ExportedNote `json:"notes"`
}

// MedicalDataResponse wraps extraction output.
type MedicalDataResponse struct {
	Success     bool                `json:"success"`
	SessionID   string              `json:"session_id"`
	MedicalData session.MedicalData `json:"medical_data"`
}

// AlertsResponse lists alerts in priority order.
type AlertsResponse struct {
	Success   bool                   `json:"success"`
	SessionID string                 `json:"session_id"`
	Count     int                    `json:"count"`
	Alerts    []session.MedicalAlert `json:"alerts"`
}

// StageHealth mirrors readiness reporting for workflow stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// WorkflowStatus summarizes in-process worker lanes.
type WorkflowStatus struct {
	Running     bool          `json:"running"`
	LastError   string        `json:"last_error,omitempty"`
	StageHealth []StageHealth `json:"stage_health"`
}

// QueueStatusResponse is the payload of GET /queue_status.
type QueueStatusResponse struct {
	Success   bool                         `json:"success"`
	Queues    map[string]queue.StreamStats `json:"queues"`
	Timestamp string                       `json:"timestamp"`
}

// HealthResponse is the payload of GET /health.
type HealthResponse struct {
	Status    string                `json:"status"`
	Timestamp string                `json:"timestamp"`
	Sessions  session.HealthSummary `json:"sessions"`
	Queue     QueueHealth           `json:"queue"`
	Workflow  *WorkflowStatus       `json:"workflow,omitempty"`
	Error     string                `json:"error,omitempty"`
}

// QueueHealth condenses queue.DatabaseHealth.
type QueueHealth struct {
	Healthy       bool     `json:"healthy"`
	TotalMessages int      `json:"total_messages"`
	MissingTables []string `json:"missing_tables,omitempty"`
	Error         string   `json:"error,omitempty"`
}
