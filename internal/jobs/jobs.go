// Package jobs names the streams and consumer groups the workers use and
// defines the payload each stream carries.
package jobs

import (
	"context"
	"fmt"
	"strconv"
)

// Streams and their consumer groups.
const (
	StreamAudio      = "audio_input"
	GroupAudio       = "audio_processors"
	StreamChunks     = "audio_chunks"
	GroupChunks      = "chunk_processors"
	StreamExtraction = "medical_extraction_queue"
	GroupExtraction  = "medical_extractors"
)

// Trigger sources for extraction jobs.
const (
	TriggerAuto   = "auto"
	TriggerManual = "manual"
)

// Publisher enqueues a payload on a stream. A repeated dedup key returns the
// original message id with published=false.
type Publisher interface {
	Publish(ctx context.Context, stream, dedupKey string, payload any) (id string, published bool, err error)
}

// AudioJob asks for a whole uploaded file to be transcribed.
type AudioJob struct {
	SessionID   string `json:"session_id"`
	FilePath    string `json:"file_path"`
	Filename    string `json:"filename"`
	FileSize    int64  `json:"file_size"`
	ContentType string `json:"content_type,omitempty"`
}

// ChunkJob asks for one streaming chunk to be transcribed.
type ChunkJob struct {
	SessionID   string `json:"session_id"`
	Sequence    int    `json:"chunk_sequence"`
	IsLastChunk bool   `json:"is_last_chunk"`
	FilePath    string `json:"file_path"`
	Filename    string `json:"filename"`
	FileSize    int64  `json:"file_size"`
}

// ExtractionJob asks for medical data to be extracted from a transcript.
type ExtractionJob struct {
	SessionID string `json:"session_id"`
	Trigger   string `json:"trigger"`
}

// AudioKey is the dedup key for an upload's transcription job.
func AudioKey(sessionID string) string {
	return "audio:" + sessionID
}

// ChunkKey is the dedup key for one streaming chunk.
func ChunkKey(sessionID string, sequence int) string {
	return "chunk:" + sessionID + ":" + strconv.Itoa(sequence)
}

// AutoExtractionKey is the dedup key for the extraction queued on completion.
func AutoExtractionKey(sessionID string) string {
	return fmt.Sprintf("extract:%s:%s", sessionID, TriggerAuto)
}

// ManualExtractionKey is the dedup key for an operator-triggered extraction.
func ManualExtractionKey(sessionID, requestID string) string {
	return fmt.Sprintf("extract:%s:%s:%s", sessionID, TriggerManual, requestID)
}
