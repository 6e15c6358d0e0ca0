package api

import (
	"slices"
	"time"

	"maichart/internal/session"
	"maichart/internal/stage"
	"maichart/internal/workflow"
)

// FromSession converts a session into its status payload.
func FromSession(sess *session.Session) SessionStatus {
	step := sess.Step
	if sess.Status.IsTerminal() {
		step = ""
	}
	return SessionStatus{
		SessionID:               sess.ID,
		Status:                  string(sess.Status),
		Step:                    step,
		Error:                   sess.Error,
		ErrorAt:                 formatTimePtr(sess.ErrorAt),
		Filename:                sess.Filename,
		FileSize:                sess.FileSize,
		RecordingMode:           sess.RecordingMode,
		ChunksReceived:          sess.ChunksReceived,
		LastChunkSequence:       sess.LastChunkSequence,
		UploadedAt:              FormatTime(sess.CreatedAt),
		UpdatedAt:               FormatTime(sess.UpdatedAt),
		ProcessingStartedAt:     formatTimePtr(sess.ProcessingStartedAt),
		ProcessingCompletedAt:   formatTimePtr(sess.ProcessingCompletedAt),
		AudioDuration:           sess.AudioDuration,
		Worker:                  sess.Worker,
		MedicalExtractionStatus: string(sess.ExtractionStatus),
		MedicalExtractionError:  sess.ExtractionError,
	}
}

// FromTranscript converts a stored transcript.
func FromTranscript(tr *session.Transcript) Transcript {
	return Transcript{
		Text:       tr.Text,
		Confidence: tr.Confidence,
		Duration:   tr.Duration,
		WordCount:  tr.WordCount,
		Filename:   tr.Filename,
		Language:   tr.Language,
		CreatedAt:  FormatTime(tr.CreatedAt),
	}
}

// FromNotes converts note rows.
func FromNotes(notes []session.Note) []Note {
	out := make([]Note, 0, len(notes))
	for _, n := range notes {
		out = append(out, Note{
			SessionID:               n.SessionID,
			Text:                    n.Text,
			Confidence:              n.Confidence,
			CreatedAt:               FormatTime(n.CreatedAt),
			Filename:                n.Filename,
			FileSize:                n.FileSize,
			Duration:                n.Duration,
			WordCount:               n.WordCount,
			RecordingMode:           n.RecordingMode,
			MedicalExtractionStatus: string(n.ExtractionStatus),
		})
	}
	return out
}

// FromStatusSummary converts workflow diagnostics.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	return WorkflowStatus{
		Running:     summary.Running,
		LastError:   summary.LastError,
		StageHealth: StageHealthSlice(summary.StageHealth),
	}
}

// StageHealthSlice orders stage health by name.
func StageHealthSlice(health map[string]stage.Health) []StageHealth {
	if len(health) == 0 {
		return []StageHealth{}
	}
	names := make([]string, 0, len(health))
	for name := range health {
		names = append(names, name)
	}
	slices.Sort(names)

	out := make([]StageHealth, 0, len(names))
	for _, name := range names {
		h := health[name]
		out = append(out, StageHealth{Name: name, Ready: h.Ready, Detail: h.Detail})
	}
	return out
}

// FormatTime converts a time to RFC3339 or returns empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return FormatTime(*t)
}
