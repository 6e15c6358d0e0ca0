package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"maichart/internal/database"
)

// SaveTranscript upserts the final transcript for a session.
func (s *Store) SaveTranscript(ctx context.Context, tr Transcript) error {
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = time.Now().UTC()
	}
	if tr.WordCount == 0 {
		tr.WordCount = WordCount(tr.Text)
	}
	_, err := database.ExecWithRetry(ctx, s.db,
		`INSERT INTO transcripts (session_id, text, confidence, duration, word_count, filename, language, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(session_id) DO UPDATE SET
            text = excluded.text,
            confidence = excluded.confidence,
            duration = excluded.duration,
            word_count = excluded.word_count,
            filename = excluded.filename,
            language = excluded.language,
            created_at = excluded.created_at`,
		tr.SessionID,
		tr.Text,
		tr.Confidence,
		tr.Duration,
		tr.WordCount,
		database.NullableString(tr.Filename),
		database.NullableString(tr.Language),
		database.FormatTime(tr.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	return nil
}

// GetTranscript returns the transcript for a session or ErrTranscriptNotFound.
func (s *Store) GetTranscript(ctx context.Context, id string) (*Transcript, error) {
	ctx = database.EnsureContext(ctx)
	var (
		tr         Transcript
		filename   sql.NullString
		language   sql.NullString
		createdRaw string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, text, confidence, duration, word_count, filename, language, created_at
        FROM transcripts WHERE session_id = ?`, id,
	).Scan(&tr.SessionID, &tr.Text, &tr.Confidence, &tr.Duration, &tr.WordCount, &filename, &language, &createdRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTranscriptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transcript: %w", err)
	}
	tr.Filename = filename.String
	tr.Language = language.String
	if t, err := database.ParseTime(createdRaw); err == nil {
		tr.CreatedAt = t
	}
	return &tr, nil
}

// UpsertChunk stores one chunk transcription keyed by (session, sequence).
// Redelivered chunks overwrite the earlier row instead of duplicating it.
func (s *Store) UpsertChunk(ctx context.Context, chunk ChunkTranscript) error {
	if chunk.CreatedAt.IsZero() {
		chunk.CreatedAt = time.Now().UTC()
	}
	_, err := database.ExecWithRetry(ctx, s.db,
		`INSERT INTO chunk_transcripts (session_id, sequence, text, confidence, duration, is_last_chunk, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(session_id, sequence) DO UPDATE SET
            text = excluded.text,
            confidence = excluded.confidence,
            duration = excluded.duration,
            is_last_chunk = excluded.is_last_chunk,
            created_at = excluded.created_at`,
		chunk.SessionID,
		chunk.Sequence,
		chunk.Text,
		chunk.Confidence,
		chunk.Duration,
		database.BoolToInt(chunk.IsLastChunk),
		database.FormatTime(chunk.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert chunk transcript: %w", err)
	}
	return nil
}

// ListChunks returns chunk transcriptions ordered by sequence.
func (s *Store) ListChunks(ctx context.Context, id string) ([]ChunkTranscript, error) {
	ctx = database.EnsureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, sequence, text, confidence, duration, is_last_chunk, created_at
        FROM chunk_transcripts WHERE session_id = ? ORDER BY sequence`, id)
	if err != nil {
		return nil, fmt.Errorf("list chunk transcripts: %w", err)
	}
	defer rows.Close()

	var out []ChunkTranscript
	for rows.Next() {
		var (
			chunk      ChunkTranscript
			isLast     int
			createdRaw string
		)
		if err := rows.Scan(&chunk.SessionID, &chunk.Sequence, &chunk.Text, &chunk.Confidence, &chunk.Duration, &isLast, &createdRaw); err != nil {
			return nil, err
		}
		chunk.IsLastChunk = isLast != 0
		if t, err := database.ParseTime(createdRaw); err == nil {
			chunk.CreatedAt = t
		}
		out = append(out, chunk)
	}
	return out, rows.Err()
}

// SaveMedicalData upserts the extraction result for a session.
func (s *Store) SaveMedicalData(ctx context.Context, data MedicalData) error {
	if data.UpdatedAt.IsZero() {
		data.UpdatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode medical data: %w", err)
	}
	_, err = database.ExecWithRetry(ctx, s.db,
		`INSERT INTO medical_data (session_id, payload, updated_at) VALUES (?, ?, ?)
        ON CONFLICT(session_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		data.SessionID, string(payload), database.FormatTime(data.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save medical data: %w", err)
	}
	return nil
}

// GetMedicalData returns extraction output or ErrMedicalDataNotFound.
func (s *Store) GetMedicalData(ctx context.Context, id string) (*MedicalData, error) {
	ctx = database.EnsureContext(ctx)
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM medical_data WHERE session_id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMedicalDataNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get medical data: %w", err)
	}
	var data MedicalData
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return nil, fmt.Errorf("decode medical data: %w", err)
	}
	return &data, nil
}

// ReplaceAlerts swaps the alert set for a session in one transaction.
func (s *Store) ReplaceAlerts(ctx context.Context, id string, alerts []MedicalAlert) error {
	now := database.FormatTime(time.Now())
	return database.InTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM medical_alerts WHERE session_id = ?`, id); err != nil {
			return fmt.Errorf("clear alerts: %w", err)
		}
		for _, alert := range alerts {
			details, err := json.Marshal(alert.Details)
			if err != nil {
				return fmt.Errorf("encode alert details: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO medical_alerts (session_id, priority, priority_rank, title, message, details, action_required, created_at)
                VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				id, alert.Priority, alert.Priority.Rank(), alert.Title, alert.Message, string(details),
				database.NullableString(alert.ActionRequired), now,
			); err != nil {
				return fmt.Errorf("insert alert: %w", err)
			}
		}
		return nil
	})
}

// ListAlerts returns alerts ordered critical first.
func (s *Store) ListAlerts(ctx context.Context, id string) ([]MedicalAlert, error) {
	ctx = database.EnsureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, priority, title, message, details, action_required, created_at
        FROM medical_alerts WHERE session_id = ? ORDER BY priority_rank, id`, id)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	out := []MedicalAlert{}
	for rows.Next() {
		var (
			alert      MedicalAlert
			priority   string
			details    sql.NullString
			action     sql.NullString
			createdRaw string
		)
		if err := rows.Scan(&alert.ID, &alert.SessionID, &priority, &alert.Title, &alert.Message, &details, &action, &createdRaw); err != nil {
			return nil, err
		}
		alert.Priority = Priority(priority)
		alert.ActionRequired = action.String
		if details.Valid && details.String != "" {
			_ = json.Unmarshal([]byte(details.String), &alert.Details)
		}
		if t, err := database.ParseTime(createdRaw); err == nil {
			alert.CreatedAt = t
		}
		out = append(out, alert)
	}
	return out, rows.Err()
}

// ListNotes returns completed sessions that have a transcript, newest first.
func (s *Store) ListNotes(ctx context.Context, limit int) ([]Note, error) {
	ctx = database.EnsureContext(ctx)
	query := `SELECT s.id, t.text, t.confidence, s.audio_duration, t.word_count, s.filename, s.file_size,
            s.recording_mode, s.extraction_status, s.created_at
        FROM sessions s JOIN transcripts t ON t.session_id = s.id
        WHERE s.status = ?
        ORDER BY s.created_at DESC, s.id`
	args := []any{StatusCompleted}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	notes := []Note{}
	for rows.Next() {
		var (
			note       Note
			filename   sql.NullString
			extraction string
			createdRaw string
		)
		if err := rows.Scan(&note.SessionID, &note.Text, &note.Confidence, &note.Duration, &note.WordCount,
			&filename, &note.FileSize, &note.RecordingMode, &extraction, &createdRaw); err != nil {
			return nil, err
		}
		note.Filename = filename.String
		note.ExtractionStatus = ExtractionStatus(extraction)
		if t, err := database.ParseTime(createdRaw); err == nil {
			note.CreatedAt = t
		}
		notes = append(notes, note)
	}
	return notes, rows.Err()
}
