package session

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"maichart/internal/config"
	"maichart/internal/database"
	"maichart/internal/services"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

var (
	// ErrNotFound reports a missing session.
	ErrNotFound = services.Wrap(services.ErrNotFound, "", "", "Session not found", nil)
	// ErrTranscriptNotFound reports a transcript that does not exist yet.
	ErrTranscriptNotFound = services.Wrap(services.ErrNotFound, "", "", "Transcript not found or not ready", nil)
	// ErrMedicalDataNotFound reports a session without extraction output.
	ErrMedicalDataNotFound = services.Wrap(services.ErrNotFound, "", "", "Medical data not found", nil)
	// ErrStatusRegression reports a rejected backwards or post-terminal status write.
	ErrStatusRegression = services.Wrap(services.ErrConflict, "", "", "status transition not allowed", nil)
)

// Store persists sessions and their derived artifacts in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the session database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	path := cfg.SessionDBPath()
	db, err := database.Open(context.Background(), path, database.Schema{
		Name:    "session",
		SQL:     schemaSQL,
		Version: schemaVersion,
	})
	if err != nil {
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(database.EnsureContext(ctx))
}

const sessionColumns = "id, status, step, error_message, error_at, filename, file_size, content_type, audio_path, transcript_path, recording_mode, chunks_received, last_chunk_sequence, worker, audio_duration, extraction_status, extraction_error, created_at, updated_at, processing_started_at, processing_completed_at"

// Create inserts a new queued session. The caller assigns the ID.
func (s *Store) Create(ctx context.Context, sess *Session) error {
	if sess == nil || strings.TrimSpace(sess.ID) == "" {
		return services.Wrap(services.ErrValidation, "session", "create", "session id is required", nil)
	}
	created, err := s.insert(ctx, sess, false)
	if err != nil {
		return err
	}
	if !created {
		return services.Wrap(services.ErrConflict, "session", "create", "session already exists", nil)
	}
	return nil
}

// CreateIfAbsent inserts sess unless a session with the same ID exists.
// It reports whether a row was created.
func (s *Store) CreateIfAbsent(ctx context.Context, sess *Session) (bool, error) {
	if sess == nil || strings.TrimSpace(sess.ID) == "" {
		return false, services.Wrap(services.ErrValidation, "session", "create", "session id is required", nil)
	}
	return s.insert(ctx, sess, true)
}

func (s *Store) insert(ctx context.Context, sess *Session, ignore bool) (bool, error) {
	now := time.Now().UTC()
	if sess.Status == "" {
		sess.Status = StatusQueued
	}
	if sess.RecordingMode == "" {
		sess.RecordingMode = ModeUpload
	}
	sess.CreatedAt = now
	sess.UpdatedAt = now

	verb := "INSERT"
	if ignore {
		verb = "INSERT OR IGNORE"
	}
	res, err := database.ExecWithRetry(ctx, s.db,
		verb+` INTO sessions (id, status, step, filename, file_size, content_type, audio_path, recording_mode, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID,
		sess.Status,
		database.NullableString(sess.Step),
		database.NullableString(sess.Filename),
		sess.FileSize,
		database.NullableString(sess.ContentType),
		database.NullableString(sess.AudioPath),
		sess.RecordingMode,
		database.FormatTime(now),
		database.FormatTime(now),
	)
	if err != nil {
		if isConstraint(err) {
			return false, services.Wrap(services.ErrConflict, "session", "create", "session already exists", err)
		}
		return false, fmt.Errorf("insert session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Get returns the session with id or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	ctx = database.EnsureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// List returns sessions newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, limit int, statuses ...Status) ([]*Session, error) {
	ctx = database.EnsureContext(ctx)
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	args := make([]any, 0, len(statuses)+1)
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + database.MakePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += ` ORDER BY created_at DESC, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// UpdateStatus applies a guarded status write. The WHERE clause only matches
// rows whose current status may move to update.Status, so concurrent workers
// and processes cannot regress a session. A rejected write returns
// ErrStatusRegression.
func (s *Store) UpdateStatus(ctx context.Context, id string, update StatusUpdate) (*Session, error) {
	if _, ok := statusRank[update.Status]; !ok {
		return nil, services.Wrap(services.ErrValidation, "session", "update status", fmt.Sprintf("unknown status %q", update.Status), nil)
	}
	from := make([]any, 0, len(allStatuses))
	for _, status := range allStatuses {
		if status.CanTransition(update.Status) {
			from = append(from, status)
		}
	}

	now := time.Now().UTC()
	stamp := database.FormatTime(now)
	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{update.Status, stamp}

	switch update.Status {
	case StatusProcessing:
		sets = append(sets, "step = ?", "processing_started_at = COALESCE(processing_started_at, ?)")
		args = append(args, database.NullableString(update.Step), stamp)
	case StatusCompleted:
		sets = append(sets, "step = NULL", "error_message = NULL", "processing_completed_at = ?")
		args = append(args, stamp)
	case StatusError:
		// step only describes a running session; the failing step moves into
		// the message.
		message := update.Error
		if update.Step != "" && !strings.HasPrefix(message, update.Step+": ") {
			message = update.Step + ": " + message
		}
		sets = append(sets, "step = NULL", "error_message = ?", "error_at = ?")
		args = append(args, message, stamp)
	default:
		if update.Step != "" {
			sets = append(sets, "step = ?")
			args = append(args, update.Step)
		}
	}
	if update.Worker != "" {
		sets = append(sets, "worker = ?")
		args = append(args, update.Worker)
	}
	if update.AudioDuration > 0 {
		sets = append(sets, "audio_duration = ?")
		args = append(args, update.AudioDuration)
	}
	if update.TranscriptPath != "" {
		sets = append(sets, "transcript_path = ?")
		args = append(args, update.TranscriptPath)
	}
	if update.Extraction != ExtractionNone {
		sets = append(sets, "extraction_status = ?")
		args = append(args, update.Extraction)
	}

	args = append(args, id)
	args = append(args, from...)
	query := `UPDATE sessions SET ` + strings.Join(sets, ", ") +
		` WHERE id = ? AND status IN (` + database.MakePlaceholders(len(from)) + `)`
	res, err := database.ExecWithRetry(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update session status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return current, ErrStatusRegression
	}
	return current, nil
}

// TransitionExtraction moves the extraction status to next when the session
// is completed and its current extraction status is one of from. It reports
// whether the write happened.
func (s *Store) TransitionExtraction(ctx context.Context, id string, next ExtractionStatus, errMsg string, from ...ExtractionStatus) (bool, error) {
	query := `UPDATE sessions SET extraction_status = ?, extraction_error = ?, updated_at = ? WHERE id = ? AND status = ?`
	args := []any{next, database.NullableString(errMsg), database.FormatTime(time.Now()), id, StatusCompleted}
	if len(from) > 0 {
		query += ` AND extraction_status IN (` + database.MakePlaceholders(len(from)) + `)`
		for _, status := range from {
			args = append(args, status)
		}
	}
	res, err := database.ExecWithRetry(ctx, s.db, query, args...)
	if err != nil {
		return false, fmt.Errorf("update extraction status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// RecordChunkUpload counts an accepted chunk upload for a streaming session.
// When isLast is set the final sequence is pinned; a different final sequence
// for the same session returns a conflict.
func (s *Store) RecordChunkUpload(ctx context.Context, id string, sequence int, isLast bool) error {
	stamp := database.FormatTime(time.Now())
	if !isLast {
		res, err := database.ExecWithRetry(ctx, s.db,
			`UPDATE sessions SET chunks_received = chunks_received + 1, updated_at = ? WHERE id = ?`,
			stamp, id)
		if err != nil {
			return fmt.Errorf("record chunk upload: %w", err)
		}
		return requireAffected(res)
	}
	res, err := database.ExecWithRetry(ctx, s.db,
		`UPDATE sessions SET chunks_received = chunks_received + 1, last_chunk_sequence = ?, updated_at = ?
        WHERE id = ? AND (last_chunk_sequence IS NULL OR last_chunk_sequence = ?)`,
		sequence, stamp, id, sequence)
	if err != nil {
		return fmt.Errorf("record chunk upload: %w", err)
	}
	if err := requireAffected(res); err != nil {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return getErr
		}
		return services.Wrap(services.ErrConflict, "session", "record chunk", fmt.Sprintf("session already has a different last chunk than %d", sequence), nil)
	}
	return nil
}

// RevertChunkUpload undoes RecordChunkUpload for a chunk whose job could not
// be queued. With unpin set, a last_chunk_sequence equal to sequence is
// cleared as well.
func (s *Store) RevertChunkUpload(ctx context.Context, id string, sequence int, unpin bool) error {
	query := `UPDATE sessions SET chunks_received = MAX(chunks_received - 1, 0), updated_at = ?`
	args := []any{database.FormatTime(time.Now())}
	if unpin {
		query += `, last_chunk_sequence = CASE WHEN last_chunk_sequence = ? THEN NULL ELSE last_chunk_sequence END`
		args = append(args, sequence)
	}
	query += ` WHERE id = ?`
	args = append(args, id)
	res, err := database.ExecWithRetry(ctx, s.db, query, args...)
	if err != nil {
		return fmt.Errorf("revert chunk upload: %w", err)
	}
	return requireAffected(res)
}

// Delete removes a session and, through cascading keys, every derived row.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := database.ExecWithRetry(ctx, s.db, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func isConstraint(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}

func scanSession(scanner interface{ Scan(dest ...any) error }) (*Session, error) {
	var (
		sess           Session
		status         string
		step           sql.NullString
		errorMessage   sql.NullString
		errorAt        sql.NullString
		filename       sql.NullString
		contentType    sql.NullString
		audioPath      sql.NullString
		transcriptPath sql.NullString
		lastChunk      sql.NullInt64
		worker         sql.NullString
		extraction     string
		extractionErr  sql.NullString
		createdRaw     string
		updatedRaw     string
		startedRaw     sql.NullString
		completedRaw   sql.NullString
	)
	if err := scanner.Scan(
		&sess.ID,
		&status,
		&step,
		&errorMessage,
		&errorAt,
		&filename,
		&sess.FileSize,
		&contentType,
		&audioPath,
		&transcriptPath,
		&sess.RecordingMode,
		&sess.ChunksReceived,
		&lastChunk,
		&worker,
		&sess.AudioDuration,
		&extraction,
		&extractionErr,
		&createdRaw,
		&updatedRaw,
		&startedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}
	sess.Status = Status(status)
	sess.Step = step.String
	sess.Error = errorMessage.String
	sess.ErrorAt = database.ParseTimePtr(errorAt.String)
	sess.Filename = filename.String
	sess.ContentType = contentType.String
	sess.AudioPath = audioPath.String
	sess.TranscriptPath = transcriptPath.String
	if lastChunk.Valid {
		seq := int(lastChunk.Int64)
		sess.LastChunkSequence = &seq
	}
	sess.Worker = worker.String
	sess.ExtractionStatus = ExtractionStatus(extraction)
	sess.ExtractionError = extractionErr.String
	if t, err := database.ParseTime(createdRaw); err == nil {
		sess.CreatedAt = t
	}
	if t, err := database.ParseTime(updatedRaw); err == nil {
		sess.UpdatedAt = t
	}
	sess.ProcessingStartedAt = database.ParseTimePtr(startedRaw.String)
	sess.ProcessingCompletedAt = database.ParseTimePtr(completedRaw.String)
	return &sess, nil
}
