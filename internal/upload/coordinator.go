package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"maichart/internal/config"
	"maichart/internal/jobs"
	"maichart/internal/logging"
	"maichart/internal/services"
	"maichart/internal/session"
	"maichart/internal/transcription"
)

// Coordinator accepts uploads and streaming chunks.
type Coordinator struct {
	cfg       *config.Config
	store     *session.Store
	publisher jobs.Publisher
	logger    *slog.Logger
}

// NewCoordinator constructs a coordinator.
func NewCoordinator(cfg *config.Config, store *session.Store, publisher jobs.Publisher, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		cfg:       cfg,
		store:     store,
		publisher: publisher,
		logger:    logging.NewComponentLogger(logger, "upload"),
	}
}

// File describes an incoming audio payload. Size may be -1 when unknown.
type File struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Chunk is one piece of a streaming recording.
type Chunk struct {
	File
	SessionID   string
	Sequence    int
	IsLastChunk bool
}

// Result is returned to the uploader.
type Result struct {
	ID            string `json:"id"`
	Filename      string `json:"filename"`
	FileSize      int64  `json:"file_size"`
	Status        string `json:"status"`
	RecordingMode string `json:"recording_mode"`
	ChunkSequence *int   `json:"chunk_sequence,omitempty"`
	IsLastChunk   bool   `json:"is_last_chunk,omitempty"`
	MessageID     string `json:"message_id,omitempty"`
}

// UploadAudio stores a complete recording, creates a queued session and
// queues it for transcription. The session and file are removed again if the
// job cannot be queued.
func (c *Coordinator) UploadAudio(ctx context.Context, file File) (*Result, error) {
	ext, err := Validate(file.Filename, file.ContentType, file.Size, c.cfg.MaxUploadBytes(), c.cfg.Upload.AllowedExtensions)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	ctx = services.WithSessionID(ctx, id)
	logger := logging.WithContext(ctx, c.logger)

	path := filepath.Join(c.cfg.Paths.UploadDir, id+"."+ext)
	written, err := c.persist(path, file.Body)
	if err != nil {
		return nil, err
	}

	sess := &session.Session{
		ID:            id,
		Filename:      displayName(file.Filename, ext),
		FileSize:      written,
		ContentType:   file.ContentType,
		AudioPath:     path,
		RecordingMode: session.ModeUpload,
	}
	if err := c.store.Create(ctx, sess); err != nil {
		_ = os.Remove(path)
		return nil, services.Wrap(services.ErrTransient, "upload", "create session", "persist session", err)
	}

	job := jobs.AudioJob{
		SessionID:   id,
		FilePath:    path,
		Filename:    sess.Filename,
		FileSize:    written,
		ContentType: file.ContentType,
	}
	msgID, _, err := c.publisher.Publish(ctx, jobs.StreamAudio, jobs.AudioKey(id), job)
	if err != nil {
		c.rollback(ctx, logger, id, path)
		return nil, services.Wrap(services.ErrTransient, "upload", "queue", "Failed to queue audio for processing", err)
	}

	logger.Info("audio uploaded",
		logging.String(logging.FieldEventType, "upload_accepted"),
		logging.String("filename", sess.Filename),
		logging.Int64("file_size", written),
		logging.String(logging.FieldMessageID, msgID),
	)
	return &Result{
		ID:            id,
		Filename:      sess.Filename,
		FileSize:      written,
		Status:        string(session.StatusQueued),
		RecordingMode: session.ModeUpload,
		MessageID:     msgID,
	}, nil
}

// InitializeStreamingSession creates a queued streaming session. An empty id
// is replaced by a new UUID. Calling it again for a live streaming session
// returns that session unchanged.
func (c *Coordinator) InitializeStreamingSession(ctx context.Context, id string) (*session.Session, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if !ValidSessionID(id) {
		return nil, services.Wrap(services.ErrValidation, "", "", "Invalid session_id", nil)
	}
	sess, _, err := c.ensureStreaming(ctx, id)
	return sess, err
}

// UploadChunk stores one streaming chunk and queues it for transcription. The
// session is created on the first chunk if it was not initialized.
func (c *Coordinator) UploadChunk(ctx context.Context, chunk Chunk) (*Result, error) {
	if !ValidSessionID(chunk.SessionID) {
		return nil, services.Wrap(services.ErrValidation, "", "", "Invalid session_id", nil)
	}
	if chunk.Sequence < 0 {
		return nil, services.Wrap(services.ErrValidation, "", "", "chunk_sequence must be non-negative", nil)
	}
	ext, err := Validate(chunk.Filename, chunk.ContentType, chunk.Size, c.cfg.MaxUploadBytes(), c.cfg.Upload.AllowedExtensions)
	if err != nil {
		return nil, err
	}
	ctx = services.WithSessionID(ctx, chunk.SessionID)
	logger := logging.WithContext(ctx, c.logger).With(logging.Int("chunk_sequence", chunk.Sequence))

	sess, created, err := c.ensureStreaming(ctx, chunk.SessionID)
	if err != nil {
		return nil, err
	}
	if last := sess.LastChunkSequence; last != nil && chunk.Sequence > *last {
		return nil, services.Wrap(services.ErrConflict, "", "", fmt.Sprintf("chunk %d is beyond final chunk %d", chunk.Sequence, *last), nil)
	}

	path := filepath.Join(c.chunkDir(sess.ID), "chunk_"+strconv.Itoa(chunk.Sequence)+"."+ext)
	written, err := c.persist(path, chunk.Body)
	if err != nil {
		if created {
			c.rollback(ctx, logger, sess.ID, "")
		}
		return nil, err
	}
	if err := c.store.RecordChunkUpload(ctx, sess.ID, chunk.Sequence, chunk.IsLastChunk); err != nil {
		_ = os.Remove(path)
		if created {
			c.rollback(ctx, logger, sess.ID, "")
		}
		return nil, err
	}

	job := jobs.ChunkJob{
		SessionID:   sess.ID,
		Sequence:    chunk.Sequence,
		IsLastChunk: chunk.IsLastChunk,
		FilePath:    path,
		Filename:    filepath.Base(path),
		FileSize:    written,
	}
	msgID, _, err := c.publisher.Publish(ctx, jobs.StreamChunks, jobs.ChunkKey(sess.ID, chunk.Sequence), job)
	if err != nil {
		_ = os.Remove(path)
		if created {
			c.rollback(ctx, logger, sess.ID, "")
		} else {
			unpin := chunk.IsLastChunk && sess.LastChunkSequence == nil
			if revertErr := c.store.RevertChunkUpload(ctx, sess.ID, chunk.Sequence, unpin); revertErr != nil {
				logging.WarnWithContext(logger, "chunk bookkeeping not reverted", "chunk_revert_failed",
					logging.Error(revertErr),
					logging.String(logging.FieldImpact, "chunks_received overcounts the queued chunks"),
				)
			}
		}
		return nil, services.Wrap(services.ErrTransient, "upload", "queue", "Failed to queue chunk for processing", err)
	}

	logger.Info("chunk uploaded",
		logging.String(logging.FieldEventType, "chunk_accepted"),
		logging.Bool("is_last_chunk", chunk.IsLastChunk),
		logging.Int64("file_size", written),
	)
	seq := chunk.Sequence
	return &Result{
		ID:            sess.ID,
		Filename:      sess.Filename,
		FileSize:      written,
		Status:        string(sess.Status),
		RecordingMode: session.ModeStreaming,
		ChunkSequence: &seq,
		IsLastChunk:   chunk.IsLastChunk,
		MessageID:     msgID,
	}, nil
}

// Remove deletes a session with every derived row and file. It reports
// ErrNotFound for unknown ids.
func (c *Coordinator) Remove(ctx context.Context, id string) error {
	deleted, err := c.store.Delete(ctx, id)
	if err != nil {
		return services.Wrap(services.ErrTransient, "upload", "cleanup", "delete session", err)
	}
	if !deleted {
		return session.ErrNotFound
	}
	if err := RemoveArtifacts(c.cfg, id); err != nil {
		logging.WarnWithContext(logging.WithContext(services.WithSessionID(ctx, id), c.logger),
			"session files not fully removed", "cleanup_partial",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove leftover files under upload_dir manually"),
		)
	}
	return nil
}

// RemoveArtifacts deletes the audio, chunk and transcript files of a session.
func RemoveArtifacts(cfg *config.Config, id string) error {
	if !ValidSessionID(id) {
		return nil
	}
	var errs []error
	matches, _ := filepath.Glob(filepath.Join(cfg.Paths.UploadDir, id+".*"))
	for _, path := range matches {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := os.RemoveAll(filepath.Join(cfg.Paths.UploadDir, id)); err != nil {
		errs = append(errs, err)
	}
	if err := os.Remove(transcription.ExportPath(cfg.Paths.TranscriptDir, id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Coordinator) ensureStreaming(ctx context.Context, id string) (*session.Session, bool, error) {
	created, err := c.store.CreateIfAbsent(ctx, &session.Session{
		ID:            id,
		Filename:      "recording_" + time.Now().UTC().Format("20060102_150405") + ".webm",
		RecordingMode: session.ModeStreaming,
	})
	if err != nil {
		return nil, false, services.Wrap(services.ErrTransient, "upload", "create session", "persist session", err)
	}
	sess, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !sess.IsStreaming() {
		return nil, false, services.Wrap(services.ErrConflict, "", "", "Session is not a streaming session", nil)
	}
	if sess.Status.IsTerminal() {
		return nil, false, services.Wrap(services.ErrConflict, "", "", fmt.Sprintf("Session already %s", sess.Status), nil)
	}
	if created {
		logging.WithContext(ctx, c.logger).Info("streaming session initialized",
			logging.String(logging.FieldEventType, "streaming_session_created"),
		)
	}
	return sess, created, nil
}

func (c *Coordinator) chunkDir(id string) string {
	return filepath.Join(c.cfg.Paths.UploadDir, id)
}

// persist copies body to path, enforcing the upload cap on the bytes actually
// read. Partial files are removed on failure.
func (c *Coordinator) persist(path string, body io.Reader) (int64, error) {
	if body == nil {
		return 0, services.Wrap(services.ErrValidation, "", "", "No audio file provided", nil)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, services.Wrap(services.ErrTransient, "upload", "persist", "create upload directory", err)
	}
	out, err := os.Create(path)
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "upload", "persist", "create file", err)
	}
	limit := c.cfg.MaxUploadBytes()
	reader := body
	if limit > 0 {
		reader = io.LimitReader(body, limit+1)
	}
	written, copyErr := io.Copy(out, reader)
	closeErr := out.Close()
	switch {
	case copyErr != nil:
		_ = os.Remove(path)
		return 0, services.Wrap(services.ErrTransient, "upload", "persist", "write file", copyErr)
	case closeErr != nil:
		_ = os.Remove(path)
		return 0, services.Wrap(services.ErrTransient, "upload", "persist", "close file", closeErr)
	case limit > 0 && written > limit:
		_ = os.Remove(path)
		return 0, tooLarge(limit)
	case written == 0:
		_ = os.Remove(path)
		return 0, services.Wrap(services.ErrValidation, "", "", "No audio file provided", nil)
	}
	return written, nil
}

func (c *Coordinator) rollback(ctx context.Context, logger *slog.Logger, id, path string) {
	if path != "" {
		_ = os.Remove(path)
	}
	if _, err := c.store.Delete(ctx, id); err != nil {
		logging.WarnWithContext(logger, "rollback failed", "upload_rollback_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "an orphan queued session remains until expiry"),
		)
	}
	_ = os.RemoveAll(c.chunkDir(id))
}

func displayName(name, ext string) string {
	base := filepath.Base(name)
	if base == "." || base == "/" || base == "" {
		return "recording." + ext
	}
	return base
}
