package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"maichart/internal/config"
	"maichart/internal/jobs"
	"maichart/internal/logging"
	"maichart/internal/queue"
	"maichart/internal/services"
	"maichart/internal/session"
	"maichart/internal/stage"
)

// ChunkStage transcribes streaming chunks and assembles the final transcript.
type ChunkStage struct {
	finisher
	transcriber Transcriber
}

// NewChunkStage builds the handler for the audio_chunks stream.
func NewChunkStage(cfg *config.Config, store *session.Store, publisher jobs.Publisher, transcriber Transcriber, logger *slog.Logger) *ChunkStage {
	return &ChunkStage{
		finisher: finisher{
			cfg:       cfg,
			store:     store,
			publisher: publisher,
			logger:    logging.NewComponentLogger(logger, "chunk-transcription"),
		},
		transcriber: transcriber,
	}
}

// Handle processes one streaming chunk.
func (s *ChunkStage) Handle(ctx context.Context, delivery *queue.Delivery) error {
	var job jobs.ChunkJob
	if err := delivery.Decode(&job); err != nil {
		return services.Wrap(services.ErrValidation, "transcription", "decode job", "malformed chunk job", err)
	}
	if strings.TrimSpace(job.SessionID) == "" || job.Sequence < 0 {
		return services.Wrap(services.ErrValidation, "transcription", "decode job", "chunk job missing session_id or sequence", nil)
	}
	ctx = services.WithSessionID(ctx, job.SessionID)
	logger := logging.WithContext(ctx, s.logger).With(logging.Int("chunk_sequence", job.Sequence))

	sess, err := s.store.Get(ctx, job.SessionID)
	if errors.Is(err, session.ErrNotFound) {
		logger.Info("session no longer exists, dropping chunk", logging.String(logging.FieldEventType, "session_missing"))
		return nil
	}
	if err != nil {
		return services.Wrap(services.ErrTransient, "transcription", "load session", "read session", err)
	}
	if sess.Status.IsTerminal() {
		logger.Info("session already settled, skipping chunk",
			logging.String(logging.FieldEventType, "duplicate_delivery"),
			logging.String("status", string(sess.Status)),
		)
		return nil
	}

	if last := sess.LastChunkSequence; last != nil {
		if job.Sequence > *last {
			return s.fail(ctx, sess.ID, session.StepProcessingAudio, services.Wrap(services.ErrConflict, "transcription", "chunk order",
				fmt.Sprintf("chunk %d arrived after final chunk %d", job.Sequence, *last), nil))
		}
		if job.IsLastChunk && job.Sequence != *last {
			return s.fail(ctx, sess.ID, session.StepProcessingAudio, services.Wrap(services.ErrConflict, "transcription", "chunk order",
				fmt.Sprintf("chunk %d marked last but final chunk is %d", job.Sequence, *last), nil))
		}
	}

	if err := s.step(ctx, sess.ID, session.StepProcessingAudio); err != nil {
		return skipIfSettled(err)
	}
	result, err := s.transcriber.Transcribe(ctx, job.FilePath)
	if err != nil {
		if services.IsRetryable(err) || errors.Is(err, context.Canceled) {
			return err
		}
		return s.fail(ctx, sess.ID, session.StepProcessingAudio, err)
	}
	if err := s.store.UpsertChunk(ctx, session.ChunkTranscript{
		SessionID:   sess.ID,
		Sequence:    job.Sequence,
		Text:        result.Text,
		Confidence:  result.Confidence,
		Duration:    result.Duration,
		IsLastChunk: job.IsLastChunk,
	}); err != nil {
		return services.Wrap(services.ErrTransient, "transcription", "save chunk", "persist chunk transcript", err)
	}
	logger.Info("chunk transcribed",
		logging.String(logging.FieldEventType, "chunk_transcribed"),
		logging.Bool("is_last_chunk", job.IsLastChunk),
	)
	return s.tryFinalize(ctx, logger, job)
}

// tryFinalize completes the session when the final sequence is known and every
// chunk up to it has a transcript. Otherwise it waits for later deliveries.
func (s *ChunkStage) tryFinalize(ctx context.Context, logger *slog.Logger, job jobs.ChunkJob) error {
	sess, err := s.store.Get(ctx, job.SessionID)
	if err != nil {
		return skipMissing(err)
	}
	if sess.Status.IsTerminal() {
		return nil
	}
	chunks, err := s.store.ListChunks(ctx, sess.ID)
	if err != nil {
		return services.Wrap(services.ErrTransient, "transcription", "list chunks", "read chunk transcripts", err)
	}

	last := -1
	if sess.LastChunkSequence != nil {
		last = *sess.LastChunkSequence
	}
	for _, chunk := range chunks {
		if chunk.IsLastChunk && last < 0 {
			last = chunk.Sequence
		}
	}
	if last < 0 {
		return nil
	}
	transcript, ready := Assemble(chunks, last)
	if !ready {
		logger.Debug("waiting for remaining chunks",
			logging.Int("received", len(chunks)),
			logging.Int("last_sequence", last),
		)
		return nil
	}
	transcript.Filename = sess.Filename
	return s.complete(ctx, sess, transcript)
}

// Assemble joins chunk transcripts 0..last in sequence order. It reports
// false when any sequence in that range is missing. Confidence is the
// duration-weighted mean and duration is the sum.
func Assemble(chunks []session.ChunkTranscript, last int) (session.Transcript, bool) {
	bySeq := make(map[int]session.ChunkTranscript, len(chunks))
	for _, chunk := range chunks {
		bySeq[chunk.Sequence] = chunk
	}
	var (
		parts    []string
		duration float64
		weighted float64
		plain    float64
	)
	for seq := 0; seq <= last; seq++ {
		chunk, ok := bySeq[seq]
		if !ok {
			return session.Transcript{}, false
		}
		if text := strings.TrimSpace(chunk.Text); text != "" {
			parts = append(parts, text)
		}
		duration += chunk.Duration
		weighted += chunk.Confidence * chunk.Duration
		plain += chunk.Confidence
	}
	confidence := plain / float64(last+1)
	if duration > 0 {
		confidence = weighted / duration
	}
	return session.Transcript{
		Text:       strings.Join(parts, " "),
		Confidence: confidence,
		Duration:   duration,
	}, true
}

// DeadLetter fails the session once a chunk exhausted its deliveries.
func (s *ChunkStage) DeadLetter(ctx context.Context, delivery *queue.Delivery, reason string) error {
	var job jobs.ChunkJob
	if err := delivery.Decode(&job); err != nil {
		return nil
	}
	return s.deadLetter(ctx, job.SessionID, fmt.Sprintf("chunk %d: %s", job.Sequence, reason))
}

// HealthCheck reports whether the stage can reach its dependencies.
func (s *ChunkStage) HealthCheck(ctx context.Context) stage.Health {
	return healthOf(ctx, "chunk-transcription", s.store, s.transcriber)
}

func skipMissing(err error) error {
	if errors.Is(err, session.ErrNotFound) {
		return nil
	}
	return services.Wrap(services.ErrTransient, "transcription", "load session", "read session", err)
}
