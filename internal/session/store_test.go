package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"maichart/internal/services"
	"maichart/internal/session"
	"maichart/internal/testsupport"
)

func TestCreateAndGet(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenSessions(t, cfg)

	ctx := context.Background()
	sess := testsupport.NewSession(t, store, "visit.webm")

	fetched, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fetched.Status != session.StatusQueued {
		t.Fatalf("expected queued, got %s", fetched.Status)
	}
	if fetched.Filename != "visit.webm" || fetched.RecordingMode != session.ModeUpload {
		t.Fatalf("unexpected session: %#v", fetched)
	}

	if err := store.Create(ctx, &session.Session{ID: sess.ID}); services.Kind(err) != services.KindConflict {
		t.Fatalf("expected conflict on duplicate create, got %v", err)
	}
}

func TestGetMissingSession(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenSessions(t, cfg)

	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if services.Message(err) != "Session not found" {
		t.Fatalf("unexpected message %q", services.Message(err))
	}
}

func TestCreateIfAbsentIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenSessions(t, cfg)

	ctx := context.Background()
	sess := &session.Session{ID: "stream-1", RecordingMode: session.ModeStreaming}
	created, err := store.CreateIfAbsent(ctx, sess)
	if err != nil || !created {
		t.Fatalf("first CreateIfAbsent: created=%v err=%v", created, err)
	}
	created, err = store.CreateIfAbsent(ctx, &session.Session{ID: "stream-1", RecordingMode: session.ModeStreaming})
	if err != nil || created {
		t.Fatalf("second CreateIfAbsent: created=%v err=%v", created, err)
	}
}

func TestStatusMovesForwardOnly(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenSessions(t, cfg)

	ctx := context.Background()
	sess := testsupport.NewSession(t, store, "a.wav")

	updated, err := store.UpdateStatus(ctx, sess.ID, session.StatusUpdate{Status: session.StatusProcessing, Step: session.StepAnalyzingAudio})
	if err != nil {
		t.Fatalf("to processing: %v", err)
	}
	if updated.Step != session.StepAnalyzingAudio || updated.ProcessingStartedAt == nil {
		t.Fatalf("unexpected processing session: %#v", updated)
	}
	if _, err := store.UpdateStatus(ctx, sess.ID, session.StatusUpdate{Status: session.StatusProcessing, Step: session.StepSavingTranscript}); err != nil {
		t.Fatalf("step update: %v", err)
	}
	if _, err := store.UpdateStatus(ctx, sess.ID, session.StatusUpdate{Status: session.StatusQueued}); !errors.Is(err, session.ErrStatusRegression) {
		t.Fatalf("expected regression error, got %v", err)
	}
	done, err := store.UpdateStatus(ctx, sess.ID, session.StatusUpdate{Status: session.StatusCompleted, AudioDuration: 4.5})
	if err != nil {
		t.Fatalf("to completed: %v", err)
	}
	if done.Step != "" || done.ProcessingCompletedAt == nil || done.AudioDuration != 4.5 {
		t.Fatalf("unexpected completed session: %#v", done)
	}

	for _, next := range []session.Status{session.StatusQueued, session.StatusProcessing, session.StatusError, session.StatusCompleted} {
		current, err := store.UpdateStatus(ctx, sess.ID, session.StatusUpdate{Status: next, Error: "late"})
		if !errors.Is(err, session.ErrStatusRegression) {
			t.Fatalf("%s after completed: expected regression, got %v", next, err)
		}
		if current.Status != session.StatusCompleted {
			t.Fatalf("status changed to %s", current.Status)
		}
	}
}

func TestErrorRecordsMessage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenSessions(t, cfg)

	ctx := context.Background()
	sess := testsupport.NewSession(t, store, "a.wav")
	failed, err := store.UpdateStatus(ctx, sess.ID, session.StatusUpdate{Status: session.StatusError, Error: "audio file is empty"})
	if err != nil {
		t.Fatalf("to error: %v", err)
	}
	if failed.Error != "audio file is empty" || failed.ErrorAt == nil {
		t.Fatalf("unexpected error session: %#v", failed)
	}
}

func TestUpdateStatusMissingSession(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenSessions(t, cfg)

	_, err := store.UpdateStatus(context.Background(), "nope", session.StatusUpdate{Status: session.StatusProcessing})
	if !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTransitionExtractionRequiresCompletedSession(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenSessions(t, cfg)

	ctx := context.Background()
	sess := testsupport.NewSession(t, store, "a.wav")
	ok, err := store.TransitionExtraction(ctx, sess.ID, session.ExtractionPending, "")
	if err != nil || ok {
		t.Fatalf("expected no transition on queued session, ok=%v err=%v", ok, err)
	}

	testsupport.CompleteSession(t, store, sess.ID, "patient reports headache")
	ok, err = store.TransitionExtraction(ctx, sess.ID, session.ExtractionPending, "")
	if err != nil || !ok {
		t.Fatalf("expected pending transition, ok=%v err=%v", ok, err)
	}
	ok, err = store.TransitionExtraction(ctx, sess.ID, session.ExtractionProcessing, "", session.ExtractionCompleted)
	if err != nil || ok {
		t.Fatalf("expected guarded transition to be rejected, ok=%v err=%v", ok, err)
	}
	ok, err = store.TransitionExtraction(ctx, sess.ID, session.ExtractionError, "llm down", session.ExtractionPending)
	if err != nil || !ok {
		t.Fatalf("expected error transition, ok=%v err=%v", ok, err)
	}
	fetched, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fetched.Status != session.StatusCompleted {
		t.Fatalf("extraction failure must not change status, got %s", fetched.Status)
	}
	if fetched.ExtractionStatus != session.ExtractionError || fetched.ExtractionError != "llm down" {
		t.Fatalf("unexpected extraction fields: %#v", fetched)
	}
}

func TestRecordChunkUploadPinsLastSequence(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenSessions(t, cfg)

	ctx := context.Background()
	if _, err := store.CreateIfAbsent(ctx, &session.Session{ID: "s", RecordingMode: session.ModeStreaming}); err != nil {
		t.Fatalf("CreateIfAbsent: %v", err)
	}
	if err := store.RecordChunkUpload(ctx, "s", 0, false); err != nil {
		t.Fatalf("chunk 0: %v", err)
	}
	if err := store.RecordChunkUpload(ctx, "s", 1, true); err != nil {
		t.Fatalf("chunk 1: %v", err)
	}
	if err := store.RecordChunkUpload(ctx, "s", 1, true); err != nil {
		t.Fatalf("repeat of last chunk: %v", err)
	}
	if err := store.RecordChunkUpload(ctx, "s", 3, true); services.Kind(err) != services.KindConflict {
		t.Fatalf("expected conflict for second last chunk, got %v", err)
	}
	if err := store.RecordChunkUpload(ctx, "missing", 0, false); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	fetched, err := store.Get(ctx, "s")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fetched.ChunksReceived != 3 || fetched.LastChunkSequence == nil || *fetched.LastChunkSequence != 1 {
		t.Fatalf("unexpected chunk tracking: %#v", fetched)
	}
}

func TestChunkUpsertDeduplicates(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenSessions(t, cfg)

	ctx := context.Background()
	sess := testsupport.NewSession(t, store, "a.webm")
	for _, chunk := range []session.ChunkTranscript{
		{SessionID: sess.ID, Sequence: 1, Text: "second"},
		{SessionID: sess.ID, Sequence: 0, Text: "first draft"},
		{SessionID: sess.ID, Sequence: 0, Text: "first"},
	} {
		if err := store.UpsertChunk(ctx, chunk); err != nil {
			t.Fatalf("UpsertChunk: %v", err)
		}
	}
	chunks, err := store.ListChunks(ctx, sess.ID)
	if err != nil {
		t.Fatalf("ListChunks: %v", err)
	}
	if len(chunks) != 2 || chunks[0].Text != "first" || chunks[1].Text != "second" {
		t.Fatalf("unexpected chunks: %#v", chunks)
	}
}

func TestDeleteCascades(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenSessions(t, cfg)

	ctx := context.Background()
	sess := testsupport.NewSession(t, store, "a.wav")
	testsupport.CompleteSession(t, store, sess.ID, "chest pain for two days")
	if err := store.SaveMedicalData(ctx, session.MedicalData{SessionID: sess.ID, Symptoms: []string{"chest pain"}}); err != nil {
		t.Fatalf("SaveMedicalData: %v", err)
	}
	if err := store.ReplaceAlerts(ctx, sess.ID, []session.MedicalAlert{{Priority: session.PriorityHigh, Title: "t", Message: "m"}}); err != nil {
		t.Fatalf("ReplaceAlerts: %v", err)
	}

	deleted, err := store.Delete(ctx, sess.ID)
	if err != nil || !deleted {
		t.Fatalf("Delete: deleted=%v err=%v", deleted, err)
	}
	if _, err := store.GetTranscript(ctx, sess.ID); !errors.Is(err, session.ErrTranscriptNotFound) {
		t.Fatalf("expected transcript gone, got %v", err)
	}
	if _, err := store.GetMedicalData(ctx, sess.ID); !errors.Is(err, session.ErrMedicalDataNotFound) {
		t.Fatalf("expected medical data gone, got %v", err)
	}
	alerts, err := store.ListAlerts(ctx, sess.ID)
	if err != nil || len(alerts) != 0 {
		t.Fatalf("expected alerts gone, got %d err=%v", len(alerts), err)
	}
	deleted, err = store.Delete(ctx, sess.ID)
	if err != nil || deleted {
		t.Fatalf("second Delete: deleted=%v err=%v", deleted, err)
	}
}

func TestAlertsOrderedByPriority(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenSessions(t, cfg)

	ctx := context.Background()
	sess := testsupport.NewSession(t, store, "a.wav")
	alerts := []session.MedicalAlert{
		{Priority: session.PriorityLow, Title: "low", Message: "m"},
		{Priority: session.PriorityCritical, Title: "critical", Message: "m", Details: []string{"penicillin"}},
		{Priority: session.PriorityMedium, Title: "medium", Message: "m"},
	}
	if err := store.ReplaceAlerts(ctx, sess.ID, alerts); err != nil {
		t.Fatalf("ReplaceAlerts: %v", err)
	}
	if err := store.ReplaceAlerts(ctx, sess.ID, alerts); err != nil {
		t.Fatalf("ReplaceAlerts again: %v", err)
	}
	got, err := store.ListAlerts(ctx, sess.ID)
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 alerts after replace, got %d", len(got))
	}
	if got[0].Title != "critical" || got[1].Title != "medium" || got[2].Title != "low" {
		t.Fatalf("unexpected order: %s, %s, %s", got[0].Title, got[1].Title, got[2].Title)
	}
	if len(got[0].Details) != 1 || got[0].Details[0] != "penicillin" {
		t.Fatalf("details not preserved: %#v", got[0].Details)
	}
}

func TestListNotesOnlyCompletedNewestFirst(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenSessions(t, cfg)

	ctx := context.Background()
	first := testsupport.NewSession(t, store, "first.wav")
	testsupport.CompleteSession(t, store, first.ID, "one two three")
	time.Sleep(5 * time.Millisecond)
	second := testsupport.NewSession(t, store, "second.wav")
	testsupport.CompleteSession(t, store, second.ID, "four five")
	pending := testsupport.NewSession(t, store, "pending.wav")
	if err := store.SaveTranscript(ctx, session.Transcript{SessionID: pending.ID, Text: "not done"}); err != nil {
		t.Fatalf("SaveTranscript: %v", err)
	}

	notes, err := store.ListNotes(ctx, 0)
	if err != nil {
		t.Fatalf("ListNotes: %v", err)
	}
	if len(notes) != 2 {
		t.Fatalf("expected 2 notes, got %d", len(notes))
	}
	if notes[0].SessionID != second.ID || notes[1].SessionID != first.ID {
		t.Fatalf("expected newest first, got %s then %s", notes[0].Filename, notes[1].Filename)
	}
	if notes[1].WordCount != 3 || notes[1].Filename != "first.wav" {
		t.Fatalf("unexpected note: %#v", notes[1])
	}
}

func TestExpireBeforeSkipsProcessing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenSessions(t, cfg)

	ctx := context.Background()
	done := testsupport.NewSession(t, store, "done.wav")
	testsupport.CompleteSession(t, store, done.ID, "text")
	busy := testsupport.NewSession(t, store, "busy.wav")
	if _, err := store.UpdateStatus(ctx, busy.ID, session.StatusUpdate{Status: session.StatusProcessing}); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	expired, err := store.ExpireBefore(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("ExpireBefore: %v", err)
	}
	if len(expired) != 1 || expired[0] != done.ID {
		t.Fatalf("unexpected expired ids: %v", expired)
	}
	if _, err := store.Get(ctx, busy.ID); err != nil {
		t.Fatalf("processing session should survive: %v", err)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Total != 1 || health.Processing != 1 {
		t.Fatalf("unexpected health: %#v", health)
	}
}

func TestExpireDeleteRechecksStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenSessions(t, cfg)

	ctx := context.Background()
	sess := testsupport.NewSession(t, store, "late.wav")
	cutoff := time.Now().Add(time.Minute)
	// Picked up by a worker after the expiry scan selected it.
	if _, err := store.UpdateStatus(ctx, sess.ID, session.StatusUpdate{Status: session.StatusProcessing, Step: session.StepAnalyzingAudio}); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	deleted, err := store.ExpireOne(ctx, sess.ID, cutoff)
	if err != nil {
		t.Fatalf("ExpireOne: %v", err)
	}
	if deleted {
		t.Fatal("processing session must not be deleted")
	}
	if _, err := store.Get(ctx, sess.ID); err != nil {
		t.Fatalf("session should survive: %v", err)
	}

	if _, err := store.UpdateStatus(ctx, sess.ID, session.StatusUpdate{Status: session.StatusError, Error: "boom"}); err != nil {
		t.Fatalf("to error: %v", err)
	}
	if deleted, err := store.ExpireOne(ctx, sess.ID, time.Now().Add(-time.Hour)); err != nil || deleted {
		t.Fatalf("recently updated session must not be deleted: deleted=%v err=%v", deleted, err)
	}
	if deleted, err := store.ExpireOne(ctx, sess.ID, cutoff); err != nil || !deleted {
		t.Fatalf("expected stale error session deleted: deleted=%v err=%v", deleted, err)
	}
}

func TestErrorTransitionClearsStep(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenSessions(t, cfg)

	ctx := context.Background()
	sess := testsupport.NewSession(t, store, "a.wav")
	if _, err := store.UpdateStatus(ctx, sess.ID, session.StatusUpdate{Status: session.StatusProcessing, Step: session.StepProcessingAudio}); err != nil {
		t.Fatalf("to processing: %v", err)
	}
	failed, err := store.UpdateStatus(ctx, sess.ID, session.StatusUpdate{
		Status: session.StatusError,
		Step:   session.StepProcessingAudio,
		Error:  "transcription service rejected the audio",
	})
	if err != nil {
		t.Fatalf("to error: %v", err)
	}
	if failed.Step != "" {
		t.Fatalf("expected step cleared on error, got %q", failed.Step)
	}
	if failed.Error != "processing_audio: transcription service rejected the audio" {
		t.Fatalf("expected failing step in message, got %q", failed.Error)
	}
}

func TestRevertChunkUpload(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenSessions(t, cfg)

	ctx := context.Background()
	if _, err := store.CreateIfAbsent(ctx, &session.Session{ID: "s", Filename: "r.webm", RecordingMode: session.ModeStreaming}); err != nil {
		t.Fatalf("CreateIfAbsent: %v", err)
	}
	if err := store.RecordChunkUpload(ctx, "s", 0, false); err != nil {
		t.Fatalf("record 0: %v", err)
	}
	if err := store.RecordChunkUpload(ctx, "s", 3, true); err != nil {
		t.Fatalf("record 3: %v", err)
	}
	if err := store.RevertChunkUpload(ctx, "s", 3, true); err != nil {
		t.Fatalf("RevertChunkUpload: %v", err)
	}
	got, err := store.Get(ctx, "s")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ChunksReceived != 1 || got.LastChunkSequence != nil {
		t.Fatalf("unexpected bookkeeping chunks=%d last=%v", got.ChunksReceived, got.LastChunkSequence)
	}
	if err := store.RecordChunkUpload(ctx, "s", 2, true); err != nil {
		t.Fatalf("new final chunk should be accepted: %v", err)
	}
	if err := store.RevertChunkUpload(ctx, "missing", 0, false); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStalledStreams(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenSessions(t, cfg)

	ctx := context.Background()
	for _, id := range []string{"stream-busy", "stream-queued"} {
		if _, err := store.CreateIfAbsent(ctx, &session.Session{ID: id, Filename: id + ".webm", RecordingMode: session.ModeStreaming}); err != nil {
			t.Fatalf("CreateIfAbsent: %v", err)
		}
	}
	if _, err := store.UpdateStatus(ctx, "stream-busy", session.StatusUpdate{Status: session.StatusProcessing, Step: session.StepProcessingAudio}); err != nil {
		t.Fatalf("to processing: %v", err)
	}
	upload := testsupport.NewSession(t, store, "single.wav")
	if _, err := store.UpdateStatus(ctx, upload.ID, session.StatusUpdate{Status: session.StatusProcessing}); err != nil {
		t.Fatalf("to processing: %v", err)
	}

	none, err := store.StalledStreams(ctx, time.Now().Add(-time.Minute))
	if err != nil || len(none) != 0 {
		t.Fatalf("fresh sessions are not stalled: %v %v", none, err)
	}
	stalled, err := store.StalledStreams(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("StalledStreams: %v", err)
	}
	if len(stalled) != 1 || stalled[0].ID != "stream-busy" {
		t.Fatalf("expected only the processing stream, got %v", stalled)
	}
}
