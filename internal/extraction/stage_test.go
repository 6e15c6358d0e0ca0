package extraction_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"maichart/internal/config"
	"maichart/internal/extraction"
	"maichart/internal/jobs"
	"maichart/internal/logging"
	"maichart/internal/notifications"
	"maichart/internal/queue"
	"maichart/internal/services"
	"maichart/internal/session"
	"maichart/internal/testsupport"
)

type fakeExtractor struct {
	data  session.MedicalData
	err   error
	calls int
}

func (f *fakeExtractor) Extract(_ context.Context, transcript string) (session.MedicalData, error) {
	f.calls++
	if f.err != nil {
		return session.MedicalData{}, f.err
	}
	out := f.data
	out.ExtractionMetadata.TranscriptLength = len(transcript)
	return out, nil
}

func extractionDelivery(t *testing.T, id string, count int) *queue.Delivery {
	t.Helper()
	raw, err := json.Marshal(jobs.ExtractionJob{SessionID: id, Trigger: jobs.TriggerAuto})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &queue.Delivery{
		Message:       queue.Message{ID: "m1", Stream: jobs.StreamExtraction, Payload: raw},
		DeliveryCount: count,
	}
}

func setup(t *testing.T, opts ...testsupport.ConfigOption) (*config.Config, *session.Store, *queue.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	return cfg, testsupport.MustOpenSessions(t, cfg), testsupport.MustOpenQueue(t, cfg)
}

func TestStageStoresDataAndAlerts(t *testing.T) {
	cfg, store, _ := setup(t)
	ctx := context.Background()
	sess := testsupport.NewSession(t, store, "visit.wav")
	testsupport.CompleteSession(t, store, sess.ID, "patient is allergic to penicillin")

	fake := &fakeExtractor{data: session.MedicalData{Allergies: []string{"penicillin"}}}
	stage := extraction.NewStage(cfg, store, fake, logging.NewNop())
	if err := stage.Handle(ctx, extractionDelivery(t, sess.ID, 1)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	data, err := store.GetMedicalData(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetMedicalData: %v", err)
	}
	if len(data.Allergies) != 1 || data.Allergies[0] != "penicillin" {
		t.Fatalf("unexpected allergies %v", data.Allergies)
	}
	alerts, err := store.ListAlerts(ctx, sess.ID)
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	if len(alerts) != 1 || alerts[0].Priority != session.PriorityCritical {
		t.Fatalf("unexpected alerts %+v", alerts)
	}
	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ExtractionStatus != session.ExtractionCompleted || got.Status != session.StatusCompleted {
		t.Fatalf("unexpected state %s/%s", got.Status, got.ExtractionStatus)
	}
}

type recordingNotifier struct {
	payloads []notifications.Payload
	err      error
}

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	if event == notifications.EventMedicalAlert {
		r.payloads = append(r.payloads, payload)
	}
	return r.err
}

func TestStageNotifiesAlertsAboveThreshold(t *testing.T) {
	cfg, store, _ := setup(t)
	ctx := context.Background()
	sess := testsupport.NewSession(t, store, "visit.wav")
	testsupport.CompleteSession(t, store, sess.ID, "long consult")

	fake := &fakeExtractor{data: session.MedicalData{
		Allergies:       []string{"latex"},
		ChronicDiseases: []string{"diabetes", "hypertension", "asthma"},
	}}
	notifier := &recordingNotifier{}
	stage := extraction.NewStage(cfg, store, fake, logging.NewNop())
	stage.SetNotifier(notifier)
	if err := stage.Handle(ctx, extractionDelivery(t, sess.ID, 1)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(notifier.payloads) != 1 {
		t.Fatalf("expected only the critical alert pushed, got %v", notifier.payloads)
	}
	if notifier.payloads[0]["priority"] != "critical" || notifier.payloads[0]["sessionID"] != sess.ID {
		t.Fatalf("unexpected payload %v", notifier.payloads[0])
	}
}

func TestStageNotificationFailureDoesNotFailJob(t *testing.T) {
	cfg, store, _ := setup(t)
	ctx := context.Background()
	sess := testsupport.NewSession(t, store, "visit.wav")
	testsupport.CompleteSession(t, store, sess.ID, "allergic to nuts")

	fake := &fakeExtractor{data: session.MedicalData{Allergies: []string{"nuts"}}}
	stage := extraction.NewStage(cfg, store, fake, logging.NewNop())
	stage.SetNotifier(&recordingNotifier{err: errors.New("ntfy down")})
	if err := stage.Handle(ctx, extractionDelivery(t, sess.ID, 1)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got, _ := store.Get(ctx, sess.ID); got.ExtractionStatus != session.ExtractionCompleted {
		t.Fatalf("expected completed, got %q", got.ExtractionStatus)
	}
}

func TestStageFailureKeepsSessionCompleted(t *testing.T) {
	cfg, store, _ := setup(t)
	ctx := context.Background()
	sess := testsupport.NewSession(t, store, "visit.wav")
	testsupport.CompleteSession(t, store, sess.ID, "some words")

	fake := &fakeExtractor{err: services.Wrap(services.ErrTransient, "llm", "complete", "service unavailable (http 503)", nil)}
	stage := extraction.NewStage(cfg, store, fake, logging.NewNop())
	err := stage.Handle(ctx, extractionDelivery(t, sess.ID, 1))
	if !services.IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != session.StatusCompleted {
		t.Fatalf("session status changed to %s", got.Status)
	}
	if got.ExtractionStatus != session.ExtractionError || got.ExtractionError == "" {
		t.Fatalf("expected extraction error, got %q %q", got.ExtractionStatus, got.ExtractionError)
	}
	if _, err := store.GetMedicalData(ctx, sess.ID); !errors.Is(err, session.ErrMedicalDataNotFound) {
		t.Fatalf("expected no medical data, got %v", err)
	}

	fake.err = nil
	if err := stage.Handle(ctx, extractionDelivery(t, sess.ID, 2)); err != nil {
		t.Fatalf("retry Handle: %v", err)
	}
	if got, _ := store.Get(ctx, sess.ID); got.ExtractionStatus != session.ExtractionCompleted {
		t.Fatalf("expected completed after retry, got %q", got.ExtractionStatus)
	}
}

func TestStageSkipsWithoutTranscript(t *testing.T) {
	cfg, store, _ := setup(t)
	ctx := context.Background()
	sess := testsupport.NewSession(t, store, "visit.wav")
	if _, err := store.UpdateStatus(ctx, sess.ID, session.StatusUpdate{Status: session.StatusCompleted}); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	fake := &fakeExtractor{}
	stage := extraction.NewStage(cfg, store, fake, logging.NewNop())
	if err := stage.Handle(ctx, extractionDelivery(t, sess.ID, 1)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	got, _ := store.Get(ctx, sess.ID)
	if got.ExtractionStatus != session.ExtractionSkipped {
		t.Fatalf("expected skipped, got %q", got.ExtractionStatus)
	}
	if fake.calls != 0 {
		t.Fatalf("extractor should not run")
	}
}

func TestStageIgnoresUnfinishedSession(t *testing.T) {
	cfg, store, _ := setup(t)
	sess := testsupport.NewSession(t, store, "visit.wav")
	fake := &fakeExtractor{}
	stage := extraction.NewStage(cfg, store, fake, logging.NewNop())
	if err := stage.Handle(context.Background(), extractionDelivery(t, sess.ID, 1)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if fake.calls != 0 {
		t.Fatalf("extractor should not run for queued session")
	}
}

func TestTriggerQueuesManualJob(t *testing.T) {
	cfg, store, q := setup(t)
	ctx := context.Background()
	sess := testsupport.NewSession(t, store, "visit.wav")
	testsupport.CompleteSession(t, store, sess.ID, "words")

	svc := extraction.NewService(cfg, store, q, logging.NewNop())
	first, err := svc.Trigger(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	second, err := svc.Trigger(ctx, sess.ID)
	if err != nil {
		t.Fatalf("second Trigger: %v", err)
	}
	if first.MessageID == second.MessageID {
		t.Fatalf("expected distinct manual jobs")
	}
	pending, err := q.Pending(ctx, jobs.StreamExtraction, jobs.GroupExtraction)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if pending != 2 {
		t.Fatalf("expected 2 queued jobs, got %d", pending)
	}
}

func TestTriggerRejectsIncompleteSession(t *testing.T) {
	cfg, store, q := setup(t)
	ctx := context.Background()
	sess := testsupport.NewSession(t, store, "visit.wav")
	svc := extraction.NewService(cfg, store, q, logging.NewNop())

	if _, err := svc.Trigger(ctx, sess.ID); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := svc.Trigger(ctx, "missing"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTriggerRejectsRunningExtraction(t *testing.T) {
	cfg, store, q := setup(t)
	ctx := context.Background()
	sess := testsupport.NewSession(t, store, "visit.wav")
	testsupport.CompleteSession(t, store, sess.ID, "words")
	if _, err := store.TransitionExtraction(ctx, sess.ID, session.ExtractionProcessing, ""); err != nil {
		t.Fatalf("TransitionExtraction: %v", err)
	}
	svc := extraction.NewService(cfg, store, q, logging.NewNop())
	if _, err := svc.Trigger(ctx, sess.ID); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}
