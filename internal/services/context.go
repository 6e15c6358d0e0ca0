package services

import "context"

// ctxField keys the request-scoped identifiers carried through handlers and
// workers. Empty values are never stored so lookups can treat "" as absent.
type ctxField uint8

const (
	ctxSession ctxField = iota + 1
	ctxStage
	ctxWorker
	ctxRequest
)

func withField(ctx context.Context, key ctxField, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func fieldFrom(ctx context.Context, key ctxField) (string, bool) {
	if ctx == nil {
		return "", false
	}
	value, _ := ctx.Value(key).(string)
	return value, value != ""
}

// WithSessionID annotates ctx with the session being processed.
func WithSessionID(ctx context.Context, id string) context.Context {
	return withField(ctx, ctxSession, id)
}

func SessionIDFromContext(ctx context.Context) (string, bool) { return fieldFrom(ctx, ctxSession) }

// WithStage records the worker stage (transcription, chunks, extraction).
func WithStage(ctx context.Context, stage string) context.Context {
	return withField(ctx, ctxStage, stage)
}

func StageFromContext(ctx context.Context) (string, bool) { return fieldFrom(ctx, ctxStage) }

// WithWorker records the consumer name that claimed the current message.
func WithWorker(ctx context.Context, worker string) context.Context {
	return withField(ctx, ctxWorker, worker)
}

func WorkerFromContext(ctx context.Context) (string, bool) { return fieldFrom(ctx, ctxWorker) }

// WithRequestID records the HTTP correlation id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withField(ctx, ctxRequest, id)
}

func RequestIDFromContext(ctx context.Context) (string, bool) { return fieldFrom(ctx, ctxRequest) }
