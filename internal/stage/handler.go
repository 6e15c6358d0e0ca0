package stage

import (
	"context"

	"maichart/internal/queue"
)

// Handler describes the contract the workflow manager needs from each worker.
//
// Handle processes one delivery. Returning nil acknowledges the message.
// An error for which services.IsRetryable is true leaves the message
// unacknowledged for redelivery; any other error is recorded and acknowledged.
type Handler interface {
	Handle(context.Context, *queue.Delivery) error
	HealthCheck(context.Context) Health
}

// DeadLetterHandler is implemented by handlers that need to react when a
// message exceeded its delivery budget, typically by failing the session.
type DeadLetterHandler interface {
	DeadLetter(context.Context, *queue.Delivery, string) error
}
