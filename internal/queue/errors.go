package queue

import "maichart/internal/services"

// ErrLeaseLost reports that another consumer reclaimed the delivery or it was
// already acknowledged.
var ErrLeaseLost = services.Wrap(services.ErrConflict, "queue", "", "delivery lease lost", nil)
