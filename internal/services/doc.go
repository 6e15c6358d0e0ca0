// Package services defines shared utilities consumed by the HTTP layer, the
// upload coordinator, and the queue workers.
//
// Key responsibilities:
//   - Context helpers that stamp session IDs, stage names, worker names, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so failures map to HTTP
//     status codes and to ack/redeliver decisions in a uniform way.
package services
