// Package session persists consultation sessions and everything derived from
// them: final transcripts, per-chunk transcripts for streaming recordings,
// extracted medical data, and medical alerts.
//
// Status writes are guarded in SQL so a session only moves forward
// (queued, processing, then completed or error). Derived rows cascade on
// session delete.
package session
