// Package extraction turns completed transcripts into structured medical data
// and derives prioritized alerts from it.
//
// Stage consumes the medical_extraction_queue stream. It tracks progress in
// the session's extraction status and never changes the session status, so a
// failed extraction leaves the transcript available. Service queues manual
// extraction requests from the API.
package extraction
