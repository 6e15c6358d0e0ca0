// Package upload validates incoming audio, persists it, creates sessions and
// queues transcription work. It is the only writer that creates sessions.
package upload
