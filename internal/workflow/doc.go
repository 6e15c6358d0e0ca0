// Package workflow runs the queue workers.
//
// The Manager owns one lane per configured stage (transcription, chunk
// transcription, medical extraction). Each lane runs a number of consumers that
// read from the lane's stream through its consumer group, keep the delivery
// lease alive while the handler works, and then acknowledge, release, or
// dead-letter the message depending on the outcome. Consecutive fetch errors
// back off linearly up to the configured ceiling.
package workflow
