// Package llm wraps the OpenAI-compatible API used for speech-to-text and
// JSON chat completions. It owns client construction, retry with backoff on
// rate limits and server errors, error classification into services markers,
// and tolerant decoding of model JSON output.
package llm
