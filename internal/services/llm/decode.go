package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const snippetLimit = 160

// DecodeJSON unmarshals model output into target. Chat models sometimes wrap
// the object in a markdown fence or surround it with prose, so the raw text is
// tried first and then the outermost {...} span.
func DecodeJSON(content string, target any) error {
	raw := strings.TrimSpace(content)
	if raw == "" {
		return errors.New("empty payload")
	}
	var firstErr error
	for _, candidate := range jsonCandidates(raw) {
		err := json.Unmarshal([]byte(candidate), target)
		if err == nil {
			return nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return fmt.Errorf("%w (payload: %s)", firstErr, snippet(raw))
}

func jsonCandidates(raw string) []string {
	out := []string{raw}
	body := unfence(raw)
	open, end := strings.IndexByte(body, '{'), strings.LastIndexByte(body, '}')
	if open >= 0 && end > open {
		body = body[open : end+1]
	}
	if body != raw {
		out = append(out, body)
	}
	return out
}

// unfence removes a leading ``` or ```json line and the closing fence.
func unfence(s string) string {
	rest, ok := strings.CutPrefix(s, "```")
	if !ok {
		return s
	}
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 && !strings.Contains(rest[:nl], "{") {
		rest = rest[nl+1:]
	}
	if i := strings.LastIndex(rest, "```"); i >= 0 {
		rest = rest[:i]
	}
	return strings.TrimSpace(rest)
}

// snippet collapses whitespace and truncates s for error messages.
func snippet(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return "<empty>"
	}
	if r := []rune(s); len(r) > snippetLimit {
		return string(r[:snippetLimit]) + "..."
	}
	return s
}
