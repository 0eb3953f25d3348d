package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"
)

// decodeJSON unmarshals model output into T, tolerating markdown code fences
// around the payload.
func decodeJSON[T any](raw string) (*T, error) {
	out := new(T)
	if err := json.Unmarshal([]byte(stripFences(raw)), out); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}
	return out, nil
}

// stripFences removes a leading ``` or ```json fence and everything after
// the closing fence. Plain payloads pass through untouched.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	rest, ok := strings.CutPrefix(s, "```")
	if !ok {
		return s
	}
	if label, body, found := strings.Cut(rest, "\n"); found && len(label) <= 8 {
		rest = body
	}
	if body, _, found := strings.Cut(rest, "```"); found {
		rest = body
	}
	return strings.TrimSpace(rest)
}

func trimForLog(text string, limit int) string {
	text = strings.TrimSpace(text)
	if limit <= 0 || len([]rune(text)) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit]) + "..."
}
