package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON returns the span between the first opening bracket and the last closing
// bracket of the same family. Text that is already valid JSON, or that contains no
// bracket pair, is returned unchanged. Several unrelated bracketed spans in one text
// may yield the wrong span.
func ExtractJSON(raw string) string {
	if json.Valid([]byte(raw)) {
		return raw
	}
	start := strings.IndexAny(raw, "[{")
	if start < 0 {
		return raw
	}
	closer := byte('}')
	if raw[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(raw, closer)
	if end < start {
		return raw
	}
	return raw[start : end+1]
}

// Decode parses a backend response into T. Responses of free-form backends go through
// ExtractJSON first.
func Decode[T any](raw string, structured bool, label string) (*T, error) {
	text := raw
	if !structured {
		text = ExtractJSON(raw)
	}
	var v T
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, fmt.Errorf("parse %s response: %w\nraw: %s", label, err, truncate(raw, 500))
	}
	return &v, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
