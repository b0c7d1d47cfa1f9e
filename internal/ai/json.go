package ai

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoStructuredData is returned when a reply holds no parseable JSON.
var ErrNoStructuredData = errors.New("no structured data in response")

// ExtractJSON finds the JSON document in a model reply. The reply may be
// bare JSON, a fenced code block, or JSON surrounded by prose.
func ExtractJSON(text string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, ErrNoStructuredData
	}
	if json.Valid([]byte(trimmed)) && isContainer(trimmed) {
		return json.RawMessage(trimmed), nil
	}

	for _, block := range fencedBlocks(trimmed) {
		if json.Valid([]byte(block)) && isContainer(block) {
			return json.RawMessage(block), nil
		}
		if payload, ok := scanJSON(block); ok {
			return payload, nil
		}
	}

	if payload, ok := scanJSON(trimmed); ok {
		return payload, nil
	}
	return nil, ErrNoStructuredData
}

func isContainer(s string) bool {
	return s[0] == '{' || s[0] == '['
}

// fencedBlocks returns the bodies of ``` fences, dropping any language tag.
func fencedBlocks(s string) []string {
	var out []string
	for {
		start := strings.Index(s, "```")
		if start == -1 {
			return out
		}
		rest := s[start+3:]
		end := strings.Index(rest, "```")
		if end == -1 {
			return out
		}
		body := rest[:end]
		if nl := strings.Index(body, "\n"); nl != -1 && !strings.ContainsAny(body[:nl], "{[") {
			body = body[nl+1:]
		}
		if body = strings.TrimSpace(body); body != "" {
			out = append(out, body)
		}
		s = rest[end+3:]
	}
}

// scanJSON returns the first balanced object or array in input that is
// valid JSON. Brackets inside strings are ignored.
func scanJSON(input string) (json.RawMessage, bool) {
	for from := 0; from < len(input); {
		idx := strings.IndexAny(input[from:], "{[")
		if idx == -1 {
			return nil, false
		}
		start := from + idx
		if end, ok := matchClose(input, start); ok {
			candidate := input[start : end+1]
			if json.Valid([]byte(candidate)) {
				return json.RawMessage(candidate), true
			}
		}
		from = start + 1
	}
	return nil, false
}

func matchClose(input string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(input); i++ {
		ch := input[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch ch {
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i, true
			}
			if depth < 0 {
				return 0, false
			}
		}
	}
	return 0, false
}
