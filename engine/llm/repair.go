package llm

import (
	"encoding/json"
	"strings"
)

// RepairJSON attempts to recover a JSON object from raw model output that
// may be wrapped in markdown code fences, preceded by commentary, or
// missing a trailing brace from a truncated response. It is a pure
// function at the provider boundary (the REDESIGN FLAGS note calls for
// exactly this: repair logic lives outside any single provider adapter so
// every ChatProvider implementation shares it) rather than a per-provider
// parsing quirk.
//
// It never mutates semantically valid JSON; it only strips surrounding
// noise and closes unterminated braces/brackets/strings.
func RepairJSON(text string) (map[string]any, error) {
	candidate := strings.TrimSpace(text)
	candidate = stripCodeFence(candidate)
	candidate = trimToOutermostObject(candidate)

	var out map[string]any
	if err := json.Unmarshal([]byte(candidate), &out); err == nil {
		return out, nil
	}

	closed := closeUnterminated(candidate)
	if err := json.Unmarshal([]byte(closed), &out); err == nil {
		return out, nil
	}
	return nil, ErrInvalidJSON
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl != -1 {
		firstLine := strings.TrimSpace(s[:nl])
		if firstLine == "json" || firstLine == "" {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// trimToOutermostObject drops any leading/trailing commentary outside the
// first "{" and its matching closing brace (best-effort: the match is found
// by closeUnterminated if the response was truncated).
func trimToOutermostObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return s
	}
	end := strings.LastIndexByte(s, '}')
	if end == -1 || end < start {
		return s[start:]
	}
	return s[start : end+1]
}

// closeUnterminated appends whatever closing punctuation a truncated JSON
// object is missing: an unterminated string, then any open brackets/braces
// in LIFO order.
func closeUnterminated(s string) string {
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}':
			if len(stack) > 0 && stack[len(stack)-1] == '{' {
				stack = stack[:len(stack)-1]
			}
		case ']':
			if len(stack) > 0 && stack[len(stack)-1] == '[' {
				stack = stack[:len(stack)-1]
			}
		}
	}

	var b strings.Builder
	b.WriteString(s)
	if inString {
		b.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		switch stack[i] {
		case '{':
			b.WriteByte('}')
		case '[':
			b.WriteByte(']')
		}
	}
	return b.String()
}
