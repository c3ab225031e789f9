package schema

import (
	"encoding/json"
	"strings"
)

// StripCodeFences removes a surrounding ``` fence (with optional language hint).
func StripCodeFences(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	// drop language hint, e.g. python or json
	if idx := strings.IndexByte(t, '\n'); idx != -1 {
		t = t[idx+1:]
	} else {
		t = ""
	}
	if j := strings.LastIndex(t, "```"); j != -1 {
		t = t[:j]
	}
	return strings.TrimSpace(t)
}

// ExtractJSONObject returns the first balanced top-level {...} in s, skipping braces
// inside string literals. Empty when there is none.
func ExtractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
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
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// DecodeText is the lenient path for plain-text engine answers: strip fences, find the
// first JSON object and decode it against the set.
func (set Set) DecodeText(text string) (string, json.RawMessage, error) {
	t := StripCodeFences(text)
	if !strings.HasPrefix(t, "{") {
		if obj := ExtractJSONObject(t); obj != "" {
			t = obj
		}
	}
	return set.Decode([]byte(t))
}
