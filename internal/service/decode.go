package service

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var fencedJSON = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n(.*?)```")

// ExtractJSON finds the first valid JSON object in mixed text. Fenced code
// blocks are tried before a balanced-brace scan of the raw text.
func ExtractJSON(text string) string {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed)) {
		return trimmed
	}

	for _, m := range fencedJSON.FindAllStringSubmatch(text, -1) {
		block := strings.TrimSpace(m[1])
		if candidate := scanObject(block); candidate != "" {
			return candidate
		}
	}
	return scanObject(text)
}

// scanObject tries every '{' as the start of a balanced object and returns
// the first one that is valid JSON.
func scanObject(text string) string {
	for offset := 0; offset < len(text); {
		start := strings.IndexByte(text[offset:], '{')
		if start == -1 {
			return ""
		}
		start += offset
		if end := matchBrace(text, start); end != -1 {
			candidate := text[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate
			}
		}
		offset = start + 1
	}
	return ""
}

// matchBrace returns the index of the brace closing the one at start, or -1.
func matchBrace(text string, start int) int {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		c := text[i]

		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// ParseJSON decodes the first JSON object found in text into v.
func ParseJSON(text string, v any) error {
	extracted := ExtractJSON(text)
	if extracted == "" {
		return fmt.Errorf("no JSON object found in response")
	}
	if err := json.Unmarshal([]byte(extracted), v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// ParseJSONObject is ParseJSON into a generic map.
func ParseJSONObject(text string) (map[string]any, error) {
	var out map[string]any
	if err := ParseJSON(text, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeOutput returns the decoded value when the whole text is a JSON
// object or array, and the text unchanged otherwise.
func DecodeOutput(text string) any {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') {
		return text
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return text
	}
	return v
}

// Truncate shortens s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
