package logging

import (
	"regexp"
)

// Sanitizer redacts credentials from log messages and attributes.
type Sanitizer struct {
	patterns []*regexp.Regexp
	redacted string
}

// NewSanitizer creates a sanitizer with the default credential patterns.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		patterns: compile(credentialPatterns),
		redacted: "[REDACTED]",
	}
}

var credentialPatterns = []string{
	`sk-ant-[a-zA-Z0-9-]{40,}`,       // Anthropic
	`sk-[A-Za-z0-9]{20,}`,            // OpenAI
	`AIza[a-zA-Z0-9_-]{35}`,          // Google AI
	`gh[pousr]_[A-Za-z0-9]{36}`,      // GitHub tokens
	`AKIA[0-9A-Z]{16}`,               // AWS access key
	`xox[baprs]-[0-9a-zA-Z-]{10,}`,   // Slack
	`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`,
	`(?i)api[_-]?key["'\s:=]+[a-zA-Z0-9_-]{20,}`,
	`(?i)secret["'\s:=]+[a-zA-Z0-9_-]{20,}`,
	`(?i)password["'\s:=]+[^\s"']{8,}`,
	`(?i)token["'\s:=]+[a-zA-Z0-9_-]{20,}`,
}

func compile(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

// Sanitize redacts sensitive information from a string.
func (s *Sanitizer) Sanitize(input string) string {
	result := input
	for _, pattern := range s.patterns {
		result = pattern.ReplaceAllString(result, s.redacted)
	}
	return result
}

// SanitizeValue redacts strings anywhere inside a nested payload.
func (s *Sanitizer) SanitizeValue(v any) any {
	switch val := v.(type) {
	case string:
		return s.Sanitize(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = s.SanitizeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = s.SanitizeValue(item)
		}
		return out
	default:
		return v
	}
}

// AddPattern adds a custom pattern.
func (s *Sanitizer) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	s.patterns = append(s.patterns, re)
	return nil
}
