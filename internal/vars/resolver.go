// Package vars substitutes cross-phase references inside nested data.
//
// A reference token is "$" followed by a dotted path, for example
// "$phase_1.output" or "$executor.output.cases". A string made of exactly one
// token resolves to the referenced value itself with its type preserved.
// Tokens embedded in longer strings are replaced by the value's canonical
// string form (JSON for maps and sequences).
package vars

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var tokenPattern = regexp.MustCompile(`\$([a-zA-Z_][a-zA-Z0-9_]*(?:\.[a-zA-Z_][a-zA-Z0-9_]*)*)`)

// Resolve walks value and substitutes every reference against ctx. It never
// mutates its inputs.
func Resolve(value any, ctx map[string]any) any {
	switch v := value.(type) {
	case string:
		return resolveString(v, ctx)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = Resolve(item, ctx)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Resolve(item, ctx)
		}
		return out
	case []string:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = resolveString(item, ctx)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = resolveString(item, ctx)
		}
		return out
	default:
		return value
	}
}

// ResolveMap is Resolve for the common map-shaped input.
func ResolveMap(input map[string]any, ctx map[string]any) map[string]any {
	if input == nil {
		return nil
	}
	return Resolve(input, ctx).(map[string]any)
}

func resolveString(s string, ctx map[string]any) any {
	matches := tokenPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		v, _ := Lookup(ctx, s[matches[0][2]:matches[0][3]])
		return v
	}

	out := s
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		v, _ := Lookup(ctx, s[m[2]:m[3]])
		out = out[:m[0]] + Stringify(v) + out[m[1]:]
	}
	return out
}

// Lookup follows a dotted path through nested maps. The second result is
// false when any segment is missing.
func Lookup(ctx map[string]any, path string) (any, bool) {
	var cur any = ctx
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = next
		case map[string]string:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = next
		default:
			return nil, false
		}
	}
	return cur, true
}

// Stringify returns the canonical string form of a resolved value: the empty
// string for nil, compact JSON for maps and sequences, plain text otherwise.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", val)
	case json.Number:
		return val.String()
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(val); err != nil {
			return fmt.Sprintf("%v", val)
		}
		return strings.TrimSuffix(buf.String(), "\n")
	}
}

// References lists the distinct reference paths found anywhere in value.
func References(value any) []string {
	seen := make(map[string]bool)
	var refs []string
	var walk func(any)
	walk = func(v any) {
		switch val := v.(type) {
		case string:
			for _, m := range tokenPattern.FindAllStringSubmatch(val, -1) {
				if !seen[m[1]] {
					seen[m[1]] = true
					refs = append(refs, m[1])
				}
			}
		case map[string]any:
			for _, item := range val {
				walk(item)
			}
		case []any:
			for _, item := range val {
				walk(item)
			}
		}
	}
	walk(value)
	return refs
}
