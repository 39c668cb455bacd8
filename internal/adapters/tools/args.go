package tools

import (
	"fmt"
	"math"
	"strconv"

	"github.com/hugo-lorenzo-mato/taskforge/internal/core"
)

func invalidArg(name, msg string) error {
	return core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("argument %q %s", name, msg))
}

func requiredString(args map[string]any, name string) (string, error) {
	s, ok := args[name].(string)
	if !ok || s == "" {
		return "", invalidArg(name, "is required")
	}
	return s, nil
}

func optionalString(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}

func optionalBool(args map[string]any, name string) bool {
	switch v := args[name].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

// optionalInt accepts JSON numbers and numeric strings.
func optionalInt(args map[string]any, name string, def int) (int, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, invalidArg(name, "must be an integer")
		}
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, invalidArg(name, "must be an integer")
		}
		return i, nil
	}
	return 0, invalidArg(name, "must be an integer")
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
