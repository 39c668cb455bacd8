package worker

import (
	"encoding/json"
	"strings"
)

// maxContextValue bounds the encoded size of a structured context value
// included in a worker prompt.
const maxContextValue = 1000

// buildPrompt renders the user turn for an assignment.
func buildPrompt(description string, input, context map[string]any) string {
	var parts []string

	if description != "" {
		parts = append(parts, "## Task\n"+description)
	}
	if len(input) > 0 {
		parts = append(parts, "## Input\n```json\n"+indentJSON(input)+"\n```")
	}
	if filtered := filterContext(context); len(filtered) > 0 {
		parts = append(parts, "## Context\n```json\n"+indentJSON(filtered)+"\n```")
	}
	return strings.Join(parts, "\n\n")
}

func filterContext(ctx map[string]any) map[string]any {
	if len(ctx) == 0 {
		return nil
	}
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		switch v.(type) {
		case map[string]any, []any:
			data, err := json.Marshal(v)
			if err != nil || len(data) >= maxContextValue {
				continue
			}
		}
		out[k] = v
	}
	return out
}

func indentJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// copyContext returns a shallow copy of ctx with extra merged on top.
func copyContext(ctx map[string]any, extra map[string]any) map[string]any {
	out := make(map[string]any, len(ctx)+len(extra))
	for k, v := range ctx {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
