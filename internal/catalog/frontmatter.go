package catalog

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// splitFrontmatter separates a "---" delimited YAML header from the body.
func splitFrontmatter(text string) (header, body string, ok bool) {
	text = strings.TrimLeft(text, "\uFEFF \t\r\n")
	if !strings.HasPrefix(text, "---") {
		return "", text, false
	}

	afterOpen := text[3:]
	switch {
	case strings.HasPrefix(afterOpen, "\n"):
		afterOpen = afterOpen[1:]
	case strings.HasPrefix(afterOpen, "\r\n"):
		afterOpen = afterOpen[2:]
	default:
		return "", text, false
	}

	// An empty header closes immediately.
	if strings.HasPrefix(afterOpen, "---") {
		return "", strings.TrimLeft(afterOpen[3:], "\r\n"), true
	}

	closeIdx := strings.Index(afterOpen, "\n---")
	if closeIdx == -1 {
		return "", text, false
	}
	header = afterOpen[:closeIdx]

	remaining := afterOpen[closeIdx+4:]
	if strings.HasPrefix(remaining, "\r\n") {
		remaining = remaining[2:]
	} else if strings.HasPrefix(remaining, "\n") {
		remaining = remaining[1:]
	}
	return header, remaining, true
}

// workerHeader is the structured header of a worker record.
type workerHeader struct {
	Name               string        `yaml:"name"`
	Description        string        `yaml:"description"`
	Tools              toolList      `yaml:"tools"`
	Mode               string        `yaml:"mode"`
	MaxIterations      int           `yaml:"max_iterations"`
	MaxIterationsCamel int           `yaml:"maxIterations"`
	Timeout            durationValue `yaml:"timeout"`
	Model              string        `yaml:"model"`
	Tags               toolList      `yaml:"tags"`
	Fallback           string        `yaml:"fallback"`
	CompletionCheck    string        `yaml:"completion_check"`
}

// skillHeader is the structured header of a SKILL.md record.
type skillHeader struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Tags        toolList `yaml:"tags"`
}

// toolList accepts either a YAML sequence or a comma-separated string.
type toolList []string

func (l *toolList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var out []string
		for _, part := range strings.Split(node.Value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*l = out
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		out := items[:0]
		for _, item := range items {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("line %d: expected list or comma-separated string", node.Line)
	}
}

// durationValue accepts a Go duration string ("90s", "5m") or a number of
// seconds.
type durationValue time.Duration

func (d *durationValue) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected duration", node.Line)
	}
	v := strings.TrimSpace(node.Value)
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		*d = durationValue(time.Duration(secs * float64(time.Second)))
		return nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", node.Line, v)
	}
	*d = durationValue(parsed)
	return nil
}
