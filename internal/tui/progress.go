package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/taskforge/internal/events"
)

// Printer is a ProgressSink that writes one line per notable transition.
type Printer struct {
	mu      sync.Mutex
	w       io.Writer
	styles  Styles
	verbose bool
	now     func() time.Time
}

// NewPrinter creates a printer writing to w.
func NewPrinter(w io.Writer, color, verbose bool) *Printer {
	return &Printer{w: w, styles: NewStyles(color), verbose: verbose, now: time.Now}
}

// Emit implements core.ProgressSink.
func (p *Printer) Emit(_ context.Context, eventType string, payload map[string]any) error {
	line := p.format(eventType, payload)
	if line == "" {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintf(p.w, "%s %s\n", p.styles.Muted.Render(p.now().Format("15:04:05")), line)
	return err
}

func (p *Printer) format(eventType string, payload map[string]any) string {
	s := p.styles
	switch eventType {
	case events.TypeTaskStarted:
		return s.Header.Render(">>> "+str(payload, "objective")) +
			s.Muted.Render(fmt.Sprintf(" (%d workers)", count(payload["workers"])))
	case events.TypePlanCreated:
		msg := fmt.Sprintf("plan: %v phases", payload["phases"])
		if b, _ := payload["fallback"].(bool); b {
			msg += s.Warning.Render(" (fallback plan: " + str(payload, "reason") + ")")
		}
		return msg
	case events.TypePhaseStarted:
		msg := s.Section.Render(fmt.Sprintf("--- phase %v: %s", payload["phase"], str(payload, "name")))
		if attempt := intOf(payload["attempt"]); attempt > 1 {
			msg += s.Warning.Render(fmt.Sprintf(" (attempt %d)", attempt))
		}
		return msg
	case events.TypeWorkerCompleted:
		status := str(payload, "status")
		msg := fmt.Sprintf("  %s %s %s", s.statusStyle(status).Render(statusIcon(status)), str(payload, "worker"),
			s.Muted.Render(fmt.Sprintf("[%s, %dms]", status, intOf(payload["duration_ms"]))))
		if e := str(payload, "error"); e != "" {
			msg += " " + s.Error.Render(e)
		}
		return msg
	case events.TypePhaseCompleted:
		status := str(payload, "status")
		return fmt.Sprintf("  phase %v %s", payload["phase"], s.statusStyle(status).Render(status))
	case events.TypePhaseSkipped:
		return s.Warning.Render(fmt.Sprintf("%s phase %v skipped: %s", statusIcon("skipped"), payload["phase"], str(payload, "reason")))
	case events.TypeRecoveryDecided:
		action := str(payload, "action")
		return fmt.Sprintf("  recovery: %s %s", s.statusStyle(action).Render(action), s.Muted.Render(str(payload, "reason")))
	case events.TypeTaskCompleted:
		status := str(payload, "status")
		msg := s.statusStyle(status).Render(fmt.Sprintf("%s task %s", statusIcon(status), status))
		if e := str(payload, "error"); e != "" {
			msg += ": " + e
		}
		return msg
	}

	if !p.verbose {
		return ""
	}
	switch eventType {
	case events.TypeIterationCompleted, events.TypePhaseEvaluated:
		return s.Muted.Render(eventType + " " + compact(payload))
	}
	return ""
}

// JSONSink writes every event as one JSON line.
type JSONSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONSink creates a sink writing to w.
func NewJSONSink(w io.Writer) *JSONSink {
	return &JSONSink{enc: json.NewEncoder(w)}
}

// Emit implements core.ProgressSink.
func (j *JSONSink) Emit(_ context.Context, eventType string, payload map[string]any) error {
	taskID, _ := payload["task_id"].(string)
	event := events.NewProgressEvent(eventType, taskID, payload)
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(event)
}

func str(payload map[string]any, key string) string {
	if v, ok := payload[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

func intOf(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func count(v any) int {
	switch l := v.(type) {
	case []string:
		return len(l)
	case []any:
		return len(l)
	}
	return 0
}

func compact(payload map[string]any) string {
	parts := make([]string, 0, len(payload))
	for k, v := range payload {
		if k == "task_id" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}
