package tui

import (
	"os"

	"golang.org/x/term"
)

// OutputMode represents the output mode.
type OutputMode int

const (
	// ModePlain prints progress lines.
	ModePlain OutputMode = iota

	// ModeJSON prints one JSON object per event.
	ModeJSON

	// ModeQuiet prints only the final summary.
	ModeQuiet
)

// String returns the string representation of the output mode.
func (m OutputMode) String() string {
	switch m {
	case ModePlain:
		return "plain"
	case ModeJSON:
		return "json"
	case ModeQuiet:
		return "quiet"
	default:
		return "unknown"
	}
}

// ParseOutputMode parses an output mode. Unknown values mean plain.
func ParseOutputMode(s string) OutputMode {
	switch s {
	case "json":
		return ModeJSON
	case "quiet":
		return ModeQuiet
	default:
		return ModePlain
	}
}

// Detector determines the appropriate output mode.
type Detector struct {
	forceMode *OutputMode
	noColor   bool
	file      *os.File
}

// NewDetector creates a detector for stdout.
func NewDetector() *Detector {
	return &Detector{file: os.Stdout}
}

// ForceMode forces a specific output mode.
func (d *Detector) ForceMode(mode OutputMode) *Detector {
	d.forceMode = &mode
	return d
}

// NoColor disables color output.
func (d *Detector) NoColor(disable bool) *Detector {
	d.noColor = disable
	return d
}

// Detect determines the output mode.
func (d *Detector) Detect() OutputMode {
	if d.forceMode != nil {
		return *d.forceMode
	}
	if os.Getenv("TASKFORGE_OUTPUT") == "json" {
		return ModeJSON
	}
	if os.Getenv("TASKFORGE_QUIET") == "1" {
		return ModeQuiet
	}
	return ModePlain
}

// ShouldUseColor reports whether color should be used.
func (d *Detector) ShouldUseColor() bool {
	if d.noColor {
		return false
	}
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	if os.Getenv("CI") != "" {
		return false
	}
	return d.file != nil && term.IsTerminal(int(d.file.Fd()))
}
