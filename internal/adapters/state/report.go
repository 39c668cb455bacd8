// Package state persists finished task results as JSON reports.
package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hugo-lorenzo-mato/taskforge/internal/core"
)

// CodeReportCorrupted marks a report whose checksum does not match.
const CodeReportCorrupted = "REPORT_CORRUPTED"

const reportVersion = 1

// ReportWriter writes TaskResults atomically, keeping the previous report as
// a backup.
type ReportWriter struct {
	path       string
	backupPath string
}

// ReportOption configures a ReportWriter.
type ReportOption func(*ReportWriter)

// WithBackupPath sets the backup file path. An empty path disables backups.
func WithBackupPath(path string) ReportOption {
	return func(w *ReportWriter) {
		w.backupPath = path
	}
}

// NewReportWriter creates a writer for path.
func NewReportWriter(path string, opts ...ReportOption) *ReportWriter {
	w := &ReportWriter{path: path, backupPath: path + ".bak"}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// reportEnvelope wraps a result with integrity metadata.
type reportEnvelope struct {
	Version   int              `json:"version"`
	Checksum  string           `json:"checksum"`
	WrittenAt time.Time        `json:"written_at"`
	Result    *core.TaskResult `json:"result"`
}

// Write persists result.
func (w *ReportWriter) Write(result *core.TaskResult) error {
	if result == nil {
		return core.ErrValidation(core.CodeInvalidConfig, "nil task result")
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}

	if w.backupPath != "" && w.Exists() {
		data, err := os.ReadFile(w.path)
		if err != nil {
			return fmt.Errorf("reading previous report: %w", err)
		}
		if err := writeAtomic(w.backupPath, data, 0o644); err != nil {
			return fmt.Errorf("creating backup: %w", err)
		}
	}

	checksum, err := checksumOf(result)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(reportEnvelope{
		Version:   reportVersion,
		Checksum:  checksum,
		WrittenAt: time.Now(),
		Result:    result,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}

	if err := writeAtomic(w.path, data, 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

// Load reads the report, falling back to the backup when the main file is
// unreadable or corrupted. It returns nil, nil when no report exists.
func (w *ReportWriter) Load() (*core.TaskResult, error) {
	if !w.Exists() {
		return nil, nil
	}
	result, err := loadReport(w.path)
	if err == nil {
		return result, nil
	}
	if w.backupPath == "" {
		return nil, err
	}
	backup, backupErr := loadReport(w.backupPath)
	if backupErr != nil {
		return nil, fmt.Errorf("loading report: %w (backup also failed: %v)", err, backupErr)
	}
	return backup, nil
}

// Exists reports whether the report file is present.
func (w *ReportWriter) Exists() bool {
	_, err := os.Stat(w.path)
	return err == nil
}

// Path returns the report path.
func (w *ReportWriter) Path() string {
	return w.path
}

func loadReport(path string) (*core.TaskResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}
	var env reportEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshaling report: %w", err)
	}
	if env.Result == nil {
		return nil, core.ErrValidation(CodeReportCorrupted, "report has no result")
	}
	checksum, err := checksumOf(env.Result)
	if err != nil {
		return nil, err
	}
	if checksum != env.Checksum {
		return nil, core.ErrValidation(CodeReportCorrupted, "checksum mismatch")
	}
	return env.Result, nil
}

func checksumOf(result *core.TaskResult) (string, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("marshaling result for checksum: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
