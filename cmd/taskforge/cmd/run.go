package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/taskforge/internal/adapters/journal"
	"github.com/hugo-lorenzo-mato/taskforge/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/taskforge/internal/core"
	"github.com/hugo-lorenzo-mato/taskforge/internal/events"
	"github.com/hugo-lorenzo-mato/taskforge/internal/tui"
)

var runCmd = &cobra.Command{
	Use:   "run <objective>",
	Short: "Plan and run a task",
	Long: `Plan the objective, run every phase with the cataloged workers and print
a summary. The exit code is 2 when the task fails or is cancelled.

Context values are parsed as YAML scalars, so --context retries=3 passes an
integer and --context tags=[a,b] a list.`,
	Args: cobra.ExactArgs(1),
	RunE: runTask,
}

var (
	runContext []string
	runOutput  string
	runJournal string
	runVerbose bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringArrayVarP(&runContext, "context", "c", nil, "context value as key=value (repeatable)")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "write the task result as JSON to this file")
	runCmd.Flags().StringVar(&runJournal, "journal", "", "record progress events in this SQLite file")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "show iterations and evaluations")
}

func runTask(cmd *cobra.Command, args []string) error {
	objective := strings.TrimSpace(args[0])
	if objective == "" {
		return fmt.Errorf("objective is required")
	}
	input, err := parseContext(runContext)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	out := cmd.OutOrStdout()
	mode := outputMode()

	sinks := events.MultiSink{events.NewLogSink(a.logger)}
	var view *display
	switch mode {
	case tui.ModePlain:
		view = startDisplay(ctx, tui.NewPrinter(out, useColor(), runVerbose))
	case tui.ModeJSON:
		view = startDisplay(ctx, tui.NewJSONSink(out))
	}
	if view != nil {
		sinks = append(sinks, view.Sink())
	}

	journalPath := firstNonEmpty(runJournal, a.cfg.Journal.Path)
	if journalPath != "" {
		j, err := journal.Open(ctx, journalPath)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, j.Close)
		sinks = append(sinks, j)
	}

	coord, err := a.coordinator(sinks)
	if err != nil {
		return err
	}

	result := coord.Run(ctx, objective, input)
	if view != nil {
		if dropped := view.Wait(); dropped > 0 {
			a.logger.Warn("progress lines dropped", "count", dropped)
		}
	}

	if path := firstNonEmpty(runOutput, a.cfg.Output.ResultFile); path != "" {
		if err := state.NewReportWriter(path).Write(result); err != nil {
			a.logger.Error("writing result report", "path", path, "error", err)
			return err
		}
		a.logger.Info("result report written", "path", path)
	}

	if err := printResult(out, mode, result); err != nil {
		return err
	}
	if result.Status != core.TaskCompleted {
		return errTaskNotCompleted
	}
	return nil
}

func printResult(w io.Writer, mode tui.OutputMode, result *core.TaskResult) error {
	switch mode {
	case tui.ModeJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case tui.ModeQuiet:
		_, err := fmt.Fprintln(w, result.Status)
		return err
	default:
		_, err := fmt.Fprintln(w, "\n"+tui.RenderSummary(result, tui.NewStyles(useColor())))
		return err
	}
}

// parseContext turns key=value pairs into the task input. Values are decoded
// as YAML so numbers, booleans and lists keep their types.
func parseContext(pairs []string) (map[string]any, error) {
	input := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --context %q: expected key=value", pair)
		}
		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil || value == nil {
			value = raw
		}
		input[key] = value
	}
	return input, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
