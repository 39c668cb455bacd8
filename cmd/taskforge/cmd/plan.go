package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/taskforge/internal/events"
	"github.com/hugo-lorenzo-mato/taskforge/internal/tui"
)

var planCmd = &cobra.Command{
	Use:   "plan <objective>",
	Short: "Build and validate a plan without running it",
	Long: `Ask the planner for an execution plan and print it as JSON. Unlike run,
an invalid plan is reported as an error instead of being replaced by the
fallback plan.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

var (
	planContext []string
	planRender  bool
)

func init() {
	rootCmd.AddCommand(planCmd)

	planCmd.Flags().StringArrayVarP(&planContext, "context", "c", nil, "context value as key=value (repeatable)")
	planCmd.Flags().BoolVar(&planRender, "render", false, "print a readable outline instead of JSON")
}

func runPlan(cmd *cobra.Command, args []string) error {
	objective := strings.TrimSpace(args[0])
	if objective == "" {
		return fmt.Errorf("objective is required")
	}
	input, err := parseContext(planContext)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	coord, err := a.coordinator(events.NewLogSink(a.logger))
	if err != nil {
		return err
	}
	outcome, err := coord.Plan(ctx, objective, input)
	if err != nil {
		return err
	}

	for _, u := range outcome.UnknownWorkers {
		msg := fmt.Sprintf("warning: phase %d names unknown worker %q", u.Phase, u.Name)
		if len(u.Suggestions) > 0 {
			msg += " (did you mean " + strings.Join(u.Suggestions, ", ") + "?)"
		}
		fmt.Fprintln(cmd.ErrOrStderr(), msg)
	}

	out := cmd.OutOrStdout()
	if planRender {
		_, err := fmt.Fprintln(out, tui.RenderPlan(outcome.Plan, tui.NewStyles(useColor())))
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(outcome.Plan)
}
