package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/taskforge/internal/tui"
)

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "Inspect the worker catalog",
}

var workersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cataloged workers",
	Args:  cobra.NoArgs,
	RunE:  runWorkersList,
}

var workersValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Report worker and skill records that fail to load",
	Args:  cobra.NoArgs,
	RunE:  runWorkersValidate,
}

func init() {
	workersCmd.AddCommand(workersListCmd, workersValidateCmd)
	rootCmd.AddCommand(workersCmd)
}

func runWorkersList(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	summary := a.catalog.Snapshot().Summary()
	out := cmd.OutOrStdout()
	if outputMode() == tui.ModeJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	if len(summary) == 0 {
		_, err := fmt.Fprintf(out, "no workers found in %s\n", a.loader.Dir())
		return err
	}
	_, err = fmt.Fprintln(out, tui.RenderWorkers(summary, tui.NewStyles(useColor())))
	return err
}

func runWorkersValidate(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	cat := a.catalog.Snapshot()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d workers, %d skills loaded from %s\n", cat.Len(), len(cat.Skills()), a.loader.Dir())
	for _, issue := range a.issues {
		fmt.Fprintf(out, "  skipped %s\n", issue)
	}
	if len(a.issues) > 0 {
		return fmt.Errorf("%d records skipped", len(a.issues))
	}
	return nil
}
