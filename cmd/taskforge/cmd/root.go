package cmd

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/taskforge/internal/config"
	"github.com/hugo-lorenzo-mato/taskforge/internal/tui"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	noColor   bool
	quiet     bool
	jsonOut   bool

	appVersion string
	appCommit  string
	appDate    string
)

// errTaskNotCompleted is returned when a task ends failed or cancelled. The
// summary has already been printed, so main only sets the exit code.
var errTaskNotCompleted = errors.New("task did not complete")

var rootCmd = &cobra.Command{
	Use:   "taskforge",
	Short: "Plan and run multi-worker tasks with an LLM coordinator",
	Long: `taskforge turns an objective into a phased plan, dispatches each phase to
workers from a markdown catalog, evaluates the results and recovers from
failures by retrying, skipping or switching to fallback workers.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion records build information for the version command.
func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

// GetVersion returns the application version string.
func GetVersion() string {
	return appVersion
}

// ExitCode maps a command error to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errTaskNotCompleted):
		return 2
	default:
		return 1
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: .taskforge/config.yaml)")
	flags.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flags.StringVar(&logFormat, "log-format", "auto", "log format (auto, text, json)")
	flags.BoolVar(&noColor, "no-color", false, "disable colored output")
	flags.BoolVarP(&quiet, "quiet", "q", false, "suppress progress output")
	flags.BoolVar(&jsonOut, "json", false, "emit machine-readable JSON")

	_ = viper.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("log.format", flags.Lookup("log-format"))
}

// loadConfig reads and validates the configuration and returns the file it
// came from, if any. Flags bound to the global viper instance take
// precedence over the file and environment.
func loadConfig() (*config.Config, string, error) {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, "", err
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, "", err
	}
	return cfg, loader.ConfigFile(), nil
}

// outputMode resolves how progress and results are printed.
func outputMode() tui.OutputMode {
	d := tui.NewDetector().NoColor(noColor)
	switch {
	case jsonOut:
		d.ForceMode(tui.ModeJSON)
	case quiet:
		d.ForceMode(tui.ModeQuiet)
	}
	return d.Detect()
}

func useColor() bool {
	return tui.NewDetector().NoColor(noColor).ShouldUseColor()
}
