package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/overwatch-scan/overwatch/internal/daemon"
)

func init() {
	runCmd.Flags().BoolVar(&noStatusBar, "no-status-bar", false, "Log to file instead of rendering the status TUI")
	runCmd.Flags().StringVar(&logLevel, "log-level", "INFO", "Log level: DEBUG, INFO, WARNING, ERROR")
	runCmd.Flags().BoolVar(&forceBootstrap, "bootstrap", false, "Force the bootstrap coverage sweep even if spawns are already known")
	runCmd.Flags().BoolVar(&noPickle, "no-pickle", false, "Ignore the on-disk catalog/account snapshots on load")
	rootCmd.AddCommand(runCmd)
}

var (
	noStatusBar    bool
	logLevel       string
	forceBootstrap bool
	noPickle       bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the scan orchestration engine",
	Long: `Load the configured account pool and spawn catalog, then run the
launch loop, the supervisory loop, and (if enabled) the introspection
viewer until interrupted.`,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	cfg.Logging.Level = logLevel
	cfg.Logging.NoStatusBar = noStatusBar

	d, err := daemon.New(cfg, daemon.Collaborators{NoPickle: noPickle})
	if err != nil {
		return fmt.Errorf("initialize daemon: %w", err)
	}
	defer d.Close()

	return d.Run(context.Background(), forceBootstrap)
}
