package cmd

import (
	"salesetl/internal/ui"

	"github.com/spf13/cobra"
)

var runFlags struct {
	waitOnError bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the ETL once",
	Long: `Extract from every enabled source, upsert the dimensions and rebuild the
fact table. A run that completes with isolated failures still exits 0; only
a startup failure (configuration, warehouse connection) exits 1.`,
	Args: cobra.NoArgs,
	RunE: runOnce,
}

func init() {
	runCmd.Flags().BoolVar(&runFlags.waitOnError, "wait-on-error", ui.IsInteractive(),
		"wait for acknowledgment before exiting on a startup failure")
	rootCmd.AddCommand(runCmd)
}

func runOnce(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, logger, err := loadConfig()
	if err != nil {
		return startupFailure(err)
	}
	a, err := newApp(ctx, cfg, logger, nil)
	if err != nil {
		return startupFailure(err)
	}
	defer a.Close()

	report := a.orchestrator.Run(ctx)
	ui.RenderRunReport(cmd.OutOrStdout(), report)
	return nil
}

// startupFailure shows err and, when asked to, holds the process until the
// operator acknowledges it.
func startupFailure(err error) error {
	ui.ShowError(err)
	if runFlags.waitOnError {
		if ackErr := ui.WaitForAcknowledgment("salesetl could not start. Exit now?"); ackErr != nil {
			ui.ShowWarning(ackErr.Error())
		}
	}
	return err
}
