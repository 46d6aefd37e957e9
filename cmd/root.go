package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"salesetl/internal/config"
	"salesetl/internal/observability"
	"salesetl/pkg/models"

	"github.com/spf13/cobra"
)

var (
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "salesetl",
		Short: "Load sales data into a star-schema warehouse",
		Long: `salesetl extracts customers, products, orders and order lines from flat
files, S3, a source database or an HTTP API, enriches the order lines into
sales, upserts the warehouse dimensions and rebuilds the fact_sales table.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command and exits 1 on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./salesetl.yaml or ~/.salesetl/salesetl.yaml)")
}

// loadConfig reads the configuration and installs the process logger.
func loadConfig() (*models.Config, *observability.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, observability.GetDefaultLogger(), err
	}

	logger := observability.NewLogger(observability.LoggerConfig{
		Level:   observability.LogLevelFromString(cfg.Log.Level),
		Output:  os.Stderr,
		Service: "salesetl",
		Version: Version,
		Format:  cfg.Log.Format,
	})
	observability.SetDefaultLogger(logger)
	return cfg, logger, nil
}
