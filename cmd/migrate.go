package cmd

import (
	"fmt"

	"salesetl/internal/config"
	"salesetl/internal/ui"
	"salesetl/internal/warehouse"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the warehouse schema",
	Long: `Create or drop the star schema (dim_customer, dim_product, dim_order,
dim_date, fact_sales). Postgres and sqlite schemas are versioned migrations;
the snowflake schema is an idempotent DDL script.`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending schema migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd, func(mg *warehouse.Migrator) error {
			if err := mg.Up(cmd.Context()); err != nil {
				return err
			}
			ui.ShowSuccess("Warehouse schema is up to date")
			return nil
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Drop the warehouse schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd, func(mg *warehouse.Migrator) error {
			if err := mg.Down(cmd.Context()); err != nil {
				return err
			}
			ui.ShowSuccess("Warehouse schema dropped")
			return nil
		})
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the applied schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd, func(mg *warehouse.Migrator) error {
			version, dirty, err := mg.Version()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d", version)
			if dirty {
				fmt.Fprint(cmd.OutOrStdout(), " (dirty)")
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		})
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
	rootCmd.AddCommand(migrateCmd)
}

func withMigrator(cmd *cobra.Command, fn func(*warehouse.Migrator) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		ui.ShowError(err)
		return err
	}
	dsn, err := config.WarehouseDSN(cfg.Warehouse)
	if err != nil {
		ui.ShowError(err)
		return err
	}

	mg, err := warehouse.NewMigrator(cfg.Warehouse.Driver, dsn, logger)
	if err != nil {
		ui.ShowError(err)
		return err
	}
	defer mg.Close()

	if err := fn(mg); err != nil {
		ui.ShowError(err)
		return err
	}
	return nil
}
