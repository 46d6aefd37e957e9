package cmd

import (
	"fmt"

	"salesetl/internal/config"
	"salesetl/internal/ui"
	"salesetl/pkg/models"

	"github.com/spf13/cobra"
)

var configInitFlags struct {
	path        string
	force       bool
	interactive bool
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create and check the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample salesetl.yaml",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration without connecting to anything",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err == nil {
			err = config.Validate(cfg)
		}
		if err != nil {
			ui.ShowError(err)
			return err
		}
		ui.ShowSuccess("Configuration is valid")
		return nil
	},
}

func init() {
	configInitCmd.Flags().StringVarP(&configInitFlags.path, "path", "p", "", "where to write the file (default ~/.salesetl/salesetl.yaml)")
	configInitCmd.Flags().BoolVarP(&configInitFlags.force, "force", "f", false, "overwrite an existing file")
	configInitCmd.Flags().BoolVarP(&configInitFlags.interactive, "interactive", "i", false, "answer questions instead of writing defaults")

	configCmd.AddCommand(configInitCmd, configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configInitFlags.path
	if path == "" {
		path = config.GetConfigFile()
	}
	if config.Exists(path) && !configInitFlags.force {
		err := fmt.Errorf("%s already exists, use --force to overwrite it", path)
		ui.ShowError(err)
		return err
	}

	cfg := config.Default()
	if configInitFlags.interactive {
		edited, err := ui.NewConfigWizard().Run(*cfg)
		if err != nil {
			ui.ShowError(err)
			return err
		}
		cfg = edited
	} else {
		cfg.Warehouse.DSN = sampleDSN(cfg.Warehouse)
	}

	if err := config.Save(cfg, path); err != nil {
		ui.ShowError(err)
		return err
	}
	ui.ShowSuccess("Configuration written to " + path)
	return nil
}

func sampleDSN(w models.WarehouseConfig) string {
	switch w.Driver {
	case "sqlite3":
		return "file:warehouse.db"
	default:
		return "postgres://etl:" + config.PasswordPlaceholder + "@localhost:5432/warehouse?sslmode=disable"
	}
}
