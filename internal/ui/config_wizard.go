package ui

import (
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"

	"salesetl/pkg/models"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
)

// ErrWizardCancelled is returned when the operator aborts the wizard.
var ErrWizardCancelled = stderrors.New("configuration cancelled")

// ask is swapped in tests.
var ask = survey.Ask

// ConfigWizard walks an operator through the settings needed for a first run.
type ConfigWizard struct {
	currentStep int
	totalSteps  int
}

func NewConfigWizard() *ConfigWizard {
	return &ConfigWizard{currentStep: 1, totalSteps: 4}
}

type sourceAnswers struct {
	Directory string
	UseS3     bool
	Bucket    string
}

type warehouseAnswers struct {
	Driver      string
	DSN         string
	UseKeyring  bool
	KeyringUser string
}

type loadAnswers struct {
	BatchSize     string
	PopulateDates bool
	LogLevel      string
}

// Run asks for each section starting from base and returns the edited copy.
func (w *ConfigWizard) Run(base models.Config) (*models.Config, error) {
	ShowHeader("salesetl - Configuration Setup")

	cfg := base
	steps := []func(*models.Config) error{
		w.configureSourcesStep,
		w.configureWarehouseStep,
		w.configureLoadStep,
		w.reviewConfiguration,
	}
	for _, step := range steps {
		if err := step(&cfg); err != nil {
			if err == terminal.InterruptErr {
				return nil, ErrWizardCancelled
			}
			return nil, err
		}
		w.currentStep++
	}
	return &cfg, nil
}

func (w *ConfigWizard) configureSourcesStep(cfg *models.Config) error {
	w.showProgress("Sources")

	questions := []*survey.Question{
		{
			Name: "directory",
			Prompt: &survey.Input{
				Message: "Data directory:",
				Default: cfg.Sources.Files.Directory,
				Help:    "Directory holding customers.csv, products.csv, orders.csv and order_details.csv",
			},
			Validate: survey.Required,
		},
		{
			Name: "useS3",
			Prompt: &survey.Confirm{
				Message: "Also read the CSV files from S3?",
				Default: cfg.Sources.S3.Enabled,
			},
		},
	}

	var answers sourceAnswers
	if err := ask(questions, &answers); err != nil {
		return err
	}
	if answers.UseS3 {
		prompt := &survey.Input{Message: "S3 bucket:", Default: cfg.Sources.S3.Bucket}
		if err := askOne(prompt, &answers.Bucket, survey.WithValidator(survey.Required)); err != nil {
			return err
		}
	}
	applySources(cfg, answers)
	return nil
}

func applySources(cfg *models.Config, a sourceAnswers) {
	cfg.Sources.Files.Enabled = true
	cfg.Sources.Files.Directory = strings.TrimSpace(a.Directory)
	cfg.Sources.S3.Enabled = a.UseS3
	if a.UseS3 {
		cfg.Sources.S3.Bucket = strings.TrimSpace(a.Bucket)
	}
}

func (w *ConfigWizard) configureWarehouseStep(cfg *models.Config) error {
	w.showProgress("Warehouse")

	questions := []*survey.Question{
		{
			Name: "driver",
			Prompt: &survey.Select{
				Message: "Warehouse engine:",
				Options: []string{"postgres", "snowflake", "sqlite3"},
				Default: cfg.Warehouse.Driver,
			},
		},
		{
			Name: "dsn",
			Prompt: &survey.Input{
				Message: "Connection string:",
				Default: cfg.Warehouse.DSN,
				Help:    "Use {password} as a placeholder to read the password from the OS keyring",
			},
			Validate: survey.Required,
		},
		{
			Name: "useKeyring",
			Prompt: &survey.Confirm{
				Message: "Read the password from the OS keyring?",
				Default: cfg.Warehouse.PasswordFromKeyring,
			},
		},
	}

	var answers warehouseAnswers
	if err := ask(questions, &answers); err != nil {
		return err
	}
	if answers.UseKeyring {
		prompt := &survey.Input{Message: "Keyring user:", Default: cfg.Warehouse.KeyringUser}
		if err := askOne(prompt, &answers.KeyringUser, survey.WithValidator(survey.Required)); err != nil {
			return err
		}
	}
	applyWarehouse(cfg, answers)
	return nil
}

func applyWarehouse(cfg *models.Config, a warehouseAnswers) {
	cfg.Warehouse.Driver = a.Driver
	cfg.Warehouse.DSN = strings.TrimSpace(a.DSN)
	cfg.Warehouse.PasswordFromKeyring = a.UseKeyring
	if a.UseKeyring {
		cfg.Warehouse.KeyringUser = strings.TrimSpace(a.KeyringUser)
	}
}

func (w *ConfigWizard) configureLoadStep(cfg *models.Config) error {
	w.showProgress("Loading")

	questions := []*survey.Question{
		{
			Name: "batchSize",
			Prompt: &survey.Input{
				Message: "Rows per statement:",
				Default: strconv.Itoa(cfg.Load.BatchSize),
			},
			Validate: validatePositiveInt,
		},
		{
			Name: "populateDates",
			Prompt: &survey.Confirm{
				Message: "Populate the date dimension from sale dates?",
				Default: cfg.Load.PopulateDates,
			},
		},
		{
			Name: "logLevel",
			Prompt: &survey.Select{
				Message: "Log level:",
				Options: []string{"debug", "info", "warn", "error"},
				Default: cfg.Log.Level,
			},
		},
	}

	var answers loadAnswers
	if err := ask(questions, &answers); err != nil {
		return err
	}
	return applyLoad(cfg, answers)
}

func applyLoad(cfg *models.Config, a loadAnswers) error {
	n, err := strconv.Atoi(strings.TrimSpace(a.BatchSize))
	if err != nil || n < 1 {
		return fmt.Errorf("invalid batch size %q", a.BatchSize)
	}
	cfg.Load.BatchSize = n
	cfg.Load.PopulateDates = a.PopulateDates
	cfg.Log.Level = a.LogLevel
	return nil
}

func validatePositiveInt(val interface{}) error {
	s, _ := val.(string)
	if n, err := strconv.Atoi(strings.TrimSpace(s)); err != nil || n < 1 {
		return fmt.Errorf("enter a whole number greater than zero")
	}
	return nil
}

func (w *ConfigWizard) reviewConfiguration(cfg *models.Config) error {
	w.showProgress("Review")

	fmt.Fprintln(Out, "\n"+ColorInfo("Configuration Summary:"))
	fmt.Fprintln(Out, strings.Repeat("-", 50))
	fmt.Fprintf(Out, "  Data directory: %s\n", cfg.Sources.Files.Directory)
	if cfg.Sources.S3.Enabled {
		fmt.Fprintf(Out, "  S3 bucket:      %s\n", cfg.Sources.S3.Bucket)
	}
	fmt.Fprintf(Out, "  Warehouse:      %s\n", cfg.Warehouse.Driver)
	fmt.Fprintf(Out, "  Keyring:        %t\n", cfg.Warehouse.PasswordFromKeyring)
	fmt.Fprintf(Out, "  Batch size:     %d\n", cfg.Load.BatchSize)
	fmt.Fprintln(Out, strings.Repeat("-", 50))

	confirm := false
	if err := askOne(&survey.Confirm{Message: "Save this configuration?", Default: true}, &confirm); err != nil {
		return err
	}
	if !confirm {
		return ErrWizardCancelled
	}
	return nil
}

func (w *ConfigWizard) showProgress(step string) {
	fmt.Fprintf(Out, "\n%s [Step %d/%d] %s\n\n",
		ColorInfo(">"),
		w.currentStep,
		w.totalSteps,
		ColorBold(step),
	)
}
