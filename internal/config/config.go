package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"salesetl/internal/common"
	"salesetl/pkg/errors"
	"salesetl/pkg/models"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPrefix prefixes every environment override, e.g. SALESETL_WAREHOUSE_DSN.
	EnvPrefix = "SALESETL"

	// KeyringService is the OS keyring service holding the warehouse password.
	KeyringService = "salesetl"

	// PasswordPlaceholder is replaced in warehouse.dsn by the keyring secret.
	PasswordPlaceholder = "{password}"

	FallbackModulo = "modulo"
	FallbackNone   = "none"
)

var (
	supportedWarehouses = map[string]bool{"postgres": true, "snowflake": true, "sqlite3": true}
	supportedSources    = map[string]bool{"postgres": true, "sqlite3": true}

	// keyringGet is swapped in tests.
	keyringGet = keyring.Get
)

// GetConfigPath returns the per-user configuration directory.
func GetConfigPath() string {
	if configFile := os.Getenv("SALESETL_CONFIG"); configFile != "" {
		return filepath.Dir(configFile)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".salesetl")
}

// GetConfigFile returns the configuration file used when --config is not given.
func GetConfigFile() string {
	if configFile := os.Getenv("SALESETL_CONFIG"); configFile != "" {
		return filepath.Clean(configFile)
	}
	return filepath.Join(GetConfigPath(), "salesetl.yaml")
}

// Default returns the configuration used for every key the file and
// environment leave unset.
func Default() *models.Config {
	return &models.Config{
		Log: models.LogConfig{Level: "info", Format: "json"},
		Sources: models.SourcesConfig{
			Files:    models.FilesSourceConfig{Enabled: true, Directory: "./Data"},
			Database: models.DatabaseSourceConfig{Driver: "postgres"},
			API:      models.APISourceConfig{Timeout: 30 * time.Second},
		},
		Enrich: models.EnrichConfig{
			CustomerFallback:        FallbackModulo,
			DefaultCustomerID:       1,
			SyntheticDateWindowDays: 365,
		},
		Warehouse: models.WarehouseConfig{
			Driver:         "postgres",
			ConnectTimeout: 30 * time.Second,
		},
		Load: models.LoadConfig{
			BatchSize:            500,
			PopulateDates:        true,
			ConcurrentDimensions: true,
		},
		Lock:     models.LockConfig{Key: "salesetl:run-lock", TTL: 30 * time.Minute},
		Report:   models.ReportConfig{Topic: "salesetl.runs"},
		Schedule: models.ScheduleConfig{Cron: "@hourly"},
	}
}

// New returns a viper instance seeded with defaults and bound to the
// SALESETL_* environment.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper, d *models.Config) {
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("sources.files.enabled", d.Sources.Files.Enabled)
	v.SetDefault("sources.files.directory", d.Sources.Files.Directory)
	v.SetDefault("sources.s3.enabled", d.Sources.S3.Enabled)
	v.SetDefault("sources.s3.bucket", d.Sources.S3.Bucket)
	v.SetDefault("sources.s3.prefix", d.Sources.S3.Prefix)
	v.SetDefault("sources.s3.region", d.Sources.S3.Region)
	v.SetDefault("sources.s3.endpoint", d.Sources.S3.Endpoint)
	v.SetDefault("sources.s3.access_key_id", d.Sources.S3.AccessKeyID)
	v.SetDefault("sources.s3.secret_access_key", d.Sources.S3.SecretAccessKey)
	v.SetDefault("sources.database.enabled", d.Sources.Database.Enabled)
	v.SetDefault("sources.database.driver", d.Sources.Database.Driver)
	v.SetDefault("sources.database.dsn", d.Sources.Database.DSN)
	v.SetDefault("sources.api.enabled", d.Sources.API.Enabled)
	v.SetDefault("sources.api.base_url", d.Sources.API.BaseURL)
	v.SetDefault("sources.api.timeout", d.Sources.API.Timeout)
	v.SetDefault("sources.api.token", d.Sources.API.Token)

	v.SetDefault("enrich.customer_fallback", d.Enrich.CustomerFallback)
	v.SetDefault("enrich.default_customer_id", d.Enrich.DefaultCustomerID)
	v.SetDefault("enrich.synthetic_date_window_days", d.Enrich.SyntheticDateWindowDays)

	v.SetDefault("warehouse.driver", d.Warehouse.Driver)
	v.SetDefault("warehouse.dsn", d.Warehouse.DSN)
	v.SetDefault("warehouse.password_from_keyring", d.Warehouse.PasswordFromKeyring)
	v.SetDefault("warehouse.keyring_user", d.Warehouse.KeyringUser)
	v.SetDefault("warehouse.connect_timeout", d.Warehouse.ConnectTimeout)
	v.SetDefault("warehouse.cleanup_statement", d.Warehouse.CleanupStatement)

	v.SetDefault("load.batch_size", d.Load.BatchSize)
	v.SetDefault("load.populate_dates", d.Load.PopulateDates)
	v.SetDefault("load.concurrent_dimensions", d.Load.ConcurrentDimensions)

	v.SetDefault("lock.enabled", d.Lock.Enabled)
	v.SetDefault("lock.redis_addr", d.Lock.RedisAddr)
	v.SetDefault("lock.key", d.Lock.Key)
	v.SetDefault("lock.ttl", d.Lock.TTL)

	v.SetDefault("report.kafka_enabled", d.Report.KafkaEnabled)
	v.SetDefault("report.brokers", d.Report.Brokers)
	v.SetDefault("report.topic", d.Report.Topic)

	v.SetDefault("schedule.cron", d.Schedule.Cron)
	v.SetDefault("schedule.metrics_addr", d.Schedule.MetricsAddr)
}

// Load reads configuration into a fresh viper instance. An empty path
// searches ./salesetl.yaml then ~/.salesetl/salesetl.yaml; a missing file is
// fine and leaves defaults plus environment. A .env file in the working
// directory is loaded first when present.
func Load(path string) (*models.Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to read .env file")
	}
	return LoadWith(New(), path)
}

// LoadWith reads path (or the default search locations) into v.
func LoadWith(v *viper.Viper, path string) (*models.Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, errors.New(errors.ErrCodeConfigNotFound, fmt.Sprintf("config file %s not found", path)).
				WithContext("path", path).
				WithSuggestions("Run 'salesetl config init' to write a sample configuration")
		}
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("salesetl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(GetConfigPath())
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse configuration")
		}
	}

	var cfg models.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to decode configuration")
	}
	return &cfg, nil
}

// Validate reports the first configuration problem that would stop a run.
func Validate(cfg *models.Config) error {
	if !supportedWarehouses[cfg.Warehouse.Driver] {
		return errors.ConfigError(fmt.Sprintf("unsupported warehouse driver %q", cfg.Warehouse.Driver), "warehouse.driver").
			WithSuggestions("Use one of: postgres, snowflake, sqlite3")
	}
	if strings.TrimSpace(cfg.Warehouse.DSN) == "" {
		return errors.ConfigError("warehouse DSN is required", "warehouse.dsn")
	}
	if cfg.Warehouse.PasswordFromKeyring && cfg.Warehouse.KeyringUser == "" {
		return errors.ConfigError("keyring_user is required when password_from_keyring is set", "warehouse.keyring_user")
	}

	s := cfg.Sources
	if !s.Files.Enabled && !s.S3.Enabled && !s.Database.Enabled && !s.API.Enabled {
		return errors.ConfigError("no source is enabled", "sources")
	}
	if s.S3.Enabled && s.S3.Bucket == "" {
		return errors.ConfigError("S3 source requires a bucket", "sources.s3.bucket")
	}
	if s.Database.Enabled {
		if !supportedSources[s.Database.Driver] {
			return errors.ConfigError(fmt.Sprintf("unsupported source driver %q", s.Database.Driver), "sources.database.driver")
		}
		if s.Database.DSN == "" {
			return errors.ConfigError("database source requires a DSN", "sources.database.dsn")
		}
	}
	if s.API.Enabled && s.API.BaseURL == "" {
		return errors.ConfigError("API source requires a base URL", "sources.api.base_url")
	}

	switch cfg.Enrich.CustomerFallback {
	case FallbackModulo, FallbackNone:
	default:
		return errors.ConfigError(fmt.Sprintf("unknown customer fallback %q", cfg.Enrich.CustomerFallback), "enrich.customer_fallback").
			WithSuggestions("Use 'modulo' or 'none'")
	}
	if cfg.Enrich.SyntheticDateWindowDays < 1 {
		return errors.ValidationError("enrich.synthetic_date_window_days", cfg.Enrich.SyntheticDateWindowDays, "must be at least 1")
	}
	if cfg.Load.BatchSize < 1 {
		return errors.ValidationError("load.batch_size", cfg.Load.BatchSize, "must be at least 1")
	}

	if cfg.Lock.Enabled && cfg.Lock.RedisAddr == "" {
		return errors.ConfigError("run lock requires a redis address", "lock.redis_addr")
	}
	if cfg.Report.KafkaEnabled && len(cfg.Report.Brokers) == 0 {
		return errors.ConfigError("report publishing requires at least one broker", "report.brokers")
	}
	return nil
}

// WarehouseDSN returns the warehouse DSN with the keyring password
// substituted when password_from_keyring is set.
func WarehouseDSN(cfg models.WarehouseConfig) (string, error) {
	if !cfg.PasswordFromKeyring {
		return cfg.DSN, nil
	}
	password, err := keyringGet(KeyringService, cfg.KeyringUser)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeSecretNotFound, "failed to read warehouse password from keyring").
			WithContext("service", KeyringService).
			WithContext("user", cfg.KeyringUser).
			WithSuggestions(fmt.Sprintf("Store it with your OS keyring tool under service %q and user %q", KeyringService, cfg.KeyringUser))
	}
	return strings.ReplaceAll(cfg.DSN, PasswordPlaceholder, password), nil
}

// Save writes cfg as YAML to path, creating the parent directory.
func Save(cfg *models.Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), common.DirPermissionSecure); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, common.FilePermissionSecure); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Exists reports whether path (or the default config file) exists.
func Exists(path string) bool {
	if path == "" {
		path = GetConfigFile()
	}
	_, err := os.Stat(path)
	return err == nil
}
