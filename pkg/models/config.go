package models

import "time"

// Config is the root of salesetl.yaml.
type Config struct {
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Sources   SourcesConfig   `yaml:"sources" mapstructure:"sources"`
	Enrich    EnrichConfig    `yaml:"enrich" mapstructure:"enrich"`
	Warehouse WarehouseConfig `yaml:"warehouse" mapstructure:"warehouse"`
	Load      LoadConfig      `yaml:"load" mapstructure:"load"`
	Lock      LockConfig      `yaml:"lock" mapstructure:"lock"`
	Report    ReportConfig    `yaml:"report" mapstructure:"report"`
	Schedule  ScheduleConfig  `yaml:"schedule" mapstructure:"schedule"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // "json" or "console"
}

// SourcesConfig lists the extractors to register, in run order.
type SourcesConfig struct {
	Files    FilesSourceConfig    `yaml:"files" mapstructure:"files"`
	S3       S3SourceConfig       `yaml:"s3" mapstructure:"s3"`
	Database DatabaseSourceConfig `yaml:"database" mapstructure:"database"`
	API      APISourceConfig      `yaml:"api" mapstructure:"api"`
}

type FilesSourceConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	Directory string `yaml:"directory" mapstructure:"directory"`
}

type S3SourceConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Bucket   string `yaml:"bucket" mapstructure:"bucket"`
	Prefix   string `yaml:"prefix" mapstructure:"prefix"`
	Region   string `yaml:"region" mapstructure:"region"`
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"` // for S3-compatible stores

	// Static credentials; the default AWS chain is used when empty.
	AccessKeyID     string `yaml:"access_key_id" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" mapstructure:"secret_access_key"`
}

type DatabaseSourceConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Driver  string `yaml:"driver" mapstructure:"driver"`
	DSN     string `yaml:"dsn" mapstructure:"dsn"`
}

type APISourceConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	BaseURL string        `yaml:"base_url" mapstructure:"base_url"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
	Token   string        `yaml:"token" mapstructure:"token"`
}

// EnrichConfig tunes how incomplete order details are filled in.
type EnrichConfig struct {
	CustomerFallback        string `yaml:"customer_fallback" mapstructure:"customer_fallback"` // "modulo" or "none"
	DefaultCustomerID       int64  `yaml:"default_customer_id" mapstructure:"default_customer_id"`
	SyntheticDateWindowDays int    `yaml:"synthetic_date_window_days" mapstructure:"synthetic_date_window_days"`
}

type WarehouseConfig struct {
	Driver              string        `yaml:"driver" mapstructure:"driver"` // postgres, snowflake, sqlite3
	DSN                 string        `yaml:"dsn" mapstructure:"dsn"`
	PasswordFromKeyring bool          `yaml:"password_from_keyring" mapstructure:"password_from_keyring"`
	KeyringUser         string        `yaml:"keyring_user" mapstructure:"keyring_user"`
	ConnectTimeout      time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`
	CleanupStatement    string        `yaml:"cleanup_statement" mapstructure:"cleanup_statement"`
}

type LoadConfig struct {
	BatchSize            int  `yaml:"batch_size" mapstructure:"batch_size"`
	PopulateDates        bool `yaml:"populate_dates" mapstructure:"populate_dates"`
	ConcurrentDimensions bool `yaml:"concurrent_dimensions" mapstructure:"concurrent_dimensions"`
}

// LockConfig enables the redis run lock.
type LockConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	RedisAddr string        `yaml:"redis_addr" mapstructure:"redis_addr"`
	Key       string        `yaml:"key" mapstructure:"key"`
	TTL       time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// ReportConfig enables publishing run reports to kafka.
type ReportConfig struct {
	KafkaEnabled bool     `yaml:"kafka_enabled" mapstructure:"kafka_enabled"`
	Brokers      []string `yaml:"brokers" mapstructure:"brokers"`
	Topic        string   `yaml:"topic" mapstructure:"topic"`
}

type ScheduleConfig struct {
	Cron        string `yaml:"cron" mapstructure:"cron"`
	MetricsAddr string `yaml:"metrics_addr" mapstructure:"metrics_addr"`
}
