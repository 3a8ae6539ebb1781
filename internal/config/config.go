package config

import (
	"time"

	yamlenv "github.com/ifuryst/go-yaml-env"

	"syndicate/internal/adapter/webhook"
	"syndicate/internal/maintenance"
	"syndicate/internal/queue"
	"syndicate/internal/store"
	"syndicate/pkg/logger"
)

type Config struct {
	Server      ServerConfig         `yaml:"server"`
	Storage     StorageConfig        `yaml:"storage"`
	Database    store.DatabaseConfig `yaml:"database"`
	Logger      logger.Config        `yaml:"logger"`
	Queue       QueueConfig          `yaml:"queue"`
	Publishing  PublishingConfig     `yaml:"publishing"`
	Maintenance MaintenanceConfig    `yaml:"maintenance"`
	Broker      webhook.Config       `yaml:"broker"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Mode string `yaml:"mode"`
}

type StorageConfig struct {
	// Driver selects the storage/queue backend: postgres or memory.
	Driver string `yaml:"driver"`
}

type QueueConfig struct {
	PollInterval       string           `yaml:"poll_interval"`
	BatchSize          int              `yaml:"batch_size"`
	MaxAttempts        int              `yaml:"max_attempts"`
	DefaultConcurrency int64            `yaml:"default_concurrency"`
	Concurrency        map[string]int64 `yaml:"concurrency"`
	VisibilityTimeout  string           `yaml:"visibility_timeout"`
}

type PublishingConfig struct {
	BaseRetryDelay   string `yaml:"base_retry_delay"`
	AnalyticsDelay   string `yaml:"analytics_delay"`
	AnalyticsSamples int    `yaml:"analytics_samples"`
}

type MaintenanceConfig struct {
	RefreshSchedule   string `yaml:"refresh_schedule"`
	ExpirySchedule    string `yaml:"expiry_schedule"`
	ReconcileSchedule string `yaml:"reconcile_schedule"`
	MetricsSchedule   string `yaml:"metrics_schedule"`
	CredentialWindow  string `yaml:"credential_window"`
	ExpiryWindow      string `yaml:"expiry_window"`
	JobRetention      string `yaml:"job_retention"`
}

func LoadConfig(configPath string) (*Config, error) {
	cfg, err := yamlenv.LoadConfig[Config](configPath)
	if err != nil {
		return nil, err
	}

	// Set default values
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5380
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "release"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.TimeZone == "" {
		cfg.Database.TimeZone = "UTC"
	}

	return cfg, nil
}

// QueueOptions converts the YAML queue section into the dispatcher config.
func (c *Config) QueueOptions() queue.Config {
	return queue.Config{
		PollInterval:       parseDuration(c.Queue.PollInterval, time.Second),
		BatchSize:          c.Queue.BatchSize,
		DefaultMaxAttempts: c.Queue.MaxAttempts,
		DefaultConcurrency: c.Queue.DefaultConcurrency,
		Concurrency:        c.Queue.Concurrency,
		VisibilityTimeout:  parseDuration(c.Queue.VisibilityTimeout, 5*time.Minute),
	}
}

// MaintenanceOptions converts the YAML maintenance section into sweep config.
func (c *Config) MaintenanceOptions() maintenance.Config {
	return maintenance.Config{
		RefreshSchedule:   c.Maintenance.RefreshSchedule,
		ExpirySchedule:    c.Maintenance.ExpirySchedule,
		ReconcileSchedule: c.Maintenance.ReconcileSchedule,
		MetricsSchedule:   c.Maintenance.MetricsSchedule,
		CredentialWindow:  parseDuration(c.Maintenance.CredentialWindow, 24*time.Hour),
		ExpiryWindow:      parseDuration(c.Maintenance.ExpiryWindow, 24*time.Hour),
		JobRetention:      parseDuration(c.Maintenance.JobRetention, 7*24*time.Hour),
	}
}

// BaseRetryDelay returns the publish backoff base.
func (c *Config) BaseRetryDelay() time.Duration {
	return parseDuration(c.Publishing.BaseRetryDelay, time.Minute)
}

// AnalyticsDelay returns the delay before the first measurement sample.
func (c *Config) AnalyticsDelay() time.Duration {
	return parseDuration(c.Publishing.AnalyticsDelay, time.Hour)
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
