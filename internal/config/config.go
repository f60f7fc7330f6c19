package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"seatwatch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Scraping   ScrapingConfig   `mapstructure:"scraping"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Automation AutomationConfig `mapstructure:"automation"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Encryption EncryptionConfig `mapstructure:"encryption"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity for the key-value store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs the monitoring sweep cadence.
type SchedulerConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	AlignToBucket bool          `mapstructure:"align_to_bucket"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
}

// PlatformConfig declares one ticket platform adapter.
type PlatformConfig struct {
	Name        string        `mapstructure:"name"`
	BaseURL     string        `mapstructure:"base_url"`
	Enabled     bool          `mapstructure:"enabled"`
	MinInterval time.Duration `mapstructure:"min_interval"`
	UserAgent   string        `mapstructure:"user_agent"`
}

// ScrapingConfig tunes the multi-platform scraping orchestrator.
type ScrapingConfig struct {
	Platforms      []PlatformConfig `mapstructure:"platforms"`
	RequestTimeout time.Duration    `mapstructure:"request_timeout"`
}

// MonitoringConfig tunes the monitoring engine.
type MonitoringConfig struct {
	RecordTTL      time.Duration `mapstructure:"record_ttl"`
	HistoryLimit   int           `mapstructure:"history_limit"`
	HealthWindow   time.Duration `mapstructure:"health_window"`
	ActivityWindow time.Duration `mapstructure:"activity_window"`
}

// AutomationConfig tunes the purchase automation engine.
type AutomationConfig struct {
	RuleTTL             time.Duration `mapstructure:"rule_ttl"`
	DecisionTTL         time.Duration `mapstructure:"decision_ttl"`
	QueueTTL            time.Duration `mapstructure:"queue_ttl"`
	PurchaseTTL         time.Duration `mapstructure:"purchase_ttl"`
	ConfidenceThreshold float64       `mapstructure:"confidence_threshold"`
	DefaultMaxAttempts  int           `mapstructure:"default_max_attempts"`
}

// NotifyConfig defines outbound notification routing.
type NotifyConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	WebhookURL     string        `mapstructure:"webhook_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// EncryptionConfig carries the at-rest protection key.
type EncryptionConfig struct {
	Key string `mapstructure:"key"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SEATWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "seatwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("scraping.request_timeout", "30s")

	v.SetDefault("monitoring.record_ttl", "720h")
	v.SetDefault("monitoring.history_limit", 100)
	v.SetDefault("monitoring.health_window", "2h")
	v.SetDefault("monitoring.activity_window", "1h")

	v.SetDefault("automation.rule_ttl", "2160h")
	v.SetDefault("automation.decision_ttl", "168h")
	v.SetDefault("automation.queue_ttl", "24h")
	v.SetDefault("automation.purchase_ttl", "720h")
	v.SetDefault("automation.confidence_threshold", 0.7)
	v.SetDefault("automation.default_max_attempts", 3)

	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.request_timeout", "10s")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Monitoring.HistoryLimit <= 0 {
		return fmt.Errorf("monitoring.history_limit must be greater than zero")
	}
	if c.Automation.ConfidenceThreshold < 0 || c.Automation.ConfidenceThreshold > 1 {
		return fmt.Errorf("automation.confidence_threshold must be within [0,1]")
	}
	if c.Automation.DefaultMaxAttempts <= 0 {
		return fmt.Errorf("automation.default_max_attempts must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Notify.Enabled && c.Notify.WebhookURL == "" {
		return fmt.Errorf("notify.webhook_url is required when notify.enabled is set")
	}
	seen := map[string]struct{}{}
	for _, p := range c.Scraping.Platforms {
		if p.Name == "" {
			return fmt.Errorf("scraping.platforms entries require a name")
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("scraping.platforms contains duplicate name %q", p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
