// Package config loads identity-cli configuration from config.yaml and IDENTITY_* env vars.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Phone      PhoneConfig      `yaml:"phone" mapstructure:"phone"`
	Linker     LinkerConfig     `yaml:"linker" mapstructure:"linker"`
	Merge      MergeConfig      `yaml:"merge" mapstructure:"merge"`
	Run        RunConfig        `yaml:"run" mapstructure:"run"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the PostgreSQL connection.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// PhoneConfig configures phone normalization.
type PhoneConfig struct {
	DefaultCountryCode string `yaml:"default_country_code" mapstructure:"default_country_code"`
}

// LinkerConfig configures identity linking.
type LinkerConfig struct {
	// MatchPriority decides which key wins when phone and email point at
	// different identities: "phone" or "email".
	MatchPriority string `yaml:"match_priority" mapstructure:"match_priority"`

	// TxTimeout bounds each per-record link transaction.
	TxTimeout time.Duration `yaml:"tx_timeout" mapstructure:"tx_timeout"`
}

// MergeConfig configures the duplicate merge cascade.
type MergeConfig struct {
	Concurrency   int           `yaml:"concurrency" mapstructure:"concurrency"`
	TxTimeout     time.Duration `yaml:"tx_timeout" mapstructure:"tx_timeout"`
	RatePerSec    float64       `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	RetryAttempts int           `yaml:"retry_attempts" mapstructure:"retry_attempts"`
}

// RunConfig configures run bookkeeping.
type RunConfig struct {
	StaleAfter time.Duration `yaml:"stale_after" mapstructure:"stale_after"`
}

// MonitoringConfig configures run-health alerting.
type MonitoringConfig struct {
	WebhookURL             string        `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckInterval          time.Duration `yaml:"check_interval" mapstructure:"check_interval"`
	LookbackWindowHours    int           `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold   float64       `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	RecordFailureThreshold int           `yaml:"record_failure_threshold" mapstructure:"record_failure_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("IDENTITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("phone.default_country_code", "39")
	v.SetDefault("linker.match_priority", "phone")
	v.SetDefault("linker.tx_timeout", 10*time.Second)
	v.SetDefault("merge.concurrency", 4)
	v.SetDefault("merge.tx_timeout", 30*time.Second)
	v.SetDefault("merge.rate_per_sec", 0)
	v.SetDefault("merge.retry_attempts", 3)
	v.SetDefault("run.stale_after", 6*time.Hour)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval", 5*time.Minute)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.record_failure_threshold", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the fields required by mode are present and sane.
// Modes: "reconcile", "schema", "runs", "monitor".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "reconcile":
		errs = append(errs, c.validateStore()...)
		if p := c.Linker.MatchPriority; p != "phone" && p != "email" {
			errs = append(errs, `linker.match_priority must be "phone" or "email"`)
		}
		if c.Linker.TxTimeout <= 0 {
			errs = append(errs, "linker.tx_timeout must be > 0")
		}
		if c.Merge.Concurrency < 1 || c.Merge.Concurrency > 64 {
			errs = append(errs, "merge.concurrency must be between 1 and 64")
		}
		if c.Merge.TxTimeout <= 0 {
			errs = append(errs, "merge.tx_timeout must be > 0")
		}
		if c.Merge.RatePerSec < 0 {
			errs = append(errs, "merge.rate_per_sec must be >= 0")
		}
		if c.Merge.RetryAttempts < 1 {
			errs = append(errs, "merge.retry_attempts must be >= 1")
		}
		if c.Run.StaleAfter <= 0 {
			errs = append(errs, "run.stale_after must be > 0")
		}
	case "schema", "runs":
		errs = append(errs, c.validateStore()...)
	case "monitor":
		errs = append(errs, c.validateStore()...)
		if c.Monitoring.LookbackWindowHours < 1 {
			errs = append(errs, "monitoring.lookback_window_hours must be >= 1")
		}
		if t := c.Monitoring.FailureRateThreshold; t < 0 || t > 1 {
			errs = append(errs, "monitoring.failure_rate_threshold must be between 0 and 1")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	var errs []string
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	if c.Store.MaxConns < 1 {
		errs = append(errs, "store.max_conns must be >= 1")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
