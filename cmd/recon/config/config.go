// Package config loads the engine configuration from the environment (and
// an optional config file) via viper, validates it once, and hands each
// component the settings it needs.
//
// Every setting is overridable through an environment variable carrying the
// RECON_ prefix, for example RECON_DATABASE_URL or RECON_AUTO_MATCH_THRESHOLD.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"trade-reconciliation-engine/internal/breaks"
	"trade-reconciliation-engine/internal/ingest"
	"trade-reconciliation-engine/internal/matcher"
	"trade-reconciliation-engine/internal/server"
	"trade-reconciliation-engine/internal/store/postgres"
	"trade-reconciliation-engine/pkg/errors"
	"trade-reconciliation-engine/pkg/logger"
)

// EnvPrefix is the environment variable prefix, without the underscore.
const EnvPrefix = "RECON"

// Config is the full engine configuration. It is loaded once at startup and
// never mutated; components receive copies of the slices they need.
type Config struct {
	// Matching thresholds and tolerances.
	AutoMatchThreshold    float64
	ManualReviewThreshold float64
	PriceTolerancePct     float64
	QuantityTolerance     float64

	// SLA windows in minutes. HighPriority applies to CRITICAL breaks,
	// MediumPriority to HIGH, LowPriority to MEDIUM and LOW.
	SLAHighPriorityMinutes   int
	SLAMediumPriorityMinutes int
	SLALowPriorityMinutes    int

	// External systems. RedisURL and ModelPath are optional; empty
	// disables notifications and prediction respectively.
	DatabaseURL string
	RedisURL    string
	ModelPath   string

	// OMS REST connector. An empty URL means the source is not configured.
	OMSAPIURL    string
	OMSAPIKey    string
	OMSAPISecret string

	// Custodian file-drop connector. Empty means not configured.
	CustodianDropDir string

	ServerAddr  string
	Environment string
	LogLevel    string
	LogFormat   string

	// ScheduleFile optionally overrides job cadences (YAML).
	ScheduleFile string
}

// Load reads the configuration from the process-wide viper, which the root
// command has already pointed at the environment and any --config file.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads the configuration from the given viper instance.
func LoadFrom(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	cfg := &Config{
		AutoMatchThreshold:    v.GetFloat64("auto_match_threshold"),
		ManualReviewThreshold: v.GetFloat64("manual_review_threshold"),
		PriceTolerancePct:     v.GetFloat64("price_tolerance_pct"),
		QuantityTolerance:     v.GetFloat64("quantity_tolerance"),

		SLAHighPriorityMinutes:   v.GetInt("sla_high_priority"),
		SLAMediumPriorityMinutes: v.GetInt("sla_medium_priority"),
		SLALowPriorityMinutes:    v.GetInt("sla_low_priority"),

		DatabaseURL: v.GetString("database_url"),
		RedisURL:    v.GetString("redis_url"),
		ModelPath:   v.GetString("model_path"),

		OMSAPIURL:    v.GetString("oms_api_url"),
		OMSAPIKey:    v.GetString("oms_api_key"),
		OMSAPISecret: v.GetString("oms_api_secret"),

		CustodianDropDir: v.GetString("custodian_drop_dir"),

		ServerAddr:   v.GetString("server_addr"),
		Environment:  v.GetString("environment"),
		LogLevel:     v.GetString("log_level"),
		LogFormat:    v.GetString("log_format"),
		ScheduleFile: v.GetString("schedule_file"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("auto_match_threshold", 0.95)
	v.SetDefault("manual_review_threshold", 0.75)
	v.SetDefault("price_tolerance_pct", 0.01)
	v.SetDefault("quantity_tolerance", 0.0)

	v.SetDefault("sla_high_priority", 30)
	v.SetDefault("sla_medium_priority", 120)
	v.SetDefault("sla_low_priority", 480)

	v.SetDefault("server_addr", ":8080")
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
}

// Validate checks every setting against its domain. It returns the first
// problem found as a configuration error with a remediation suggestion.
func (c *Config) Validate() error {
	if c.AutoMatchThreshold <= 0 || c.AutoMatchThreshold > 1 {
		return errors.ConfigError(errors.CodeInvalidConfig, "auto_match_threshold",
			fmt.Errorf("must be in (0, 1], got %v", c.AutoMatchThreshold))
	}
	if c.ManualReviewThreshold <= 0 || c.ManualReviewThreshold > 1 {
		return errors.ConfigError(errors.CodeInvalidConfig, "manual_review_threshold",
			fmt.Errorf("must be in (0, 1], got %v", c.ManualReviewThreshold))
	}
	if c.ManualReviewThreshold > c.AutoMatchThreshold {
		return errors.ConfigError(errors.CodeInvalidConfig, "manual_review_threshold",
			fmt.Errorf("%v exceeds auto_match_threshold %v",
				c.ManualReviewThreshold, c.AutoMatchThreshold))
	}
	if c.PriceTolerancePct < 0 {
		return errors.ConfigError(errors.CodeInvalidConfig, "price_tolerance_pct",
			fmt.Errorf("must be non-negative, got %v", c.PriceTolerancePct))
	}
	if c.QuantityTolerance < 0 {
		return errors.ConfigError(errors.CodeInvalidConfig, "quantity_tolerance",
			fmt.Errorf("must be non-negative, got %v", c.QuantityTolerance))
	}

	for _, window := range []struct {
		name    string
		minutes int
	}{
		{"sla_high_priority", c.SLAHighPriorityMinutes},
		{"sla_medium_priority", c.SLAMediumPriorityMinutes},
		{"sla_low_priority", c.SLALowPriorityMinutes},
	} {
		if window.minutes <= 0 {
			return errors.ConfigError(errors.CodeInvalidConfig, window.name,
				fmt.Errorf("must be positive minutes, got %d", window.minutes))
		}
	}

	if c.DatabaseURL == "" {
		return errors.ConfigError(errors.CodeMissingConfig, "database_url", nil)
	}

	return nil
}

// MatcherConfig builds the matcher configuration from the loaded thresholds.
func (c *Config) MatcherConfig() *matcher.Config {
	cfg := matcher.DefaultConfig()
	cfg.AutoMatchThreshold = c.AutoMatchThreshold
	cfg.ManualReviewThreshold = c.ManualReviewThreshold
	cfg.PriceTolerancePct = c.PriceTolerancePct
	cfg.QuantityTolerance = c.QuantityTolerance
	return cfg
}

// SLAPolicy maps the configured minute windows onto break severities.
func (c *Config) SLAPolicy() breaks.SLAPolicy {
	return breaks.SLAPolicy{
		Critical: time.Duration(c.SLAHighPriorityMinutes) * time.Minute,
		High:     time.Duration(c.SLAMediumPriorityMinutes) * time.Minute,
		Medium:   time.Duration(c.SLALowPriorityMinutes) * time.Minute,
		Low:      time.Duration(c.SLALowPriorityMinutes) * time.Minute,
	}
}

// OMSConfig builds the OMS connector configuration. With a secret the key is
// sent as a key-id/secret header pair, otherwise as a bearer token.
func (c *Config) OMSConfig() ingest.OMSConfig {
	cfg := ingest.OMSConfig{BaseURL: c.OMSAPIURL}
	if c.OMSAPISecret != "" {
		cfg.APIKeyID = c.OMSAPIKey
		cfg.APISecret = c.OMSAPISecret
	} else {
		cfg.APIKey = c.OMSAPIKey
	}
	return cfg
}

// CustodianConfig builds the custodian connector configuration.
func (c *Config) CustodianConfig() ingest.CustodianConfig {
	return ingest.CustodianConfig{DropDir: c.CustodianDropDir}
}

// PostgresConfig builds the database configuration around the DSN.
func (c *Config) PostgresConfig() postgres.Config {
	cfg := postgres.DefaultConfig()
	cfg.DSN = c.DatabaseURL
	return cfg
}

// ServerConfig builds the HTTP server configuration.
func (c *Config) ServerConfig() server.Config {
	cfg := server.DefaultConfig()
	cfg.Addr = c.ServerAddr
	cfg.Environment = c.Environment
	return cfg
}

// LoggerConfig builds the logger configuration. Verbose forces debug level
// regardless of the configured one.
func (c *Config) LoggerConfig(verbose bool) *logger.Config {
	level := logger.Level(c.LogLevel)
	if verbose {
		level = logger.DebugLevel
	}
	return &logger.Config{
		Level:  level,
		Format: logger.Format(c.LogFormat),
		Output: logger.StderrOutput,
	}
}
