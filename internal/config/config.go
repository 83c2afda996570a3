package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigPath is used when neither a flag nor ANTIHUB_CONFIG is set.
	DefaultConfigPath = "config.yaml"
	// ConfigPathEnv overrides the config path.
	ConfigPathEnv = "ANTIHUB_CONFIG"
)

// AppConfig holds process-level options collected from the command line.
type AppConfig struct {
	ConfigPath   string
	MockProvider bool
}

// Config is the parsed config.yaml.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	JWT      JWTConfig      `yaml:"jwt"`
	Logging  LoggingConfig  `yaml:"logging"`
	Provider ProviderConfig `yaml:"provider"`
	Quota    QuotaConfig    `yaml:"quota"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig configures the gorm connection.
type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	TimeZone string `yaml:"timezone"`
}

// RedisConfig configures the optional redis client used for the recovery leader lock.
// An empty Addr disables redis and falls back to an in-process lock.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// JWTConfig configures token signing.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// LoggingConfig configures logrus output.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// ProviderConfig configures the upstream provider adapter.
type ProviderConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	Mock    bool          `yaml:"mock"`
}

// QuotaConfig holds the quota engine tunables.
type QuotaConfig struct {
	RecoveryRate      float64       `yaml:"recovery_rate"`
	RecoveryInterval  time.Duration `yaml:"recovery_interval"`
	RetryBudget       int           `yaml:"retry_budget"`
	CapMultiplier     float64       `yaml:"cap_multiplier"`
	ProviderAttempts  int           `yaml:"provider_attempts"`
	SettleTimeout     time.Duration `yaml:"settle_timeout"`
	LowQuotaThreshold float64       `yaml:"low_quota_threshold"`
}

// DefaultQuotaConfig returns the documented quota defaults.
func DefaultQuotaConfig() QuotaConfig {
	return QuotaConfig{
		RecoveryRate:      0.2,
		RecoveryInterval:  time.Hour,
		RetryBudget:       5,
		CapMultiplier:     2,
		ProviderAttempts:  2,
		SettleTimeout:     10 * time.Second,
		LowQuotaThreshold: 0.1,
	}
}

// ResolveConfigPath picks the config path from the flag value, the environment or the default.
func ResolveConfigPath(flagValue string) string {
	if trimmed := strings.TrimSpace(flagValue); trimmed != "" {
		return trimmed
	}
	if env := strings.TrimSpace(os.Getenv(ConfigPathEnv)); env != "" {
		return env
	}
	return DefaultConfigPath
}

// Load reads, expands and validates a config file.
// Environment variables in the form ${VAR} are expanded before parsing.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// LoadApp loads the config selected by the command line and applies its overrides
// before validation.
func LoadApp(app AppConfig) (Config, error) {
	path := ResolveConfigPath(app.ConfigPath)
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return parse(data, func(cfg *Config) {
		if app.MockProvider {
			cfg.Provider.Mock = true
		}
	})
}

// Parse decodes config bytes, applies defaults and validates the result.
func Parse(data []byte) (Config, error) {
	return parse(data, nil)
}

func parse(data []byte, override func(*Config)) (Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := Config{Quota: DefaultQuotaConfig()}
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	if override != nil {
		override(&cfg)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Server.Addr) == "" {
		c.Server.Addr = ":8008"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.JWT.Expiry <= 0 {
		c.JWT.Expiry = 24 * time.Hour
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if c.Provider.Timeout <= 0 {
		c.Provider.Timeout = 2 * time.Minute
	}

	defaults := DefaultQuotaConfig()
	if c.Quota.RecoveryRate <= 0 {
		c.Quota.RecoveryRate = defaults.RecoveryRate
	}
	if c.Quota.RecoveryInterval <= 0 {
		c.Quota.RecoveryInterval = defaults.RecoveryInterval
	}
	if c.Quota.RetryBudget <= 0 {
		c.Quota.RetryBudget = defaults.RetryBudget
	}
	if c.Quota.CapMultiplier <= 0 {
		c.Quota.CapMultiplier = defaults.CapMultiplier
	}
	if c.Quota.ProviderAttempts <= 0 {
		c.Quota.ProviderAttempts = defaults.ProviderAttempts
	}
	if c.Quota.SettleTimeout <= 0 {
		c.Quota.SettleTimeout = defaults.SettleTimeout
	}
	if c.Quota.LowQuotaThreshold <= 0 {
		c.Quota.LowQuotaThreshold = defaults.LowQuotaThreshold
	}
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("config: database.dsn is required")
	}
	if strings.TrimSpace(c.JWT.Secret) == "" {
		return errors.New("config: jwt.secret is required")
	}
	if !c.Provider.Mock && strings.TrimSpace(c.Provider.BaseURL) == "" {
		return errors.New("config: provider.base_url is required unless provider.mock is set")
	}
	if c.Quota.RecoveryRate > 1 {
		return fmt.Errorf("config: quota.recovery_rate must be in (0,1], got %v", c.Quota.RecoveryRate)
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}
