// Package config loads the service configuration from YAML with environment
// variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Lottery  LotteryConfig  `yaml:"lottery"`
	Auth     AuthConfig     `yaml:"auth"`
	Oracle   OracleConfig   `yaml:"oracle"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig configures the Postgres connection. An empty DSN selects
// the in-memory store.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LotteryConfig configures round economics and lifecycle.
type LotteryConfig struct {
	FeeRateBps            int64    `yaml:"fee_rate_bps"`
	MinDeposit            int64    `yaml:"min_deposit"`
	FeeCollector          string   `yaml:"fee_collector"`
	RandomnessFee         int64    `yaml:"randomness_fee"`
	DeleteCooldownSeconds int64    `yaml:"delete_cooldown_seconds"`
	SwapPath              []string `yaml:"swap_path"`
	CloseSchedule         string   `yaml:"close_schedule"`
}

// DeleteCooldown returns the cooldown as a duration.
func (c LotteryConfig) DeleteCooldown() time.Duration {
	return time.Duration(c.DeleteCooldownSeconds) * time.Second
}

// AuthConfig configures API authentication.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// OracleConfig configures the randomness oracle poller.
type OracleConfig struct {
	ResolverURL         string `yaml:"resolver_url"`
	ResolverKey         string `yaml:"resolver_key"`
	PollIntervalSeconds int64  `yaml:"poll_interval_seconds"`
}

// PollInterval returns the poll interval as a duration.
func (c OracleConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			AllowedOrigins: []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Lottery: LotteryConfig{
			FeeRateBps:            200,
			MinDeposit:            1,
			FeeCollector:          "fee-collector",
			RandomnessFee:         10,
			DeleteCooldownSeconds: 86400,
			SwapPath:              []string{"POOL", "FEE"},
			CloseSchedule:         "@every 1m",
		},
		Oracle: OracleConfig{
			PollIntervalSeconds: 10,
		},
	}
}

// Load reads the configuration from the path in LOTTO_CONFIG, falling back
// to config.yaml, then applies environment overrides. A missing file yields
// the defaults.
func Load() (*Config, error) {
	path := os.Getenv("LOTTO_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	return LoadFromPath(path)
}

// LoadFromPath reads the configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// defaults
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("LOTTO_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("LOTTO_DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("LOTTO_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LOTTO_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("LOTTO_ORACLE_RESOLVER_URL"); v != "" {
		c.Oracle.ResolverURL = v
	}
	if v := os.Getenv("LOTTO_ORACLE_RESOLVER_KEY"); v != "" {
		c.Oracle.ResolverKey = v
	}
	if v := os.Getenv("LOTTO_FEE_COLLECTOR"); v != "" {
		c.Lottery.FeeCollector = v
	}
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Lottery.FeeRateBps < 0 || c.Lottery.FeeRateBps >= 10_000 {
		return fmt.Errorf("fee rate %d out of range [0, 10000)", c.Lottery.FeeRateBps)
	}
	if c.Lottery.MinDeposit < 0 {
		return fmt.Errorf("minimum deposit must not be negative")
	}
	if c.Lottery.FeeCollector == "" {
		return fmt.Errorf("fee collector identity required")
	}
	if len(c.Lottery.SwapPath) < 2 {
		return fmt.Errorf("swap path needs at least two assets")
	}
	if strings.TrimSpace(c.Lottery.CloseSchedule) == "" {
		return fmt.Errorf("close schedule required")
	}
	return nil
}
