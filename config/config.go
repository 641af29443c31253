/*
Package config loads runtime settings for the reconciler.

PRECEDENCE (lowest to highest):
  1. Defaults
  2. YAML file (optional, --config)
  3. Environment: RECON_PORT, RECON_DB, RECON_LOOKBACK_DAYS,
     RECON_MONEY_PLACES, LOG_LEVEL, RECON_ALLOWED_ORIGINS
  4. Command-line flags, applied by cmd/reconciler

EXAMPLE FILE:
  port: 8080
  db_path: ./data/recon.db
  lookback_days: 14
  money_places: 2
  log_level: info
  allowed_origins:
    - http://localhost:5173
*/
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/warp/attribution-engine/reconcile"
)

// Config holds everything needed to build a store, an engine and the HTTP server.
type Config struct {
	Port           int      `yaml:"port"`
	DBPath         string   `yaml:"db_path"`
	LookbackDays   int      `yaml:"lookback_days"`
	MoneyPlaces    int32    `yaml:"money_places"`
	LogLevel       string   `yaml:"log_level"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:           8080,
		DBPath:         "recon.db",
		LookbackDays:   reconcile.DefaultLookbackDays,
		MoneyPlaces:    reconcile.DefaultMoneyPlaces,
		LogLevel:       "info",
		AllowedOrigins: []string{"http://localhost:5173", "http://localhost:3000"},
	}
}

// Load reads path (if non-empty) over the defaults, then applies the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("RECON_PORT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RECON_PORT: %w", err)
		}
		c.Port = n
	}
	if v, ok := lookup("RECON_DB"); ok && v != "" {
		c.DBPath = v
	}
	if v, ok := lookup("RECON_LOOKBACK_DAYS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RECON_LOOKBACK_DAYS: %w", err)
		}
		c.LookbackDays = n
	}
	if v, ok := lookup("RECON_MONEY_PLACES"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return fmt.Errorf("RECON_MONEY_PLACES: %w", err)
		}
		c.MoneyPlaces = int32(n)
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.LogLevel = v
	}
	if v, ok := lookup("RECON_ALLOWED_ORIGINS"); ok && v != "" {
		c.AllowedOrigins = strings.Split(v, ",")
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if c.LookbackDays < 0 {
		errs = append(errs, fmt.Errorf("lookback_days must not be negative, got %d", c.LookbackDays))
	}
	if c.MoneyPlaces < 0 || c.MoneyPlaces > 8 {
		errs = append(errs, fmt.Errorf("money_places must be between 0 and 8, got %d", c.MoneyPlaces))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}
