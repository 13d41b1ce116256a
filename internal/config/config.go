package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config lists the tunable parameters for the irrigation server.
type Config struct {
	HTTPPort            int           `yaml:"http_port"`
	MetricsPort         int           `yaml:"metrics_port"`
	BrokerURL           string        `yaml:"broker_url"`
	ClientIDPrefix      string        `yaml:"client_id_prefix"`
	DatabasePath        string        `yaml:"database_path"`
	LogLevel            string        `yaml:"log_level"`
	DisplayTimezone     string        `yaml:"display_timezone"`
	ResubscribeSeconds  int           `yaml:"resubscribe_seconds"`
	ResubscribeInterval time.Duration `yaml:"-"`
	RetentionDays       int           `yaml:"retention_days"`
	EnableMDNS          bool          `yaml:"enable_mdns"`
}

const (
	defaultHTTPPort            = 8080
	defaultMetricsPort         = 9090
	defaultBrokerURL           = "tcp://localhost:1883"
	defaultClientIDPrefix      = "irrigation-server"
	defaultDatabasePath        = "data/irrigation.db"
	defaultLogLevel            = "info"
	defaultDisplayTimezone     = "Asia/Bangkok"
	defaultResubscribeInterval = 30 * time.Second
	defaultRetentionDays       = 90
)

// Load builds the configuration from an optional YAML file named by
// IRRIGATION_CONFIG, then applies IRRIGATION_* environment overrides.
func Load() (Config, error) {
	cfg := Config{
		HTTPPort:            defaultHTTPPort,
		MetricsPort:         defaultMetricsPort,
		BrokerURL:           defaultBrokerURL,
		ClientIDPrefix:      defaultClientIDPrefix,
		DatabasePath:        defaultDatabasePath,
		LogLevel:            defaultLogLevel,
		DisplayTimezone:     defaultDisplayTimezone,
		ResubscribeInterval: defaultResubscribeInterval,
		RetentionDays:       defaultRetentionDays,
	}

	if path := os.Getenv("IRRIGATION_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
		if cfg.ResubscribeSeconds > 0 {
			cfg.ResubscribeInterval = time.Duration(cfg.ResubscribeSeconds) * time.Second
		}
	}

	if v := os.Getenv("IRRIGATION_HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid IRRIGATION_HTTP_PORT: %w", err)
		}
		cfg.HTTPPort = port
	}

	if v := os.Getenv("IRRIGATION_METRICS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid IRRIGATION_METRICS_PORT: %w", err)
		}
		cfg.MetricsPort = port
	}

	if v := os.Getenv("IRRIGATION_BROKER_URL"); v != "" {
		cfg.BrokerURL = v
	}

	if v := os.Getenv("IRRIGATION_CLIENT_ID_PREFIX"); v != "" {
		cfg.ClientIDPrefix = v
	}

	if v := os.Getenv("IRRIGATION_DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}

	if v := os.Getenv("IRRIGATION_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if v := os.Getenv("IRRIGATION_DISPLAY_TIMEZONE"); v != "" {
		cfg.DisplayTimezone = v
	}

	if v := os.Getenv("IRRIGATION_RESUBSCRIBE_INTERVAL"); v != "" {
		interval, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid IRRIGATION_RESUBSCRIBE_INTERVAL: %w", err)
		}
		cfg.ResubscribeInterval = interval
	}

	if v := os.Getenv("IRRIGATION_RETENTION_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid IRRIGATION_RETENTION_DAYS: %w", err)
		}
		cfg.RetentionDays = days
	}

	if v := os.Getenv("IRRIGATION_ENABLE_MDNS"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid IRRIGATION_ENABLE_MDNS: %w", err)
		}
		cfg.EnableMDNS = enabled
	}

	if cfg.ResubscribeInterval <= 0 {
		cfg.ResubscribeInterval = defaultResubscribeInterval
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = defaultRetentionDays
	}

	return cfg, nil
}

// Retention returns the retention window as a duration.
func (c Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// Location resolves the configured display timezone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.DisplayTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid display timezone %q: %w", c.DisplayTimezone, err)
	}
	return loc, nil
}
