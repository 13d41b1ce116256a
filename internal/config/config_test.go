package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTPPort != defaultHTTPPort {
		t.Errorf("HTTPPort = %d, want %d", cfg.HTTPPort, defaultHTTPPort)
	}
	if cfg.ResubscribeInterval != defaultResubscribeInterval {
		t.Errorf("ResubscribeInterval = %v, want %v", cfg.ResubscribeInterval, defaultResubscribeInterval)
	}
	if cfg.RetentionDays != defaultRetentionDays {
		t.Errorf("RetentionDays = %d, want %d", cfg.RetentionDays, defaultRetentionDays)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("IRRIGATION_HTTP_PORT", "9999")
	t.Setenv("IRRIGATION_BROKER_URL", "wss://broker.example.com:8883/mqtt")
	t.Setenv("IRRIGATION_RESUBSCRIBE_INTERVAL", "45s")
	t.Setenv("IRRIGATION_RETENTION_DAYS", "30")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTPPort != 9999 {
		t.Errorf("HTTPPort = %d", cfg.HTTPPort)
	}
	if cfg.BrokerURL != "wss://broker.example.com:8883/mqtt" {
		t.Errorf("BrokerURL = %q", cfg.BrokerURL)
	}
	if cfg.ResubscribeInterval != 45*time.Second {
		t.Errorf("ResubscribeInterval = %v", cfg.ResubscribeInterval)
	}
	if cfg.Retention() != 30*24*time.Hour {
		t.Errorf("Retention = %v", cfg.Retention())
	}
}

func TestLoadConfigFileWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "http_port: 8181\nbroker_url: tcp://file-broker:1883\nlog_level: debug\nresubscribe_seconds: 45\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("IRRIGATION_CONFIG", path)
	t.Setenv("IRRIGATION_BROKER_URL", "tcp://env-broker:1883")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTPPort != 8181 {
		t.Errorf("HTTPPort = %d, want file value 8181", cfg.HTTPPort)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.ResubscribeInterval != 45*time.Second {
		t.Errorf("ResubscribeInterval = %v, want file value 45s", cfg.ResubscribeInterval)
	}
	// Environment beats the file.
	if cfg.BrokerURL != "tcp://env-broker:1883" {
		t.Errorf("BrokerURL = %q", cfg.BrokerURL)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("IRRIGATION_HTTP_PORT", "not-a-port")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for invalid port")
	}
}
