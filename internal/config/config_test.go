package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeEnv(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 8080 || cfg.SyncWorkers != 4 || cfg.SyncMaxAttempts != 10 || cfg.SyncTimeout != 15*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.SyncTransport != TransportNone || cfg.OfflineDBPath != "./offline.db" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	path := writeEnv(t, "PORT=9000\nSYNC_TRANSPORT=http\nSYNC_ENDPOINT_URL=\"https://central.example/sync\"\nSYNC_INTERVAL=30s\n")
	t.Setenv("PORT", "9100")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 9100 {
		t.Errorf("env should override file, port = %d", cfg.Port)
	}
	if cfg.SyncEndpointURL != "https://central.example/sync" || cfg.SyncInterval != 30*time.Second {
		t.Errorf("file values not applied: %+v", cfg)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad port", "PORT=abc\n"},
		{"bad timeout", "SYNC_TIMEOUT=-1s\n"},
		{"http without url", "SYNC_TRANSPORT=http\n"},
		{"amqp without url", "SYNC_TRANSPORT=amqp\n"},
		{"unknown transport", "SYNC_TRANSPORT=carrier-pigeon\n"},
		{"bad bool", "LOG_PRETTY=sometimes\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadFrom(writeEnv(t, tt.body)); err == nil {
				t.Fatalf("expected error for %q", tt.body)
			}
		})
	}
}
