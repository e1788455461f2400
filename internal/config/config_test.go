package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `{
		"server": {"addr": ":9090", "allowed_origins": ["https://chat.example.com"]},
		"storage": {"driver": "postgres", "dsn": "postgres://localhost/parley"},
		"relay": {"max_message_bytes": 32768, "ping_interval": "15s", "pong_wait": 45},
		"logging": {"level": "debug", "format": "text"},
		"rate_limit": {"requests_per_second": 2, "burst": 4}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q, want :9090", cfg.Server.Addr)
	}
	if cfg.Storage.Driver != "postgres" {
		t.Errorf("driver = %q, want postgres", cfg.Storage.Driver)
	}
	if cfg.Relay.MaxMessageBytes != 32768 {
		t.Errorf("max_message_bytes = %d, want 32768", cfg.Relay.MaxMessageBytes)
	}
	// Durations accept both "15s" strings and bare seconds.
	if cfg.Relay.PingInterval.Duration != 15*time.Second {
		t.Errorf("ping_interval = %v, want 15s", cfg.Relay.PingInterval.Duration)
	}
	if cfg.Relay.PongWait.Duration != 45*time.Second {
		t.Errorf("pong_wait = %v, want 45s", cfg.Relay.PongWait.Duration)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"server": {"addr": ":8080"}, "storage": {}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("default driver = %q, want sqlite", cfg.Storage.Driver)
	}
	if cfg.Storage.DSN != "parley.db" {
		t.Errorf("default dsn = %q, want parley.db", cfg.Storage.DSN)
	}
	if cfg.Relay.MaxMessageBytes != 64*1024 {
		t.Errorf("default max_message_bytes = %d, want 65536", cfg.Relay.MaxMessageBytes)
	}
	if cfg.Relay.PingInterval.Duration != 30*time.Second {
		t.Errorf("default ping_interval = %v, want 30s", cfg.Relay.PingInterval.Duration)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("default logging = %+v", cfg.Logging)
	}
	if cfg.RateLimit.RequestsPerSecond != 5 || cfg.RateLimit.Burst != 10 {
		t.Errorf("default rate limit = %+v", cfg.RateLimit)
	}
	if cfg.Server.MaxBodyBytes != 1024*1024 {
		t.Errorf("default max_body_bytes = %d, want 1048576", cfg.Server.MaxBodyBytes)
	}
	if cfg.Server.AvatarStoragePath != "./parley-avatars" {
		t.Errorf("default avatar path = %q", cfg.Server.AvatarStoragePath)
	}
}

func TestLoadMissingAddr(t *testing.T) {
	path := writeConfig(t, `{"server": {}, "storage": {"driver": "sqlite"}}`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing server.addr")
	}
}

func TestLoadTLSPairRequired(t *testing.T) {
	path := writeConfig(t, `{"server": {"addr": ":8080", "tls_cert": "cert.pem"}}`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for tls_cert without tls_key")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	path := writeConfig(t, `{not json`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	path := writeConfig(t, `{"server": {"addr": ":8080"}, "relay": {"ping_interval": "soon"}}`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unparseable duration")
	}
}
