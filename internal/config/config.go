// Package config handles relay configuration loading and validation.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config is the top-level relay configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Storage   StorageConfig   `json:"storage"`
	Relay     RelayConfig     `json:"relay,omitempty"`
	Logging   LoggingConfig   `json:"logging,omitempty"`
	RateLimit RateLimitConfig `json:"rate_limit,omitempty"`
}

// ServerConfig defines the relay's listener settings.
type ServerConfig struct {
	Addr              string   `json:"addr"` // e.g. ":8080"
	TLSCert           string   `json:"tls_cert,omitempty"`
	TLSKey            string   `json:"tls_key,omitempty"`
	AllowedOrigins    []string `json:"allowed_origins,omitempty"`     // CORS origins; default ["*"]
	MaxBodyBytes      int64    `json:"max_body_bytes,omitempty"`      // max request body size; default 1MB
	AvatarStoragePath string   `json:"avatar_storage_path,omitempty"` // default "./parley-avatars"
	MaxAvatarBytes    int64    `json:"max_avatar_bytes,omitempty"`    // default 2MB
}

// StorageConfig defines database settings for identity records.
type StorageConfig struct {
	Driver string `json:"driver"` // "sqlite" (default) or "postgres"
	DSN    string `json:"dsn"`    // e.g. "parley.db" or ":memory:"
}

// RelayConfig defines WebSocket relay behavior.
type RelayConfig struct {
	MaxMessageBytes int64    `json:"max_message_bytes,omitempty"` // max WebSocket frame from a client; default 64KB
	PingInterval    Duration `json:"ping_interval,omitempty"`     // keepalive ping cadence; default 30s
	PongWait        Duration `json:"pong_wait,omitempty"`         // deadline to receive a pong; default 60s
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `json:"level,omitempty"`
	Format string `json:"format,omitempty"` // "json" or "text"
}

// RateLimitConfig defines rate limiting for the auth endpoints.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"` // default 5
	Burst             int     `json:"burst,omitempty"`               // default 10
}

// Duration is a JSON-friendly time.Duration.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		dur, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		d.Duration = dur
	case float64:
		d.Duration = time.Duration(val) * time.Second
	default:
		return fmt.Errorf("invalid duration: %v", v)
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return fmt.Errorf("server.tls_cert and server.tls_key must be set together")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.DSN == "" {
		c.Storage.DSN = "parley.db"
	}
	if c.Relay.MaxMessageBytes == 0 {
		c.Relay.MaxMessageBytes = 64 * 1024 // 64KB
	}
	if c.Relay.PingInterval.Duration == 0 {
		c.Relay.PingInterval.Duration = 30 * time.Second
	}
	if c.Relay.PongWait.Duration == 0 {
		c.Relay.PongWait.Duration = 60 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 5
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 10
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1024 * 1024 // 1MB
	}
	if c.Server.AvatarStoragePath == "" {
		c.Server.AvatarStoragePath = "./parley-avatars"
	}
	if c.Server.MaxAvatarBytes == 0 {
		c.Server.MaxAvatarBytes = 2 * 1024 * 1024 // 2MB
	}
}
