package core

import (
	"crypto/ed25519"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the entire gridward configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Bus      BusConfig      `yaml:"bus"`
	Response ResponseConfig `yaml:"response"`
	Approval ApprovalConfig `yaml:"approval"`
	Channel  ChannelConfig  `yaml:"channel"`
	Control  ControlConfig  `yaml:"control"`
	Store    StoreConfig    `yaml:"store"`
	Notify   NotifyConfig   `yaml:"notify"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds API server settings.
type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	APIKeys     []string `yaml:"api_keys"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// BusConfig holds NATS event bus settings.
type BusConfig struct {
	URL      string `yaml:"url"`
	Embedded bool   `yaml:"embedded"`
	DataDir  string `yaml:"data_dir"`
	Port     int    `yaml:"port"`
}

// ResponseConfig bounds the response orchestrator.
type ResponseConfig struct {
	HandlerTimeoutSeconds  int `yaml:"handler_timeout_seconds"`
	ExecutionBoundSeconds  int `yaml:"execution_bound_seconds"`
	SweepIntervalSeconds   int `yaml:"sweep_interval_seconds"`
	CleanupIntervalSeconds int `yaml:"cleanup_interval_seconds"`
	RetentionHours         int `yaml:"retention_hours"`
	DedupTTLSeconds        int `yaml:"dedup_ttl_seconds"`
}

// ApprovalConfig bounds the manual approval queue.
type ApprovalConfig struct {
	TTLMinutes int `yaml:"ttl_minutes"`
	MaxPending int `yaml:"max_pending"`
}

// ChannelConfig holds secure device channel settings. Trust anchors are
// hex-encoded ed25519 public keys; device certificate files are JSON as
// produced by the certificate issuer.
type ChannelConfig struct {
	SessionIdleMinutes int      `yaml:"session_idle_minutes"`
	TrustAnchors       []string `yaml:"trust_anchors"`
	DeviceCertFiles    []string `yaml:"device_cert_files"`
}

// ControlConfig selects the control plane adapter.
type ControlConfig struct {
	Mode           string `yaml:"mode"` // "log" or "nats"
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// NotifyConfig holds operator webhook notification settings. No URLs means
// operator alerts only reach the bus and the log.
type NotifyConfig struct {
	WebhookURLs []string `yaml:"webhook_urls"`
	MaxRetries  int      `yaml:"max_retries"`
	QueueSize   int      `yaml:"queue_size"`
	Workers     int      `yaml:"workers"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config with sane defaults — zero-config works out of the box.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 1880,
		},
		Bus: BusConfig{
			URL:      "nats://127.0.0.1:4222",
			Embedded: true,
			DataDir:  "./data/nats",
			Port:     4222,
		},
		Response: ResponseConfig{
			HandlerTimeoutSeconds:  30,
			ExecutionBoundSeconds:  300,
			SweepIntervalSeconds:   10,
			CleanupIntervalSeconds: 300,
			RetentionHours:         24,
			DedupTTLSeconds:        30,
		},
		Approval: ApprovalConfig{
			TTLMinutes: 15,
			MaxPending: 256,
		},
		Channel: ChannelConfig{
			SessionIdleMinutes: 30,
		},
		Control: ControlConfig{
			Mode:           "log",
			TimeoutSeconds: 10,
		},
		Store: StoreConfig{
			Path: "./data/gridward.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from a YAML file, falling back to defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Load API keys from environment if not set in config
	if len(cfg.Server.APIKeys) == 0 {
		if envKey := os.Getenv("GRIDWARD_API_KEY"); envKey != "" {
			cfg.Server.APIKeys = []string{envKey}
		}
	}

	return cfg, nil
}

// SaveConfig writes the configuration to a YAML file.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// OrchestratorConfig converts the response section to runtime durations.
func (c *Config) OrchestratorConfig() OrchestratorConfig {
	cfg := DefaultOrchestratorConfig()
	if c.Response.HandlerTimeoutSeconds > 0 {
		cfg.HandlerTimeout = time.Duration(c.Response.HandlerTimeoutSeconds) * time.Second
	}
	if c.Response.ExecutionBoundSeconds > 0 {
		cfg.ExecutionBound = time.Duration(c.Response.ExecutionBoundSeconds) * time.Second
	}
	if c.Response.SweepIntervalSeconds > 0 {
		cfg.SweepInterval = time.Duration(c.Response.SweepIntervalSeconds) * time.Second
	}
	if c.Response.CleanupIntervalSeconds > 0 {
		cfg.CleanupInterval = time.Duration(c.Response.CleanupIntervalSeconds) * time.Second
	}
	if c.Response.RetentionHours > 0 {
		cfg.Retention = time.Duration(c.Response.RetentionHours) * time.Hour
	}
	return cfg
}

// NotifierConfig converts the notify section to the runtime notifier config.
func (c *Config) NotifierConfig() NotifierConfig {
	cfg := DefaultNotifierConfig()
	cfg.WebhookURLs = c.Notify.WebhookURLs
	if c.Notify.MaxRetries > 0 {
		cfg.MaxRetries = c.Notify.MaxRetries
	}
	if c.Notify.QueueSize > 0 {
		cfg.QueueSize = c.Notify.QueueSize
	}
	if c.Notify.Workers > 0 {
		cfg.Workers = c.Notify.Workers
	}
	return cfg
}

// DedupTTL returns the duplicate-suppression window for inbound threats.
func (c *Config) DedupTTL() time.Duration {
	if c.Response.DedupTTLSeconds > 0 {
		return time.Duration(c.Response.DedupTTLSeconds) * time.Second
	}
	return 30 * time.Second
}

// TrustAnchorKeys decodes the configured hex trust anchors.
func (c *Config) TrustAnchorKeys() ([]ed25519.PublicKey, error) {
	keys := make([]ed25519.PublicKey, 0, len(c.Channel.TrustAnchors))
	for _, anchor := range c.Channel.TrustAnchors {
		raw, err := hex.DecodeString(strings.TrimSpace(anchor))
		if err != nil {
			return nil, fmt.Errorf("decoding trust anchor: %w", err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("trust anchor has %d bytes, want %d", len(raw), ed25519.PublicKeySize)
		}
		keys = append(keys, ed25519.PublicKey(raw))
	}
	return keys, nil
}

// LogLevel returns the parsed log level string.
func (c *Config) LogLevel() string {
	return strings.ToLower(c.Logging.Level)
}

// AuthEnabled returns true if API key authentication is configured.
func (c *Config) AuthEnabled() bool {
	return len(c.Server.APIKeys) > 0
}

// ValidateAPIKey checks if the provided key matches any configured API key.
// Uses constant-time comparison to prevent timing attacks.
func (c *Config) ValidateAPIKey(key string) bool {
	for _, valid := range c.Server.APIKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(valid)) == 1 {
			return true
		}
	}
	return false
}
