package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultListenAddress  = ":8480"
	DefaultDataDir        = "data/ledgerd"
	DefaultLedgerConfig   = "config/ledger.toml"
	DefaultRequestTimeout = 10 * time.Second
)

// Config captures the runtime settings for the ledger daemon.
type Config struct {
	ListenAddress  string                     `yaml:"listen"`
	DataDir        string                     `yaml:"data_dir"`
	JournalDSN     string                     `yaml:"journal_dsn"`
	LedgerConfig   string                     `yaml:"ledger_config"`
	RequestTimeout time.Duration              `yaml:"request_timeout"`
	TLS            TLSConfig                  `yaml:"tls"`
	Auth           AuthConfig                 `yaml:"auth"`
	RateLimits     map[string]RateLimitConfig `yaml:"rate_limits"`
	CORSOrigins    []string                   `yaml:"cors_origins"`
	Log            LogConfig                  `yaml:"log"`
}

// TLSConfig describes the TLS material for the HTTP listener.
type TLSConfig struct {
	CertPath      string `yaml:"cert"`
	KeyPath       string `yaml:"key"`
	ClientCAPath  string `yaml:"client_ca"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

// AuthConfig configures bearer token verification. Scopes maps the route
// groups read, write and admin to the scopes a token must carry.
type AuthConfig struct {
	Enabled    bool                `yaml:"enabled"`
	HMACSecret string              `yaml:"hmac_secret"`
	Issuer     string              `yaml:"issuer"`
	Audience   string              `yaml:"audience"`
	Scopes     map[string][]string `yaml:"scopes"`
}

// RateLimitConfig is a token bucket per caller.
type RateLimitConfig struct {
	RatePerSecond float64 `yaml:"rps"`
	Burst         int     `yaml:"burst"`
}

// LogConfig selects the log level and an optional rotated log file.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress: DefaultListenAddress,
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir
	}
	cfg.JournalDSN = strings.TrimSpace(cfg.JournalDSN)
	if cfg.JournalDSN == "" {
		cfg.JournalDSN = filepath.Join(cfg.DataDir, "events.db")
	}
	cfg.LedgerConfig = strings.TrimSpace(cfg.LedgerConfig)
	if cfg.LedgerConfig == "" {
		cfg.LedgerConfig = DefaultLedgerConfig
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	origins := make([]string, 0, len(cfg.CORSOrigins))
	for _, origin := range cfg.CORSOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	cfg.CORSOrigins = origins
	cfg.TLS.normalize()
	cfg.Auth.normalize()
	cfg.Log.normalize()
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if err := cfg.TLS.validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if err := cfg.Auth.validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	for group, limit := range cfg.RateLimits {
		if limit.RatePerSecond <= 0 || limit.Burst <= 0 {
			return fmt.Errorf("rate_limits.%s: rps and burst must be positive", group)
		}
	}
	return nil
}

func (cfg *TLSConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.CertPath = strings.TrimSpace(cfg.CertPath)
	cfg.KeyPath = strings.TrimSpace(cfg.KeyPath)
	cfg.ClientCAPath = strings.TrimSpace(cfg.ClientCAPath)
}

func (cfg TLSConfig) validate() error {
	hasCert := cfg.CertPath != ""
	hasKey := cfg.KeyPath != ""
	if hasCert != hasKey {
		return fmt.Errorf("cert and key must either both be provided or both be empty")
	}
	if !cfg.AllowInsecure && !hasCert {
		return fmt.Errorf("cert and key are required unless allow_insecure=true")
	}
	if cfg.ClientCAPath != "" && !hasCert {
		return fmt.Errorf("client_ca requires a server certificate and key")
	}
	return nil
}

// Enabled reports whether the listener serves TLS.
func (cfg TLSConfig) Enabled() bool {
	return cfg.CertPath != "" && cfg.KeyPath != ""
}

func (cfg *AuthConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.HMACSecret = strings.TrimSpace(cfg.HMACSecret)
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	cfg.Audience = strings.TrimSpace(cfg.Audience)
	for group, scopes := range cfg.Scopes {
		kept := make([]string, 0, len(scopes))
		for _, scope := range scopes {
			if trimmed := strings.TrimSpace(scope); trimmed != "" {
				kept = append(kept, trimmed)
			}
		}
		cfg.Scopes[group] = kept
	}
}

func (cfg AuthConfig) validate() error {
	if !cfg.Enabled {
		return nil
	}
	if len(cfg.HMACSecret) < 32 {
		return fmt.Errorf("hmac_secret must be at least 32 characters when auth is enabled")
	}
	for group := range cfg.Scopes {
		switch group {
		case "read", "write", "admin":
		default:
			return fmt.Errorf("scopes: unknown route group %q", group)
		}
	}
	return nil
}

func (cfg *LogConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.Level = strings.ToLower(strings.TrimSpace(cfg.Level))
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	cfg.File = strings.TrimSpace(cfg.File)
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 100
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 28
	}
}
