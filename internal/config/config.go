// Package config defines all configuration for the streaming service.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via POLY_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure.
type Config struct {
	Wallet     WalletConfig     `mapstructure:"wallet"`
	Streaming  StreamingConfig  `mapstructure:"streaming"`
	CLOB       CLOBConfig       `mapstructure:"clob"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Dashboard  DashboardConfig  `mapstructure:"dashboard"`
}

// WalletConfig holds the Ethereum wallet used to derive L2 API credentials
// and sign authenticated requests. PrivateKey signs L1 (EIP-712) auth;
// FunderAddress is the on-chain address the wallet acts on behalf of (may
// differ from the signer when using a proxy wallet).
type WalletConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	FunderAddress string `mapstructure:"funder_address"`
	ChainID       int64  `mapstructure:"chain_id"`
	ApiKey        string `mapstructure:"api_key"`
	Secret        string `mapstructure:"secret"`
	Passphrase    string `mapstructure:"passphrase"`
}

// StreamingConfig governs the worker pool: how tokens are distributed
// across WebSocket connections and how each one reconnects and buffers
// events.
type StreamingConfig struct {
	Tokens               []string `mapstructure:"tokens"`
	TokensPerWorker      int  `mapstructure:"tokens_per_worker"`
	WSEndpoint           string `mapstructure:"ws_endpoint"`
	AutoReconnect        bool `mapstructure:"auto_reconnect"`
	ReconnectDelayMS     int  `mapstructure:"reconnect_delay_ms"`
	MaxReconnectDelayMS  int  `mapstructure:"max_reconnect_delay_ms"`
	MaxReconnectAttempts int  `mapstructure:"max_reconnect_attempts"`
	EventBufferSize      int  `mapstructure:"event_buffer_size"`
	SkipHashVerification bool `mapstructure:"skip_hash_verification"`
	QuietHashMismatch    bool `mapstructure:"quiet_hash_mismatch"`
}

// CLOBConfig points at the REST API used for order-book snapshot
// hydration.
type CLOBConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// ArchiveConfig controls historical batch archival.
type ArchiveConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	RootDir   string `mapstructure:"root_dir"`
	BatchSize int    `mapstructure:"batch_size"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the HTTP/WS consumer-facing server.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: POLY_PRIVATE_KEY, POLY_API_KEY,
// POLY_API_SECRET, POLY_PASSPHRASE.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("POLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("POLY_PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if key := os.Getenv("POLY_API_KEY"); key != "" {
		cfg.Wallet.ApiKey = key
	}
	if secret := os.Getenv("POLY_API_SECRET"); secret != "" {
		cfg.Wallet.Secret = secret
	}
	if pass := os.Getenv("POLY_PASSPHRASE"); pass != "" {
		cfg.Wallet.Passphrase = pass
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("streaming.tokens_per_worker", 50)
	v.SetDefault("streaming.auto_reconnect", true)
	v.SetDefault("streaming.reconnect_delay_ms", 1000)
	v.SetDefault("streaming.max_reconnect_delay_ms", 30000)
	v.SetDefault("streaming.max_reconnect_attempts", 10)
	v.SetDefault("streaming.event_buffer_size", 256)
	v.SetDefault("archive.batch_size", 100)
	v.SetDefault("archive.root_dir", "./data")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("dashboard.port", 8080)
}

// ReconnectDelayBase returns the configured initial reconnect delay as a
// time.Duration.
func (c *Config) ReconnectDelayBase() time.Duration {
	return time.Duration(c.Streaming.ReconnectDelayMS) * time.Millisecond
}

// ReconnectDelayMax returns the configured reconnect delay ceiling as a
// time.Duration.
func (c *Config) ReconnectDelayMax() time.Duration {
	return time.Duration(c.Streaming.MaxReconnectDelayMS) * time.Millisecond
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Wallet.PrivateKey == "" {
		return fmt.Errorf("wallet.private_key is required (set POLY_PRIVATE_KEY)")
	}
	if c.Wallet.ChainID == 0 {
		return fmt.Errorf("wallet.chain_id is required (137 for mainnet)")
	}
	if c.Streaming.WSEndpoint == "" {
		return fmt.Errorf("streaming.ws_endpoint is required")
	}
	if c.Streaming.TokensPerWorker <= 0 {
		return fmt.Errorf("streaming.tokens_per_worker must be > 0")
	}
	if c.Streaming.ReconnectDelayMS <= 0 {
		return fmt.Errorf("streaming.reconnect_delay_ms must be > 0")
	}
	if c.Streaming.MaxReconnectDelayMS < c.Streaming.ReconnectDelayMS {
		return fmt.Errorf("streaming.max_reconnect_delay_ms must be >= reconnect_delay_ms")
	}
	if c.Streaming.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("streaming.max_reconnect_attempts must be > 0")
	}
	if c.Streaming.EventBufferSize <= 0 {
		return fmt.Errorf("streaming.event_buffer_size must be > 0")
	}
	if c.Archive.Enabled && c.Archive.RootDir == "" {
		return fmt.Errorf("archive.root_dir is required when archive.enabled is true")
	}
	if c.Dashboard.Enabled && c.Dashboard.Port <= 0 {
		return fmt.Errorf("dashboard.port must be > 0 when dashboard.enabled is true")
	}
	return nil
}
