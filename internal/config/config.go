// Package config defines the top-level configuration for the vault daemon
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by VAULTD_* environment variables.
type Config struct {
	Oracle   OracleConfig   `toml:"oracle"`
	Vault    VaultConfig    `toml:"vault"`
	Fees     FeeConfig      `toml:"fees"`
	Attester AttesterConfig `toml:"attester"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`

	// Admin is the hex address granted every capability at startup.
	Admin    string `toml:"admin"`
	ChainID  int64  `toml:"chain_id"`
	Mode     string `toml:"mode"`
	LogLevel string `toml:"log_level"`
}

// OracleConfig holds the signal validation policy.
type OracleConfig struct {
	// Instance is the hex address bound into the attestation domain as the
	// verifying identity.
	Instance         string   `toml:"instance"`
	StrategyVersion  uint64   `toml:"strategy_version"`
	MinConfidenceBps uint32   `toml:"min_confidence_bps"`
	ExpiryWindow     duration `toml:"expiry_window"`
	// Signers are hex addresses registered as attestation signers at startup.
	Signers []string `toml:"signers"`
}

// VaultConfig holds the vault identity and its asset universe.
type VaultConfig struct {
	Name       string `toml:"name"`
	Symbol     string `toml:"symbol"`
	Address    string `toml:"address"`
	Underlying string `toml:"underlying"`
	Collector  string `toml:"collector"`
	// Keepers are hex addresses granted execution capability at startup.
	Keepers []string `toml:"keepers"`
}

// FeeConfig holds the fee schedule. Zero values charge nothing.
type FeeConfig struct {
	PerformanceBps uint32   `toml:"performance_bps"`
	ManagementBps  uint32   `toml:"management_bps"`
	AccrualPeriod  duration `toml:"accrual_period"`
}

// AttesterConfig holds the local signing key used in dev mode to produce
// attestations without an external signer.
type AttesterConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig holds cold-storage retention parameters. Rows older than
// RetentionDays are uploaded to S3 and pruned from Postgres.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	SweepInterval duration `toml:"sweep_interval"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Oracle: OracleConfig{
			StrategyVersion:  1,
			MinConfidenceBps: 5000,
			ExpiryWindow:     duration{24 * time.Hour},
		},
		Vault: VaultConfig{
			Name:   "Signal Vault",
			Symbol: "svUSD",
		},
		Fees: FeeConfig{
			PerformanceBps: 1500,
			ManagementBps:  100,
			AccrualPeriod:  duration{time.Hour},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "signalvault",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "signalvault-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			SweepInterval: duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"executed", "vault_paused", "fee_accrued"},
		},
		ChainID:  1,
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode. "server" runs
// the API without the fee/archive background loops; "core" is the inverse.
var validModes = map[string]bool{
	"server": true,
	"core":   true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// isHexAddress is a light sanity check: 0x followed by 40 hex characters.
func isHexAddress(s string) bool {
	if len(s) != 42 || s[0] != '0' || (s[1] != 'x' && s[1] != 'X') {
		return false
	}
	for _, c := range s[2:] {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, core, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Identity
	if !isHexAddress(c.Admin) {
		errs = append(errs, fmt.Sprintf("admin: %q is not a hex address", c.Admin))
	}
	if c.ChainID <= 0 {
		errs = append(errs, "chain_id must be positive")
	}

	// Oracle
	if !isHexAddress(c.Oracle.Instance) {
		errs = append(errs, fmt.Sprintf("oracle: instance %q is not a hex address", c.Oracle.Instance))
	}
	if c.Oracle.MinConfidenceBps > 10000 {
		errs = append(errs, fmt.Sprintf("oracle: min_confidence_bps must be <= 10000, got %d", c.Oracle.MinConfidenceBps))
	}
	if c.Oracle.ExpiryWindow.Duration <= 0 {
		errs = append(errs, "oracle: expiry_window must be > 0")
	}
	for _, s := range c.Oracle.Signers {
		if !isHexAddress(s) {
			errs = append(errs, fmt.Sprintf("oracle: signer %q is not a hex address", s))
		}
	}

	// Vault
	if c.Vault.Name == "" {
		errs = append(errs, "vault: name must not be empty")
	}
	if !isHexAddress(c.Vault.Address) {
		errs = append(errs, fmt.Sprintf("vault: address %q is not a hex address", c.Vault.Address))
	}
	if !isHexAddress(c.Vault.Underlying) {
		errs = append(errs, fmt.Sprintf("vault: underlying %q is not a hex address", c.Vault.Underlying))
	}
	if (c.Fees.PerformanceBps > 0 || c.Fees.ManagementBps > 0) && !isHexAddress(c.Vault.Collector) {
		errs = append(errs, "vault: collector must be a hex address when fees are charged")
	}
	for _, k := range c.Vault.Keepers {
		if !isHexAddress(k) {
			errs = append(errs, fmt.Sprintf("vault: keeper %q is not a hex address", k))
		}
	}

	// Fees
	if c.Fees.PerformanceBps > 10000 {
		errs = append(errs, fmt.Sprintf("fees: performance_bps must be <= 10000, got %d", c.Fees.PerformanceBps))
	}
	if c.Fees.ManagementBps > 10000 {
		errs = append(errs, fmt.Sprintf("fees: management_bps must be <= 10000, got %d", c.Fees.ManagementBps))
	}
	if c.Fees.AccrualPeriod.Duration <= 0 {
		errs = append(errs, "fees: accrual_period must be > 0")
	}

	// Attester
	if c.Attester.EncryptedKeyPath != "" && c.Attester.KeyPassword == "" {
		errs = append(errs, "attester: key_password is required when encrypted_key_path is set")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 — only required when archival is enabled.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.SweepInterval.Duration <= 0 {
			errs = append(errs, "archive: sweep_interval must be > 0")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
