// Package config loads and validates fieldsync configuration. Settings
// resolve through a three-layer chain — built-in defaults, the TOML config
// file, then environment variables — so a device can run with no config
// file at all and a deployment can still pin every knob.
package config

import "time"

// Config is the TOML-shaped configuration. Durations are strings in the
// file ("30s", "5m") and are parsed during Resolve.
type Config struct {
	ServerURL string `toml:"server_url"`
	APIToken  string `toml:"api_token"`
	DBPath    string `toml:"db_path"`
	SpoolDir  string `toml:"spool_dir"`

	Sync    SyncConfig    `toml:"sync"`
	Auth    AuthConfig    `toml:"auth"`
	Logging LoggingConfig `toml:"logging"`
}

// SyncConfig tunes the sync engine.
type SyncConfig struct {
	MaxBatchSize   int    `toml:"max_batch_size"`
	MaxAttempts    int    `toml:"max_attempts"`
	BackoffBase    string `toml:"backoff_base"`
	BackoffCap     string `toml:"backoff_cap"`
	SyncInterval   string `toml:"sync_interval"`
	ProbeInterval  string `toml:"probe_interval"`
	RequestTimeout string `toml:"request_timeout"`
	Notify         bool   `toml:"notify"` // subscribe to the server's websocket change feed
}

// AuthConfig selects OAuth2 client-credentials auth. When TokenURL is set,
// it takes precedence over the static api_token.
type AuthConfig struct {
	TokenURL     string `toml:"token_url"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
}

// LoggingConfig controls the slog handler and optional rotating log file.
type LoggingConfig struct {
	Level      string `toml:"level"` // debug, info, warn, error
	File       string `toml:"file"`  // empty = stderr only
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

// Resolved is the validated, typed view of a Config: durations parsed,
// paths expanded. This is what the rest of the program consumes.
type Resolved struct {
	ServerURL string
	APIToken  string
	DBPath    string
	SpoolDir  string

	MaxBatchSize   int
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	SyncInterval   time.Duration
	ProbeInterval  time.Duration
	RequestTimeout time.Duration
	Notify         bool

	Auth    AuthConfig
	Logging LoggingConfig
}
