package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file and returns the resulting
// Config. Unknown keys are fatal — silently ignoring a typo in a config
// file leads to hard-to-debug behavior in the field.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}

		sort.Strings(keys)

		return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config with all defaults. Supports the zero-config first run: only
// server_url (flag or env) is strictly required to sync.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve applies the override chain (defaults → file → environment),
// validates the result, and returns the typed view. cfgPath of "" uses
// the environment override or the default location.
func Resolve(cfgPath string, env EnvOverrides) (*Resolved, error) {
	if cfgPath == "" {
		cfgPath = env.ConfigPath
	}

	if cfgPath == "" {
		cfgPath = DefaultConfigPath()
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	if env.ServerURL != "" {
		cfg.ServerURL = env.ServerURL
	}

	if env.APIToken != "" {
		cfg.APIToken = env.APIToken
	}

	if env.DBPath != "" {
		cfg.DBPath = env.DBPath
	}

	if env.SpoolDir != "" {
		cfg.SpoolDir = env.SpoolDir
	}

	return resolve(cfg)
}

// resolve validates a Config and produces the typed Resolved view.
func resolve(cfg *Config) (*Resolved, error) {
	r := &Resolved{
		ServerURL:    strings.TrimRight(cfg.ServerURL, "/"),
		APIToken:     cfg.APIToken,
		DBPath:       expandHome(cfg.DBPath),
		SpoolDir:     expandHome(cfg.SpoolDir),
		MaxBatchSize: cfg.Sync.MaxBatchSize,
		MaxAttempts:  cfg.Sync.MaxAttempts,
		Notify:       cfg.Sync.Notify,
		Auth:         cfg.Auth,
		Logging:      cfg.Logging,
	}

	if r.DBPath == "" {
		r.DBPath = filepath.Join(DefaultDataDir(), "queue.db")
	}

	if r.SpoolDir == "" {
		r.SpoolDir = filepath.Join(DefaultDataDir(), "spool")
	}

	if r.MaxBatchSize <= 0 {
		return nil, fmt.Errorf("config: max_batch_size must be positive, got %d", r.MaxBatchSize)
	}

	if r.MaxAttempts <= 0 {
		return nil, fmt.Errorf("config: max_attempts must be positive, got %d", r.MaxAttempts)
	}

	if r.ServerURL != "" {
		u, err := url.Parse(r.ServerURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("config: server_url %q is not an absolute URL", cfg.ServerURL)
		}
	}

	if cfg.Auth.TokenURL != "" && (cfg.Auth.ClientID == "" || cfg.Auth.ClientSecret == "") {
		return nil, errors.New("config: auth.token_url requires client_id and client_secret")
	}

	var err error

	if r.BackoffBase, err = parseDuration("sync.backoff_base", cfg.Sync.BackoffBase); err != nil {
		return nil, err
	}

	if r.BackoffCap, err = parseDuration("sync.backoff_cap", cfg.Sync.BackoffCap); err != nil {
		return nil, err
	}

	if r.SyncInterval, err = parseDuration("sync.sync_interval", cfg.Sync.SyncInterval); err != nil {
		return nil, err
	}

	if r.ProbeInterval, err = parseDuration("sync.probe_interval", cfg.Sync.ProbeInterval); err != nil {
		return nil, err
	}

	if r.RequestTimeout, err = parseDuration("sync.request_timeout", cfg.Sync.RequestTimeout); err != nil {
		return nil, err
	}

	if r.BackoffCap < r.BackoffBase {
		return nil, fmt.Errorf("config: sync.backoff_cap %s is below backoff_base %s",
			cfg.Sync.BackoffCap, cfg.Sync.BackoffBase)
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("config: unknown logging.level %q", cfg.Logging.Level)
	}

	return r, nil
}

// parseDuration parses a config duration string, requiring a positive value.
func parseDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("config: parsing %s %q: %w", key, value, err)
	}

	if d <= 0 {
		return 0, fmt.Errorf("config: %s must be positive, got %q", key, value)
	}

	return d, nil
}
