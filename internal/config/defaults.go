package config

// Default values for configuration options: layer 0 of the override chain,
// chosen so a device syncs sensibly with only server_url set.
const (
	defaultMaxBatchSize   = 100
	defaultMaxAttempts    = 3
	defaultBackoffBase    = "30s"
	defaultBackoffCap     = "30m"
	defaultSyncInterval   = "5m"
	defaultProbeInterval  = "30s"
	defaultRequestTimeout = "30s"
	defaultLogLevel       = "info"
	defaultLogMaxSizeMB   = 10
	defaultLogMaxBackups  = 5
)

// DefaultConfig returns a Config populated with all default values. It is
// both the starting point for TOML decoding (unset fields keep defaults)
// and the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Sync: SyncConfig{
			MaxBatchSize:   defaultMaxBatchSize,
			MaxAttempts:    defaultMaxAttempts,
			BackoffBase:    defaultBackoffBase,
			BackoffCap:     defaultBackoffCap,
			SyncInterval:   defaultSyncInterval,
			ProbeInterval:  defaultProbeInterval,
			RequestTimeout: defaultRequestTimeout,
			Notify:         true,
		},
		Logging: LoggingConfig{
			Level:      defaultLogLevel,
			MaxSizeMB:  defaultLogMaxSizeMB,
			MaxBackups: defaultLogMaxBackups,
		},
	}
}
