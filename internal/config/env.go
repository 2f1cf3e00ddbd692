package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig    = "FIELDSYNC_CONFIG"
	EnvServerURL = "FIELDSYNC_SERVER_URL"
	EnvAPIToken  = "FIELDSYNC_API_TOKEN" //nolint:gosec // variable name, not a credential
	EnvDBPath    = "FIELDSYNC_DB_PATH"
	EnvSpoolDir  = "FIELDSYNC_SPOOL_DIR"
)

// EnvOverrides holds values read from environment variables. These sit
// between the config file and CLI flags in the override chain.
type EnvOverrides struct {
	ConfigPath string
	ServerURL  string
	APIToken   string
	DBPath     string
	SpoolDir   string
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. It does not modify a Config; Resolve applies the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		ServerURL:  os.Getenv(EnvServerURL),
		APIToken:   os.Getenv(EnvAPIToken),
		DBPath:     os.Getenv(EnvDBPath),
		SpoolDir:   os.Getenv(EnvSpoolDir),
	}
}
