package config

import (
	"os"
	"path/filepath"
	"strings"
)

const appDirName = "fieldsync"

// DefaultConfigPath returns the standard config file location:
// $XDG_CONFIG_HOME/fieldsync/config.toml, falling back to
// ~/.config/fieldsync/config.toml.
func DefaultConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appDirName, "config.toml")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".config", appDirName, "config.toml")
}

// DefaultDataDir returns the standard data directory for the queue
// database and spool: $XDG_DATA_HOME/fieldsync, falling back to
// ~/.local/share/fieldsync.
func DefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appDirName)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".local", "share", appDirName)
}

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}

		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}

	return path
}
