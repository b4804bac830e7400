// ABOUTME: Default filesystem locations for the config file, token file and data directory
// ABOUTME: Follows XDG base directories with HELPDESK_CONFIG as an override

package config

import (
	"os"
	"path/filepath"
)

// DefaultPath returns the path to the gateway config file.
// Priority: HELPDESK_CONFIG env var > XDG_CONFIG_HOME/helpdesk/gateway.yaml > ~/.config/helpdesk/gateway.yaml
func DefaultPath() string {
	if envPath := os.Getenv("HELPDESK_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "helpdesk", "gateway.yaml")
}

// DefaultDataDir returns the helpdesk data directory.
// Priority: XDG_DATA_HOME/helpdesk > ~/.local/share/helpdesk
func DefaultDataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "helpdesk")
}
