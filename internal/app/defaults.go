package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Defaults are the default locations of the config file and data.
type Defaults struct {
	ConfigPath string
	BaseDir    string
	LogDir     string
}

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - PERMAFROST_CONFIG_PATH: config file location (default: ~/.config/permafrost.toml)
//   - PERMAFROST_HOME: base directory for permafrost data (default: ~/.local/share/permafrost)
func GetDefaults() (*Defaults, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return &Defaults{
		ConfigPath: configPath,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
	}, nil
}

func getConfigPath() (string, error) {
	if path := os.Getenv("PERMAFROST_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "permafrost.toml"), nil
}

// getBaseDir follows the XDG data directory convention.
func getBaseDir() (string, error) {
	if path := os.Getenv("PERMAFROST_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "permafrost"), nil
}
