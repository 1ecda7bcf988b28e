package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - PD_CONFIG_PATH: config file location (default: ~/.config/pd.toml)
//   - PD_HOME: base directory for pd data (default: ~/.local/share/pd)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
		"cache_dir":   filepath.Join(baseDir, "cache"),
	}, nil
}

// getConfigPath returns the config file path, checking PD_CONFIG_PATH env var first,
// then falling back to the default ~/.config/pd.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("PD_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "pd.toml"), nil
}

// getBaseDir returns the base directory for pd data, checking PD_HOME env var first,
// then falling back to the XDG default ~/.local/share/pd.
func getBaseDir() (string, error) {
	if path := os.Getenv("PD_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "pd"), nil
}
