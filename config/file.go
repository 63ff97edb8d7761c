package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath returns ~/.pttcrawl/config.yaml.
func DefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".pttcrawl", "config.yaml"), nil
}

// LoadConfigFile reads the YAML file at path on top of cfg. A missing file
// is not an error and leaves cfg untouched; keys absent from the file keep
// their current values. An empty path means DefaultConfigPath.
func LoadConfigFile(path string, cfg *Config) (bool, error) {
	if path == "" {
		p, err := DefaultConfigPath()
		if err != nil {
			return false, err
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil // File doesn't exist -- not an error
	}
	if err != nil {
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return false, fmt.Errorf("failed to parse config file: %w", err)
	}

	return true, nil
}
