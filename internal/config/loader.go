package config

import (
	"fmt"
	"os"
	"path/filepath"

	"toolplane/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/toolplane"
	configFileName = "config.yaml"
)

// GetDefaultConfigPath returns the per-user configuration directory.
func GetDefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user home directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// Load reads config.yaml from the given directory, applies defaults and
// validates the result. The returned config is complete and ready to use.
func Load(configPath string) (*Config, error) {
	configFilePath := filepath.Join(configPath, configFileName)

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		return nil, fmt.Errorf("error reading config from %s: %w", configFilePath, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
	}

	logging.Info("ConfigLoader", "Loaded configuration from %s (%d services, %d scaling policies)",
		configFilePath, len(cfg.Services), len(cfg.ScalingPolicies))
	return cfg, nil
}

// Parse unmarshals, defaults and validates raw YAML configuration.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, invalidSchema("", "malformed YAML: %v", err)
	}

	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
