package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load loads configuration from a YAML file and environment variables.
//
// The file is optional; defaults cover a local setup and environment
// variables take precedence over the file either way.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(configPath); statErr == nil {
			// The file exists but did not parse; that is a real error,
			// not a missing optional file
			return nil, fmt.Errorf("failed to read config %s: %w", configPath, err)
		}
	} else {
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	applyEnvironmentOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// applyEnvironmentOverrides applies environment variable overrides.
// Only the settings that vary per deployment get one; tuning knobs stay in
// the file.
func applyEnvironmentOverrides(cfg *Config) {
	if dataDir := os.Getenv("BODEGA_DATA_DIR"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	if baseURL := os.Getenv("BODEGA_REMOTE_URL"); baseURL != "" {
		cfg.Remote.BaseURL = baseURL
	}
	if anonKey := os.Getenv("BODEGA_ANON_KEY"); anonKey != "" {
		cfg.Remote.AnonKey = anonKey
	}
	if probeURL := os.Getenv("BODEGA_PROBE_URL"); probeURL != "" {
		cfg.Probe.URL = probeURL
	}
}

// DefaultPath returns the default config file location: DataDir/config.yaml
// for the default data directory.
func DefaultPath() string {
	return filepath.Join(DefaultConfig().DataDir, "config.yaml")
}

// WriteDefault writes a starter config file to path, creating parent
// directories. Refuses to overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
