package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadNodeConfig reads, defaults and validates a node configuration file.
func LoadNodeConfig(path string) (*NodeConfig, error) {
	var cfg NodeConfig
	if err := load(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Hostname == "" {
		cfg.Hostname, _ = os.Hostname()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadStoreServerConfig reads, defaults and validates a store server configuration file.
func LoadStoreServerConfig(path string) (*StoreServerConfig, error) {
	var cfg StoreServerConfig
	if err := load(path, &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func load(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}
