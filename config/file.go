package config

import (
	"fmt"
	"os"

	"github.com/bytedance/sonic"
)

// LoadFile reads a config from a JSON file. When the file does not exist the
// given defaults are written to it and returned, so a fresh service starts
// from its compiled-in configuration and persists it for the next boot.
func LoadFile(path string, defaults *Config) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if defaults == nil {
			return nil, ErrNoConfig
		}
		if err := SaveFile(path, defaults); err != nil {
			return nil, err
		}
		return defaults.Clone(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("confbus/config: read %q: %w", path, err)
	}
	var cfg Config
	if err := sonic.ConfigStd.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("confbus/config: parse %q: %w", path, err)
	}
	return &cfg, nil
}

// SaveFile writes a config as indented JSON, used to persist a received
// configuration that requires a restart to take effect.
func SaveFile(path string, c *Config) error {
	if c == nil {
		return ErrNoConfig
	}
	data, err := sonic.ConfigStd.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("confbus/config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("confbus/config: write %q: %w", path, err)
	}
	return nil
}
