package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DataDir      string
	DBPath       string
	SettingsPath string
}

// Settings are user defaults loaded from settings.yaml in the data dir.
// Flags override them per invocation.
type Settings struct {
	Port           string   `yaml:"port,omitempty"`
	Device         string   `yaml:"device,omitempty"`
	DefaultChannel string   `yaml:"default_channel,omitempty"`
	FixedWait      *float64 `yaml:"fixed_wait,omitempty"`
	Repeat         *bool    `yaml:"repeat,omitempty"`
	WarnDualSweep  *bool    `yaml:"warn_dual_sweep,omitempty"`
	LogLevel       string   `yaml:"log_level,omitempty"`
}

func New() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	dataDir := getEnv("JDS6600_DATA_DIR", filepath.Join(homeDir, ".jds6600-controller"))

	c := &Config{
		DataDir:      dataDir,
		DBPath:       filepath.Join(dataDir, "jds6600.db"),
		SettingsPath: filepath.Join(dataDir, "settings.yaml"),
	}

	return c, nil
}

func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0755)
}

// LoadSettings reads settings.yaml. A missing file yields zero settings.
func (c *Config) LoadSettings() (*Settings, error) {
	data, err := os.ReadFile(c.SettingsPath)
	if errors.Is(err, os.ErrNotExist) {
		return &Settings{}, nil
	}
	if err != nil {
		return nil, err
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse %s: %w", c.SettingsPath, err)
	}
	return &s, nil
}

func (c *Config) SaveSettings(s *Settings) error {
	if err := c.EnsureDataDir(); err != nil {
		return err
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(c.SettingsPath, data, 0644)
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
