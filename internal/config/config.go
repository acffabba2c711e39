// Package config loads the yaml configuration file, applies environment
// overrides and persists schedule updates back to disk.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pysugar/quotawatch/internal/schedule"
	"gopkg.in/yaml.v3"
)

const (
	// EnvConfigPath overrides the candidate-path search.
	EnvConfigPath = "QUOTAWATCH_CONFIG"

	defaultFileName = "quotawatch.yaml"
	defaultListen   = "127.0.0.1:8613"
	defaultDBPath   = "quotawatch.db"
)

// Config is the process configuration.
type Config struct {
	Listen       string          `yaml:"listen"`
	DBPath       string          `yaml:"db_path"`
	ClientID     string          `yaml:"client_id,omitempty"`
	ClientSecret string          `yaml:"client_secret,omitempty"`
	Schedule     schedule.Config `yaml:"schedule"`
}

// Default returns the configuration used when no file exists: check daily at
// 08:00.
func Default() *Config {
	return &Config{
		Listen: defaultListen,
		DBPath: defaultDBPath,
		Schedule: schedule.Config{
			Enabled: true,
			Mode:    schedule.ModeDaily,
			Times:   []string{"08:00"},
		},
	}
}

// ResolvePath picks the config file location: the explicit env path, then an
// existing file in the working directory, then the user config directory.
func ResolvePath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	if _, err := os.Stat(defaultFileName); err == nil {
		return defaultFileName
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultFileName
	}
	return filepath.Join(home, ".config", "quotawatch", defaultFileName)
}

// Load reads the file at path, fills defaults and applies env overrides.
// A missing file yields the defaults, not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid config file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Save writes the config back to path, creating parent directories as
// needed. Used when a schedule update via the API must survive restarts.
func Save(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func applyDefaults(cfg *Config) {
	if cfg.Listen == "" {
		cfg.Listen = defaultListen
	}
	if cfg.DBPath == "" {
		cfg.DBPath = defaultDBPath
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("QUOTAWATCH_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("QUOTAWATCH_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		cfg.ClientID = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.ClientSecret = v
	}
}
