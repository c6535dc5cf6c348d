package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".agentgw"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "AGENTGW"
)

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("AGENTGW_CONFIG")); explicit != "" {
		return expandHome(explicit)
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

// HomeDir returns the agentgw data directory (~/.agentgw unless
// AGENTGW_HOME points elsewhere).
func HomeDir() (string, error) {
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir), nil
}

func resolveHomeDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv("AGENTGW_HOME")); h != "" {
		return expandHome(h)
	}
	return os.UserHomeDir()
}

func expandHome(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	base, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, p[1:]), nil
}

// Load loads the configuration from file and environment variables.
// Priority: environment > file > defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	// Load process env vars from ~/.agentgw/.env (and fallbacks) first.
	LoadEnvFileCandidates()

	path, err := ConfigPath()
	if err != nil {
		return cfg, nil // Use defaults if we can't find config path
	}
	if err := LoadFile(path, cfg); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	normalize(cfg)
	return cfg, nil
}

// LoadFile decodes a JSON or YAML (by extension) config file into cfg.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return nil
}

// ApplyEnv overrides each config group from AGENTGW_<GROUP>_* variables.
func ApplyEnv(cfg *Config) error {
	groups := []struct {
		prefix string
		target any
	}{
		{EnvPrefix + "_GATEWAY", &cfg.Gateway},
		{EnvPrefix + "_MODEL", &cfg.Model},
		{EnvPrefix + "_OPENAI", &cfg.Providers.OpenAI},
		{EnvPrefix + "_TOOLS", &cfg.Tools},
		{EnvPrefix + "_WORKER", &cfg.Worker},
		{EnvPrefix + "_SESSION", &cfg.Session},
		{EnvPrefix + "_DATA_API", &cfg.DataAPI},
		{EnvPrefix + "_TIMELINE", &cfg.Timeline},
		{EnvPrefix + "_NOTIFY", &cfg.Notify},
		{EnvPrefix + "_LOG", &cfg.Log},
	}
	for _, g := range groups {
		if err := envconfig.Process(g.prefix, g.target); err != nil {
			return fmt.Errorf("env %s: %w", g.prefix, err)
		}
	}

	// Fallback for API Key
	if cfg.Providers.OpenAI.APIKey == "" {
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			cfg.Providers.OpenAI.APIKey = key
		} else if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
			cfg.Providers.OpenAI.APIKey = key
			if cfg.Providers.OpenAI.APIBase == "" {
				cfg.Providers.OpenAI.APIBase = "https://openrouter.ai/api/v1"
			}
		}
	}
	return nil
}

func normalize(cfg *Config) {
	if p, err := expandHome(cfg.Timeline.Path); err == nil {
		cfg.Timeline.Path = p
	}
	cfg.Session.Driver = strings.ToLower(strings.TrimSpace(cfg.Session.Driver))
	if cfg.Session.Driver == "" {
		cfg.Session.Driver = "memory"
	}
	if cfg.Session.DSN == "" && cfg.Session.Driver == "sqlite" {
		if home, err := resolveHomeDir(); err == nil {
			cfg.Session.DSN = filepath.Join(home, ConfigDir, "sessions.db")
		}
	}
	if cfg.Session.MaxTurns <= 0 {
		cfg.Session.MaxTurns = 20
	}
	if cfg.Worker.TimeoutSeconds <= 0 {
		cfg.Worker.TimeoutSeconds = 120
	}
	if cfg.Worker.MaxConcurrent <= 0 {
		cfg.Worker.MaxConcurrent = 4
	}
	if cfg.Worker.MaxOutputBytes <= 0 {
		cfg.Worker.MaxOutputBytes = 1 << 20
	}
	if cfg.Model.MaxToolIterations <= 0 {
		cfg.Model.MaxToolIterations = 10
	}
	if cfg.Gateway.MaxMessageBytes <= 0 {
		cfg.Gateway.MaxMessageBytes = 16 * 1024
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Log.Format)) {
	case "json":
		cfg.Log.Format = "json"
	default:
		cfg.Log.Format = "text"
	}
}

// Save writes the configuration to the config file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// EnsureDir creates a directory if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
