package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jeanpaul/fitcache/internal/logging"
	"github.com/jeanpaul/fitcache/internal/namespace"
	"github.com/jeanpaul/fitcache/internal/store"
)

type Config struct {
	AppVersion string          `yaml:"app_version" mapstructure:"app_version"`
	Store      store.Config    `yaml:"store" mapstructure:"store"`
	Log        logging.Config  `yaml:"log" mapstructure:"log"`
	Migration  MigrationConfig `yaml:"migration" mapstructure:"migration"`
	Logout     LogoutConfig    `yaml:"logout" mapstructure:"logout"`
}

type MigrationConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	StateDir string `yaml:"state_dir" mapstructure:"state_dir"`
}

type LogoutConfig struct {
	// TransientKeys are per-account logical keys removed on logout.
	TransientKeys []string `yaml:"transient_keys" mapstructure:"transient_keys"`
}

var envVarRe = regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`)

func expandEnv(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimPrefix(match, "$")
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

func DefaultConfig() *Config {
	return &Config{
		AppVersion: "1.0.0",
		Store: store.Config{
			Backend: store.BackendFile,
			Path:    filepath.Join(dataDir(), "cache.json"),
		},
		Log: logging.Config{Level: "info"},
		Migration: MigrationConfig{
			Enabled: true,
		},
		Logout: LogoutConfig{
			TransientKeys: []string{"ai_trainer_current_conversation_id", "last_checked_day"},
		},
	}
}

func dataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "fitcache")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "fitcache")
}

// Load reads configuration from path, or from the standard search paths
// when path is empty. Missing config files fall back to defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	v := viper.New()

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			v.AddConfigPath(filepath.Join(xdg, "fitcache"))
		}
		home, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(home, ".config", "fitcache"))
	}

	// Environment variables
	v.SetEnvPrefix("FITCACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if path == "" || !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	cfg.Store.Path = expandEnv(cfg.Store.Path)
	cfg.Migration.StateDir = expandEnv(cfg.Migration.StateDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindDefaults registers every key so AutomaticEnv can override keys that
// are absent from the config file.
func bindDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("app_version", cfg.AppVersion)
	v.SetDefault("store.backend", cfg.Store.Backend)
	v.SetDefault("store.path", cfg.Store.Path)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.json", cfg.Log.JSON)
	v.SetDefault("migration.enabled", cfg.Migration.Enabled)
	v.SetDefault("migration.state_dir", cfg.Migration.StateDir)
	v.SetDefault("logout.transient_keys", cfg.Logout.TransientKeys)
}

// Save writes cfg as YAML to path.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.AppVersion) == "" {
		return fmt.Errorf("config: app_version is required")
	}
	switch strings.ToLower(c.Store.Backend) {
	case store.BackendMemory:
	case store.BackendFile, store.BackendSQLite, store.BackendBolt:
		if strings.TrimSpace(c.Store.Path) == "" {
			return fmt.Errorf("config: store backend %q requires path", c.Store.Backend)
		}
	default:
		return fmt.Errorf("config: store has invalid backend %q (must be memory, file, sqlite, or bolt)", c.Store.Backend)
	}
	for _, k := range c.Logout.TransientKeys {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("config: logout.transient_keys contains an empty key")
		}
		if !namespace.IsLogicalKey(k) {
			return fmt.Errorf("config: logout.transient_keys has unknown logical key %q", k)
		}
	}
	return nil
}
