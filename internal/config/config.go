// Package config loads offtask settings from defaults, an optional config
// file and OFFTASK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the environment prefix; "api.base_url" reads OFFTASK_API_BASE_URL.
const EnvPrefix = "OFFTASK"

// Config is the effective client configuration.
type Config struct {
	API          APIConfig          `mapstructure:"api" yaml:"api"`
	Sync         SyncConfig         `mapstructure:"sync" yaml:"sync"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity" yaml:"connectivity"`
	Storage      StorageConfig      `mapstructure:"storage" yaml:"storage"`
	Log          LogConfig          `mapstructure:"log" yaml:"log"`
}

// APIConfig points at the remote task API.
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// SyncConfig controls the orchestrator's scheduling.
type SyncConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	Grace    time.Duration `mapstructure:"grace" yaml:"grace"`
	Auto     bool          `mapstructure:"auto" yaml:"auto"`
	OnStart  bool          `mapstructure:"on_start" yaml:"on_start"`
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

// ConnectivityConfig tunes the reachability probe.
type ConnectivityConfig struct {
	ProbeInterval time.Duration `mapstructure:"probe_interval" yaml:"probe_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
}

// StorageConfig selects the local store.
type StorageConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"` // auto, sqlite or jsonfile
	Dir     string `mapstructure:"dir" yaml:"dir"`
}

// LogConfig configures slog output.
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

// Storage backends.
const (
	BackendAuto     = "auto"
	BackendSQLite   = "sqlite"
	BackendJSONFile = "jsonfile"
)

var defaults = map[string]any{
	"api.base_url":                "http://localhost:3000/api",
	"api.timeout":                 "10s",
	"sync.interval":               "30s",
	"sync.grace":                  "3s",
	"sync.auto":                   true,
	"sync.on_start":               true,
	"sync.debounce":               "500ms",
	"connectivity.probe_interval": "5s",
	"connectivity.probe_timeout":  "2s",
	"storage.backend":             BackendAuto,
	"storage.dir":                 ".offtask",
	"log.level":                   "info",
	"log.format":                  "text",
	"log.file":                    "",
	"log.max_size_mb":             10,
	"log.max_backups":             3,
}

// Keys lists every recognised configuration key.
func Keys() []string {
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	return keys
}

// Dir returns the directory searched for config.{yaml,json,toml}.
// OFFTASK_CONFIG_DIR overrides ~/.config/offtask.
func Dir() string {
	if v := os.Getenv(EnvPrefix + "_CONFIG_DIR"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "offtask")
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load builds the effective config. An explicit path must exist; otherwise
// a missing config file is fine and defaults apply. Returns the file used,
// if any.
func Load(path string) (*Config, string, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, "", fmt.Errorf("read config %s: %w", path, err)
		}
	} else if dir := Dir(); dir != "" {
		v.SetConfigName("config")
		v.AddConfigPath(dir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, "", fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, v.ConfigFileUsed(), fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, v.ConfigFileUsed(), nil
}

// Default returns the built-in configuration, ignoring files and env.
func Default() *Config {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	var cfg Config
	_ = v.Unmarshal(&cfg)
	cfg.normalize()
	return &cfg
}

func (c *Config) normalize() {
	c.API.BaseURL = strings.TrimRight(strings.TrimSpace(c.API.BaseURL), "/")
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
}

// LogFile returns the configured log file, or def when unset.
func (c *Config) LogFile(def string) string {
	if c.Log.File != "" {
		return c.Log.File
	}
	return def
}

func validBaseURL(s string) error {
	if s == "" {
		return fmt.Errorf("cannot be empty")
	}
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
