// Package config loads the stream configuration from defaults, an optional
// stream.toml file and STREAM_* environment variables, in increasing order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

const (
	// FileName is the config file looked up in the config directory.
	FileName = "stream.toml"

	envPrefix = "STREAM"
)

// Config holds all configuration.
type Config struct {
	// Folder is the journal folder.
	Folder string `mapstructure:"folder"`

	// DataDir holds the settings database.
	DataDir string `mapstructure:"data_dir"`

	// Timezone names the location used to bucket commits by day. Empty
	// means the local zone.
	Timezone string `mapstructure:"timezone"`

	Log       LogConfig       `mapstructure:"log"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Refresh   RefreshConfig   `mapstructure:"refresh"`
	Prefetch  PrefetchConfig  `mapstructure:"prefetch"`
	Save      SaveConfig      `mapstructure:"save"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	AI        AIConfig        `mapstructure:"ai"`
	Attrs     AttrsConfig     `mapstructure:"attrs"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

type CacheConfig struct {
	StaleAfter time.Duration `mapstructure:"stale_after"`
	GCGrace    time.Duration `mapstructure:"gc_grace"`
	GCInterval time.Duration `mapstructure:"gc_interval"`
}

type RefreshConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
}

type PrefetchConfig struct {
	Overscan int `mapstructure:"overscan"`
}

type SaveConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

type DashboardConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type AIConfig struct {
	Model     string `mapstructure:"model"`
	APIKey    string `mapstructure:"api_key"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

// AttrsConfig selects where note attributes are kept: "xattr" stores them as
// user extended attributes on the files, "sqlite" in the settings database.
type AttrsConfig struct {
	Backend string `mapstructure:"backend"`
}

// Attribute backends.
const (
	AttrsXattr  = "xattr"
	AttrsSQLite = "sqlite"
)

// Dir returns the directory holding stream.toml.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config directory: %w", err)
	}
	return filepath.Join(base, "stream"), nil
}

func setDefaults(v *viper.Viper, dir string) {
	v.SetDefault("folder", "")
	v.SetDefault("data_dir", dir)
	v.SetDefault("timezone", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")

	v.SetDefault("cache.stale_after", 30*time.Second)
	v.SetDefault("cache.gc_grace", 5*time.Minute)
	v.SetDefault("cache.gc_interval", time.Minute)

	v.SetDefault("refresh.interval", 10*time.Second)
	v.SetDefault("refresh.max_concurrent", 2)

	v.SetDefault("prefetch.overscan", 5)
	v.SetDefault("save.debounce", 500*time.Millisecond)

	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.port", 8787)

	v.SetDefault("ai.model", "claude-sonnet-4-5")
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.max_tokens", 2048)

	v.SetDefault("attrs.backend", AttrsXattr)
}

// Load reads the configuration. path names an explicit config file; when
// empty, stream.toml is looked up in Dir and may be missing.
func Load(path string) (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v, dir)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigFile(filepath.Join(dir, FileName))
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Attrs.Backend {
	case AttrsXattr, AttrsSQLite:
	default:
		return fmt.Errorf("invalid attrs.backend %q: want %s or %s", c.Attrs.Backend, AttrsXattr, AttrsSQLite)
	}
	if c.Refresh.Interval <= 0 {
		return fmt.Errorf("refresh.interval must be positive")
	}
	if c.Prefetch.Overscan < 0 {
		return fmt.Errorf("prefetch.overscan must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location returns the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// fileConfig mirrors Config in the shape written to stream.toml. Durations
// are written as strings like "30s".
type fileConfig struct {
	Folder   string `toml:"folder"`
	DataDir  string `toml:"data_dir"`
	Timezone string `toml:"timezone"`

	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
		File   string `toml:"file"`
	} `toml:"log"`
	Cache struct {
		StaleAfter string `toml:"stale_after"`
		GCGrace    string `toml:"gc_grace"`
		GCInterval string `toml:"gc_interval"`
	} `toml:"cache"`
	Refresh struct {
		Interval      string `toml:"interval"`
		MaxConcurrent int    `toml:"max_concurrent"`
	} `toml:"refresh"`
	Prefetch struct {
		Overscan int `toml:"overscan"`
	} `toml:"prefetch"`
	Save struct {
		Debounce string `toml:"debounce"`
	} `toml:"save"`
	Dashboard struct {
		Enabled bool `toml:"enabled"`
		Port    int  `toml:"port"`
	} `toml:"dashboard"`
	AI struct {
		Model     string `toml:"model"`
		MaxTokens int    `toml:"max_tokens"`
	} `toml:"ai"`
	Attrs struct {
		Backend string `toml:"backend"`
	} `toml:"attrs"`
}

// Default returns the built-in configuration.
func Default() (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	v := viper.New()
	setDefaults(v, dir)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode defaults: %w", err)
	}
	return &cfg, nil
}

// WriteDefault writes cfg to path as TOML, creating parent directories. It
// refuses to overwrite an existing file. The API key is never written.
func WriteDefault(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var fc fileConfig
	fc.Folder = cfg.Folder
	fc.DataDir = cfg.DataDir
	fc.Timezone = cfg.Timezone
	fc.Log.Level = cfg.Log.Level
	fc.Log.Format = cfg.Log.Format
	fc.Log.File = cfg.Log.File
	fc.Cache.StaleAfter = cfg.Cache.StaleAfter.String()
	fc.Cache.GCGrace = cfg.Cache.GCGrace.String()
	fc.Cache.GCInterval = cfg.Cache.GCInterval.String()
	fc.Refresh.Interval = cfg.Refresh.Interval.String()
	fc.Refresh.MaxConcurrent = cfg.Refresh.MaxConcurrent
	fc.Prefetch.Overscan = cfg.Prefetch.Overscan
	fc.Save.Debounce = cfg.Save.Debounce.String()
	fc.Dashboard.Enabled = cfg.Dashboard.Enabled
	fc.Dashboard.Port = cfg.Dashboard.Port
	fc.AI.Model = cfg.AI.Model
	fc.AI.MaxTokens = cfg.AI.MaxTokens
	fc.Attrs.Backend = cfg.Attrs.Backend

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(fc); err != nil {
		f.Close()
		return fmt.Errorf("failed to write config: %w", err)
	}
	return f.Close()
}
