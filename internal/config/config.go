// Package config loads launcher settings from an optional TOML file and
// LIVUALS_* environment variables on top of built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/livuals/internal/env"
	"github.com/loykin/livuals/internal/launcher"
	"github.com/loykin/livuals/internal/logger"
	"github.com/loykin/livuals/internal/platform"
	"github.com/loykin/livuals/internal/probe"
	"github.com/loykin/livuals/internal/resolver"
	"github.com/loykin/livuals/internal/supervisor"
)

const (
	EnvPrefix       = "LIVUALS"
	AppName         = launcher.DefaultTitle
	historyFileName = "history.db"
	lockFileName    = "livuals.lock"
)

type Config struct {
	Backend BackendConfig `toml:"backend" mapstructure:"backend"`
	Probe   ProbeConfig   `toml:"probe" mapstructure:"probe"`
	Layout  LayoutConfig  `toml:"layout" mapstructure:"layout"`
	Log     LogConfig     `toml:"log" mapstructure:"log"`
	History HistoryConfig `toml:"history" mapstructure:"history"`
	Server  ServerConfig  `toml:"server" mapstructure:"server"`
	Lock    LockConfig    `toml:"lock" mapstructure:"lock"`
}

type BackendConfig struct {
	Host       string        `toml:"host" mapstructure:"host"`
	Port       int           `toml:"port" mapstructure:"port"`
	StatusPath string        `toml:"status_path" mapstructure:"status_path"`
	KillWait   time.Duration `toml:"kill_wait" mapstructure:"kill_wait"`
	Env        []string      `toml:"env" mapstructure:"env"`
	EnvFiles   []string      `toml:"env_files" mapstructure:"env_files"`
}

type ProbeConfig struct {
	Timeout        time.Duration `toml:"timeout" mapstructure:"timeout"`
	ConnectTimeout time.Duration `toml:"connect_timeout" mapstructure:"connect_timeout"`
	IOTimeout      time.Duration `toml:"io_timeout" mapstructure:"io_timeout"`
	Backoff        time.Duration `toml:"backoff" mapstructure:"backoff"`
	ReadBytes      int           `toml:"read_bytes" mapstructure:"read_bytes"`
}

type LayoutConfig struct {
	// ResourceDir is the packaged-resource hint; empty outside app bundles.
	ResourceDir  string   `toml:"resource_dir" mapstructure:"resource_dir"`
	PayloadDir   string   `toml:"payload_dir" mapstructure:"payload_dir"`
	NestedDirs   []string `toml:"nested_dirs" mapstructure:"nested_dirs"`
	MaxAncestors int      `toml:"max_ancestors" mapstructure:"max_ancestors"`
}

type LogConfig struct {
	Dir        string `toml:"dir" mapstructure:"dir"`
	File       string `toml:"file" mapstructure:"file"`
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	Color      bool   `toml:"color" mapstructure:"color"`
	TimeStamps bool   `toml:"timestamps" mapstructure:"timestamps"`
	Rotate     bool   `toml:"rotate" mapstructure:"rotate"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type HistoryConfig struct {
	Enabled bool `toml:"enabled" mapstructure:"enabled"`
	// DSN selects the store: a path or sqlite://, postgres:// or clickhouse:// URL.
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type ServerConfig struct {
	// Addr of the local status API; empty disables it.
	Addr string `toml:"addr" mapstructure:"addr"`
}

type LockConfig struct {
	Path string `toml:"path" mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.host", supervisor.DefaultHost)
	v.SetDefault("backend.port", supervisor.DefaultPort)
	v.SetDefault("backend.status_path", probe.DefaultStatusPath)
	v.SetDefault("backend.kill_wait", supervisor.DefaultKillWait)
	v.SetDefault("backend.env", []string{})
	v.SetDefault("backend.env_files", []string{})

	v.SetDefault("probe.timeout", launcher.DefaultReadyTimeout)
	v.SetDefault("probe.connect_timeout", probe.DefaultConnectTimeout)
	v.SetDefault("probe.io_timeout", probe.DefaultIOTimeout)
	v.SetDefault("probe.backoff", probe.DefaultBackoff)
	v.SetDefault("probe.read_bytes", probe.DefaultReadBytes)

	v.SetDefault("layout.resource_dir", "")
	v.SetDefault("layout.payload_dir", resolver.DefaultPayloadDir)
	v.SetDefault("layout.nested_dirs", resolver.DefaultNestedDirs)
	v.SetDefault("layout.max_ancestors", resolver.DefaultMaxAncestors)

	v.SetDefault("log.dir", "")
	v.SetDefault("log.file", logger.DefaultFileName)
	v.SetDefault("log.level", string(logger.LevelInfo))
	v.SetDefault("log.format", string(logger.FormatText))
	v.SetDefault("log.color", true)
	v.SetDefault("log.timestamps", false)
	v.SetDefault("log.rotate", false)
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.dsn", "")
	v.SetDefault("server.addr", "")
	v.SetDefault("lock.path", "")
}

// Load reads path (optional) for the running platform.
func Load(path string) (*Config, error) {
	return LoadWith(path, platform.Current(), os.Getenv)
}

// LoadWith reads path (optional) and fills platform-dependent defaults from
// p and getenv.
func LoadWith(path string, p platform.PlatformOps, getenv func(string) string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.applyPlatform(p, getenv)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyPlatform(p platform.PlatformOps, getenv func(string) string) {
	if c.Log.Dir == "" {
		c.Log.Dir = p.LogDir(AppName, getenv)
	}
	if c.History.DSN == "" {
		c.History.DSN = filepath.Join(c.Log.Dir, historyFileName)
	}
	if c.Lock.Path == "" {
		c.Lock.Path = filepath.Join(c.Log.Dir, lockFileName)
	}
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Backend.Host == "" {
		errs = append(errs, errors.New("backend.host must not be empty"))
	}
	if c.Backend.Port <= 0 || c.Backend.Port > 65535 {
		errs = append(errs, fmt.Errorf("backend.port %d out of range", c.Backend.Port))
	}
	if !strings.HasPrefix(c.Backend.StatusPath, "/") {
		errs = append(errs, fmt.Errorf("backend.status_path %q must start with /", c.Backend.StatusPath))
	}
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"probe.timeout", c.Probe.Timeout},
		{"probe.connect_timeout", c.Probe.ConnectTimeout},
		{"probe.io_timeout", c.Probe.IOTimeout},
		{"probe.backoff", c.Probe.Backoff},
	}
	for _, x := range durations {
		if x.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", x.name))
		}
	}
	if c.Probe.ReadBytes <= 0 {
		errs = append(errs, errors.New("probe.read_bytes must be positive"))
	}
	if c.Layout.MaxAncestors < 0 {
		errs = append(errs, errors.New("layout.max_ancestors must not be negative"))
	}
	switch logger.Level(strings.ToLower(c.Log.Level)) {
	case logger.LevelDebug, logger.LevelInfo, logger.LevelWarn, logger.LevelError:
	default:
		errs = append(errs, fmt.Errorf("log.level %q unknown", c.Log.Level))
	}
	switch logger.Format(strings.ToLower(c.Log.Format)) {
	case logger.FormatText, logger.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("log.format %q unknown", c.Log.Format))
	}
	return errors.Join(errs...)
}

// LoggerConfig maps the [log] section onto the logger package.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Slog: logger.SlogConfig{
			Level:      logger.Level(strings.ToLower(c.Log.Level)),
			Format:     logger.Format(strings.ToLower(c.Log.Format)),
			Color:      c.Log.Color,
			TimeStamps: c.Log.TimeStamps,
		},
		File: logger.FileConfig{
			Dir:        c.Log.Dir,
			Name:       c.Log.File,
			Rotate:     c.Log.Rotate,
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAgeDays: c.Log.MaxAgeDays,
			Compress:   c.Log.Compress,
		},
	}
}

// BackendEnv builds the environment overrides for the installer and the
// backend: env_files in order, then the env list. Later entries win.
func (c *Config) BackendEnv() (*env.Env, error) {
	e := env.New()
	for _, p := range c.Backend.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		for k, v := range pairs {
			e.Set(k, v)
		}
	}
	for _, kv := range c.Backend.Env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("backend.env entry %q is not KEY=VALUE", kv)
		}
		e.Set(strings.TrimSpace(k), v)
	}
	return e, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			if k != "" {
				m[k] = v
			}
		}
	}
	return m, nil
}
