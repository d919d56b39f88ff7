package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/loykin/devloop/internal/env"
	"github.com/loykin/devloop/internal/logger"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "DEVLOOP"

	ForceColorAuto   = "auto"
	ForceColorAlways = "always"
	ForceColorNever  = "never"
)

// Config represents the devloop.toml structure.
type Config struct {
	Root     string   `toml:"root" mapstructure:"root"`
	Env      []string `toml:"env" mapstructure:"env"`
	EnvFiles []string `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv bool     `toml:"use_os_env" mapstructure:"use_os_env"`

	Paths   Paths         `toml:"paths" mapstructure:"paths"`
	Dev     Dev           `toml:"dev" mapstructure:"dev"`
	Build   Build         `toml:"build" mapstructure:"build"`
	Log     logger.Config `toml:"log" mapstructure:"log"`
	Metrics Metrics       `toml:"metrics" mapstructure:"metrics"`
	History History       `toml:"history" mapstructure:"history"`
	Server  Server        `toml:"server" mapstructure:"server"`
}

// Paths are relative to Root unless absolute.
type Paths struct {
	Dist              string `toml:"dist" mapstructure:"dist"`
	MainEntry         string `toml:"main_entry" mapstructure:"main_entry"`
	Release           string `toml:"release" mapstructure:"release"`
	ViteConfig        string `toml:"vite_config" mapstructure:"vite_config"`
	ViteConfigMain    string `toml:"vite_config_main" mapstructure:"vite_config_main"`
	ViteConfigPreload string `toml:"vite_config_preload" mapstructure:"vite_config_preload"`
	BuilderConfig     string `toml:"builder_config" mapstructure:"builder_config"`
}

type Dev struct {
	Vite          string        `toml:"vite" mapstructure:"vite"`
	App           string        `toml:"app" mapstructure:"app"`
	ReadyPattern  string        `toml:"ready_pattern" mapstructure:"ready_pattern"`
	BuildMarker   string        `toml:"build_marker" mapstructure:"build_marker"`
	ReadyTimeout  time.Duration `toml:"ready_timeout" mapstructure:"ready_timeout"`
	Debounce      time.Duration `toml:"debounce" mapstructure:"debounce"`
	LiveReloadEnv string        `toml:"live_reload_env" mapstructure:"live_reload_env"`
	ForceColor    string        `toml:"force_color" mapstructure:"force_color"`
}

type Build struct {
	Builder     string        `toml:"builder" mapstructure:"builder"`
	StepTimeout time.Duration `toml:"step_timeout" mapstructure:"step_timeout"`
}

type Metrics struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"`
}

type History struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	DSN     string `toml:"dsn" mapstructure:"dsn"`
}

type Server struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("root", "")
	v.SetDefault("env", []string{})
	v.SetDefault("env_files", []string{})
	v.SetDefault("use_os_env", true)

	v.SetDefault("paths.dist", "electron/dist")
	v.SetDefault("paths.main_entry", "electron/dist/main.mjs")
	v.SetDefault("paths.release", "electron/release")
	v.SetDefault("paths.vite_config", "vite.config.ts")
	v.SetDefault("paths.vite_config_main", "electron/vite.config.main.ts")
	v.SetDefault("paths.vite_config_preload", "electron/vite.config.preload.ts")
	v.SetDefault("paths.builder_config", "electron/electron-builder.config.ts")

	v.SetDefault("dev.vite", "vite")
	v.SetDefault("dev.app", "electron")
	v.SetDefault("dev.ready_pattern", `Local:\s+(https?://localhost:\d+/)`)
	v.SetDefault("dev.build_marker", "built in")
	v.SetDefault("dev.ready_timeout", time.Duration(0))
	v.SetDefault("dev.debounce", 300*time.Millisecond)
	v.SetDefault("dev.live_reload_env", "VITE_DEV_SERVER_URL")
	v.SetDefault("dev.force_color", ForceColorAuto)

	v.SetDefault("build.builder", "electron-builder")
	v.SetDefault("build.step_timeout", time.Duration(0))

	v.SetDefault("log.slog.level", logger.LevelInfo)
	v.SetDefault("log.slog.format", logger.FormatText)
	v.SetDefault("log.slog.color", true)
	v.SetDefault("log.slog.timestamps", false)
	v.SetDefault("log.slog.source", false)
	v.SetDefault("log.file.dir", "")
	v.SetDefault("log.file.stdout", "")
	v.SetDefault("log.file.stderr", "")
	v.SetDefault("log.file.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.file.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.file.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.file.compress", false)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "")
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.dsn", "")
	v.SetDefault("server.listen", "")
	v.SetDefault("server.base_path", "/api")
}

// Load reads path (optional; "" uses defaults only) and applies DEVLOOP_*
// environment overrides, e.g. DEVLOOP_DEV_DEBOUNCE=500ms.
func Load(path string) (*Config, error) {
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
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		cfg.Root = wd
	} else if path != "" && !filepath.IsAbs(cfg.Root) {
		cfg.Root = filepath.Join(filepath.Dir(path), cfg.Root)
	}
	return &cfg, nil
}

// Validate rejects configurations the pipelines cannot run with.
func (c *Config) Validate() error {
	var errs []error
	for key, val := range map[string]string{
		"dev.vite":            c.Dev.Vite,
		"dev.app":             c.Dev.App,
		"build.builder":       c.Build.Builder,
		"dev.build_marker":    c.Dev.BuildMarker,
		"dev.live_reload_env": c.Dev.LiveReloadEnv,
		"paths.dist":          c.Paths.Dist,
		"paths.main_entry":    c.Paths.MainEntry,
		"paths.release":       c.Paths.Release,
	} {
		if strings.TrimSpace(val) == "" {
			errs = append(errs, fmt.Errorf("%s must not be empty", key))
		}
	}
	if re, err := regexp.Compile(c.Dev.ReadyPattern); err != nil {
		errs = append(errs, fmt.Errorf("dev.ready_pattern: %w", err))
	} else if re.NumSubexp() < 1 {
		errs = append(errs, errors.New("dev.ready_pattern needs a capture group for the URL"))
	}
	for key, d := range map[string]time.Duration{
		"dev.ready_timeout":  c.Dev.ReadyTimeout,
		"dev.debounce":       c.Dev.Debounce,
		"build.step_timeout": c.Build.StepTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", key))
		}
	}
	switch c.Dev.ForceColor {
	case ForceColorAuto, ForceColorAlways, ForceColorNever:
	default:
		errs = append(errs, fmt.Errorf("dev.force_color must be auto, always or never, got %q", c.Dev.ForceColor))
	}
	if c.History.Enabled && strings.TrimSpace(c.History.DSN) == "" {
		errs = append(errs, errors.New("history.dsn is required when history is enabled"))
	}
	return errors.Join(errs...)
}

// Abs resolves p against Root.
func (c *Config) Abs(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}

// ChildEnv builds the environment every child starts from: the OS
// environment when use_os_env is set, then env_files in order, then env.
func (c *Config) ChildEnv() (*env.Env, error) {
	e := env.New()
	if c.UseOSEnv {
		e = e.FromOS()
	} else {
		e = e.WithBase(nil)
	}
	for _, p := range c.EnvFiles {
		pairs, err := LoadEnvFile(c.Abs(p))
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		e = e.WithPairs(pairs)
	}
	return e.WithPairs(c.Env), nil
}
