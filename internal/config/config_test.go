package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/devloop/internal/env"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, data string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(data), 0o644))
	return p
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	wd, _ := os.Getwd()
	assert.Equal(t, wd, cfg.Root)
	assert.Equal(t, "electron/dist", cfg.Paths.Dist)
	assert.Equal(t, "electron/dist/main.mjs", cfg.Paths.MainEntry)
	assert.Equal(t, "vite", cfg.Dev.Vite)
	assert.Equal(t, "electron", cfg.Dev.App)
	assert.Equal(t, "built in", cfg.Dev.BuildMarker)
	assert.Equal(t, 300*time.Millisecond, cfg.Dev.Debounce)
	assert.Equal(t, time.Duration(0), cfg.Dev.ReadyTimeout)
	assert.Equal(t, "VITE_DEV_SERVER_URL", cfg.Dev.LiveReloadEnv)
	assert.Equal(t, ForceColorAuto, cfg.Dev.ForceColor)
	assert.Equal(t, "electron-builder", cfg.Build.Builder)
	assert.Equal(t, "info", cfg.Log.Slog.Level)
	assert.Equal(t, 10, cfg.Log.File.MaxSizeMB)
	assert.True(t, cfg.UseOSEnv)
	assert.Equal(t, "/api", cfg.Server.BasePath)
}

func TestLoadFileOverrides(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "devloop.toml", `
root = "app"
env = ["NODE_ENV=development"]

[paths]
dist = "out"

[dev]
debounce = "500ms"
ready_timeout = "20s"
force_color = "never"

[build]
step_timeout = "5m"

[log.slog]
level = "debug"

[log.file]
dir = "logs"
max_backups = 9

[history]
enabled = true
dsn = "sqlite://:memory:"
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, filepath.Join(dir, "app"), cfg.Root, "relative root resolves against the config file")
	assert.Equal(t, []string{"NODE_ENV=development"}, cfg.Env)
	assert.Equal(t, "out", cfg.Paths.Dist)
	assert.Equal(t, "electron/release", cfg.Paths.Release, "unset keys keep defaults")
	assert.Equal(t, 500*time.Millisecond, cfg.Dev.Debounce)
	assert.Equal(t, 20*time.Second, cfg.Dev.ReadyTimeout)
	assert.Equal(t, ForceColorNever, cfg.Dev.ForceColor)
	assert.Equal(t, 5*time.Minute, cfg.Build.StepTimeout)
	assert.Equal(t, "debug", cfg.Log.Slog.Level)
	assert.Equal(t, "logs", cfg.Log.File.Dir)
	assert.Equal(t, 9, cfg.Log.File.MaxBackups)
	assert.Equal(t, filepath.Join(dir, "app", "out"), cfg.Abs(cfg.Paths.Dist))
	assert.Equal(t, "/abs", cfg.Abs("/abs"))
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DEVLOOP_DEV_DEBOUNCE", "1s")
	t.Setenv("DEVLOOP_BUILD_BUILDER", "my-builder")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, time.Second, cfg.Dev.Debounce)
	assert.Equal(t, "my-builder", cfg.Build.Builder)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	p := writeFile(t, t.TempDir(), "bad.toml", "[dev\nvite=")
	_, err = Load(p)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errSub string
	}{
		{"empty vite", func(c *Config) { c.Dev.Vite = " " }, "dev.vite"},
		{"empty builder", func(c *Config) { c.Build.Builder = "" }, "build.builder"},
		{"bad pattern", func(c *Config) { c.Dev.ReadyPattern = "Local:(" }, "dev.ready_pattern"},
		{"pattern without group", func(c *Config) { c.Dev.ReadyPattern = `Local:\s+\S+` }, "capture group"},
		{"negative debounce", func(c *Config) { c.Dev.Debounce = -time.Second }, "dev.debounce"},
		{"negative step timeout", func(c *Config) { c.Build.StepTimeout = -1 }, "build.step_timeout"},
		{"bad force color", func(c *Config) { c.Dev.ForceColor = "sometimes" }, "force_color"},
		{"history without dsn", func(c *Config) { c.History.Enabled = true }, "history.dsn"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSub)
		})
	}
}

func TestChildEnvLayering(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".env", "FILE_ONLY=fv\nSHARED=file\nexport QUOTED=\"a b\"\n")
	cfg := &Config{
		Root:     dir,
		UseOSEnv: false,
		EnvFiles: []string{".env"},
		Env:      []string{"SHARED=top", "CHAIN=${FILE_ONLY}-x"},
	}
	e, err := cfg.ChildEnv()
	require.NoError(t, err)
	kvs := e.Merge(nil)

	get := func(k string) string {
		v, _ := env.Lookup(kvs, k)
		return v
	}
	assert.Equal(t, "fv", get("FILE_ONLY"))
	assert.Equal(t, "top", get("SHARED"), "env overrides env_files")
	assert.Equal(t, "a b", get("QUOTED"))
	assert.Equal(t, "fv-x", get("CHAIN"))
	_, hasPath := env.Lookup(kvs, "PATH")
	assert.False(t, hasPath, "OS env excluded when use_os_env is false")

	cfg.EnvFiles = []string{"missing.env"}
	_, err = cfg.ChildEnv()
	assert.Error(t, err)
}

func TestLoadEnvFile(t *testing.T) {
	p := writeFile(t, t.TempDir(), ".env", "A=1\n#comment\n\nB=two\nnot-a-pair\n=novalue\nC='single'\n")
	pairs, err := LoadEnvFile(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"A=1", "B=two", "C=single"}, pairs)
}
