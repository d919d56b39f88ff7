package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/loykin/devloop"
	"github.com/loykin/devloop/internal/config"
	"github.com/loykin/devloop/internal/env"
	"github.com/loykin/devloop/internal/history"
	"github.com/loykin/devloop/internal/history/factory"
	"github.com/loykin/devloop/internal/logger"
	"github.com/loykin/devloop/internal/metrics"
	"github.com/loykin/devloop/internal/pipeline"
	"github.com/loykin/devloop/internal/server"
	"github.com/loykin/devloop/internal/shutdown"
	"github.com/prometheus/client_golang/prometheus"
)

// session is the per-command wiring around a pipeline: configuration,
// logging, history and the optional HTTP listeners.
type session struct {
	cfg        *config.Config
	log        *slog.Logger
	console    *logger.Console
	errTag     string
	color      bool
	forceColor string
	env        *env.Env
	recorder   *history.Recorder
	servers    []*http.Server
}

func openSession(flags GlobalFlags, name string, stdout, stderr io.Writer) (*session, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	childEnv, err := cfg.ChildEnv()
	if err != nil {
		return nil, err
	}

	tty := isTerminal(stdout)
	s := &session{
		cfg:        cfg,
		color:      colorEnabled(cfg.Dev.ForceColor, tty),
		forceColor: resolveForceColor(cfg.Dev.ForceColor, tty),
		env:        childEnv,
	}
	slogCfg := cfg.Log
	slogCfg.Slog.Color = slogCfg.Slog.Color && isTerminal(stderr)
	s.log = slogCfg.NewSloggerTo(stderr)
	s.console = logger.NewConsole(stdout, stderr, s.color)
	s.errTag = s.console.Tag("devloop", logger.Red)

	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		if cfg.Metrics.Listen != "" {
			srv, err := devloop.ServeMetrics(cfg.Metrics.Listen)
			if err != nil {
				return nil, fmt.Errorf("metrics listen %s: %w", cfg.Metrics.Listen, err)
			}
			s.servers = append(s.servers, srv)
			s.log.Info("metrics listening", "addr", srv.Addr)
		}
	}

	if cfg.History.Enabled {
		sink, err := factory.NewSinkFromDSN(historyDSN(cfg))
		if err != nil {
			_ = s.close(context.Background())
			return nil, fmt.Errorf("open history sink: %w", err)
		}
		s.recorder = history.NewRecorder(sink, name, s.log)
		s.log.Debug("recording history", "run_id", s.recorder.RunID())
	}
	return s, nil
}

// loadConfig reads the config file and applies flag overrides before validation.
func loadConfig(flags GlobalFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return nil, err
	}
	if flags.Root != "" {
		root, err := filepath.Abs(flags.Root)
		if err != nil {
			return nil, err
		}
		cfg.Root = root
	}
	if flags.LogLevel != "" {
		cfg.Log.Slog.Level = flags.LogLevel
	}
	if cfg.Log.File.Dir != "" {
		cfg.Log.File.Dir = cfg.Abs(cfg.Log.File.Dir)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// historyDSN resolves a relative SQLite path against the project root.
func historyDSN(cfg *config.Config) string {
	dsn := strings.TrimSpace(cfg.History.DSN)
	if strings.Contains(dsn, "://") || dsn == ":memory:" {
		return dsn
	}
	return cfg.Abs(dsn)
}

func (s *session) runtime(coord *shutdown.Coordinator) pipeline.Runtime {
	return pipeline.Runtime{
		Console:  s.console,
		Logger:   s.log,
		History:  s.recorder,
		Env:      s.env,
		ChildLog: s.cfg.Log,
		Shutdown: coord,
		Color:    s.color,
		Finalize: s.close,
		OnPanic:  coord.HandlePanic,
	}
}

// serve starts the control API for d when server.listen is set.
func (s *session) serve(d server.Controller) error {
	if s.cfg.Server.Listen == "" {
		return nil
	}
	srv, err := server.NewServer(s.cfg.Server.Listen, s.cfg.Server.BasePath, d, s.cfg.Metrics.Enabled)
	if err != nil {
		return fmt.Errorf("control API listen %s: %w", s.cfg.Server.Listen, err)
	}
	s.servers = append(s.servers, srv)
	s.log.Info("control API listening", "addr", srv.Addr, "base_path", s.cfg.Server.BasePath)
	return nil
}

// close stops the listeners and flushes history.
func (s *session) close(ctx context.Context) error {
	var errs []error
	for _, srv := range s.servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.servers = nil
	if err := s.recorder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close history: %w", err))
	}
	return errors.Join(errs...)
}
