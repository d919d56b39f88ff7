// Package devloop exposes the dev and build orchestrators for embedding in
// other Go programs. The devloop command is a thin CLI over this facade.
package devloop

import (
	"net"
	"net/http"
	"time"

	cfg "github.com/loykin/devloop/internal/config"
	"github.com/loykin/devloop/internal/history"
	"github.com/loykin/devloop/internal/history/factory"
	"github.com/loykin/devloop/internal/metrics"
	"github.com/loykin/devloop/internal/pipeline"
	iapi "github.com/loykin/devloop/internal/server"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type Runtime = pipeline.Runtime

type DevOptions = pipeline.DevOptions

type BuildOptions = pipeline.BuildOptions

type Step = pipeline.Step

type Status = pipeline.Status

type HistorySink = history.Sink

type HistoryEvent = history.Event

var (
	ErrBuildStepFailed = pipeline.ErrBuildStepFailed
	ErrDevServerURL    = pipeline.ErrDevServerURL
)

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// NewDev returns the watch-mode pipeline; call Run to start it.
func NewDev(opts DevOptions) *pipeline.Dev { return pipeline.NewDev(opts) }

// NewBuild returns the production build pipeline over steps.
func NewBuild(steps []Step, opts BuildOptions) *pipeline.Build { return pipeline.NewBuild(steps, opts) }

// BuildSteps is the default production sequence for c.
func BuildSteps(c *Config) []Step { return pipeline.BuildSteps(c) }

// NewHistorySink opens a sink by DSN (sqlite path, postgres://, clickhouse://, opensearch://).
func NewHistorySink(dsn string) (HistorySink, error) { return factory.NewSinkFromDSN(dsn) }

// NewHTTPServer starts the control API for a running dev session.
func NewHTTPServer(addr, basePath string, d *pipeline.Dev, withMetrics bool) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, d, withMetrics)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise the server runs in the background.
func ServeMetrics(addr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = srv.Serve(ln) }()
	return srv, nil
}
