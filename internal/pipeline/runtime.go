// Package pipeline runs the orchestrated development loop and the sequential
// production build.
package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/loykin/devloop/internal/env"
	"github.com/loykin/devloop/internal/history"
	"github.com/loykin/devloop/internal/logger"
	"github.com/loykin/devloop/internal/process"
	"github.com/loykin/devloop/internal/shutdown"
)

// Runtime holds the collaborators both pipelines share. Zero fields get
// working defaults.
type Runtime struct {
	Console  *logger.Console
	Logger   *slog.Logger
	History  *history.Recorder
	Env      *env.Env
	ChildLog logger.Config
	// Shutdown is armed with the pipeline's cleanup when Run starts.
	Shutdown *shutdown.Coordinator
	// Start spawns children; process.Start when nil.
	Start func(process.Spec) (*process.Handle, error)
	// Color enables coloured tags on the console.
	Color bool
	// Finalize runs after the pipeline's own cleanup during shutdown.
	Finalize func(context.Context) error
	// OnPanic receives panics recovered in background goroutines, usually
	// Shutdown.HandlePanic. When nil the panic is raised again.
	OnPanic func(any)
}

func (r Runtime) withDefaults() Runtime {
	if r.Console == nil {
		r.Console = logger.NewConsole(os.Stdout, os.Stderr, r.Color)
	}
	if r.Logger == nil {
		r.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if r.Env == nil {
		r.Env = env.New().FromOS()
	}
	if r.Start == nil {
		r.Start = process.Start
	}
	return r
}

// arm installs cleanup, followed by Finalize, on the shutdown coordinator.
func (r Runtime) arm(cleanup shutdown.Cleanup) {
	if r.Shutdown == nil {
		return
	}
	if r.Finalize == nil {
		r.Shutdown.Arm(cleanup)
		return
	}
	finalize := r.Finalize
	r.Shutdown.Arm(func(ctx context.Context) (int, error) {
		code, err := cleanup(ctx)
		return code, errors.Join(err, finalize(ctx))
	})
}

// rescue must be deferred by pipeline goroutines.
func (r Runtime) rescue() {
	v := recover()
	if v == nil {
		return
	}
	if r.OnPanic == nil {
		panic(v)
	}
	r.OnPanic(v)
}
