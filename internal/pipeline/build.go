package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/loykin/devloop/internal/config"
	"github.com/loykin/devloop/internal/history"
	"github.com/loykin/devloop/internal/logger"
	"github.com/loykin/devloop/internal/metrics"
	"github.com/loykin/devloop/internal/process"
	"github.com/loykin/devloop/internal/readiness"
	"github.com/loykin/devloop/internal/registry"
)

const buildTag = "electron-build"

type StepKind int

const (
	// StepExec runs an executable and requires exit code 0.
	StepExec StepKind = iota
	// StepClean removes a directory tree; a missing directory is fine.
	StepClean
)

// Step is one unit of the build pipeline.
type Step struct {
	Kind    StepKind
	Label   string
	Banner  string // headline printed before the step, numbered among announced steps
	Command string
	Args    []string
	WorkDir string
	Path    string // directory removed by a clean step
}

func ExecStep(label, command string, args ...string) Step {
	return Step{Kind: StepExec, Label: label, Command: command, Args: args}
}

func CleanStep(label, path string) Step {
	return Step{Kind: StepClean, Label: label, Path: path}
}

// Announce returns s with a banner.
func (s Step) Announce(banner string) Step {
	s.Banner = banner
	return s
}

// In returns s running in dir.
func (s Step) In(dir string) Step {
	s.WorkDir = dir
	return s
}

// name is the process name used for metrics and log files.
func (s Step) name() string {
	return strings.ToLower(strings.Join(strings.Fields(s.Label), "-"))
}

// BuildSteps is the fixed production sequence: clean the output directory,
// build the web, main and preload bundles, clean the release directory and
// run the packager.
func BuildSteps(cfg *config.Config) []Step {
	vite := cfg.Dev.Vite
	root := cfg.Root
	return []Step{
		CleanStep("Clean output directory", cfg.Abs(cfg.Paths.Dist)),
		ExecStep("Build web code", vite, "build", "--config", cfg.Abs(cfg.Paths.ViteConfig)).
			In(root).Announce("Build web code"),
		ExecStep("Build main code", vite, "build", "--config", cfg.Abs(cfg.Paths.ViteConfigMain)).
			In(root).Announce("Build main code"),
		ExecStep("Build preload code", vite, "build", "--config", cfg.Abs(cfg.Paths.ViteConfigPreload)).
			In(root).Announce("Build preload code"),
		CleanStep("Clean release directory", cfg.Abs(cfg.Paths.Release)).Announce("Build electron app"),
		ExecStep("Package electron app", cfg.Build.Builder, "--config", cfg.Abs(cfg.Paths.BuilderConfig)).
			In(root),
	}
}

// ErrBuildStepFailed matches every BuildStepFailedError via errors.Is.
var ErrBuildStepFailed = errors.New("build step failed")

// BuildStepFailedError names the step that stopped the pipeline.
type BuildStepFailedError struct {
	Label string
	Index int // 1-based
	Total int
	Code  int // exit code, -1 when the step did not exit normally
	Err   error
}

func (e *BuildStepFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("step %d/%d %q failed: %v", e.Index, e.Total, e.Label, e.Err)
	}
	return fmt.Sprintf("step %d/%d %q failed with exit code %d", e.Index, e.Total, e.Label, e.Code)
}

func (e *BuildStepFailedError) Unwrap() error { return e.Err }

func (e *BuildStepFailedError) Is(target error) bool { return target == ErrBuildStepFailed }

type BuildOptions struct {
	Runtime
	// StepTimeout bounds each exec step; 0 means no bound.
	StepTimeout time.Duration
}

// Build runs steps strictly in order and stops at the first failure.
type Build struct {
	steps       []Step
	stepTimeout time.Duration
	rt          Runtime
	children    *registry.Registry
	tag         string
}

func NewBuild(steps []Step, opts BuildOptions) *Build {
	rt := opts.Runtime.withDefaults()
	return &Build{
		steps:       steps,
		stepTimeout: opts.StepTimeout,
		rt:          rt,
		children:    registry.New("build"),
		tag:         rt.Console.Tag(buildTag, logger.Magenta),
	}
}

func (b *Build) Steps() []Step                { return b.steps }
func (b *Build) Children() *registry.Registry { return b.children }

// Cleanup terminates the running step, if any.
func (b *Build) Cleanup(context.Context) (int, error) {
	return 0, b.children.TerminateAll(syscall.SIGTERM)
}

// Run executes every step. It returns a *BuildStepFailedError for the first
// step that fails, or ctx.Err() when cancelled between or during steps.
func (b *Build) Run(ctx context.Context) error {
	b.rt.arm(b.Cleanup)
	total := len(b.steps)
	announced := 0
	for _, s := range b.steps {
		if s.Banner != "" {
			announced++
		}
	}
	n := 0
	for i, s := range b.steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.Banner != "" {
			n++
			b.rt.Console.Banner(b.tag, fmt.Sprintf("(%d/%d)", n, announced), s.Banner)
		}
		b.rt.Logger.Debug("build step", "index", i+1, "label", s.Label)
		b.rt.History.Record(history.Event{Type: history.EventStepStart, Name: s.Label})

		start := time.Now()
		code, err := b.runStep(ctx, s)
		elapsed := time.Since(start)
		if err == nil && code != 0 {
			err = &BuildStepFailedError{Label: s.Label, Index: i + 1, Total: total, Code: code}
		} else if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			err = &BuildStepFailedError{Label: s.Label, Index: i + 1, Total: total, Code: code, Err: err}
		}
		if err != nil {
			metrics.ObserveBuildStep(s.Label, "failed", elapsed.Seconds())
			b.rt.History.Record(history.Event{
				Type: history.EventStepFailed, Name: s.Label, ExitCode: code,
				Error: err.Error(), DurationMS: elapsed.Milliseconds(),
			})
			return err
		}
		metrics.ObserveBuildStep(s.Label, "ok", elapsed.Seconds())
		b.rt.History.Record(history.Event{Type: history.EventStepOK, Name: s.Label, DurationMS: elapsed.Milliseconds()})
	}
	return nil
}

func (b *Build) runStep(ctx context.Context, s Step) (int, error) {
	if s.Kind == StepClean {
		if s.Path == "" {
			return -1, errors.New("clean step without path")
		}
		if err := os.RemoveAll(s.Path); err != nil {
			return -1, err
		}
		return 0, nil
	}

	h, err := b.rt.Start(process.Spec{
		Name:    s.name(),
		Command: s.Command,
		Args:    s.Args,
		WorkDir: s.WorkDir,
		Env:     b.rt.Env.Merge(nil),
		Stdout:  b.rt.Console.Stdout(""),
		Stderr:  b.rt.Console.Stderr(""),
		Log:     b.rt.ChildLog,
	})
	if err != nil {
		return -1, err
	}
	code := -1
	err = b.children.Using(h, func() error {
		var werr error
		code, werr = b.await(ctx, h)
		return werr
	})
	return code, err
}

func (b *Build) await(ctx context.Context, h *process.Handle) (int, error) {
	var expired <-chan time.Time
	if b.stepTimeout > 0 {
		t := time.NewTimer(b.stepTimeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case <-h.Done():
		if err := h.Err(); err != nil {
			return -1, err
		}
		return h.ExitCode(), nil
	case <-expired:
		_ = h.Terminate()
		<-h.Done()
		return -1, &readiness.TimeoutError{Name: h.Name(), After: b.stepTimeout}
	case <-ctx.Done():
		_ = h.Terminate()
		<-h.Done()
		return -1, ctx.Err()
	}
}
