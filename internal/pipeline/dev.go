package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"
	"syscall"
	"time"

	"github.com/loykin/devloop/internal/config"
	"github.com/loykin/devloop/internal/env"
	"github.com/loykin/devloop/internal/history"
	"github.com/loykin/devloop/internal/logger"
	"github.com/loykin/devloop/internal/process"
	"github.com/loykin/devloop/internal/readiness"
	"github.com/loykin/devloop/internal/registry"
	"github.com/loykin/devloop/internal/restart"
	"github.com/loykin/devloop/internal/watcher"
)

const (
	devTag          = "electron-dev"
	webDevTag       = "web-dev"
	buildMainTag    = "electron-build-main"
	buildPreloadTag = "electron-build-preload"
	appTag          = "electron"
)

var defaultReadyPattern = regexp.MustCompile(`Local:\s+(https?://localhost:\d+/)`)

// ErrDevServerURL is returned when the dev server's ready line carries no URL.
var ErrDevServerURL = errors.New("failed to start dev server")

type DevOptions struct {
	Runtime

	Root              string
	Vite              string
	App               string
	ViteConfig        string
	ViteConfigMain    string
	ViteConfigPreload string
	MainEntry         string
	Dist              string

	// ReadyPattern finds the dev server URL in capture group 1.
	ReadyPattern *regexp.Regexp
	BuildMarker  string
	ReadyTimeout time.Duration
	Debounce     time.Duration

	LiveReloadEnv string
	// ForceColor is passed to every child as FORCE_COLOR when non-empty.
	ForceColor string

	// OnAllExited runs when the last supervised instance exits. It defaults
	// to Shutdown.Exit(0).
	OnAllExited func()
}

// DevOptionsFromConfig maps the [dev] and [paths] sections; forceColor is
// the already resolved FORCE_COLOR value.
func DevOptionsFromConfig(cfg *config.Config, rt Runtime, forceColor string) DevOptions {
	return DevOptions{
		Runtime:           rt,
		Root:              cfg.Root,
		Vite:              cfg.Dev.Vite,
		App:               cfg.Dev.App,
		ViteConfig:        cfg.Abs(cfg.Paths.ViteConfig),
		ViteConfigMain:    cfg.Abs(cfg.Paths.ViteConfigMain),
		ViteConfigPreload: cfg.Abs(cfg.Paths.ViteConfigPreload),
		MainEntry:         cfg.Abs(cfg.Paths.MainEntry),
		Dist:              cfg.Abs(cfg.Paths.Dist),
		ReadyPattern:      regexp.MustCompile(cfg.Dev.ReadyPattern),
		BuildMarker:       cfg.Dev.BuildMarker,
		ReadyTimeout:      cfg.Dev.ReadyTimeout,
		Debounce:          cfg.Dev.Debounce,
		LiveReloadEnv:     cfg.Dev.LiveReloadEnv,
		ForceColor:        forceColor,
	}
}

// ProcInfo describes one tracked child.
type ProcInfo struct {
	Name string `json:"name"`
	PID  int    `json:"pid"`
}

// Status is a snapshot of a running dev session.
type Status struct {
	URL        string     `json:"url"`
	Children   []ProcInfo `json:"children"`
	Supervised []ProcInfo `json:"supervised"`
	Restarts   int64      `json:"restarts"`
}

// Dev runs the watch-mode loop: dev server, two watch compilers, a
// filesystem watcher on their output and a supervised app restarted on change.
type Dev struct {
	opts       DevOptions
	rt         Runtime
	tag        string
	children   *registry.Registry
	supervised *registry.Registry

	mu      sync.Mutex
	url     string
	ctrl    *restart.Controller
	watcher *watcher.Watcher
}

func NewDev(opts DevOptions) *Dev {
	rt := opts.Runtime.withDefaults()
	if opts.BuildMarker == "" {
		opts.BuildMarker = "built in"
	}
	if opts.ReadyPattern == nil {
		opts.ReadyPattern = defaultReadyPattern
	}
	return &Dev{
		opts:       opts,
		rt:         rt,
		tag:        rt.Console.Tag(devTag, logger.Magenta),
		children:   registry.New("children"),
		supervised: registry.New("supervised"),
	}
}

func (d *Dev) Children() *registry.Registry   { return d.children }
func (d *Dev) Supervised() *registry.Registry { return d.supervised }

// URL is the discovered live-reload URL, "" before discovery.
func (d *Dev) URL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url
}

// Run starts every phase in order and blocks until ctx is done. A phase
// failure is returned immediately; children already started keep running
// until Cleanup.
func (d *Dev) Run(ctx context.Context) error {
	d.rt.arm(d.Cleanup)

	d.rt.Console.Banner(d.tag, "(1/4)", "Starting web dev server")
	web, err := d.spawnChild(webDevTag, logger.Blue, d.opts.Vite, "--config", d.opts.ViteConfig)
	if err != nil {
		return fmt.Errorf("start web dev server: %w", err)
	}
	match := readiness.Pattern(d.opts.ReadyPattern)
	line, err := d.await(ctx, web, match)
	if err != nil {
		return fmt.Errorf("start web dev server: %w", err)
	}
	url := match.Submatch(line, 1)
	if url == "" {
		return ErrDevServerURL
	}
	d.rt.Logger.Info("dev server ready", "url", url)

	d.rt.Console.Banner(d.tag, "(2/4)", "Starting electron main build watch")
	if err := d.startWatchBuild(ctx, buildMainTag, d.opts.ViteConfigMain); err != nil {
		return fmt.Errorf("start main build watch: %w", err)
	}

	d.rt.Console.Banner(d.tag, "(3/4)", "Starting electron preload build watch")
	if err := d.startWatchBuild(ctx, buildPreloadTag, d.opts.ViteConfigPreload); err != nil {
		return fmt.Errorf("start preload build watch: %w", err)
	}

	d.rt.Console.Banner(d.tag, "(4/4)", "Starting Electron watcher")
	if err := d.startReloader(ctx, url); err != nil {
		return fmt.Errorf("start electron watcher: %w", err)
	}

	<-ctx.Done()
	return nil
}

// Restart replaces the supervised app now.
func (d *Dev) Restart() error {
	d.mu.Lock()
	ctrl := d.ctrl
	d.mu.Unlock()
	if ctrl == nil {
		return restart.ErrLiveReloadURLUnknown
	}
	ctrl.Trigger()
	return nil
}

func (d *Dev) Status() Status {
	d.mu.Lock()
	st := Status{URL: d.url}
	ctrl := d.ctrl
	d.mu.Unlock()
	if ctrl != nil {
		st.Restarts = ctrl.Restarts()
	}
	st.Children = procInfos(d.children)
	st.Supervised = procInfos(d.supervised)
	return st
}

// Cleanup stops restarts, terminates every child and the supervised app, and
// closes the watcher.
func (d *Dev) Cleanup(context.Context) (int, error) {
	d.rt.Console.Printf(d.tag, "Cleaning up...")
	d.mu.Lock()
	ctrl, w := d.ctrl, d.watcher
	d.mu.Unlock()
	if ctrl != nil {
		ctrl.Stop()
	}
	var errs []error
	if err := d.children.TerminateAll(syscall.SIGTERM); err != nil {
		errs = append(errs, err)
	}
	if err := d.supervised.TerminateAll(syscall.SIGTERM); err != nil {
		errs = append(errs, err)
	}
	if w != nil {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close watcher: %w", err))
		}
	}
	return 0, errors.Join(errs...)
}

func (d *Dev) childEnv() []string { return d.appEnv().Merge(nil) }

// spawnChild starts a phase process, tracks it until it exits and echoes its
// output under tag.
func (d *Dev) spawnChild(tag, color, command string, args ...string) (*process.Handle, error) {
	t := d.rt.Console.Tag(tag, color)
	h, err := d.rt.Start(process.Spec{
		Name:    tag,
		Command: command,
		Args:    args,
		WorkDir: d.opts.Root,
		Env:     d.childEnv(),
		Stdout:  d.rt.Console.Stdout(t),
		Stderr:  d.rt.Console.Stderr(t),
		Log:     d.rt.ChildLog,
	})
	if err != nil {
		return nil, err
	}
	g, err := d.children.Track(h)
	if err != nil {
		_ = h.Terminate()
		return nil, err
	}
	d.rt.Logger.Debug("child started", "name", tag, "pid", h.PID(), "command", h.Spec().CommandLine())
	d.rt.History.Record(history.Event{Type: history.EventSpawn, Name: tag, PID: h.PID()})
	go func() {
		defer d.rt.rescue()
		<-h.Done()
		if g.Release() {
			d.rt.Logger.Warn("child exited", "name", tag, "pid", h.PID(), "code", h.ExitCode())
		}
		d.rt.History.Record(history.Event{
			Type: history.EventExit, Name: tag, PID: h.PID(), ExitCode: h.ExitCode(),
			DurationMS: time.Since(h.StartedAt()).Milliseconds(),
		})
	}()
	return h, nil
}

func (d *Dev) await(ctx context.Context, h *process.Handle, m readiness.Match) (string, error) {
	start := time.Now()
	line, err := readiness.AwaitOutput(ctx, h, m, d.opts.ReadyTimeout)
	if err != nil {
		return "", err
	}
	d.rt.History.Record(history.Event{
		Type: history.EventReady, Name: h.Name(), PID: h.PID(),
		DurationMS: time.Since(start).Milliseconds(),
	})
	return line, nil
}

func (d *Dev) startWatchBuild(ctx context.Context, tag, viteConfig string) error {
	h, err := d.spawnChild(tag, logger.Blue, d.opts.Vite, "build", "--watch", "--config", viteConfig)
	if err != nil {
		return err
	}
	_, err = d.await(ctx, h, readiness.Literal(d.opts.BuildMarker))
	return err
}

func (d *Dev) startReloader(ctx context.Context, url string) error {
	appTagged := d.rt.Console.Tag(appTag, logger.Green)
	onAllExited := d.opts.OnAllExited
	if onAllExited == nil {
		onAllExited = func() {
			d.rt.Console.Printf(d.tag, "All processes exited. Exiting...")
			if d.rt.Shutdown != nil {
				d.rt.Shutdown.Exit(0)
			}
		}
	}
	ctrl, err := restart.New(url, restart.Options{
		App: process.Spec{
			Name:    appTag,
			Command: d.opts.App,
			Args:    []string{d.opts.MainEntry},
			WorkDir: d.opts.Root,
			Stdout:  d.rt.Console.Stdout(appTagged),
			Stderr:  d.rt.Console.Stderr(appTagged),
			Log:     d.rt.ChildLog,
		},
		Env:         d.appEnv(),
		EnvName:     d.opts.LiveReloadEnv,
		Debounce:    d.opts.Debounce,
		Supervised:  d.supervised,
		OnAllExited: onAllExited,
		Logger:      d.rt.Logger,
		History:     d.rt.History,
		Start:       d.rt.Start,
		OnPanic:     d.rt.OnPanic,
		Console:     d.rt.Console,
		Tag:         d.tag,
	})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(d.opts.Dist, 0o755); err != nil {
		return err
	}
	w, err := watcher.New(watcher.Options{})
	if err != nil {
		return err
	}
	if err := w.WatchRecursive(d.opts.Dist); err != nil {
		_ = w.Close()
		return err
	}

	d.mu.Lock()
	d.url = url
	d.ctrl = ctrl
	d.watcher = w
	d.mu.Unlock()

	go d.forward(ctx, w, ctrl)
	ctrl.NotifyChange()
	return nil
}

func (d *Dev) appEnv() *env.Env {
	if d.opts.ForceColor == "" {
		return d.rt.Env
	}
	return d.rt.Env.WithSet("FORCE_COLOR", d.opts.ForceColor)
}

// forward turns write and create events below the output directory into
// restart notifications until the watcher closes.
func (d *Dev) forward(ctx context.Context, w *watcher.Watcher, ctrl *restart.Controller) {
	defer d.rt.rescue()
	events, errs := w.Events(), w.Errors()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !ev.Op.Has(watcher.OpWrite) && !ev.Op.Has(watcher.OpCreate) {
				continue
			}
			d.rt.Console.Printf(d.tag, "File changed: %s. Restarting Electron...", ev.Path)
			ctrl.NotifyChange()
		case err, ok := <-errs:
			if !ok {
				return
			}
			d.rt.Logger.Warn("watcher error", "error", err)
		case <-ctx.Done():
			return
		}
	}
}

func procInfos(r *registry.Registry) []ProcInfo {
	hs := r.Snapshot()
	out := make([]ProcInfo, 0, len(hs))
	for _, h := range hs {
		out = append(out, ProcInfo{Name: h.Name(), PID: h.PID()})
	}
	return out
}
