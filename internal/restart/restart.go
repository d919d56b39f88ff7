// Package restart replaces the supervised application process after its
// compiled output changes, coalescing bursts of change notifications.
package restart

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/loykin/devloop/internal/env"
	"github.com/loykin/devloop/internal/history"
	"github.com/loykin/devloop/internal/logger"
	"github.com/loykin/devloop/internal/metrics"
	"github.com/loykin/devloop/internal/process"
	"github.com/loykin/devloop/internal/registry"
)

const (
	DefaultDebounce = 300 * time.Millisecond
	DefaultEnvName  = "VITE_DEV_SERVER_URL"
)

// ErrLiveReloadURLUnknown is returned when a controller is built before the
// dev server URL has been discovered.
var ErrLiveReloadURLUnknown = errors.New("live-reload URL is not known yet")

type Options struct {
	// App is the supervised process. Its Env is ignored; see Env.
	App process.Spec
	// Env is the environment the app starts from. nil means the OS environment.
	Env *env.Env
	// EnvName is the variable carrying the live-reload URL.
	EnvName string
	// Debounce is the quiet interval after the last change notification.
	Debounce time.Duration
	// Supervised holds the live app instances. A fresh registry is used when nil.
	Supervised *registry.Registry
	// OnAllExited runs when a tracked instance exits and none remain.
	OnAllExited func()

	Logger  *slog.Logger
	History *history.Recorder

	// Start spawns a process; process.Start when nil.
	Start func(process.Spec) (*process.Handle, error)
	// OnPanic receives panics recovered in the restart and exit observer
	// goroutines. When nil the panic is raised again.
	OnPanic func(any)

	// Console, when set, announces instance starts and exits under Tag.
	Console *logger.Console
	Tag     string
}

// Controller restarts the supervised process at most once per quiet interval.
type Controller struct {
	url  string
	opts Options
	env  *env.Env
	log  *slog.Logger

	mu      sync.Mutex // guards timer, gen, stopped
	timer   *time.Timer
	gen     uint64
	stopped bool

	restartMu sync.Mutex // serialises terminate, clear, spawn, track
	restarts  atomic.Int64
	observers sync.WaitGroup
}

func New(liveURL string, opts Options) (*Controller, error) {
	if liveURL == "" {
		return nil, ErrLiveReloadURLUnknown
	}
	if opts.EnvName == "" {
		opts.EnvName = DefaultEnvName
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Supervised == nil {
		opts.Supervised = registry.New("supervised")
	}
	if opts.Start == nil {
		opts.Start = process.Start
	}
	e := opts.Env
	if e == nil {
		e = env.New().FromOS()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		url:  liveURL,
		opts: opts,
		env:  e.WithSet(opts.EnvName, liveURL),
		log:  log.With("component", "restart"),
	}, nil
}

func (c *Controller) URL() string                    { return c.url }
func (c *Controller) Supervised() *registry.Registry { return c.opts.Supervised }
func (c *Controller) Restarts() int64                { return c.restarts.Load() }

// NotifyChange cancels any pending restart and schedules a new one after the
// quiet interval.
func (c *Controller) NotifyChange() {
	metrics.IncChangeEvent()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	gen := c.gen
	c.timer = time.AfterFunc(c.opts.Debounce, func() {
		defer c.rescue()
		c.fire(gen)
	})
}

// Trigger cancels any pending restart and restarts now.
func (c *Controller) Trigger() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
	c.mu.Unlock()
	c.restart()
}

// Stop cancels the pending restart; later notifications are ignored. It
// returns after an in-flight restart has finished, and instances exiting
// from then on no longer trigger OnAllExited.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
	// wait out a running restart
	c.restartMu.Lock()
	c.restartMu.Unlock()
}

func (c *Controller) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// Wait blocks until every exit observer has returned.
func (c *Controller) Wait() { c.observers.Wait() }

func (c *Controller) fire(gen uint64) {
	c.mu.Lock()
	current := gen == c.gen && !c.stopped
	if current {
		c.timer = nil
	}
	c.mu.Unlock()
	// a stale timer that fired while being replaced
	if !current {
		return
	}
	c.restart()
}

func (c *Controller) restart() {
	c.restartMu.Lock()
	defer c.restartMu.Unlock()
	if c.isStopped() {
		return
	}

	sup := c.opts.Supervised
	if err := sup.TerminateAll(syscall.SIGTERM); err != nil {
		c.log.Warn("terminate supervised", "error", err)
	}
	sup.Clear()

	spec := c.opts.App
	spec.Env = c.env.Merge(nil)
	n := c.restarts.Add(1)
	metrics.IncRestart()
	c.opts.History.Record(history.Event{Type: history.EventRestart, Name: spec.Name})

	h, err := c.opts.Start(spec)
	if err != nil {
		c.log.Error("spawn supervised process", "name", spec.Name, "error", err)
		return
	}
	g, err := sup.Track(h)
	if err != nil {
		c.log.Error("track supervised process", "name", spec.Name, "pid", h.PID(), "error", err)
		_ = h.Terminate()
		return
	}
	c.log.Debug("supervised process started", "name", spec.Name, "pid", h.PID(), "restart", n)
	c.announce("Process %d started", h.PID())
	c.opts.History.Record(history.Event{Type: history.EventSpawn, Name: spec.Name, PID: h.PID()})

	c.observers.Add(1)
	go c.observe(h, g)
}

func (c *Controller) observe(h *process.Handle, g *registry.Guard) {
	defer c.observers.Done()
	defer c.rescue()
	<-h.Done()
	c.announce("Process %d exited with code %d", h.PID(), h.ExitCode())
	c.opts.History.Record(history.Event{
		Type:       history.EventExit,
		Name:       h.Name(),
		PID:        h.PID(),
		ExitCode:   h.ExitCode(),
		DurationMS: time.Since(h.StartedAt()).Milliseconds(),
	})

	// hold off a concurrent restart between its clear and track
	c.restartMu.Lock()
	stillTracked := g.Release()
	empty := c.opts.Supervised.Len() == 0
	c.restartMu.Unlock()

	if !stillTracked {
		return
	}
	c.log.Info("supervised process exited", "name", h.Name(), "code", h.ExitCode())
	if empty && c.opts.OnAllExited != nil && !c.isStopped() {
		c.opts.OnAllExited()
	}
}

func (c *Controller) announce(format string, args ...any) {
	if c.opts.Console != nil {
		c.opts.Console.Printf(c.opts.Tag, format, args...)
	}
}

// rescue must be deferred by the controller's goroutines.
func (c *Controller) rescue() {
	v := recover()
	if v == nil {
		return
	}
	if c.opts.OnPanic == nil {
		panic(v)
	}
	c.opts.OnPanic(v)
}
