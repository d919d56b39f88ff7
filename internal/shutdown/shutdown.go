// Package shutdown runs an orchestrator's cleanup exactly once, whichever of
// a signal, an explicit exit or a panic comes first.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"
)

// State is the coordinator's lifecycle.
type State int32

const (
	Armed State = iota
	ShuttingDown
)

func (s State) String() string {
	if s == ShuttingDown {
		return "shutting-down"
	}
	return "armed"
}

// Cleanup releases everything the orchestrator owns. A non-zero code
// overrides the exit code the trigger asked for.
type Cleanup func(ctx context.Context) (int, error)

// CleanupError wraps a failed cleanup.
type CleanupError struct{ Err error }

func (e *CleanupError) Error() string { return "Error when cleaning up: " + e.Err.Error() }
func (e *CleanupError) Unwrap() error { return e.Err }

type Option func(*Coordinator)

// WithExitFunc replaces os.Exit.
func WithExitFunc(fn func(int)) Option { return func(c *Coordinator) { c.exit = fn } }

// WithStderr sets where cleanup failures are written.
func WithStderr(w io.Writer) Option { return func(c *Coordinator) { c.stderr = w } }

func WithLogger(l *slog.Logger) Option { return func(c *Coordinator) { c.log = l } }

// WithCleanupTimeout bounds the context handed to the cleanup. 0 means no bound.
func WithCleanupTimeout(d time.Duration) Option { return func(c *Coordinator) { c.timeout = d } }

// Coordinator moves from Armed to ShuttingDown exactly once.
type Coordinator struct {
	state   atomic.Int32
	exit    func(int)
	stderr  io.Writer
	log     *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	cleanup Cleanup
	sigCh   chan os.Signal
	stopSig chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	code   int
}

func New(opts ...Option) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		exit:   os.Exit,
		stderr: os.Stderr,
		log:    slog.Default(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Arm installs cleanup and starts listening for termination signals.
// Arming again replaces the cleanup.
func (c *Coordinator) Arm(cleanup Cleanup) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanup = cleanup
	if c.sigCh != nil {
		return
	}
	c.sigCh = make(chan os.Signal, 1)
	c.stopSig = make(chan struct{})
	signal.Notify(c.sigCh, exitSignals...)
	go c.listen(c.sigCh, c.stopSig)
}

func (c *Coordinator) listen(ch <-chan os.Signal, stop <-chan struct{}) {
	for {
		select {
		case sig := <-ch:
			go c.onSignal(sig)
		case <-stop:
			return
		}
	}
}

// onSignal handles one delivered signal; later signals are ignored.
func (c *Coordinator) onSignal(sig os.Signal) {
	if !c.begin() {
		c.log.Debug("signal ignored during shutdown", "signal", sig.String())
		return
	}
	c.log.Info("shutting down", "signal", sig.String())
	c.exit(c.finish(0))
}

// State reports the current lifecycle state.
func (c *Coordinator) State() State { return State(c.state.Load()) }

// Context is cancelled as soon as shutdown begins.
func (c *Coordinator) Context() context.Context { return c.ctx }

// Done is closed once cleanup has finished.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Exit runs cleanup and exits the process. If shutdown is already under way
// it waits for it to finish instead.
func (c *Coordinator) Exit(code int) {
	if !c.begin() {
		<-c.done
		return
	}
	c.exit(c.finish(code))
}

// Recover must be deferred. On panic it runs cleanup and panics again with
// the original value.
func (c *Coordinator) Recover() {
	if r := recover(); r != nil {
		c.HandlePanic(r)
	}
}

// HandlePanic runs cleanup for a panic value recovered elsewhere, or waits
// for a shutdown already under way, then panics again with r.
func (c *Coordinator) HandlePanic(r any) {
	if c.begin() {
		c.log.Error("panic, cleaning up", "panic", fmt.Sprint(r))
		c.finish(1)
	} else {
		<-c.done
	}
	panic(r)
}

func (c *Coordinator) begin() bool {
	if !c.state.CompareAndSwap(int32(Armed), int32(ShuttingDown)) {
		return false
	}
	c.cancel()
	return true
}

// finish runs the cleanup and derives the exit code. Signals stay caught
// until cleanup has returned, so a repeated interrupt is ignored.
func (c *Coordinator) finish(requested int) int {
	defer close(c.done)
	defer c.stopSignals()
	c.mu.Lock()
	cleanup := c.cleanup
	c.mu.Unlock()

	c.code = requested
	if cleanup == nil {
		return c.code
	}
	ctx := context.Background()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	code, err := runCleanup(ctx, cleanup)
	if err != nil {
		_, _ = fmt.Fprintln(c.stderr, (&CleanupError{Err: err}).Error())
		c.code = 1
		return c.code
	}
	if code != 0 {
		c.code = code
	}
	return c.code
}

func (c *Coordinator) stopSignals() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sigCh != nil {
		signal.Stop(c.sigCh)
		close(c.stopSig)
		c.sigCh = nil
	}
}

// Code is the exit code chosen by the finished shutdown.
func (c *Coordinator) Code() int {
	<-c.done
	return c.code
}

func runCleanup(ctx context.Context, cleanup Cleanup) (code int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(fmt.Sprint("cleanup panicked: ", r))
		}
	}()
	return cleanup(ctx)
}
