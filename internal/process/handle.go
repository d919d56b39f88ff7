package process

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/loykin/devloop/internal/metrics"
)

const (
	// backlogSize is how many recent stdout lines a late subscriber replays.
	backlogSize = 256
	// waitDelay bounds how long Wait keeps reading output after the child
	// exits while grandchildren still hold its pipes open.
	waitDelay = 2 * time.Second
)

// Handle is a running child process with line-oriented stdout observation
// and an exit notification.
type Handle struct {
	spec      Spec
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time

	outMu   sync.Mutex // guards backlog, subs, closed; held while publishing
	backlog []string
	subs    map[*subscriber]struct{}
	closed  bool

	done     chan struct{}
	mu       sync.Mutex
	exitCode int
	waitErr  error
	ioErr    error
	closers  []io.Closer
}

type subscriber struct {
	ch   chan string
	quit chan struct{}
	once sync.Once
}

// Start spawns spec and returns once the OS process exists.
func Start(spec Spec) (*Handle, error) {
	if spec.Command == "" {
		return nil, &SpawnError{Name: spec.Name, Err: errors.New("empty command")}
	}
	// #nosec G204 -- commands come from the project's own config
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.WorkDir
	cmd.Env = spec.Env
	cmd.WaitDelay = waitDelay
	configureSysProcAttr(cmd)

	h := &Handle{
		spec:     spec,
		cmd:      cmd,
		subs:     make(map[*subscriber]struct{}),
		done:     make(chan struct{}),
		exitCode: -1,
	}
	outFile, errFile, err := spec.Log.ProcessWriters(spec.Name)
	if err != nil {
		return nil, &SpawnError{Name: spec.Name, Err: err}
	}
	stdout := &lineWriter{emit: h.stdoutLine(outFile)}
	stderr := &lineWriter{emit: h.stderrLine(errFile)}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	for _, c := range []io.WriteCloser{outFile, errFile} {
		if c != nil {
			h.closers = append(h.closers, c)
		}
	}

	if err := cmd.Start(); err != nil {
		h.closeFiles()
		return nil, &SpawnError{Name: spec.Name, Err: err}
	}
	h.pid = cmd.Process.Pid
	h.startedAt = time.Now()
	metrics.IncSpawn(spec.Name)
	go h.wait(stdout, stderr)
	return h, nil
}

func (h *Handle) Name() string         { return h.spec.Name }
func (h *Handle) PID() int             { return h.pid }
func (h *Handle) StartedAt() time.Time { return h.startedAt }
func (h *Handle) Spec() Spec           { return h.spec }

// Done is closed once the process has exited and its output is drained.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Exited reports whether Done is closed.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// ExitCode is the exit status, or -1 while running or when killed by a signal.
func (h *Handle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

// ExitErr is the error returned by waiting on the process (an *exec.ExitError
// for nonzero exits).
func (h *Handle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.waitErr
}

// Err reports a failure of the process plumbing itself (not a nonzero exit).
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ioErr == nil {
		return nil
	}
	return &SpawnError{Name: h.spec.Name, Err: h.ioErr}
}

// Signal sends sig to the process tree. Signalling an exited process is a no-op.
func (h *Handle) Signal(sig os.Signal) error {
	if h.Exited() {
		return nil
	}
	return signalTree(h.cmd.Process, sig)
}

// Terminate sends SIGTERM to the process tree.
func (h *Handle) Terminate() error { return h.Signal(syscall.SIGTERM) }

// Wait blocks until exit or ctx is done and returns the exit code.
func (h *Handle) Wait(ctx context.Context) (int, error) {
	select {
	case <-h.done:
		return h.ExitCode(), nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// Subscribe returns the recent stdout backlog and a channel carrying every
// later line. The channel is closed after the process exits or cancel is
// called; cancel is idempotent and must be called when done reading.
func (h *Handle) Subscribe() ([]string, <-chan string, func()) {
	s := &subscriber{ch: make(chan string, 64), quit: make(chan struct{})}
	h.outMu.Lock()
	defer h.outMu.Unlock()
	backlog := append([]string(nil), h.backlog...)
	if h.closed {
		close(s.ch)
		return backlog, s.ch, func() {}
	}
	h.subs[s] = struct{}{}
	cancel := func() {
		// quit first: a publisher blocked on s.ch holds outMu
		s.once.Do(func() { close(s.quit) })
		h.outMu.Lock()
		if _, ok := h.subs[s]; ok {
			delete(h.subs, s)
			close(s.ch)
		}
		h.outMu.Unlock()
	}
	return backlog, s.ch, cancel
}

func (h *Handle) stdoutLine(file io.Writer) func(string) {
	return func(line string) {
		if file != nil {
			_, _ = io.WriteString(file, line+"\n")
		}
		if h.spec.Stdout != nil {
			h.spec.Stdout(line)
		}
		h.publish(line)
	}
}

func (h *Handle) stderrLine(file io.Writer) func(string) {
	return func(line string) {
		if file != nil {
			_, _ = io.WriteString(file, line+"\n")
		}
		if h.spec.Stderr != nil {
			h.spec.Stderr(line)
		}
	}
}

func (h *Handle) publish(line string) {
	h.outMu.Lock()
	defer h.outMu.Unlock()
	if h.closed {
		return
	}
	if len(h.backlog) >= backlogSize {
		h.backlog = h.backlog[1:]
	}
	h.backlog = append(h.backlog, line)
	for s := range h.subs {
		select {
		case s.ch <- line:
		case <-s.quit:
		}
	}
}

func (h *Handle) wait(stdout, stderr *lineWriter) {
	err := h.cmd.Wait()
	stdout.flush()
	stderr.flush()

	code := -1
	if ps := h.cmd.ProcessState; ps != nil {
		code = ps.ExitCode()
	}
	var exitErr *exec.ExitError
	h.mu.Lock()
	h.exitCode = code
	h.waitErr = err
	if err != nil && !errors.As(err, &exitErr) && !errors.Is(err, exec.ErrWaitDelay) {
		h.ioErr = err
	}
	h.mu.Unlock()

	h.outMu.Lock()
	h.closed = true
	for s := range h.subs {
		close(s.ch)
	}
	h.subs = nil
	h.outMu.Unlock()

	h.closeFiles()
	metrics.IncExit(h.spec.Name, code)
	close(h.done)
}

func (h *Handle) closeFiles() {
	for _, c := range h.closers {
		_ = c.Close()
	}
	h.closers = nil
}
