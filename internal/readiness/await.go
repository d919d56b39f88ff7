// Package readiness waits for a child process to announce that it is ready
// by printing a recognisable line on stdout.
package readiness

import (
	"context"
	"os"
	"syscall"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/loykin/devloop/internal/metrics"
)

// Source is the part of a process handle readiness detection observes.
type Source interface {
	Name() string
	Subscribe() ([]string, <-chan string, func())
	Done() <-chan struct{}
	ExitCode() int
	Err() error
	Signal(sig os.Signal) error
}

// AwaitOutput returns the first stdout line of src (ANSI codes stripped) that
// satisfies m. Lines printed before the call are considered too. It fails when
// the process exits first, when ctx ends, or when timeout (if > 0) elapses, in
// which case src is sent SIGTERM before returning.
func AwaitOutput(ctx context.Context, src Source, m Match, timeout time.Duration) (line string, err error) {
	start := time.Now()
	outcome := "match"
	defer func() {
		metrics.ObserveReadiness(src.Name(), outcome, time.Since(start).Seconds())
	}()

	backlog, lines, cancel := src.Subscribe()
	defer cancel()

	for _, l := range backlog {
		if clean := stripansi.Strip(l); m.Test(clean) {
			return clean, nil
		}
	}

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	for {
		select {
		case l, ok := <-lines:
			if !ok {
				outcome = "exited"
				return "", exitError(src)
			}
			if clean := stripansi.Strip(l); m.Test(clean) {
				return clean, nil
			}
		case <-expired:
			outcome = "timeout"
			_ = src.Signal(syscall.SIGTERM)
			return "", &TimeoutError{Name: src.Name(), After: timeout}
		case <-ctx.Done():
			outcome = "cancelled"
			return "", ctx.Err()
		}
	}
}

// exitError explains why the line stream closed.
func exitError(src Source) error {
	<-src.Done()
	if err := src.Err(); err != nil {
		return err
	}
	return &ProcessExitedError{Name: src.Name(), Code: src.ExitCode()}
}
