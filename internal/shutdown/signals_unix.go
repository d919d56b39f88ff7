//go:build !windows

package shutdown

import (
	"os"
	"syscall"
)

// exitSignals are the termination signals a shell or terminal can deliver.
// SIGILL, SIGBUS, SIGFPE and SIGSEGV are runtime faults in Go and surface as
// panics instead, which Recover handles.
var exitSignals = []os.Signal{
	syscall.SIGHUP,
	syscall.SIGINT,
	syscall.SIGQUIT,
	syscall.SIGTRAP,
	syscall.SIGABRT,
	syscall.SIGUSR1,
	syscall.SIGUSR2,
	syscall.SIGTERM,
}
