//go:build windows

package shutdown

import (
	"os"
	"syscall"
)

var exitSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}
