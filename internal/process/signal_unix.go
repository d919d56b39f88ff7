//go:build !windows

package process

import (
	"errors"
	"os"
	"syscall"
)

// signalTree delivers sig to the process group led by pid, then to any
// descendant that moved to a different group (setsid'd helpers).
func signalTree(p *os.Process, sig os.Signal) error {
	ss, ok := sig.(syscall.Signal)
	if !ok {
		return p.Signal(sig)
	}
	pid := p.Pid
	// collect before signalling: children are reparented once the leader dies
	var escaped []int
	for _, d := range descendants(pid) {
		if pg, err := syscall.Getpgid(d); err == nil && pg != pid {
			escaped = append(escaped, d)
		}
	}
	err := syscall.Kill(-pid, ss)
	if errors.Is(err, syscall.ESRCH) || errors.Is(err, syscall.EPERM) {
		// group gone or not ours; fall back to the leader itself
		err = p.Signal(sig)
	}
	for _, d := range escaped {
		_ = syscall.Kill(d, ss)
	}
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
