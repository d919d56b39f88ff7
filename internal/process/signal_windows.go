//go:build windows

package process

import (
	"errors"
	"os"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// signalTree terminates pid and its descendants. Windows has no POSIX
// signals, so every signal is treated as a kill request.
func signalTree(p *os.Process, _ os.Signal) error {
	for _, d := range descendants(p.Pid) {
		if dp, err := gopsproc.NewProcess(int32(d)); err == nil {
			_ = dp.Kill()
		}
	}
	err := p.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
