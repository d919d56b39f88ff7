package process

import (
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// descendants lists every live descendant pid of pid, depth first.
// Lookup failures are treated as "no children".
func descendants(pid int) []int {
	root, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return nil
	}
	var out []int
	var walk func(p *gopsproc.Process, depth int)
	walk = func(p *gopsproc.Process, depth int) {
		if depth > 32 {
			return
		}
		children, err := p.Children()
		if err != nil {
			return
		}
		for _, c := range children {
			out = append(out, int(c.Pid))
			walk(c, depth+1)
		}
	}
	walk(root, 0)
	return out
}
