package process

import (
	"strings"

	"github.com/loykin/devloop/internal/logger"
)

// Spec describes a child process to spawn.
type Spec struct {
	Name    string   // display tag and log file base name
	Command string   // executable, resolved through PATH
	Args    []string // arguments passed verbatim
	WorkDir string   // optional working dir
	Env     []string // full environment ("K=V"); nil inherits the orchestrator's

	// Stdout and Stderr receive every complete output line, unmodified.
	Stdout func(line string)
	Stderr func(line string)

	// Log tees raw output into rotated files when File.Dir or explicit paths are set.
	Log logger.Config
}

// CommandLine renders the command for log messages.
func (s Spec) CommandLine() string {
	if len(s.Args) == 0 {
		return s.Command
	}
	return s.Command + " " + strings.Join(s.Args, " ")
}
