package main

import (
	"fmt"
	"io"
	"os"

	"github.com/loykin/devloop/internal/logger"
	"github.com/loykin/devloop/internal/shutdown"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	a := newApp(os.Stdout, os.Stderr, os.Exit)
	defer a.coord.Recover()

	if err := a.root().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	// a pipeline ended through the coordinator; its exit may still be in flight
	if a.coord.State() == shutdown.ShuttingDown {
		os.Exit(a.coord.Code())
	}
}

// app carries what every command shares. exit is only replaced in tests.
type app struct {
	flags  GlobalFlags
	stdout io.Writer
	stderr io.Writer
	coord  *shutdown.Coordinator
}

func newApp(stdout, stderr io.Writer, exit func(int)) *app {
	bootLog := logger.Config{Slog: logger.SlogConfig{Level: logger.LevelInfo, Color: isTerminal(stderr)}}
	return &app{
		stdout: stdout,
		stderr: stderr,
		coord: shutdown.New(
			shutdown.WithExitFunc(exit),
			shutdown.WithStderr(stderr),
			shutdown.WithLogger(bootLog.NewSloggerTo(stderr)),
		),
	}
}

// root creates the root command with its subcommands.
func (a *app) root() *cobra.Command {
	root := &cobra.Command{
		Use:           "devloop",
		Short:         "Live-reload dev loop and production build for Vite + Electron projects",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	a.flags.bind(root)
	root.AddCommand(a.devCmd(), a.buildCmd(), versionCmd())
	return root
}
