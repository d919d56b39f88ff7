package main

import (
	"io"
	"os"

	"github.com/loykin/devloop/internal/config"
	"golang.org/x/term"
)

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// resolveForceColor maps dev.force_color to the FORCE_COLOR value children
// receive: "1" for colour, "0" otherwise.
func resolveForceColor(mode string, tty bool) string {
	if colorEnabled(mode, tty) {
		return "1"
	}
	return "0"
}

func colorEnabled(mode string, tty bool) bool {
	switch mode {
	case config.ForceColorAlways:
		return true
	case config.ForceColorNever:
		return false
	default:
		return tty
	}
}
