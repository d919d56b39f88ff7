package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Console serialises tagged child output and step banners onto the terminal.
// Lines written through it are never interleaved mid-line.
type Console struct {
	mu    sync.Mutex
	out   io.Writer
	err   io.Writer
	color bool
}

func NewConsole(out, err io.Writer, color bool) *Console {
	if out == nil {
		out = os.Stdout
	}
	if err == nil {
		err = os.Stderr
	}
	return &Console{out: out, err: err, color: color}
}

// Tag renders "[name]" in the given colour (when colour output is enabled).
func (c *Console) Tag(name, color string) string {
	t := "[" + name + "]"
	if !c.color || color == "" {
		return t
	}
	return color + t + Reset
}

// Stdout returns a line sink printing "<tag> <line>" on the console's stdout.
// An empty tag passes lines through unchanged.
func (c *Console) Stdout(tag string) func(string) {
	return func(line string) { c.writeLine(c.out, tag, line) }
}

// Stderr returns a line sink printing "<tag> <line>" on the console's stderr.
func (c *Console) Stderr(tag string) func(string) {
	return func(line string) { c.writeLine(c.err, tag, line) }
}

// Banner prints a blank-line separated headline, e.g. "[devloop] (1/4) Starting web dev server".
func (c *Console) Banner(tag string, parts ...any) {
	msg := strings.TrimSpace(fmt.Sprintln(parts...))
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.out, "\n%s %s\n\n", tag, msg)
}

// Printf prints a tagged line on stdout.
func (c *Console) Printf(tag, format string, args ...any) {
	c.writeLine(c.out, tag, fmt.Sprintf(format, args...))
}

// Errorf prints a tagged line on stderr.
func (c *Console) Errorf(tag, format string, args ...any) {
	c.writeLine(c.err, tag, fmt.Sprintf(format, args...))
}

func (c *Console) writeLine(w io.Writer, tag, line string) {
	if tag != "" {
		line = tag + " " + line
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = io.WriteString(w, line+"\n")
}
