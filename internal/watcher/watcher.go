// Package watcher reports filesystem changes below a directory tree.
package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

var (
	ErrClosed       = errors.New("watcher closed")
	ErrPathNotExist = errors.New("path does not exist")
)

// Op is a bit set of filesystem operations.
type Op uint32

const (
	OpCreate Op = 1 << iota
	OpWrite
	OpRemove
	OpRename
	OpChmod
)

func (o Op) Has(x Op) bool { return o&x != 0 }

func (o Op) String() string {
	var parts []string
	for _, n := range []struct {
		op   Op
		name string
	}{{OpCreate, "create"}, {OpWrite, "write"}, {OpRemove, "remove"}, {OpRename, "rename"}, {OpChmod, "chmod"}} {
		if o.Has(n.op) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Event is one change notification.
type Event struct {
	Path string
	Op   Op
	Time time.Time
}

type Options struct {
	// BufferSize is the capacity of the event and error channels. Events
	// arriving while the buffer is full are dropped.
	BufferSize int
	// IgnoreHidden skips dot files and dot directories.
	IgnoreHidden bool
}

// Watcher wraps fsnotify with recursive directory registration.
type Watcher struct {
	mu     sync.Mutex
	fsw    *fsnotify.Watcher
	opts   Options
	paths  map[string]bool
	closed bool

	events  chan Event
	errors  chan error
	closeCh chan struct{}
	wg      sync.WaitGroup

	dropped atomic.Int64
}

func New(opts Options) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 100
	}
	w := &Watcher{
		fsw:     fsw,
		opts:    opts,
		paths:   make(map[string]bool),
		events:  make(chan Event, opts.BufferSize),
		errors:  make(chan error, opts.BufferSize),
		closeCh: make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// WatchRecursive watches path and every directory below it. Directories
// created later are added as their create events arrive. Files that already
// exist produce no events.
func (w *Watcher) WatchRecursive(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrPathNotExist
		}
		return err
	}
	if !info.IsDir() {
		return w.add(abs)
	}
	return filepath.WalkDir(abs, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != abs && w.ignored(p) {
			return filepath.SkipDir
		}
		return w.add(p)
	})
}

func (w *Watcher) add(p string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if w.paths[p] {
		return nil
	}
	if err := w.fsw.Add(p); err != nil {
		return err
	}
	w.paths[p] = true
	return nil
}

// Watched lists the registered directories.
func (w *Watcher) Watched() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.paths))
	for p := range w.paths {
		out = append(out, p)
	}
	return out
}

func (w *Watcher) Events() <-chan Event { return w.events }
func (w *Watcher) Errors() <-chan error { return w.errors }

// Dropped counts events lost to a full buffer.
func (w *Watcher) Dropped() int64 { return w.dropped.Load() }

// Close stops the watcher and closes both channels. It is idempotent.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	w.wg.Wait()
	close(w.events)
	close(w.errors)
	return w.fsw.Close()
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.closeCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	op := convertOp(ev.Op)
	if op == 0 || w.ignored(ev.Name) {
		return
	}
	if op.Has(OpCreate) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = w.WatchRecursive(ev.Name)
		}
	}
	select {
	case w.events <- Event{Path: ev.Name, Op: op, Time: time.Now()}:
	default:
		w.dropped.Add(1)
	}
}

func (w *Watcher) ignored(p string) bool {
	if !w.opts.IgnoreHidden {
		return false
	}
	base := filepath.Base(p)
	return len(base) > 1 && base[0] == '.'
}

func convertOp(fsOp fsnotify.Op) Op {
	var op Op
	if fsOp.Has(fsnotify.Create) {
		op |= OpCreate
	}
	if fsOp.Has(fsnotify.Write) {
		op |= OpWrite
	}
	if fsOp.Has(fsnotify.Remove) {
		op |= OpRemove
	}
	if fsOp.Has(fsnotify.Rename) {
		op |= OpRename
	}
	if fsOp.Has(fsnotify.Chmod) {
		op |= OpChmod
	}
	return op
}
