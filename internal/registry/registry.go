// Package registry tracks the set of live child processes owned by an
// orchestrator so they can be terminated together.
package registry

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/loykin/devloop/internal/metrics"
)

// Handle is the subset of a process handle the registry needs.
// Implementations must be comparable (pointer types).
type Handle interface {
	Name() string
	PID() int
	Signal(sig os.Signal) error
}

// ErrDuplicateHandle matches every DuplicateHandleError via errors.Is.
var ErrDuplicateHandle = errors.New("handle already tracked")

// DuplicateHandleError means a handle was tracked twice without release.
// It indicates a logic bug in the caller, never a runtime condition.
type DuplicateHandleError struct {
	Registry string
	Name     string
	PID      int
}

func (e *DuplicateHandleError) Error() string {
	return fmt.Sprintf("registry %s: process %s (pid %d) already tracked", e.Registry, e.Name, e.PID)
}

func (e *DuplicateHandleError) Is(target error) bool { return target == ErrDuplicateHandle }

// Registry is a set of handles unique by identity.
type Registry struct {
	name    string
	mu      sync.Mutex
	seq     uint64
	handles map[Handle]*Guard
}

func New(name string) *Registry {
	return &Registry{name: name, handles: make(map[Handle]*Guard)}
}

func (r *Registry) Name() string { return r.name }

// Track adds h and returns the guard that removes it again.
func (r *Registry) Track(h Handle) (*Guard, error) {
	r.mu.Lock()
	if _, ok := r.handles[h]; ok {
		r.mu.Unlock()
		return nil, &DuplicateHandleError{Registry: r.name, Name: h.Name(), PID: h.PID()}
	}
	r.seq++
	g := &Guard{r: r, h: h, seq: r.seq}
	r.handles[h] = g
	n := len(r.handles)
	r.mu.Unlock()
	metrics.SetTracked(r.name, n)
	return g, nil
}

// Using tracks h for the duration of fn, releasing it whether fn fails or not.
func (r *Registry) Using(h Handle, fn func() error) error {
	g, err := r.Track(h)
	if err != nil {
		return err
	}
	defer g.Release()
	return fn()
}

// Contains reports whether h is currently tracked.
func (r *Registry) Contains(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handles[h]
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Snapshot lists tracked handles in the order they were added.
func (r *Registry) Snapshot() []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// TerminateAll sends sig to every tracked handle. It does not remove them:
// each owner releases its handle once the exit is observed.
func (r *Registry) TerminateAll(sig os.Signal) error {
	var errs []error
	for _, h := range r.Snapshot() {
		if err := h.Signal(sig); err != nil {
			errs = append(errs, fmt.Errorf("signal %s (pid %d): %w", h.Name(), h.PID(), err))
		}
	}
	return errors.Join(errs...)
}

// Clear removes every entry and returns what was tracked. Guards of cleared
// handles become no-ops.
func (r *Registry) Clear() []Handle {
	r.mu.Lock()
	hs := r.snapshotLocked()
	r.handles = make(map[Handle]*Guard)
	r.mu.Unlock()
	metrics.SetTracked(r.name, 0)
	return hs
}

// remove deletes g's entry; a newer Track of the same handle is left alone.
func (r *Registry) remove(g *Guard) bool {
	r.mu.Lock()
	ok := r.handles[g.h] == g
	if ok {
		delete(r.handles, g.h)
	}
	n := len(r.handles)
	r.mu.Unlock()
	if ok {
		metrics.SetTracked(r.name, n)
	}
	return ok
}

func (r *Registry) snapshotLocked() []Handle {
	hs := make([]Handle, 0, len(r.handles))
	for h := range r.handles {
		hs = append(hs, h)
	}
	sort.Slice(hs, func(i, j int) bool { return r.handles[hs[i]].seq < r.handles[hs[j]].seq })
	return hs
}

// Guard releases one Track call exactly once.
type Guard struct {
	r       *Registry
	h       Handle
	seq     uint64
	once    sync.Once
	removed bool
}

// Release removes the handle from the registry. Only the first call has an
// effect; it reports whether the handle was still tracked at that point.
func (g *Guard) Release() bool {
	g.once.Do(func() { g.removed = g.r.remove(g) })
	return g.removed
}
