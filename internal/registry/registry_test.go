package registry

import (
	"errors"
	"os"
	"sync"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	name string
	pid  int

	mu      sync.Mutex
	signals []os.Signal
	err     error
}

func (f *fakeHandle) Name() string { return f.name }
func (f *fakeHandle) PID() int     { return f.pid }
func (f *fakeHandle) Signal(sig os.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, sig)
	return f.err
}

func (f *fakeHandle) received() []os.Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]os.Signal(nil), f.signals...)
}

func TestTrackTwiceFailsUntilReleased(t *testing.T) {
	r := New("children")
	h := &fakeHandle{name: "vite", pid: 10}

	g, err := r.Track(h)
	require.NoError(t, err)

	_, err = r.Track(h)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateHandle)
	var de *DuplicateHandleError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "vite", de.Name)
	assert.Equal(t, 1, r.Len())

	assert.True(t, g.Release())
	assert.False(t, g.Release(), "release is exactly once")
	assert.Equal(t, 0, r.Len())

	g2, err := r.Track(h)
	require.NoError(t, err, "tracking after release succeeds")
	g2.Release()
}

func TestUsingReleasesOnSuccessAndFailure(t *testing.T) {
	r := New("build")
	h := &fakeHandle{name: "step", pid: 1}

	err := r.Using(h, func() error {
		assert.True(t, r.Contains(h))
		return nil
	})
	require.NoError(t, err)
	assert.False(t, r.Contains(h))

	boom := errors.New("boom")
	err = r.Using(h, func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, r.Contains(h))
}

func TestUsingRejectsDuplicateWithoutRunning(t *testing.T) {
	r := New("build")
	h := &fakeHandle{name: "step", pid: 1}
	g, err := r.Track(h)
	require.NoError(t, err)
	defer g.Release()

	ran := false
	err = r.Using(h, func() error { ran = true; return nil })
	assert.ErrorIs(t, err, ErrDuplicateHandle)
	assert.False(t, ran)
	assert.True(t, r.Contains(h), "failed Using must not release the existing entry")
}

func TestTerminateAllSignalsEveryHandle(t *testing.T) {
	r := New("children")
	assert.NoError(t, r.TerminateAll(syscall.SIGTERM), "empty registry is fine")

	a := &fakeHandle{name: "a", pid: 1}
	b := &fakeHandle{name: "b", pid: 2, err: errors.New("gone")}
	_, err := r.Track(a)
	require.NoError(t, err)
	_, err = r.Track(b)
	require.NoError(t, err)

	err = r.TerminateAll(syscall.SIGTERM)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signal b (pid 2)")
	assert.NotContains(t, err.Error(), "signal a")

	assert.Equal(t, []os.Signal{syscall.SIGTERM}, a.received())
	assert.Equal(t, []os.Signal{syscall.SIGTERM}, b.received())
	assert.Equal(t, 2, r.Len(), "terminate does not remove")
}

func TestClearMakesGuardsNoOps(t *testing.T) {
	r := New("supervised")
	old := &fakeHandle{name: "electron", pid: 1}
	gOld, err := r.Track(old)
	require.NoError(t, err)

	cleared := r.Clear()
	assert.Equal(t, []Handle{old}, cleared)
	assert.Equal(t, 0, r.Len())

	fresh := &fakeHandle{name: "electron", pid: 2}
	gNew, err := r.Track(fresh)
	require.NoError(t, err)

	assert.False(t, gOld.Release(), "cleared handle is not removed twice")
	assert.Equal(t, 1, r.Len())
	assert.True(t, gNew.Release())
}

func TestReleaseOfStaleGuardKeepsRetrackedHandle(t *testing.T) {
	r := New("supervised")
	h := &fakeHandle{name: "electron", pid: 1}
	g1, err := r.Track(h)
	require.NoError(t, err)
	r.Clear()
	g2, err := r.Track(h)
	require.NoError(t, err)

	assert.False(t, g1.Release())
	assert.True(t, r.Contains(h))
	assert.True(t, g2.Release())
}

func TestSnapshotKeepsInsertionOrder(t *testing.T) {
	r := New("children")
	var hs []Handle
	for i := 0; i < 5; i++ {
		h := &fakeHandle{name: "p", pid: i}
		hs = append(hs, h)
		_, err := r.Track(h)
		require.NoError(t, err)
	}
	assert.Equal(t, hs, r.Snapshot())
}
