package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nextEvent(t *testing.T, w *Watcher, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-w.Events():
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestWatchRecursiveReportsNestedWrites(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "chunks")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(nested, "old.js"), []byte("x"), 0o644))

	w, err := New(Options{})
	require.NoError(t, err)
	defer func() { _ = w.Close() }()
	require.NoError(t, w.WatchRecursive(dir))
	assert.Len(t, w.Watched(), 2)

	select {
	case ev := <-w.Events():
		t.Fatalf("pre-existing files must not produce events, got %v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	target := filepath.Join(nested, "main.mjs")
	require.NoError(t, os.WriteFile(target, []byte("console.log(1)"), 0o644))
	ev := nextEvent(t, w, func(e Event) bool { return e.Path == target })
	assert.True(t, ev.Op.Has(OpCreate) || ev.Op.Has(OpWrite))
}

func TestNewDirectoriesAreWatched(t *testing.T) {
	dir := t.TempDir()
	w, err := New(Options{})
	require.NoError(t, err)
	defer func() { _ = w.Close() }()
	require.NoError(t, w.WatchRecursive(dir))

	sub := filepath.Join(dir, "assets")
	require.NoError(t, os.Mkdir(sub, 0o755))
	nextEvent(t, w, func(e Event) bool { return e.Path == sub })

	require.Eventually(t, func() bool { return len(w.Watched()) == 2 }, 2*time.Second, 10*time.Millisecond)
	file := filepath.Join(sub, "index.js")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	nextEvent(t, w, func(e Event) bool { return e.Path == file })
}

func TestIgnoreHidden(t *testing.T) {
	dir := t.TempDir()
	w, err := New(Options{IgnoreHidden: true})
	require.NoError(t, err)
	defer func() { _ = w.Close() }()
	require.NoError(t, w.WatchRecursive(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".swap"), []byte("x"), 0o644))
	visible := filepath.Join(dir, "main.mjs")
	require.NoError(t, os.WriteFile(visible, []byte("x"), 0o644))
	ev := nextEvent(t, w, func(Event) bool { return true })
	assert.Equal(t, visible, ev.Path)
}

func TestWatchMissingPath(t *testing.T) {
	w, err := New(Options{})
	require.NoError(t, err)
	defer func() { _ = w.Close() }()
	assert.ErrorIs(t, w.WatchRecursive(filepath.Join(t.TempDir(), "nope")), ErrPathNotExist)
}

func TestCloseIsIdempotentAndClosesChannels(t *testing.T) {
	w, err := New(Options{})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.NoError(t, w.Close())
	_, ok := <-w.Events()
	assert.False(t, ok)
	assert.ErrorIs(t, w.WatchRecursive(t.TempDir()), ErrClosed)
}

func TestConvertOp(t *testing.T) {
	op := convertOp(fsnotify.Create | fsnotify.Write)
	assert.True(t, op.Has(OpCreate))
	assert.True(t, op.Has(OpWrite))
	assert.False(t, op.Has(OpRemove))
	assert.Equal(t, "create|write", op.String())
	assert.Equal(t, "none", Op(0).String())
}
