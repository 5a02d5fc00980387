package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSource(t *testing.T) (*Source, string) {
	t.Helper()
	root := t.TempDir()

	return New(Config{
		Root:           root,
		Debounce:       20 * time.Millisecond,
		RescanInterval: 100 * time.Millisecond,
	}), root
}

func drainEvents(source *Source, deadline time.Duration) map[string]EventKind {
	collected := make(map[string]EventKind)
	timeout := time.After(deadline)
	for {
		select {
		case event := <-source.Events():
			collected[event.Path] = event.Kind
		case <-timeout:
			return collected
		}
	}
}

func TestRunFailsForMissingRoot(t *testing.T) {
	source := New(Config{
		Root:           "/definitely/not/a/real/path",
		Debounce:       time.Millisecond,
		RescanInterval: time.Second,
	})

	err := source.Run(context.Background())

	var watchErr *WatchError
	require.ErrorAs(t, err, &watchErr)
	assert.Equal(t, "/definitely/not/a/real/path", watchErr.Path)
}

func TestRunFailsWhenRootIsAFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plain-file")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	source := New(Config{Root: path, Debounce: time.Millisecond, RescanInterval: time.Second})

	var watchErr *WatchError
	require.ErrorAs(t, source.Run(context.Background()), &watchErr)
}

func TestInitialScanSurfacesExistingFilesAsCreated(t *testing.T) {
	source, root := newTestSource(t)
	preexisting := filepath.Join(root, "movie.part1")
	require.NoError(t, os.WriteFile(preexisting, []byte("payload"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = source.Run(ctx) }()

	assert.Eventually(t, func() bool {
		events := drainEvents(source, 50*time.Millisecond)
		kind, ok := events[preexisting]
		return ok && kind == Created
	}, 3*time.Second, 50*time.Millisecond)
}

func TestRescanDetectsRemovals(t *testing.T) {
	source, root := newTestSource(t)
	path := filepath.Join(root, "movie.part1")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = source.Run(ctx) }()

	require.Eventually(t, func() bool {
		events := drainEvents(source, 50*time.Millisecond)
		_, ok := events[path]
		return ok
	}, 3*time.Second, 50*time.Millisecond)

	require.NoError(t, os.Remove(path))

	assert.Eventually(t, func() bool {
		events := drainEvents(source, 50*time.Millisecond)
		kind, ok := events[path]
		return ok && kind == Removed
	}, 3*time.Second, 50*time.Millisecond)
}
