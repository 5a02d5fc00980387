// Wraps raw OS filesystem notifications for a directory tree into a
// normalized, deduplicated event stream. The underlying watch mechanism
// (inotify/FSEvents/ReadDirectoryChangesW via the notify package) is
// bursty and platform-flavoured; everything downstream of this package
// sees only debounced logical events.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rjeczalik/notify"

	"landfall/pkg/logger"
)

var log = logger.Get("Watch")

// WatchError indicates the OS-level watch could not be established.
// This is a startup failure: the pipeline cannot run without a working
// watch, so it is returned from Run rather than surfaced per-item.
type WatchError struct {
	Path string
	Err  error
}

func (e *WatchError) Error() string {
	return fmt.Sprintf("failed to establish filesystem watch on '%s': %v", e.Path, e.Err)
}

func (e *WatchError) Unwrap() error { return e.Err }

type Config struct {
	// Root of the directory tree to watch, recursively.
	Root string

	// Debounce is the coalescing window for native notification bursts.
	Debounce time.Duration

	// RescanInterval is how often the tree is re-walked irrespective of
	// the watcher, protecting against missed native notifications and
	// detecting watch-root recreation.
	RescanInterval time.Duration
}

type fingerprint struct {
	size    int64
	modTime time.Time
}

// Source produces a live, order-preserving stream of normalized events
// for all paths under the configured root. It holds an open OS watch
// handle for its lifetime and releases it when the Run context is
// cancelled.
type Source struct {
	config    Config
	events    chan Event
	known     map[string]fingerprint
	debouncer *debouncer
	healthy   bool
}

func New(config Config) *Source {
	source := &Source{
		config: config,
		events: make(chan Event, 256),
		known:  make(map[string]fingerprint),
	}
	source.debouncer = newDebouncer(config.Debounce, func(event Event) {
		source.events <- event
	})

	return source
}

// Events returns the stream of debounced events. The channel is never
// closed; consumers should select against their own context.
func (source *Source) Events() <-chan Event { return source.events }

// Run establishes the recursive watch and pumps events until the
// context is cancelled. Establishment failure (missing root, permission
// denied) is reported immediately as a WatchError; mid-stream the
// watcher degrades to polling via the rescan interval and recovers the
// watch handle once the root reappears.
func (source *Source) Run(ctx context.Context) error {
	if info, err := os.Stat(source.config.Root); err != nil {
		return &WatchError{Path: source.config.Root, Err: err}
	} else if !info.IsDir() {
		return &WatchError{Path: source.config.Root, Err: fmt.Errorf("not a directory")}
	}

	raw := make(chan notify.EventInfo, 128)
	if err := notify.Watch(filepath.Join(source.config.Root, "..."), raw, notify.All); err != nil {
		return &WatchError{Path: source.config.Root, Err: err}
	}
	source.healthy = true
	defer notify.Stop(raw)

	// Files already present when we start watching are deliveries we
	// missed; surface them as creations.
	source.rescan()

	rescanTicker := time.NewTicker(source.config.RescanInterval)
	defer rescanTicker.Stop()

	for {
		select {
		case native := <-raw:
			source.handleNative(native)
		case <-rescanTicker.C:
			source.checkRoot(raw)
			if source.healthy {
				source.rescan()
			}
		case <-ctx.Done():
			source.debouncer.Flush()
			return nil
		}
	}
}

func (source *Source) handleNative(native notify.EventInfo) {
	path := native.Path()
	kind := kindFromNative(native.Event())

	switch kind {
	case Removed, Renamed:
		// A rename surfaces as Renamed for the old path plus a
		// fresh Created for the new one, so both are treated as
		// departures here.
		delete(source.known, path)
	default:
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			return
		}
		source.known[path] = fingerprint{size: info.Size(), modTime: info.ModTime()}
	}

	source.debouncer.Stage(Event{Path: path, Kind: kind, Time: time.Now()})
}

// rescan walks the tree and reconciles it against the known set,
// emitting synthetic events for any drift the native watcher missed.
func (source *Source) rescan() {
	seen := make(map[string]fingerprint)
	err := filepath.WalkDir(source.config.Root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			return err
		}
		seen[path] = fingerprint{size: info.Size(), modTime: info.ModTime()}

		return nil
	})
	if err != nil {
		log.Emit(logger.WARNING, "Rescan of %s failed: %v\n", source.config.Root, err)
		return
	}

	now := time.Now()
	for path, current := range seen {
		previous, ok := source.known[path]
		if !ok {
			source.debouncer.Stage(Event{Path: path, Kind: Created, Time: now})
		} else if previous != current {
			source.debouncer.Stage(Event{Path: path, Kind: Modified, Time: now})
		}
		source.known[path] = current
	}
	for path := range source.known {
		if _, ok := seen[path]; !ok {
			delete(source.known, path)
			source.debouncer.Stage(Event{Path: path, Kind: Removed, Time: now})
		}
	}
}

// checkRoot detects watch-root deletion (e.g. an unmounted directory)
// and re-establishes the OS watch once the root reappears.
func (source *Source) checkRoot(raw chan notify.EventInfo) {
	info, err := os.Stat(source.config.Root)
	rootOK := err == nil && info.IsDir()

	if source.healthy && !rootOK {
		log.Emit(logger.WARNING, "Watch root %s has gone away; suspending watch\n", source.config.Root)
		notify.Stop(raw)
		source.healthy = false

		now := time.Now()
		for path := range source.known {
			delete(source.known, path)
			source.debouncer.Stage(Event{Path: path, Kind: Removed, Time: now})
		}
		return
	}

	if !source.healthy && rootOK {
		if err := notify.Watch(filepath.Join(source.config.Root, "..."), raw, notify.All); err != nil {
			log.Emit(logger.WARNING, "Failed to re-establish watch on %s: %v\n", source.config.Root, err)
			return
		}

		log.Emit(logger.INFO, "Watch root %s is back; watch re-established\n", source.config.Root)
		source.healthy = true
	}
}
