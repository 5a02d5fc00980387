package watch

import (
	"sync"
	"time"
)

// debouncer coalesces bursts of events for the same path inside a short
// window into a single logical event of the strongest kind observed.
// Paths flush in first-staged order, preserving the overall sequence of
// distinct-path activity.
type debouncer struct {
	mu      sync.Mutex
	window  time.Duration
	pending map[string]Event
	order   []string
	timer   *time.Timer
	sink    func(Event)
}

func newDebouncer(window time.Duration, sink func(Event)) *debouncer {
	return &debouncer{
		window:  window,
		pending: make(map[string]Event),
		sink:    sink,
	}
}

// Stage records an event for later flushing. A pending event for the
// same path is merged: the stronger kind wins, the newer timestamp is
// kept.
func (d *debouncer) Stage(event Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.pending[event.Path]; ok {
		if existing.Kind.Dominates(event.Kind) {
			event.Kind = existing.Kind
		}
	} else {
		d.order = append(d.order, event.Path)
	}
	d.pending[event.Path] = event

	if d.timer == nil {
		d.timer = time.AfterFunc(d.window, d.flush)
	}
}

func (d *debouncer) flush() {
	d.mu.Lock()
	flushed := make([]Event, 0, len(d.order))
	for _, path := range d.order {
		flushed = append(flushed, d.pending[path])
	}
	d.pending = make(map[string]Event)
	d.order = nil
	d.timer = nil
	d.mu.Unlock()

	for _, event := range flushed {
		d.sink(event)
	}
}

// Flush synchronously drains anything still pending. Used on shutdown
// and by tests.
func (d *debouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	d.flush()
}
