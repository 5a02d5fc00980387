package watch

import (
	"fmt"
	"time"

	"github.com/rjeczalik/notify"
)

type EventKind int

// Event kinds are ordered by strength: when a burst of native
// notifications for one path is coalesced, the strongest kind observed
// wins (Removed over Renamed over Modified over Created).
const (
	Created EventKind = iota
	Modified
	Renamed
	Removed
)

// Event is a normalized, debounced filesystem event. Transient: events
// are consumed immediately by the item resolver and never persisted.
type Event struct {
	Path string
	Kind EventKind
	Time time.Time
}

func (k EventKind) Dominates(other EventKind) bool {
	return k > other
}

func (k EventKind) String() string {
	switch k {
	case Created:
		return "CREATED"
	case Modified:
		return "MODIFIED"
	case Renamed:
		return "RENAMED"
	case Removed:
		return "REMOVED"
	default:
		return fmt.Sprintf("UNKNOWN[%d]", k)
	}
}

func kindFromNative(event notify.Event) EventKind {
	switch event {
	case notify.Create:
		return Created
	case notify.Remove:
		return Removed
	case notify.Rename:
		return Renamed
	default:
		return Modified
	}
}
