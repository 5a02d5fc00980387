package item

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

type Stage int

const (
	Discovering Stage = iota
	Stabilizing
	Assembling
	Extracting
	Probing
	Ready
	Failed
)

// Part is a single filesystem file contributing to an Item. Sequence is
// the 0/1-based position the naming convention extracted from the path,
// or 1 for a singleton delivery.
type Part struct {
	Path     string
	Sequence int
	Size     int64
	ModTime  time.Time
}

// Item is a logical unit of delivery, assembled from one or more parts
// sharing an identity key. Items are owned exclusively by the state store;
// stage transitions are monotonic except for an explicit operator retry.
type Item struct {
	ID           uuid.UUID
	Key          string
	Stage        Stage
	Parts        []Part
	Trouble      *Trouble
	FirstSeen    time.Time
	LastActivity time.Time
	StageEntered time.Time

	// claimed guards against two pool workers picking up the same
	// queued item. Reset on retry.
	claimed bool
}

func New(key string, now time.Time) *Item {
	return &Item{
		ID:           uuid.New(),
		Key:          key,
		Stage:        Discovering,
		Parts:        make([]Part, 0, 1),
		FirstSeen:    now,
		LastActivity: now,
		StageEntered: now,
	}
}

// UpsertPart records a part observation, replacing any previous entry for
// the same path. Parts are kept ordered by sequence number.
func (item *Item) UpsertPart(part Part) {
	for i := range item.Parts {
		if item.Parts[i].Path == part.Path {
			item.Parts[i] = part
			return
		}
	}

	item.Parts = append(item.Parts, part)
	sort.Slice(item.Parts, func(i, j int) bool {
		if item.Parts[i].Sequence != item.Parts[j].Sequence {
			return item.Parts[i].Sequence < item.Parts[j].Sequence
		}
		return item.Parts[i].Path < item.Parts[j].Path
	})
}

// RemovePart drops the part with the given path, reporting whether
// anything was removed.
func (item *Item) RemovePart(path string) bool {
	for i := range item.Parts {
		if item.Parts[i].Path == path {
			item.Parts = append(item.Parts[:i], item.Parts[i+1:]...)
			return true
		}
	}

	return false
}

// HasSequenceGap reports whether the numbered parts observed so far leave
// a hole in the expected sequence. The sequence is expected to start at
// part 0 or part 1 (whichever the convention produced) and run contiguously
// to the highest part seen; the true total is unknowable until the
// producer stops, so only holes BELOW the maximum can be detected.
func (item *Item) HasSequenceGap() bool {
	if len(item.Parts) == 0 {
		return false
	}

	base := 1
	max := 0
	seen := make(map[int]bool, len(item.Parts))
	for _, part := range item.Parts {
		seen[part.Sequence] = true
		if part.Sequence == 0 {
			base = 0
		}
		if part.Sequence > max {
			max = part.Sequence
		}
	}

	for seq := base; seq <= max; seq++ {
		if !seen[seq] {
			return true
		}
	}

	return false
}

// PartPaths returns the part paths in sequence order.
func (item *Item) PartPaths() []string {
	paths := make([]string, len(item.Parts))
	for i, part := range item.Parts {
		paths[i] = part.Path
	}

	return paths
}

func (item *Item) TotalSize() int64 {
	var total int64
	for _, part := range item.Parts {
		total += part.Size
	}

	return total
}

func (item *Item) Terminal() bool {
	return item.Stage == Ready || item.Stage == Failed
}

func (item *Item) InFlight() bool {
	return !item.Terminal()
}

func (item *Item) Claimed() bool { return item.claimed }

func (item *Item) SetClaimed(claimed bool) { item.claimed = claimed }

// Clone returns a deep copy safe to hand outside the state store.
func (item *Item) Clone() Item {
	dup := *item
	dup.Parts = append([]Part(nil), item.Parts...)
	if item.Trouble != nil {
		trouble := *item.Trouble
		dup.Trouble = &trouble
	}

	return dup
}

func (item *Item) String() string {
	return fmt.Sprintf("Item{id=%s key=%s stage=%s parts=%d}", item.ID, item.Key, item.Stage, len(item.Parts))
}

func (s Stage) String() string {
	switch s {
	case Discovering:
		return "DISCOVERING"
	case Stabilizing:
		return "STABILIZING"
	case Assembling:
		return "ASSEMBLING"
	case Extracting:
		return "EXTRACTING"
	case Probing:
		return "PROBING"
	case Ready:
		return "READY"
	case Failed:
		return "FAILED"
	default:
		return fmt.Sprintf("UNKNOWN[%d]", s)
	}
}
