// The single authoritative in-memory model of every item and artifact the
// pipeline knows about. All stage workers mutate records exclusively through
// this store, which serializes writes, bumps a monotonic revision counter on
// every mutation, and fans coalesced change notifications out to subscribers.
package state

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"landfall/internal/item"
)

// Snapshot is a deep-copied view of the store at a single revision,
// safe for the dashboard to render without further locking. Items are
// ordered by first-seen time, artifacts by path.
type Snapshot struct {
	Revision  uint64
	Items     []item.Item
	Artifacts []item.Artifact
}

// ArtifactsFor returns the artifacts belonging to the given item.
func (s Snapshot) ArtifactsFor(itemID uuid.UUID) []item.Artifact {
	out := make([]item.Artifact, 0, 4)
	for _, artifact := range s.Artifacts {
		if artifact.ItemID == itemID {
			out = append(out, artifact)
		}
	}

	return out
}

type Store struct {
	mu sync.RWMutex

	items      map[uuid.UUID]*item.Item
	itemsByKey map[string]uuid.UUID
	artifacts  map[uuid.UUID]*item.Artifact

	revision    uint64
	subscribers map[int]chan uint64
	nextSubID   int
}

func NewStore() *Store {
	return &Store{
		items:       make(map[uuid.UUID]*item.Item),
		itemsByKey:  make(map[string]uuid.UUID),
		artifacts:   make(map[uuid.UUID]*item.Artifact),
		subscribers: make(map[int]chan uint64),
	}
}

// bump increments the revision and notifies subscribers. A subscriber
// whose channel already holds a pending notification has it replaced
// with the newer revision (coalescing). Callers must hold mu.
func (store *Store) bump() {
	store.revision++
	for _, ch := range store.subscribers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- store.revision:
		default:
		}
	}
}

// Revision returns the current revision counter.
func (store *Store) Revision() uint64 {
	store.mu.RLock()
	defer store.mu.RUnlock()

	return store.revision
}

// Subscribe returns a channel delivering coalesced revision-change
// notifications. The subscription is removed, and the channel closed,
// when the provided context is cancelled.
func (store *Store) Subscribe(ctx context.Context) <-chan uint64 {
	store.mu.Lock()
	defer store.mu.Unlock()

	id := store.nextSubID
	store.nextSubID++

	ch := make(chan uint64, 1)
	store.subscribers[id] = ch

	go func() {
		<-ctx.Done()

		store.mu.Lock()
		defer store.mu.Unlock()
		delete(store.subscribers, id)
		close(ch)
	}()

	return ch
}

// EnsureItem returns the item for the given identity key, creating a
// fresh Discovering record if none exists. The second return reports
// whether the item was newly created.
func (store *Store) EnsureItem(key string, now time.Time) (item.Item, bool) {
	store.mu.Lock()
	defer store.mu.Unlock()

	if id, ok := store.itemsByKey[key]; ok {
		return store.items[id].Clone(), false
	}

	record := item.New(key, now)
	store.items[record.ID] = record
	store.itemsByKey[key] = record.ID
	store.bump()

	return record.Clone(), true
}

// Item returns a copy of the item with the given ID.
func (store *Store) Item(id uuid.UUID) (item.Item, bool) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	record, ok := store.items[id]
	if !ok {
		return item.Item{}, false
	}

	return record.Clone(), true
}

// ItemByKey returns a copy of the item with the given identity key.
func (store *Store) ItemByKey(key string) (item.Item, bool) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	id, ok := store.itemsByKey[key]
	if !ok {
		return item.Item{}, false
	}

	return store.items[id].Clone(), true
}

// UpdateItem applies fn to the item with the given ID under the store
// lock. The mutation is assumed to have changed the record; revision is
// bumped unconditionally.
func (store *Store) UpdateItem(id uuid.UUID, fn func(*item.Item)) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	record, ok := store.items[id]
	if !ok {
		return item.ErrItemNotFound
	}

	fn(record)
	record.LastActivity = time.Now()
	store.bump()

	return nil
}

// TransitionItem moves an item from one stage to another, refusing the
// move if the item is no longer in the expected stage. This is how
// stage workers keep the single-writer-per-record discipline honest.
func (store *Store) TransitionItem(id uuid.UUID, from, to item.Stage) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	record, ok := store.items[id]
	if !ok {
		return item.ErrItemNotFound
	}
	if record.Stage != from {
		return item.ErrIllegalStage
	}

	record.Stage = to
	record.StageEntered = time.Now()
	record.LastActivity = record.StageEntered
	store.bump()

	return nil
}

// ClaimItem atomically finds the first unclaimed item in the given
// stage and marks it claimed, preventing another pool worker from
// picking it up once the lock is released. Returns false if no
// claimable item exists.
func (store *Store) ClaimItem(stage item.Stage) (item.Item, bool) {
	store.mu.Lock()
	defer store.mu.Unlock()

	for _, record := range store.itemsOrdered() {
		if record.Stage == stage && !record.Claimed() {
			record.SetClaimed(true)
			return record.Clone(), true
		}
	}

	return item.Item{}, false
}

// HasClaimableItem reports whether any unclaimed item sits in the
// given stage.
func (store *Store) HasClaimableItem(stage item.Stage) bool {
	store.mu.RLock()
	defer store.mu.RUnlock()

	for _, record := range store.items {
		if record.Stage == stage && !record.Claimed() {
			return true
		}
	}

	return false
}

// HasClaimableArtifact reports whether any unclaimed artifact is still
// awaiting a probe.
func (store *Store) HasClaimableArtifact() bool {
	store.mu.RLock()
	defer store.mu.RUnlock()

	for _, record := range store.artifacts {
		if record.Stage == item.Extracted && !record.Claimed() {
			return true
		}
	}

	return false
}

// RemoveItem deletes the item and every artifact belonging to it.
func (store *Store) RemoveItem(id uuid.UUID) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	record, ok := store.items[id]
	if !ok {
		return item.ErrItemNotFound
	}

	delete(store.items, id)
	delete(store.itemsByKey, record.Key)
	for artifactID, artifact := range store.artifacts {
		if artifact.ItemID == id {
			delete(store.artifacts, artifactID)
		}
	}
	store.bump()

	return nil
}

// ItemsInStage returns copies of all items currently in the given stage.
func (store *Store) ItemsInStage(stages ...item.Stage) []item.Item {
	store.mu.RLock()
	defer store.mu.RUnlock()

	out := make([]item.Item, 0)
	for _, record := range store.itemsOrdered() {
		for _, stage := range stages {
			if record.Stage == stage {
				out = append(out, record.Clone())
				break
			}
		}
	}

	return out
}

// CreateArtifact records a freshly extracted output file for an item.
func (store *Store) CreateArtifact(itemID uuid.UUID, path string, size int64) (item.Artifact, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	if _, ok := store.items[itemID]; !ok {
		return item.Artifact{}, item.ErrItemNotFound
	}

	record := item.NewArtifact(itemID, path, size)
	store.artifacts[record.ID] = record
	store.bump()

	return record.Clone(), nil
}

// UpdateArtifact applies fn to the artifact with the given ID under the
// store lock.
func (store *Store) UpdateArtifact(id uuid.UUID, fn func(*item.Artifact)) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	record, ok := store.artifacts[id]
	if !ok {
		return item.ErrArtifactNotFound
	}

	fn(record)
	store.bump()

	return nil
}

// ClaimArtifact atomically claims the first unclaimed artifact in the
// Extracted stage, mirroring ClaimItem.
func (store *Store) ClaimArtifact() (item.Artifact, bool) {
	store.mu.Lock()
	defer store.mu.Unlock()

	ids := make([]uuid.UUID, 0, len(store.artifacts))
	for id := range store.artifacts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return store.artifacts[ids[i]].Path < store.artifacts[ids[j]].Path
	})

	for _, id := range ids {
		record := store.artifacts[id]
		if record.Stage == item.Extracted && !record.Claimed() {
			record.SetClaimed(true)
			return record.Clone(), true
		}
	}

	return item.Artifact{}, false
}

// RemoveArtifactsForItem drops all artifact records belonging to the
// given item. Used when an operator retries a failed item so the rerun
// starts from a clean slate.
func (store *Store) RemoveArtifactsForItem(itemID uuid.UUID) {
	store.mu.Lock()
	defer store.mu.Unlock()

	removed := false
	for artifactID, artifact := range store.artifacts {
		if artifact.ItemID == itemID {
			delete(store.artifacts, artifactID)
			removed = true
		}
	}
	if removed {
		store.bump()
	}
}

// ArtifactsForItem returns copies of all artifacts belonging to an item.
func (store *Store) ArtifactsForItem(itemID uuid.UUID) []item.Artifact {
	store.mu.RLock()
	defer store.mu.RUnlock()

	out := make([]item.Artifact, 0, 4)
	for _, record := range store.artifacts {
		if record.ItemID == itemID {
			out = append(out, record.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })

	return out
}

// Snapshot returns a deep copy of the full store contents, plus the
// revision it was taken at.
func (store *Store) Snapshot() Snapshot {
	store.mu.RLock()
	defer store.mu.RUnlock()

	snapshot := Snapshot{
		Revision:  store.revision,
		Items:     make([]item.Item, 0, len(store.items)),
		Artifacts: make([]item.Artifact, 0, len(store.artifacts)),
	}

	for _, record := range store.itemsOrdered() {
		snapshot.Items = append(snapshot.Items, record.Clone())
	}
	for _, record := range store.artifacts {
		snapshot.Artifacts = append(snapshot.Artifacts, record.Clone())
	}
	sort.Slice(snapshot.Artifacts, func(i, j int) bool {
		return snapshot.Artifacts[i].Path < snapshot.Artifacts[j].Path
	})

	return snapshot
}

// itemsOrdered returns the raw item records ordered by first-seen time.
// Callers must hold mu.
func (store *Store) itemsOrdered() []*item.Item {
	records := make([]*item.Item, 0, len(store.items))
	for _, record := range store.items {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].FirstSeen.Equal(records[j].FirstSeen) {
			return records[i].Key < records[j].Key
		}
		return records[i].FirstSeen.Before(records[j].FirstSeen)
	})

	return records
}
