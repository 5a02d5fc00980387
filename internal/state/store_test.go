package state_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"landfall/internal/item"
	"landfall/internal/state"
)

func TestEnsureItemCreatesOncePerKey(t *testing.T) {
	store := state.NewStore()

	first, created := store.EnsureItem("/drop/movie", time.Now())
	require.True(t, created)

	second, created := store.EnsureItem("/drop/movie", time.Now())
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	third, created := store.EnsureItem("/drop/other", time.Now())
	assert.True(t, created)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestUpdateItemBumpsRevision(t *testing.T) {
	store := state.NewStore()
	record, _ := store.EnsureItem("/drop/movie", time.Now())
	before := store.Revision()

	err := store.UpdateItem(record.ID, func(it *item.Item) {
		it.UpsertPart(item.Part{Path: "/drop/movie.part1", Sequence: 1, Size: 42})
	})

	require.NoError(t, err)
	assert.Greater(t, store.Revision(), before)

	fetched, ok := store.Item(record.ID)
	require.True(t, ok)
	assert.EqualValues(t, 42, fetched.TotalSize())
}

func TestUpdateItemUnknownID(t *testing.T) {
	store := state.NewStore()

	err := store.UpdateItem(item.New("/x", time.Now()).ID, func(*item.Item) {})

	assert.ErrorIs(t, err, item.ErrItemNotFound)
}

func TestTransitionItemEnforcesExpectedStage(t *testing.T) {
	store := state.NewStore()
	record, _ := store.EnsureItem("/drop/movie", time.Now())

	require.NoError(t, store.TransitionItem(record.ID, item.Discovering, item.Stabilizing))
	assert.ErrorIs(t, store.TransitionItem(record.ID, item.Discovering, item.Assembling), item.ErrIllegalStage)

	fetched, _ := store.Item(record.ID)
	assert.Equal(t, item.Stabilizing, fetched.Stage)
}

func TestClaimItemIsExclusive(t *testing.T) {
	store := state.NewStore()
	record, _ := store.EnsureItem("/drop/movie", time.Now())
	require.NoError(t, store.TransitionItem(record.ID, item.Discovering, item.Stabilizing))
	require.NoError(t, store.TransitionItem(record.ID, item.Stabilizing, item.Assembling))

	claimed, ok := store.ClaimItem(item.Assembling)
	require.True(t, ok)
	assert.Equal(t, record.ID, claimed.ID)

	_, ok = store.ClaimItem(item.Assembling)
	assert.False(t, ok, "a claimed item must not be handed out twice")
}

func TestClaimItemOrdersByFirstSeen(t *testing.T) {
	store := state.NewStore()
	base := time.Now()
	older, _ := store.EnsureItem("/drop/older", base.Add(-time.Minute))
	newer, _ := store.EnsureItem("/drop/newer", base)

	for _, record := range []item.Item{older, newer} {
		require.NoError(t, store.TransitionItem(record.ID, item.Discovering, item.Stabilizing))
		require.NoError(t, store.TransitionItem(record.ID, item.Stabilizing, item.Assembling))
	}

	claimed, ok := store.ClaimItem(item.Assembling)
	require.True(t, ok)
	assert.Equal(t, older.ID, claimed.ID)
}

func TestHasClaimableItem(t *testing.T) {
	store := state.NewStore()
	record, _ := store.EnsureItem("/drop/movie", time.Now())

	assert.False(t, store.HasClaimableItem(item.Assembling))

	require.NoError(t, store.TransitionItem(record.ID, item.Discovering, item.Stabilizing))
	require.NoError(t, store.TransitionItem(record.ID, item.Stabilizing, item.Assembling))
	assert.True(t, store.HasClaimableItem(item.Assembling))

	_, ok := store.ClaimItem(item.Assembling)
	require.True(t, ok)
	assert.False(t, store.HasClaimableItem(item.Assembling), "a claimed item is no longer claimable work")
}

func TestHasClaimableArtifact(t *testing.T) {
	store := state.NewStore()
	record, _ := store.EnsureItem("/drop/movie", time.Now())

	assert.False(t, store.HasClaimableArtifact())

	_, err := store.CreateArtifact(record.ID, "/out/movie/a.mkv", 10)
	require.NoError(t, err)
	assert.True(t, store.HasClaimableArtifact())

	claimed, ok := store.ClaimArtifact()
	require.True(t, ok)
	assert.False(t, store.HasClaimableArtifact())

	require.NoError(t, store.UpdateArtifact(claimed.ID, func(a *item.Artifact) {
		a.Stage = item.Probed
		a.SetClaimed(false)
	}))
	assert.False(t, store.HasClaimableArtifact(), "terminal artifacts are never claimable")
}

func TestRemoveItemCascadesToArtifacts(t *testing.T) {
	store := state.NewStore()
	record, _ := store.EnsureItem("/drop/movie", time.Now())
	_, err := store.CreateArtifact(record.ID, "/out/movie/a.mkv", 100)
	require.NoError(t, err)

	require.NoError(t, store.RemoveItem(record.ID))

	assert.Empty(t, store.ArtifactsForItem(record.ID))
	_, ok := store.Item(record.ID)
	assert.False(t, ok)
	_, ok = store.ItemByKey("/drop/movie")
	assert.False(t, ok)
}

func TestCreateArtifactRequiresItem(t *testing.T) {
	store := state.NewStore()

	_, err := store.CreateArtifact(item.New("/x", time.Now()).ID, "/out/a.mkv", 1)

	assert.ErrorIs(t, err, item.ErrItemNotFound)
}

func TestClaimArtifactSkipsNonExtracted(t *testing.T) {
	store := state.NewStore()
	record, _ := store.EnsureItem("/drop/movie", time.Now())
	artifact, err := store.CreateArtifact(record.ID, "/out/movie/a.mkv", 100)
	require.NoError(t, err)

	claimed, ok := store.ClaimArtifact()
	require.True(t, ok)
	assert.Equal(t, artifact.ID, claimed.ID)

	_, ok = store.ClaimArtifact()
	assert.False(t, ok)

	require.NoError(t, store.UpdateArtifact(artifact.ID, func(a *item.Artifact) {
		a.Stage = item.Probed
		a.SetClaimed(false)
	}))

	_, ok = store.ClaimArtifact()
	assert.False(t, ok, "probed artifacts are terminal and never claimable")
}

func TestSubscribeCoalescesNotifications(t *testing.T) {
	store := state.NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := store.Subscribe(ctx)

	for i := 0; i < 5; i++ {
		store.EnsureItem("/drop/movie"+string(rune('a'+i)), time.Now())
	}

	select {
	case revision := <-sub:
		// The pending notification always carries the newest revision.
		assert.Equal(t, store.Revision(), revision)
	case <-time.After(time.Second):
		t.Fatal("expected a coalesced notification")
	}

	select {
	case revision, open := <-sub:
		t.Fatalf("expected no further notifications, got revision=%d open=%v", revision, open)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeClosesOnContextCancel(t *testing.T) {
	store := state.NewStore()
	ctx, cancel := context.WithCancel(context.Background())

	sub := store.Subscribe(ctx)
	cancel()

	assert.Eventually(t, func() bool {
		select {
		case _, open := <-sub:
			return !open
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	store := state.NewStore()
	record, _ := store.EnsureItem("/drop/movie", time.Now())
	require.NoError(t, store.UpdateItem(record.ID, func(it *item.Item) {
		it.UpsertPart(item.Part{Path: "/drop/movie.part1", Sequence: 1})
	}))

	snapshot := store.Snapshot()
	require.Len(t, snapshot.Items, 1)
	snapshot.Items[0].Parts[0].Path = "/mutated"

	fetched, _ := store.Item(record.ID)
	assert.Equal(t, "/drop/movie.part1", fetched.Parts[0].Path)
}

func TestSnapshotOrdersItemsByFirstSeen(t *testing.T) {
	store := state.NewStore()
	base := time.Now()
	store.EnsureItem("/drop/zz-first", base.Add(-time.Hour))
	store.EnsureItem("/drop/aa-second", base)

	snapshot := store.Snapshot()

	require.Len(t, snapshot.Items, 2)
	assert.Equal(t, "/drop/zz-first", snapshot.Items[0].Key)
	assert.Equal(t, "/drop/aa-second", snapshot.Items[1].Key)
}
