package dashboard

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"landfall/internal/item"
	"landfall/internal/state"
)

// stubController serves a fixed snapshot and a hand-fed revision stream.
type stubController struct {
	snapshot  state.Snapshot
	revisions chan uint64
}

func (s *stubController) Snapshot() state.Snapshot                { return s.snapshot }
func (s *stubController) Subscribe(context.Context) <-chan uint64 { return s.revisions }
func (s *stubController) Retry(uuid.UUID) error                   { return nil }
func (s *stubController) Clear(uuid.UUID) error                   { return nil }
func (s *stubController) Cancel(uuid.UUID) error                  { return nil }

func testSnapshot() state.Snapshot {
	ready := item.New("/drop/movie.zip", time.Now())
	ready.Stage = item.Ready
	ready.UpsertPart(item.Part{Path: "/drop/movie.zip.part1", Sequence: 1, Size: 2048})

	failed := item.New("/drop/broken.rar", time.Now())
	failed.Stage = item.Failed
	trouble := item.NewTrouble(item.ExtractionError, assert.AnError)
	failed.Trouble = &trouble

	artifact := item.NewArtifact(ready.ID, "/out/movie.zip/movie.mkv", 4096)
	artifact.Stage = item.Probed
	artifact.Media = &item.MediaInfo{Class: "video", MIME: "video/x-matroska", DurationSeconds: 61}

	return state.Snapshot{
		Revision:  7,
		Items:     []item.Item{ready.Clone(), failed.Clone()},
		Artifacts: []item.Artifact{artifact.Clone()},
	}
}

func TestRenderPlainListsItems(t *testing.T) {
	var buf bytes.Buffer
	renderPlain(&buf, testSnapshot())

	rendered := buf.String()
	assert.Contains(t, rendered, "movie.zip")
	assert.Contains(t, rendered, "READY")
	assert.Contains(t, rendered, "broken.rar")
	assert.Contains(t, rendered, "FAILED")
	assert.Contains(t, rendered, "EXTRACTION_ERROR")
	assert.Contains(t, rendered, "movie.mkv video 1m1s")
	assert.Contains(t, rendered, "rev 7")
}

func TestRunPlainStopsOnContextCancel(t *testing.T) {
	controller := &stubController{snapshot: testSnapshot(), revisions: make(chan uint64, 1)}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	var buf bytes.Buffer
	go func() { done <- RunPlain(ctx, controller, &buf) }()

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("RunPlain did not stop after context cancellation")
	}

	assert.Contains(t, buf.String(), "movie.zip")
}

func TestRunPlainStopsWhenSubscriptionCloses(t *testing.T) {
	controller := &stubController{snapshot: testSnapshot(), revisions: make(chan uint64)}

	done := make(chan error, 1)
	var buf bytes.Buffer
	go func() { done <- RunPlain(context.Background(), controller, &buf) }()

	close(controller.revisions)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("RunPlain did not stop after the revision stream closed")
	}
}
