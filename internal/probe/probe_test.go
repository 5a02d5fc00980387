package probe

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"landfall/pkg/logger"
)

func init() {
	logger.SetMinLoggingLevel(logger.FATAL.Level())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		mime string
		want string
	}{
		{"audio/mpeg", ClassAudio},
		{"audio/flac", ClassAudio},
		{"video/mp4", ClassVideo},
		{"video/x-matroska", ClassVideo},
		{"text/plain; charset=utf-8", ClassOther},
		{"application/pdf", ClassOther},
		{"application/octet-stream", ClassOther},
	}

	for _, tt := range tests {
		t.Run(tt.mime, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.mime))
		})
	}
}

func TestProbeClassifiesByContentNotExtension(t *testing.T) {
	dir := t.TempDir()

	// Plain text dressed up with a video extension.
	path := filepath.Join(dir, "impostor.mkv")
	require.NoError(t, os.WriteFile(path, []byte("just some text, no magic bytes"), 0o644))

	prober := NewFfprobeProber()
	info, err := prober.Probe(context.Background(), path)

	require.NoError(t, err)
	assert.Equal(t, ClassOther, info.Class)
	assert.NotEmpty(t, info.MIME)
	assert.Zero(t, info.DurationSeconds)
	assert.Empty(t, info.Codecs)
}

func TestProbeMissingFile(t *testing.T) {
	prober := NewFfprobeProber()
	_, err := prober.Probe(context.Background(), filepath.Join(t.TempDir(), "nope.mkv"))

	assert.Error(t, err)
}

func TestProbeHonorsCancelledContext(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	prober := NewFfprobeProber()
	_, err := prober.Probe(ctx, path)

	assert.ErrorIs(t, err, context.Canceled)
}
