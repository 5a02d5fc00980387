// Artifact classification and media metadata extraction. Classification
// is magic-byte based so it does not trust file extensions; audio and
// video artifacts are additionally probed with ffprobe for duration,
// container and codec information. A probe failure is never fatal to the
// owning item: the extracted file is usable regardless of metadata.
package probe

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/floostack/transcoder/ffmpeg"
	"github.com/gabriel-vasile/mimetype"

	"landfall/internal/item"
	"landfall/pkg/logger"
)

var log = logger.Get("Probe")

const (
	ClassAudio = "audio"
	ClassVideo = "video"
	ClassOther = "other"
)

// Prober is the type/media-probe collaborator boundary: given a file
// path, return a classification plus (for audio/video) a metadata
// payload, or a typed probe error.
type Prober interface {
	Probe(ctx context.Context, path string) (*item.MediaInfo, error)
}

// FfprobeProber classifies files through magic-byte MIME detection and
// shells out to ffprobe for media metadata.
type FfprobeProber struct {
	config ffmpeg.Config
}

func NewFfprobeProber() *FfprobeProber {
	return &FfprobeProber{}
}

func (prober *FfprobeProber) Probe(ctx context.Context, path string) (*item.MediaInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	detected, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to classify file '%s': %w", path, err)
	}

	info := &item.MediaInfo{
		Class: classify(detected.String()),
		MIME:  detected.String(),
	}
	if info.Class == ClassOther {
		return info, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := prober.extractMediaMetadata(path, info); err != nil {
		return nil, err
	}

	return info, nil
}

// extractMediaMetadata runs ffprobe against the file and fills in the
// duration, container and codec details.
func (prober *FfprobeProber) extractMediaMetadata(path string, info *item.MediaInfo) error {
	metadata, err := ffmpeg.New(&prober.config).Input(path).GetMetadata()
	if err != nil {
		return fmt.Errorf("failed to extract media metadata using ffprobe: %w", err)
	}

	format := metadata.GetFormat()
	info.Container = format.GetFormatName()
	info.StreamCount = format.GetNbStreams()
	if duration, err := strconv.ParseFloat(format.GetDuration(), 64); err == nil {
		info.DurationSeconds = duration
	} else {
		log.Emit(logger.DEBUG, "ffprobe reported unparseable duration '%s' for %s\n", format.GetDuration(), path)
	}

	for _, stream := range metadata.GetStreams() {
		if codec := stream.GetCodecName(); codec != "" {
			info.Codecs = append(info.Codecs, codec)
		}
	}

	return nil
}

func classify(mime string) string {
	switch {
	case strings.HasPrefix(mime, "audio/"):
		return ClassAudio
	case strings.HasPrefix(mime, "video/"):
		return ClassVideo
	default:
		return ClassOther
	}
}
