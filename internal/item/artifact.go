package item

import (
	"fmt"

	"github.com/google/uuid"
)

type ArtifactStage int

const (
	Extracted ArtifactStage = iota
	Probed
	ArtifactFailed
)

// MediaInfo is the classification and probe payload for an artifact.
// Duration/container/codec fields are only populated for audio and
// video artifacts whose probe succeeded.
type MediaInfo struct {
	Class           string
	MIME            string
	Container       string
	DurationSeconds float64
	Codecs          []string
	StreamCount     int
}

// Artifact is a single output file produced by extracting an Item. It
// holds a weak reference to its parent via ItemID; clearing the parent
// removes its artifacts too.
type Artifact struct {
	ID      uuid.UUID
	ItemID  uuid.UUID
	Path    string
	Size    int64
	Stage   ArtifactStage
	Trouble *Trouble
	Media   *MediaInfo

	claimed bool
}

func NewArtifact(itemID uuid.UUID, path string, size int64) *Artifact {
	return &Artifact{
		ID:     uuid.New(),
		ItemID: itemID,
		Path:   path,
		Size:   size,
		Stage:  Extracted,
	}
}

func (artifact *Artifact) Terminal() bool {
	return artifact.Stage == Probed || artifact.Stage == ArtifactFailed
}

func (artifact *Artifact) Claimed() bool { return artifact.claimed }

func (artifact *Artifact) SetClaimed(claimed bool) { artifact.claimed = claimed }

func (artifact *Artifact) Clone() Artifact {
	dup := *artifact
	if artifact.Trouble != nil {
		trouble := *artifact.Trouble
		dup.Trouble = &trouble
	}
	if artifact.Media != nil {
		media := *artifact.Media
		media.Codecs = append([]string(nil), artifact.Media.Codecs...)
		dup.Media = &media
	}

	return dup
}

func (artifact *Artifact) String() string {
	return fmt.Sprintf("Artifact{id=%s item=%s path=%s stage=%s}", artifact.ID, artifact.ItemID, artifact.Path, artifact.Stage)
}

func (s ArtifactStage) String() string {
	switch s {
	case Extracted:
		return "EXTRACTED"
	case Probed:
		return "PROBED"
	case ArtifactFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("UNKNOWN[%d]", s)
	}
}
