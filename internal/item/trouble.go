package item

import (
	"errors"
	"fmt"
)

type (
	TroubleType int

	// Trouble is a typed failure recorded against an Item or Artifact.
	// Per-record troubles never propagate up through the pipeline
	// machinery; they are surfaced to the operator via the state store
	// and resolved by the operator (retry/clear) where permitted.
	Trouble struct {
		error
		tType TroubleType
	}

	ResolutionType int
)

const (
	IncompleteSequence TroubleType = iota
	NeverStabilized
	ExtractionError
	ProbeError
	Cancelled
)

const (
	ResolutionRetry ResolutionType = iota
	ResolutionClear
)

var (
	ErrItemNotFound     = errors.New("no item with the given ID could be found")
	ErrArtifactNotFound = errors.New("no artifact with the given ID could be found")
	ErrIllegalStage     = errors.New("operation is not valid for the records current stage")
)

var allowedResolutionTypes = map[TroubleType][]ResolutionType{
	IncompleteSequence: {ResolutionRetry, ResolutionClear},
	NeverStabilized:    {ResolutionRetry, ResolutionClear},
	ExtractionError:    {ResolutionRetry, ResolutionClear},
	ProbeError:         {ResolutionClear},
	Cancelled:          {ResolutionRetry, ResolutionClear},
}

func NewTrouble(tType TroubleType, err error) Trouble {
	return Trouble{error: err, tType: tType}
}

func (t *Trouble) Type() TroubleType { return t.tType }

func (t *Trouble) Cause() error { return t.error }

func (t *Trouble) AllowedResolutionTypes() []ResolutionType {
	if allowed, ok := allowedResolutionTypes[t.tType]; ok {
		return allowed
	}

	return []ResolutionType{}
}

func (t *Trouble) IsResolutionTypeAllowed(resType ResolutionType) bool {
	for _, v := range t.AllowedResolutionTypes() {
		if v == resType {
			return true
		}
	}

	return false
}

func (t TroubleType) String() string {
	switch t {
	case IncompleteSequence:
		return "INCOMPLETE_SEQUENCE"
	case NeverStabilized:
		return "NEVER_STABILIZED"
	case ExtractionError:
		return "EXTRACTION_ERROR"
	case ProbeError:
		return "PROBE_ERROR"
	case Cancelled:
		return "CANCELLED"
	default:
		return fmt.Sprintf("UNKNOWN[%d]", t)
	}
}
