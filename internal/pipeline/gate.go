package pipeline

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"landfall/internal/item"
)

// stabilityGate tracks part-set fingerprints across evaluator ticks.
// An item is quiescent once the same fingerprint has been observed on
// two consecutive polls; any mutation observed in between resets the
// window. The gate holds no authoritative state, only bookkeeping; it
// can be forgotten and rebuilt at any time (e.g. on retry).
type stabilityGate struct {
	mu      sync.Mutex
	records map[uuid.UUID]gateRecord
}

type gateRecord struct {
	fingerprint  string
	observations int
}

func newStabilityGate() *stabilityGate {
	return &stabilityGate{records: make(map[uuid.UUID]gateRecord)}
}

// Observe records the current fingerprint for an item and reports
// whether the item has now been seen unchanged across two consecutive
// observations.
func (gate *stabilityGate) Observe(id uuid.UUID, fingerprint string) bool {
	gate.mu.Lock()
	defer gate.mu.Unlock()

	record := gate.records[id]
	if record.fingerprint == fingerprint {
		record.observations++
	} else {
		record = gateRecord{fingerprint: fingerprint, observations: 1}
	}
	gate.records[id] = record

	return record.observations >= 2
}

func (gate *stabilityGate) Forget(id uuid.UUID) {
	gate.mu.Lock()
	defer gate.mu.Unlock()

	delete(gate.records, id)
}

func partsFingerprint(parts []item.Part) string {
	var builder strings.Builder
	for _, part := range parts {
		fmt.Fprintf(&builder, "%s|%d|%d;", part.Path, part.Size, part.ModTime.UnixNano())
	}

	return builder.String()
}
