package pipeline

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"landfall/internal/event"
	"landfall/internal/item"
	"landfall/pkg/logger"
)

// Operator control intake. These are the only entry points through
// which anything outside the pipeline (the dashboard) mutates state,
// and each validates the records current stage before acting.

// Retry resets a Failed item back to Discovering: its trouble is
// cleared, any artifacts from a previous attempt are dropped, and the
// item re-runs quiescence and assembly from scratch on the next
// evaluator tick.
func (service *Service) Retry(itemID uuid.UUID) error {
	record, ok := service.store.Item(itemID)
	if !ok {
		return item.ErrItemNotFound
	}
	if record.Stage != item.Failed {
		return item.ErrIllegalStage
	}
	if record.Trouble != nil && !record.Trouble.IsResolutionTypeAllowed(item.ResolutionRetry) {
		return errors.New("items trouble does not permit a retry")
	}

	service.gate.Forget(itemID)
	service.store.RemoveArtifactsForItem(itemID)
	err := service.store.UpdateItem(itemID, func(rec *item.Item) {
		rec.Stage = item.Discovering
		rec.StageEntered = time.Now()
		rec.Trouble = nil
		rec.SetClaimed(false)
	})
	if err != nil {
		return err
	}

	log.Emit(logger.INFO, "Operator retry of %s; re-evaluating from scratch\n", record)
	service.eventBus.Dispatch(event.ITEM_UPDATE, itemID)

	return nil
}

// Clear removes a terminal (Ready or Failed) item and its artifacts
// from the pipeline state. Published output on disk is left alone.
func (service *Service) Clear(itemID uuid.UUID) error {
	record, ok := service.store.Item(itemID)
	if !ok {
		return item.ErrItemNotFound
	}
	if !record.Terminal() {
		return item.ErrIllegalStage
	}

	service.gate.Forget(itemID)
	if err := service.store.RemoveItem(itemID); err != nil {
		return err
	}

	log.Emit(logger.REMOVE, "Operator cleared %s\n", record)

	return nil
}

// Cancel aborts an in-flight item. The abort is cooperative: the item
// is marked Failed(Cancelled) immediately, and any stage worker
// currently executing on it observes its cancelled context at the next
// I/O boundary and abandons cleanly, discarding temporary output.
func (service *Service) Cancel(itemID uuid.UUID) error {
	record, ok := service.store.Item(itemID)
	if !ok {
		return item.ErrItemNotFound
	}
	if record.Terminal() {
		return item.ErrIllegalStage
	}

	service.gate.Forget(itemID)
	service.store.UpdateItem(itemID, func(rec *item.Item) {
		rec.Stage = item.Failed
		rec.StageEntered = time.Now()
		trouble := item.NewTrouble(item.Cancelled, errors.New("cancelled by operator"))
		rec.Trouble = &trouble
	})

	// Mark any still-pending artifacts so the item does not read as
	// half-probed, then signal the owning workers.
	for _, artifact := range service.store.ArtifactsForItem(itemID) {
		if artifact.Terminal() {
			continue
		}
		service.store.UpdateArtifact(artifact.ID, func(rec *item.Artifact) {
			rec.Stage = item.ArtifactFailed
			trouble := item.NewTrouble(item.Cancelled, errors.New("cancelled by operator"))
			rec.Trouble = &trouble
		})
		if cancel, ok := service.probeCancels.Load(artifact.ID); ok {
			cancel()
		}
	}
	if cancel, ok := service.assembleCancels.Load(itemID); ok {
		cancel()
	}

	log.Emit(logger.STOP, "Operator cancelled %s\n", record)
	service.eventBus.Dispatch(event.ITEM_UPDATE, itemID)

	return nil
}
