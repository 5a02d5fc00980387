// The ingestion pipeline: reconciles debounced filesystem events into
// logical items, gates them on quiescence, assembles and extracts them
// through a bounded worker pool, probes the results, and keeps the
// single authoritative state store up to date throughout. Stages for a
// single item run strictly in sequence; distinct items proceed in
// parallel up to pool capacity.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"landfall/internal/assemble"
	"landfall/internal/event"
	"landfall/internal/item"
	"landfall/internal/probe"
	"landfall/internal/state"
	"landfall/internal/watch"
	"landfall/pkg/logger"
	syncutil "landfall/pkg/sync"
	"landfall/pkg/worker"
)

var log = logger.Get("Pipeline")

type Service struct {
	config   Config
	store    *state.Store
	eventBus event.EventCoordinator
	source   *watch.Source
	codec    assemble.Assembler
	prober   probe.Prober
	namer    item.Namer
	gate     *stabilityGate

	assemblePool *worker.WorkerPool
	probePool    *worker.WorkerPool

	assembleCancels syncutil.TypedSyncMap[uuid.UUID, context.CancelFunc]
	probeCancels    syncutil.TypedSyncMap[uuid.UUID, context.CancelFunc]

	runCtx context.Context
}

// New constructs the pipeline service. The output root is created if
// missing; the watch root is validated later, when Run establishes the
// filesystem watch.
func New(config Config, eventBus event.EventCoordinator, codec assemble.Assembler, prober probe.Prober) (*Service, error) {
	if info, err := os.Stat(config.OutputPath); err == nil {
		if !info.IsDir() {
			return nil, fmt.Errorf("output path '%s' is not a directory", config.OutputPath)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(config.OutputPath, 0o755); err != nil {
			return nil, fmt.Errorf("output path '%s' could not be created: %w", config.OutputPath, err)
		}
	} else {
		return nil, fmt.Errorf("output path '%s' could not be accessed: %w", config.OutputPath, err)
	}

	service := &Service{
		config:   config,
		store:    state.NewStore(),
		eventBus: eventBus,
		codec:    codec,
		prober:   prober,
		namer:    item.DefaultNamer(),
		gate:     newStabilityGate(),
		source: watch.New(watch.Config{
			Root:           config.WatchPath,
			Debounce:       config.Debounce,
			RescanInterval: config.RescanInterval,
		}),
		assemblePool: worker.NewWorkerPool(),
		probePool:    worker.NewWorkerPool(),
	}

	for i := 0; i < config.AssemblyParallelism; i++ {
		label := fmt.Sprintf("assemble-worker-%d", i)
		service.assemblePool.PushWorker(worker.NewWorker(label, service.performAssembly))
	}
	for i := 0; i < config.ProbeParallelism; i++ {
		label := fmt.Sprintf("probe-worker-%d", i)
		service.probePool.PushWorker(worker.NewWorker(label, service.performProbe))
	}

	eventBus.RegisterHandlerFunction(event.ITEM_ASSEMBLABLE, func(event.Event, event.Payload) {
		service.assemblePool.WakeupWorkers()
	})
	eventBus.RegisterHandlerFunction(event.ARTIFACT_PROBABLE, func(event.Event, event.Payload) {
		service.probePool.WakeupWorkers()
	})

	return service, nil
}

// Store exposes the pipelines state store for snapshot reads and
// change subscriptions. All mutation stays inside the pipeline.
func (service *Service) Store() *state.Store { return service.store }

func (service *Service) Snapshot() state.Snapshot { return service.store.Snapshot() }

func (service *Service) Subscribe(ctx context.Context) <-chan uint64 {
	return service.store.Subscribe(ctx)
}

// Run is the main entry point of the pipeline. It owns the event intake
// loop and the periodic stability evaluator; the stage worker pools run
// alongside it. To stop the pipeline, cancel the provided context.
// A watch-establishment failure aborts Run immediately with a
// *watch.WatchError.
func (service *Service) Run(ctx context.Context) error {
	service.runCtx = ctx

	service.assemblePool.Start()
	service.probePool.Start()
	defer func() {
		service.assemblePool.Close()
		service.probePool.Close()
	}()

	watchFailure := make(chan error, 1)
	go func() {
		watchFailure <- service.source.Run(ctx)
	}()

	evaluator := time.NewTicker(service.config.QuiescenceInterval)
	defer evaluator.Stop()

	for {
		select {
		case fsEvent := <-service.source.Events():
			service.handleFsEvent(fsEvent)
		case <-evaluator.C:
			service.evaluateStability()
		case err := <-watchFailure:
			if err != nil {
				return err
			}
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// handleFsEvent folds a single debounced filesystem event into the item
// model. Part observations only apply while an item is still in its
// detection stages; once assembly has begun the part set the worker
// claimed is what gets processed.
func (service *Service) handleFsEvent(fsEvent watch.Event) {
	key, sequence, _ := service.namer.Resolve(fsEvent.Path)

	switch fsEvent.Kind {
	case watch.Removed, watch.Renamed:
		service.handlePartRemoved(key, fsEvent.Path)
	default:
		info, err := os.Stat(fsEvent.Path)
		if err != nil || info.IsDir() {
			return
		}

		record, created := service.store.EnsureItem(key, fsEvent.Time)
		if created {
			log.Emit(logger.NEW, "Discovered new item %s (first part %s)\n", record, fsEvent.Path)
		}
		if record.Stage != item.Discovering && record.Stage != item.Stabilizing {
			log.Emit(logger.DEBUG, "Ignoring part event for %s: already past detection (stage %s)\n", record, record.Stage)
			return
		}

		service.store.UpdateItem(record.ID, func(rec *item.Item) {
			rec.UpsertPart(item.Part{
				Path:     fsEvent.Path,
				Sequence: sequence,
				Size:     info.Size(),
				ModTime:  info.ModTime(),
			})
		})
		service.eventBus.Dispatch(event.ITEM_UPDATE, record.ID)
	}
}

func (service *Service) handlePartRemoved(key, path string) {
	record, ok := service.store.ItemByKey(key)
	if !ok {
		return
	}

	// Policy: output has already been produced for a Ready item, so a
	// part disappearing afterwards (producer cleanup, rotation) does
	// not retroactively fail it.
	if record.Stage == item.Ready {
		log.Emit(logger.DEBUG, "Part %s of completed item %s removed; output retained\n", path, record)
		return
	}
	if record.Stage != item.Discovering && record.Stage != item.Stabilizing && record.Stage != item.Failed {
		log.Emit(logger.WARNING, "Part %s of in-flight item %s removed; assembly will fail if it needed the part\n", path, record)
		return
	}

	remaining := len(record.Parts)
	service.store.UpdateItem(record.ID, func(rec *item.Item) {
		if rec.RemovePart(path) {
			remaining = len(rec.Parts)
		}
	})

	if remaining == 0 {
		log.Emit(logger.REMOVE, "All parts of %s removed before completion; dropping item\n", record)
		service.gate.Forget(record.ID)
		service.store.RemoveItem(record.ID)
		return
	}

	service.eventBus.Dispatch(event.ITEM_UPDATE, record.ID)
}

// evaluateStability is the periodic gate tick: it re-stats every part
// of every item still in a detection stage, enforces the sequence-gap
// and quiescence policies, and advances items that have fully settled.
func (service *Service) evaluateStability() {
	now := time.Now()
	for _, record := range service.store.ItemsInStage(item.Discovering, item.Stabilizing) {
		service.evaluateItem(record, now)
	}

	// A wakeup that lands while its target worker is transitioning to
	// sleep is dropped; the tick re-wakes the pools while claimable
	// records remain so no queued record is stranded.
	if service.store.HasClaimableItem(item.Assembling) {
		service.assemblePool.WakeupWorkers()
	}
	if service.store.HasClaimableArtifact() {
		service.probePool.WakeupWorkers()
	}
}

func (service *Service) evaluateItem(record item.Item, now time.Time) {
	refreshed, drifted := service.refreshParts(record)
	if drifted {
		service.store.UpdateItem(record.ID, func(rec *item.Item) {
			for _, part := range refreshed {
				rec.UpsertPart(part)
			}
		})
		record.Parts = refreshed
	}

	if len(record.Parts) == 0 {
		return
	}

	gapped := record.HasSequenceGap()
	if gapped {
		if now.Sub(record.FirstSeen) > service.config.IncompleteSequenceCeiling {
			service.failItem(record.ID, item.IncompleteSequence,
				fmt.Errorf("sequence still has missing parts after %s (%d parts known)", service.config.IncompleteSequenceCeiling, len(record.Parts)))
		}
		return
	}

	if record.Stage == item.Discovering {
		service.store.TransitionItem(record.ID, item.Discovering, item.Stabilizing)
		service.gate.Forget(record.ID)
		service.eventBus.Dispatch(event.ITEM_UPDATE, record.ID)
		return
	}

	if service.gate.Observe(record.ID, partsFingerprint(record.Parts)) {
		service.gate.Forget(record.ID)
		if err := service.store.TransitionItem(record.ID, item.Stabilizing, item.Assembling); err == nil {
			log.Emit(logger.INFO, "Item %s is quiescent; queued for assembly\n", record)
			service.eventBus.Dispatch(event.ITEM_ASSEMBLABLE, record.ID)
		}
		return
	}

	if now.Sub(record.StageEntered) > service.config.NeverStabilizedCeiling {
		service.failItem(record.ID, item.NeverStabilized,
			fmt.Errorf("parts still mutating after %s", service.config.NeverStabilizedCeiling))
	}
}

// refreshParts re-stats the parts of an item, reporting whether any
// size/mtime drifted from what the store last recorded. Parts whose
// files have vanished are left untouched; their Removed events handle
// that separately.
func (service *Service) refreshParts(record item.Item) ([]item.Part, bool) {
	refreshed := make([]item.Part, 0, len(record.Parts))
	drifted := false
	for _, part := range record.Parts {
		info, err := os.Stat(part.Path)
		if err != nil {
			refreshed = append(refreshed, part)
			continue
		}

		if info.Size() != part.Size || !info.ModTime().Equal(part.ModTime) {
			drifted = true
			part.Size = info.Size()
			part.ModTime = info.ModTime()
		}
		refreshed = append(refreshed, part)
	}

	return refreshed, drifted
}

// performAssembly is the task run by the assembly worker pool. It
// claims one queued item, concatenates and extracts it, and registers
// the produced artifacts for probing.
func (service *Service) performAssembly(w worker.Worker) (bool, error) {
	record, ok := service.store.ClaimItem(item.Assembling)
	if !ok {
		return false, nil
	}

	ctx, cancel := context.WithCancel(service.runCtx)
	service.assembleCancels.Store(record.ID, cancel)
	defer func() {
		cancel()
		service.assembleCancels.Delete(record.ID)
	}()

	log.Emit(logger.INFO, "Assembling %s from %d part(s)\n", record, len(record.Parts))
	outputs, err := service.codec.Assemble(ctx, assemble.Request{
		Parts:     record.PartPaths(),
		BaseName:  filepath.Base(record.Key),
		OutputDir: filepath.Join(service.config.OutputPath, filepath.Base(record.Key)),
		OnExtracting: func() {
			if transitionErr := service.store.TransitionItem(record.ID, item.Assembling, item.Extracting); transitionErr == nil {
				service.eventBus.Dispatch(event.ITEM_UPDATE, record.ID)
			}
		},
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Cancel already marked the item; temporary output has
			// been discarded by the codec.
			log.Emit(logger.STOP, "Assembly of %s abandoned after cancellation\n", record)
			return true, nil
		}

		service.failItem(record.ID, item.ExtractionError, err)
		return true, nil
	}

	// Every artifact record must exist before the item enters Probing;
	// a probe worker may claim an artifact the moment it is created, and
	// its completion check must never see a Probing item whose artifact
	// set is still partially registered.
	for _, output := range outputs {
		if _, err := service.store.CreateArtifact(record.ID, output.Path, output.Size); err != nil {
			log.Emit(logger.WARNING, "Failed to record artifact %s: %v\n", output.Path, err)
		}
	}

	if transitionErr := service.store.TransitionItem(record.ID, item.Extracting, item.Probing); transitionErr != nil {
		// Raced with a cancel that landed between extraction finishing
		// and publication of the stage change.
		service.store.RemoveArtifactsForItem(record.ID)
		return true, nil
	}

	log.Emit(logger.SUCCESS, "Extracted %s into %d artifact(s)\n", record, len(outputs))
	service.eventBus.Dispatch(event.ITEM_UPDATE, record.ID)
	service.eventBus.Dispatch(event.ARTIFACT_PROBABLE, record.ID)
	service.maybeCompleteItem(record.ID)

	return true, nil
}

// performProbe is the task run by the probe worker pool. It claims one
// extracted artifact and classifies/probes it. Probe failure is
// terminal only for the artifact, never for its parent item.
func (service *Service) performProbe(w worker.Worker) (bool, error) {
	artifact, ok := service.store.ClaimArtifact()
	if !ok {
		return false, nil
	}

	ctx, cancel := context.WithCancel(service.runCtx)
	service.probeCancels.Store(artifact.ID, cancel)
	defer func() {
		cancel()
		service.probeCancels.Delete(artifact.ID)
	}()

	media, err := service.prober.Probe(ctx, artifact.Path)
	if err != nil {
		troubleType := item.ProbeError
		if errors.Is(err, context.Canceled) {
			troubleType = item.Cancelled
		}

		log.Emit(logger.WARNING, "Probe of %s failed: %v\n", artifact, err)
		service.store.UpdateArtifact(artifact.ID, func(rec *item.Artifact) {
			rec.Stage = item.ArtifactFailed
			trouble := item.NewTrouble(troubleType, err)
			rec.Trouble = &trouble
		})
	} else {
		service.store.UpdateArtifact(artifact.ID, func(rec *item.Artifact) {
			rec.Stage = item.Probed
			rec.Media = media
		})
	}

	service.eventBus.Dispatch(event.ARTIFACT_UPDATE, artifact.ID)
	service.maybeCompleteItem(artifact.ItemID)

	return true, nil
}

// maybeCompleteItem promotes a Probing item to Ready once every one of
// its artifacts has reached a terminal stage. Items whose assembly
// produced no artifacts complete immediately.
func (service *Service) maybeCompleteItem(itemID uuid.UUID) {
	record, ok := service.store.Item(itemID)
	if !ok || record.Stage != item.Probing {
		return
	}

	for _, artifact := range service.store.ArtifactsForItem(itemID) {
		if !artifact.Terminal() {
			return
		}
	}

	if err := service.store.TransitionItem(itemID, item.Probing, item.Ready); err == nil {
		log.Emit(logger.SUCCESS, "Item %s is ready\n", record)
		service.eventBus.Dispatch(event.ITEM_COMPLETE, itemID)
	}
}

func (service *Service) failItem(itemID uuid.UUID, troubleType item.TroubleType, cause error) {
	service.gate.Forget(itemID)
	err := service.store.UpdateItem(itemID, func(rec *item.Item) {
		rec.Stage = item.Failed
		rec.StageEntered = time.Now()
		trouble := item.NewTrouble(troubleType, cause)
		rec.Trouble = &trouble
	})
	if err != nil {
		return
	}

	record, _ := service.store.Item(itemID)
	log.Emit(logger.ERROR, "Item %s failed (%s): %v\n", record, troubleType, cause)
	service.eventBus.Dispatch(event.ITEM_UPDATE, itemID)
}
