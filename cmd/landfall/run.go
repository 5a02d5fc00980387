package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/mattn/go-isatty"

	"landfall/internal/assemble"
	"landfall/internal/config"
	"landfall/internal/dashboard"
	"landfall/internal/event"
	"landfall/internal/pipeline"
	"landfall/internal/probe"
	"landfall/pkg/logger"
)

func run(ctx context.Context, cfg *config.Config, plain, verbose bool) error {
	plainMode := plain || !stdoutIsTerminal()

	switch {
	case verbose:
		logger.SetMinLoggingLevel(logger.VERBOSE.Level())
	case !plainMode:
		// The interactive dashboard owns the terminal; keep the
		// colored logger from scribbling over the alt screen.
		logger.SetMinLoggingLevel(logger.FATAL.Level())
	}

	eventBus := event.New()
	service, err := pipeline.New(cfg.PipelineConfig(), eventBus, assemble.NewArchiveCodec(), probe.NewFfprobeProber())
	if err != nil {
		return err
	}

	// One pipeline instance per output root: two instances publishing
	// into the same directory would race each others atomic renames.
	lock := flock.New(filepath.Join(cfg.OutputPath, ".landfall.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire instance lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another landfall instance is already running against '%s'", cfg.OutputPath)
	}
	defer lock.Unlock()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	pipelineDone := make(chan error, 1)
	go func() {
		pipelineDone <- service.Run(runCtx)
		cancelRun()
	}()

	var uiErr error
	if plainMode {
		uiErr = dashboard.RunPlain(runCtx, service, os.Stdout)
	} else {
		uiErr = dashboard.Run(runCtx, service)
	}

	// Operator quit (or pipeline failure) has cancelled the run
	// context; wait for the pipeline to wind down its workers.
	cancelRun()
	if pipelineErr := <-pipelineDone; pipelineErr != nil {
		return pipelineErr
	}

	return uiErr
}

func stdoutIsTerminal() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}
