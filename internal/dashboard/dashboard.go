// Terminal dashboard for the ingestion pipeline. Renders live pipeline
// state and feeds operator commands (retry, clear, cancel, quit) back
// into the pipeline's control intake. Redraws are driven by the state
// stores coalesced revision subscription; the dashboard never polls
// pipeline internals.
package dashboard

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"landfall/internal/state"
)

// Controller is the slice of the pipeline the dashboard talks to.
type Controller interface {
	Snapshot() state.Snapshot
	Subscribe(ctx context.Context) <-chan uint64
	Retry(itemID uuid.UUID) error
	Clear(itemID uuid.UUID) error
	Cancel(itemID uuid.UUID) error
}

// Run starts the interactive dashboard and blocks until the operator
// quits or the context is cancelled.
func Run(ctx context.Context, controller Controller) error {
	program := tea.NewProgram(newModel(ctx, controller), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return err
	}

	return nil
}
