package dashboard

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"landfall/internal/state"
)

// RunPlain renders pipeline state as periodic tables on the given
// writer instead of the interactive dashboard. Used when stdout is not
// a terminal (piped logs, service units) or per operator request.
// Blocks until the context is cancelled.
func RunPlain(ctx context.Context, controller Controller, out io.Writer) error {
	revisions := controller.Subscribe(ctx)
	renderPlain(out, controller.Snapshot())

	// Revisions are already coalesced by the store; the extra delay
	// batches rapid successive revisions into one reprint.
	const settle = 500 * time.Millisecond

	for {
		select {
		case _, ok := <-revisions:
			if !ok {
				return nil
			}

			select {
			case <-time.After(settle):
			case <-ctx.Done():
				return nil
			}
			renderPlain(out, controller.Snapshot())
		case <-ctx.Done():
			return nil
		}
	}
}

func renderPlain(out io.Writer, snapshot state.Snapshot) {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"ITEM", "STAGE", "PARTS", "SIZE", "INFO"})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})

	for _, record := range snapshot.Items {
		info := ""
		if record.Trouble != nil {
			info = fmt.Sprintf("%s: %v", record.Trouble.Type(), record.Trouble.Cause())
		} else {
			for _, artifact := range snapshot.ArtifactsFor(record.ID) {
				if artifact.Media != nil {
					info = fmt.Sprintf("%s %s", filepath.Base(artifact.Path), artifact.Media.Class)
					if artifact.Media.DurationSeconds > 0 {
						info += " " + formatDuration(artifact.Media.DurationSeconds)
					}
					break
				}
			}
		}

		tw.AppendRow(table.Row{
			shortKey(record.Key),
			record.Stage.String(),
			len(record.Parts),
			formatSize(record.TotalSize()),
			info,
		})
	}

	fmt.Fprintf(out, "rev %d · %d item(s)\n%s\n", snapshot.Revision, len(snapshot.Items), tw.Render())
}
