package dashboard

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"landfall/internal/item"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("62")).Padding(0, 1)
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("244"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Background(lipgloss.Color("237"))
	readyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	inflightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("229")).Italic(true)
	detailStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
)

func (m model) View() string {
	var view strings.Builder

	view.WriteString(titleStyle.Render("landfall"))
	view.WriteString(dimStyle.Render(fmt.Sprintf("  rev %d · %d item(s)", m.snapshot.Revision, len(m.snapshot.Items))))
	view.WriteString("\n\n")

	if len(m.snapshot.Items) == 0 {
		view.WriteString(dimStyle.Render("waiting for files to land...\n"))
	} else {
		view.WriteString(m.renderItemTable())
	}

	if selected, ok := m.selectedItem(); ok {
		view.WriteString("\n")
		view.WriteString(m.renderDetail(selected))
	}

	view.WriteString("\n")
	if m.statusLine != "" {
		view.WriteString(statusStyle.Render(m.statusLine))
		view.WriteString("\n")
	}
	view.WriteString(dimStyle.Render("↑/↓ select · r retry · c clear · x cancel · q quit"))
	view.WriteString("\n")

	return view.String()
}

func (m model) renderItemTable() string {
	var table strings.Builder
	table.WriteString(headerStyle.Render(fmt.Sprintf("  %-30s %-13s %-7s %-10s %s", "ITEM", "STAGE", "PARTS", "SIZE", "AGE")))
	table.WriteString("\n")

	for i, record := range m.snapshot.Items {
		marker := "  "
		if i == m.cursor {
			marker = "> "
		}

		row := fmt.Sprintf("%s%-30s %-13s %-7d %-10s %s",
			marker,
			truncate(shortKey(record.Key), 30),
			m.renderStage(record),
			len(record.Parts),
			formatSize(record.TotalSize()),
			formatAge(time.Since(record.FirstSeen)),
		)

		if i == m.cursor {
			row = selectedStyle.Render(row)
		}
		table.WriteString(row)
		table.WriteString("\n")
	}

	return table.String()
}

func (m model) renderStage(record item.Item) string {
	switch record.Stage {
	case item.Ready:
		return readyStyle.Render(record.Stage.String())
	case item.Failed:
		return failedStyle.Render(record.Stage.String())
	default:
		return inflightStyle.Render(m.spin.View() + record.Stage.String())
	}
}

// renderDetail shows the selected items artifacts (with class and
// media metadata) or, for a failed item, its error kind and cause.
func (m model) renderDetail(record item.Item) string {
	var detail strings.Builder

	detail.WriteString(fmt.Sprintf("%s · %s\n", filepath.Base(record.Key), record.Stage))
	if record.Trouble != nil {
		detail.WriteString(failedStyle.Render(fmt.Sprintf("%s: %v", record.Trouble.Type(), record.Trouble.Cause())))
		detail.WriteString("\n")
	}

	for _, part := range record.Parts {
		detail.WriteString(dimStyle.Render(fmt.Sprintf("part %d  %s  %s", part.Sequence, filepath.Base(part.Path), formatSize(part.Size))))
		detail.WriteString("\n")
	}

	artifacts := m.snapshot.ArtifactsFor(record.ID)
	for _, artifact := range artifacts {
		line := fmt.Sprintf("→ %s  %s  %s", filepath.Base(artifact.Path), artifact.Stage, formatSize(artifact.Size))
		if artifact.Media != nil {
			line += fmt.Sprintf("  [%s", artifact.Media.Class)
			if artifact.Media.DurationSeconds > 0 {
				line += " · " + formatDuration(artifact.Media.DurationSeconds)
			}
			if artifact.Media.Container != "" {
				line += " · " + artifact.Media.Container
			}
			if len(artifact.Media.Codecs) > 0 {
				line += " · " + strings.Join(artifact.Media.Codecs, ",")
			}
			line += "]"
		}
		if artifact.Trouble != nil {
			line += "  " + failedStyle.Render(fmt.Sprintf("%s: %v", artifact.Trouble.Type(), artifact.Trouble.Cause()))
		}
		detail.WriteString(line)
		detail.WriteString("\n")
	}

	return detailStyle.Render(strings.TrimRight(detail.String(), "\n"))
}

func shortKey(key string) string {
	return filepath.Base(key)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 1 {
		return s[:max]
	}

	return s[:max-1] + "…"
}

func formatSize(size int64) string {
	value := float64(size)
	for _, unit := range []string{"B", "KiB", "MiB", "GiB", "TiB"} {
		if value < 1024.0 {
			return fmt.Sprintf("%.1f %s", value, unit)
		}
		value /= 1024.0
	}

	return fmt.Sprintf("%.1f PiB", value)
}

func formatDuration(seconds float64) string {
	duration := time.Duration(seconds * float64(time.Second)).Round(time.Second)
	return duration.String()
}

func formatAge(age time.Duration) string {
	if age < time.Minute {
		return fmt.Sprintf("%ds", int(age.Seconds()))
	}
	if age < time.Hour {
		return fmt.Sprintf("%dm", int(age.Minutes()))
	}

	return fmt.Sprintf("%dh%dm", int(age.Hours()), int(age.Minutes())%60)
}
