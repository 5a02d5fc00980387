package dashboard

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"landfall/internal/item"
	"landfall/internal/state"
)

type (
	revisionMsg           uint64
	subscriptionClosedMsg struct{}
)

type model struct {
	controller Controller
	revisions  <-chan uint64

	snapshot     state.Snapshot
	cursor       int
	windowWidth  int
	windowHeight int
	spin         spinner.Model
	keys         keyMap
	statusLine   string
}

func newModel(ctx context.Context, controller Controller) model {
	spin := spinner.New()
	spin.Spinner = spinner.Dot

	return model{
		controller: controller,
		revisions:  controller.Subscribe(ctx),
		snapshot:   controller.Snapshot(),
		spin:       spin,
		keys:       defaultKeyMap(),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.waitForRevision(), m.spin.Tick)
}

// waitForRevision suspends until the store publishes a new coalesced
// revision, then redelivers itself from Update for the next one.
func (m model) waitForRevision() tea.Cmd {
	revisions := m.revisions
	return func() tea.Msg {
		revision, ok := <-revisions
		if !ok {
			return subscriptionClosedMsg{}
		}
		return revisionMsg(revision)
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.windowWidth = msg.Width
		m.windowHeight = msg.Height
		return m, nil

	case revisionMsg:
		m.snapshot = m.controller.Snapshot()
		m.clampCursor()
		return m, m.waitForRevision()

	case subscriptionClosedMsg:
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil

	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.snapshot.Items)-1 {
			m.cursor++
		}
		return m, nil

	case key.Matches(msg, m.keys.Retry):
		return m.issueCommand("retry", m.controller.Retry), nil

	case key.Matches(msg, m.keys.Clear):
		return m.issueCommand("clear", m.controller.Clear), nil

	case key.Matches(msg, m.keys.Cancel):
		return m.issueCommand("cancel", m.controller.Cancel), nil
	}

	return m, nil
}

func (m model) issueCommand(name string, command func(itemID uuid.UUID) error) model {
	selected, ok := m.selectedItem()
	if !ok {
		m.statusLine = "nothing selected"
		return m
	}

	if err := command(selected.ID); err != nil {
		m.statusLine = fmt.Sprintf("%s %s: %v", name, shortKey(selected.Key), err)
	} else {
		m.statusLine = fmt.Sprintf("%s issued for %s", name, shortKey(selected.Key))
	}

	return m
}

func (m *model) clampCursor() {
	if m.cursor >= len(m.snapshot.Items) {
		m.cursor = len(m.snapshot.Items) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m model) selectedItem() (item.Item, bool) {
	if m.cursor < 0 || m.cursor >= len(m.snapshot.Items) {
		return item.Item{}, false
	}

	return m.snapshot.Items[m.cursor], true
}
