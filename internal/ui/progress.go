// Package ui renders live pull progress with Bubble Tea.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	pulls "pulldiag/internal/progress"
)

const statusWidth = 10

type progressModel struct {
	title   string
	events  <-chan pulls.Event
	spinner spinner.Model
	prog    progress.Model
	items   []pullItem
	index   map[itemKey]int
	width   int
	done    bool

	merged int
	failed int
}

type itemKey struct {
	resource string
	server   string
}

type pullItem struct {
	key         itemKey
	status      string
	fraction    float64
	diagnostics int
	err         string
}

type eventMsg pulls.Event
type doneMsg struct{}

// NewProgressModel returns a Bubble Tea model that lists every (resource,
// server) pull seen on events. The program quits when events is closed or
// the user presses q.
func NewProgressModel(title string, events <-chan pulls.Event) tea.Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 76

	return &progressModel{
		title:   title,
		events:  events,
		spinner: sp,
		prog:    prog,
		index:   make(map[itemKey]int),
		width:   80,
	}
}

func (m *progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForEvent())
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		cmd := m.applyEvent(pulls.Event(msg))
		return m, tea.Batch(cmd, m.listenForEvent())
	case doneMsg:
		m.done = true
		return m, tea.Quit
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.done = true
			return m, tea.Quit
		}
		return m, nil
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
			m.prog.Width = msg.Width - 4
		}
		return m, nil
	case progress.FrameMsg:
		progressModel, cmd := m.prog.Update(msg)
		m.prog = progressModel.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m *progressModel) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	header := fmt.Sprintf("%s (%d merged, %d failed)", m.title, m.merged, m.failed)
	if m.done {
		header = "done: " + header
	} else {
		header = m.spinner.View() + " " + header
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n\n")
	if len(m.items) == 0 {
		b.WriteString("  waiting for pulls, press q to quit\n")
		return b.String()
	}

	nameWidth := max(m.width-statusWidth-4, 20)
	for _, item := range m.items {
		name := item.key.resource + " [" + item.key.server + "]"
		switch {
		case item.err != "":
			name += ": " + item.err
		case item.status == "done":
			name += fmt.Sprintf(": %d diagnostics", item.diagnostics)
		}
		status := styleStatus(item.status).Render(fmt.Sprintf("%*s", statusWidth, item.status))
		b.WriteString("  " + status + " " + truncate(name, nameWidth) + "\n")
	}

	b.WriteString("\n")
	if m.done {
		b.WriteString(m.prog.ViewAs(1.0))
	} else {
		b.WriteString(m.prog.View())
	}
	b.WriteString("\n")
	return b.String()
}

func (m *progressModel) listenForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return doneMsg{}
		}
		return eventMsg(ev)
	}
}

func (m *progressModel) applyEvent(ev pulls.Event) tea.Cmd {
	key := itemKey{resource: string(ev.Resource), server: ev.Server}
	idx, ok := m.index[key]
	if !ok {
		idx = len(m.items)
		m.items = append(m.items, pullItem{key: key})
		m.index[key] = idx
	}
	item := &m.items[idx]
	label, fraction := statusLabel(ev.Stage, ev.Status)
	if label == "" {
		return nil
	}
	item.status, item.fraction = label, fraction
	item.err = ""
	switch label {
	case "done":
		item.diagnostics = ev.Diagnostics
		m.merged++
	case "error":
		m.failed++
		if ev.Err != nil {
			item.err = ev.Err.Error()
		}
	}

	total := 0.0
	for _, it := range m.items {
		total += it.fraction
	}
	return m.prog.SetPercent(total / float64(len(m.items)))
}

// statusLabel maps a progress event to the label shown in the list and the
// share of the item's work that is complete.
func statusLabel(stage pulls.Stage, status pulls.Status) (string, float64) {
	switch status {
	case pulls.StatusQueued:
		return "queued", 0
	case pulls.StatusError:
		return "error", 1
	case pulls.StatusSkipped:
		return "skipped", 1
	case pulls.StatusWorking:
		if stage == pulls.StageRequest {
			return "pulling", 0.2
		}
		return "", 0
	case pulls.StatusDone:
		switch stage {
		case pulls.StageRequest:
			return "parsing", 0.6
		case pulls.StageParse:
			return "merging", 0.8
		default:
			return "done", 1
		}
	default:
		return "", 0
	}
}

func styleStatus(status string) lipgloss.Style {
	switch status {
	case "done":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	case "error":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	case "pulling", "parsing", "merging":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	}
}

func truncate(value string, width int) string {
	if width <= 0 {
		return value
	}
	if runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width, "...")
}
