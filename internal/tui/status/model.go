// Package status implements the live fleet dashboard behind
// `parish status --watch`: one row per agent or specialist, refreshed on
// a poll, with terminal peeking through tmux capture.
package status

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// pollInterval is how often the dashboard refreshes itself.
const pollInterval = 5 * time.Second

// peekLines is how much scrollback a peek captures.
const peekLines = 100

// Item is one row of the dashboard.
type Item struct {
	ID         string
	IssueID    string
	Status     string
	Heartbeat  string
	Model      string
	Specialist bool
	QueueDepth int
}

// Fetcher loads the current fleet snapshot.
type Fetcher func() ([]Item, error)

// Capturer grabs an agent's terminal content for peeking.
type Capturer func(session string, lines int) (string, error)

// Model is the bubbletea model for the status dashboard.
type Model struct {
	width  int
	height int

	items    []Item
	selected int

	fetch   Fetcher
	capture Capturer
	events  <-chan struct{}

	keys     KeyMap
	help     help.Model
	showHelp bool
	err      error
	status   string

	peeking      bool
	peekSession  string
	peekViewport viewport.Model
}

// Option configures the model.
type Option func(*Model)

// WithEvents makes the dashboard refresh whenever the channel fires, on
// top of the poll ticker. Closing the channel stops the event refreshes.
func WithEvents(ch <-chan struct{}) Option {
	return func(m *Model) { m.events = ch }
}

// New creates a dashboard model over the given data sources.
func New(fetch Fetcher, capture Capturer, opts ...Option) *Model {
	h := help.New()
	h.ShowAll = false
	m := &Model{
		fetch:        fetch,
		capture:      capture,
		keys:         DefaultKeyMap(),
		help:         h,
		peekViewport: viewport.New(0, 0),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Init starts the first fetch, the poll ticker, and the event listener.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.fetchItems(),
		m.startPolling(),
		m.waitEvent(),
		tea.SetWindowTitle("parish status"),
	)
}

type itemsMsg struct {
	items []Item
	err   error
}

type tickMsg time.Time

type eventMsg struct{}

type peekMsg struct {
	session string
	content string
	err     error
}

func (m *Model) fetchItems() tea.Cmd {
	return func() tea.Msg {
		items, err := m.fetch()
		return itemsMsg{items: items, err: err}
	}
}

func (m *Model) startPolling() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitEvent blocks on the next external refresh signal (a heartbeat file
// write). Nil when no event source is wired.
func (m *Model) waitEvent() tea.Cmd {
	if m.events == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-m.events; !ok {
			return nil
		}
		return eventMsg{}
	}
}

func (m *Model) peekTerminal(session string) tea.Cmd {
	return func() tea.Msg {
		content, err := m.capture(session, peekLines)
		return peekMsg{session: session, content: content, err: err}
	}
}

// Update handles messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.peekViewport.Width = msg.Width - 4
		m.peekViewport.Height = msg.Height - 6

	case tea.KeyMsg:
		if m.peeking {
			switch {
			case key.Matches(msg, m.keys.Up):
				m.peekViewport.LineUp(1)
			case key.Matches(msg, m.keys.Down):
				m.peekViewport.LineDown(1)
			case key.Matches(msg, m.keys.PageUp):
				m.peekViewport.HalfViewUp()
			case key.Matches(msg, m.keys.PageDown):
				m.peekViewport.HalfViewDown()
			default:
				m.peeking = false
				m.peekSession = ""
			}
			return m, nil
		}

		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit

		case key.Matches(msg, m.keys.Help):
			m.showHelp = !m.showHelp

		case key.Matches(msg, m.keys.Up):
			if m.selected > 0 {
				m.selected--
			}

		case key.Matches(msg, m.keys.Down):
			if m.selected < len(m.items)-1 {
				m.selected++
			}

		case key.Matches(msg, m.keys.Peek):
			if len(m.items) > 0 && m.selected < len(m.items) {
				id := m.items[m.selected].ID
				m.status = fmt.Sprintf("Peeking at %s...", id)
				cmds = append(cmds, m.peekTerminal(id))
			}

		case key.Matches(msg, m.keys.Refresh):
			m.status = "Refreshing..."
			cmds = append(cmds, m.fetchItems())
		}

	case itemsMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.err = nil
			m.items = msg.items
			if m.selected >= len(m.items) {
				m.selected = max(0, len(m.items)-1)
			}
			m.status = fmt.Sprintf("Updated: %d agents", len(m.items))
		}

	case tickMsg:
		cmds = append(cmds, m.fetchItems(), m.startPolling())

	case eventMsg:
		cmds = append(cmds, m.fetchItems(), m.waitEvent())

	case peekMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("Peek failed: %v", msg.err)
		} else {
			m.peeking = true
			m.peekSession = msg.session
			m.peekViewport.Width = m.width - 4
			m.peekViewport.Height = m.height - 6
			m.peekViewport.SetContent(msg.content)
			m.peekViewport.GotoBottom()
			m.status = fmt.Sprintf("Peeking: %s (↑/↓ scroll, any other key to close)", msg.session)
		}
	}

	return m, tea.Batch(cmds...)
}

// View renders the TUI.
func (m *Model) View() string {
	return m.renderView()
}
