package status

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/parishlabs/parish/internal/style"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			MarginBottom(1)

	selectedStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Bold(true)

	statusLineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242")).
			Italic(true)

	peekBorderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("39"))
)

func (m *Model) renderView() string {
	if m.peeking {
		return m.renderPeek()
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Parish Fleet"))
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(style.ErrText.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n\n")
	}

	if len(m.items) == 0 {
		b.WriteString(style.Dim.Render("  No agents."))
		b.WriteString("\n")
	} else {
		b.WriteString(m.renderTable())
	}

	b.WriteString("\n")
	if m.status != "" {
		b.WriteString(statusLineStyle.Render(m.status))
		b.WriteString("\n")
	}
	m.help.ShowAll = m.showHelp
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m *Model) renderTable() string {
	tbl := style.NewTable(
		style.Column{Name: "", Width: 2},
		style.Column{Name: "AGENT", Width: 24},
		style.Column{Name: "ISSUE", Width: 12},
		style.Column{Name: "STATUS", Width: 10},
		style.Column{Name: "HEARTBEAT", Width: 10},
		style.Column{Name: "MODEL", Width: 10},
		style.Column{Name: "QUEUE", Width: 6, Align: style.AlignRight},
	)
	for i, it := range m.items {
		marker := " "
		id := it.ID
		if i == m.selected {
			marker = ">"
			id = selectedStyle.Render(id)
		}
		queue := ""
		if it.Specialist {
			queue = fmt.Sprintf("%d", it.QueueDepth)
		}
		tbl.AddRow(marker, id, it.IssueID,
			style.AgentStatus(it.Status),
			style.HeartbeatStatus(it.Heartbeat),
			it.Model, queue)
	}
	return tbl.Render()
}

func (m *Model) renderPeek() string {
	header := titleStyle.Render("Terminal: " + m.peekSession)
	body := peekBorderStyle.Render(m.peekViewport.View())
	footer := statusLineStyle.Render(m.status)
	return lipgloss.JoinVertical(lipgloss.Left, header, body, footer)
}
