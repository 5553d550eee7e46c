package cmd

import (
	"context"
	"fmt"
	"io"
	"log"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/parishlabs/parish/internal/agent"
	"github.com/parishlabs/parish/internal/config"
	"github.com/parishlabs/parish/internal/heartbeat"
	"github.com/parishlabs/parish/internal/style"
	tuistatus "github.com/parishlabs/parish/internal/tui/status"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: GroupDiag,
	Short:   "Show the fleet at a glance",
	Long: `Show every agent and specialist with session liveness, heartbeat
freshness, and queue depth.

With --watch, opens a live dashboard that refreshes itself and can peek
into agent terminals.`,
	RunE: runStatus,
}

var statusWatch bool

func init() {
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "Live dashboard")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	dcfg, err := config.LoadDeaconConfig(a.root)
	if err != nil {
		return err
	}

	fetch := func() ([]tuistatus.Item, error) {
		return fleetSnapshot(a, dcfg)
	}

	if statusWatch {
		// Heartbeat writes refresh the dashboard between poll ticks.
		events := make(chan struct{}, 1)
		w := heartbeat.NewWatcher(a.root, func(string) {
			select {
			case events <- struct{}{}:
			default:
			}
		}, log.New(io.Discard, "", 0))
		go w.Start(context.Background())
		defer w.Stop()

		model := tuistatus.New(fetch, a.tmux.CapturePane, tuistatus.WithEvents(events))
		_, err := tea.NewProgram(model, tea.WithAltScreen()).Run()
		return err
	}

	items, err := fetch()
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println(style.Dim.Render("No agents."))
		return nil
	}
	tbl := style.NewTable(
		style.Column{Name: "AGENT"},
		style.Column{Name: "ISSUE"},
		style.Column{Name: "STATUS", Width: 10},
		style.Column{Name: "HEARTBEAT", Width: 10},
		style.Column{Name: "MODEL"},
		style.Column{Name: "QUEUE", Width: 6, Align: style.AlignRight},
	)
	for _, it := range items {
		queue := ""
		if it.Specialist {
			queue = fmt.Sprintf("%d", it.QueueDepth)
		}
		tbl.AddRow(it.ID, it.IssueID,
			style.AgentStatus(it.Status),
			style.HeartbeatStatus(it.Heartbeat),
			it.Model, queue)
	}
	fmt.Print(tbl.Render())
	return nil
}

// fleetSnapshot joins durable state, session liveness, heartbeat
// freshness, and specialist queue depth into dashboard rows.
func fleetSnapshot(a *app, dcfg config.DeaconConfig) ([]tuistatus.Item, error) {
	infos, err := a.sup.List()
	if err != nil {
		return nil, err
	}
	coord := a.coordinator()

	items := make([]tuistatus.Item, 0, len(infos))
	for _, info := range infos {
		id := info.State.ID
		item := tuistatus.Item{
			ID:        id,
			IssueID:   info.State.IssueID,
			Status:    info.State.Status,
			Model:     info.State.Model,
			Heartbeat: heartbeat.Status(a.root, id, info.TmuxActive, dcfg.PingTimeout()),
		}
		if agent.IsSpecialist(id) {
			item.Specialist = true
			if role, err := agent.SpecialistRole(id); err == nil {
				if stats, err := coord.Stats(role); err == nil {
					item.QueueDepth = stats.Depth
				}
			}
		}
		items = append(items, item)
	}
	return items, nil
}
