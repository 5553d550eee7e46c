package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/parishlabs/parish/internal/agent"
	"github.com/parishlabs/parish/internal/exitcode"
	"github.com/parishlabs/parish/internal/style"
	"github.com/parishlabs/parish/internal/supervisor"
)

var agentCmd = &cobra.Command{
	Use:     "agent",
	GroupID: GroupAgents,
	Short:   "Manage work-agent sessions",
	Long: `Manage work-agent sessions.

Each agent is a coding-assistant process in its own tmux session, working
one issue in one workspace. The agent id doubles as the session name:
agent-<issue-ref>.`,
	RunE: requireSubcommand,
}

var (
	spawnWorkspace string
	spawnRuntime   string
	spawnModel     string
	spawnPrompt    string
	spawnPhase     string
	spawnWorkType  string
)

var agentSpawnCmd = &cobra.Command{
	Use:   "spawn <issue-ref>",
	Short: "Spawn an agent for an issue",
	Long: `Spawn a coding-assistant session for an issue.

Any work already queued on the agent's hook is prepended to the startup
prompt, so respawning after a crash resumes pending work.

Examples:
  parish agent spawn MIN-42 --workspace ~/src/minwage
  parish agent spawn MIN-42 -w ~/src/minwage -m opus -p "Fix the login bug"`,
	Args: cobra.ExactArgs(1),
	RunE: runAgentSpawn,
}

var agentMessageCmd = &cobra.Command{
	Use:   "message <agent-id> <text>",
	Short: "Send a message into an agent's session",
	Args:  cobra.ExactArgs(2),
	RunE:  runAgentMessage,
}

var agentStopCmd = &cobra.Command{
	Use:   "stop <agent-id>",
	Short: "Stop an agent's session",
	Long: `Stop an agent's tmux session.

State is preserved; the agent can be respawned for the same issue later.
Stopping an already stopped agent succeeds.`,
	Args: cobra.ExactArgs(1),
	RunE: runAgentStop,
}

var agentListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List agents with session liveness",
	RunE:    runAgentList,
}

var agentRecoverCmd = &cobra.Command{
	Use:   "recover [agent-id]",
	Short: "Recover crashed agents",
	Long: `Respawn agents whose state says running but whose session is gone.

With an agent id, recovers that agent. With no arguments, detects and
recovers every crashed agent.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAgentRecover,
}

var agentApproveCmd = &cobra.Command{
	Use:   "approve <agent-id|issue-ref>",
	Short: "Mark an agent's work approved",
	Long: `Write the approval marker for an agent.

The marker lives beside the agent's state and shows up in listings;
external tooling gates merges on it.`,
	Args: cobra.ExactArgs(1),
	RunE: runAgentApprove,
}

var agentRemoveCmd = &cobra.Command{
	Use:   "remove <agent-id>",
	Short: "Remove a stopped agent's state",
	Long: `Tear down an agent's directory: state, hook, mailbox, heartbeat.

Refuses while the session is live; stop it first.`,
	Args: cobra.ExactArgs(1),
	RunE: runAgentRemove,
}

func init() {
	agentSpawnCmd.Flags().StringVarP(&spawnWorkspace, "workspace", "w", "", "Workspace directory (required)")
	agentSpawnCmd.Flags().StringVarP(&spawnRuntime, "runtime", "r", "", "Assistant runtime (claude, codex, cursor, gemini)")
	agentSpawnCmd.Flags().StringVarP(&spawnModel, "model", "m", "", "Model to run")
	agentSpawnCmd.Flags().StringVarP(&spawnPrompt, "prompt", "p", "", "Initial prompt")
	agentSpawnCmd.Flags().StringVar(&spawnPhase, "phase", "", "Work phase tag")
	agentSpawnCmd.Flags().StringVar(&spawnWorkType, "work-type", "", "Work type tag")
	_ = agentSpawnCmd.MarkFlagRequired("workspace")

	agentCmd.AddCommand(agentSpawnCmd, agentMessageCmd, agentStopCmd,
		agentListCmd, agentRecoverCmd, agentApproveCmd, agentRemoveCmd)
	rootCmd.AddCommand(agentCmd)
}

func runAgentSpawn(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	rt := spawnRuntime
	if rt == "" {
		rt = a.tcfg.DefaultRuntime
	}
	model := spawnModel
	if model == "" {
		model = a.tcfg.DefaultModel
	}
	st, err := a.sup.Spawn(supervisor.SpawnOptions{
		IssueID:   args[0],
		Workspace: spawnWorkspace,
		Runtime:   rt,
		Model:     model,
		Prompt:    spawnPrompt,
		Phase:     spawnPhase,
		WorkType:  spawnWorkType,
	})
	if err != nil {
		return coded(err)
	}
	fmt.Printf("%s Spawned %s (%s, %s)\n", style.Good.Render("✓"), st.ID, st.Runtime, st.Model)
	return nil
}

func runAgentMessage(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	id := resolveAgentID(args[0])
	if err := a.sup.Message(id, args[1]); err != nil {
		return coded(err)
	}
	fmt.Printf("%s Message delivered to %s\n", style.Good.Render("✓"), id)
	return nil
}

func runAgentStop(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	id := resolveAgentID(args[0])
	if err := a.sup.Stop(id); err != nil {
		return coded(err)
	}
	fmt.Printf("%s Stopped %s\n", style.Good.Render("✓"), id)
	return nil
}

func runAgentList(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	infos, err := a.sup.List()
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Println(style.Dim.Render("No agents."))
		return nil
	}

	tbl := style.NewTable(
		style.Column{Name: "AGENT"},
		style.Column{Name: "ISSUE"},
		style.Column{Name: "STATUS", Width: 10},
		style.Column{Name: "SESSION", Width: 8},
		style.Column{Name: "MODEL"},
		style.Column{Name: "APPR", Width: 4},
		style.Column{Name: "AGE", Width: 8, Align: style.AlignRight},
	)
	now := time.Now()
	for _, info := range infos {
		session := style.Dim.Render("dead")
		if info.TmuxActive {
			session = style.Good.Render("live")
		}
		approved := ""
		if a.store.IsApproved(info.State.ID) {
			approved = style.Good.Render("✓")
		}
		age := ""
		if !info.State.StartedAt.IsZero() {
			age = now.Sub(info.State.StartedAt).Round(time.Minute).String()
		}
		tbl.AddRow(info.State.ID, info.State.IssueID,
			style.AgentStatus(info.State.Status), session, info.State.Model, approved, age)
	}
	fmt.Print(tbl.Render())
	return nil
}

func runAgentRecover(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	if len(args) == 1 {
		if err := a.sup.Recover(args[0]); err != nil {
			return coded(err)
		}
		fmt.Printf("%s Recovered %s\n", style.Good.Render("✓"), args[0])
		return nil
	}

	results, err := a.sup.AutoRecoverAll()
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("No crashed agents.")
		return nil
	}
	var failed []string
	for id, rerr := range results {
		if rerr != nil {
			failed = append(failed, id)
			fmt.Printf("%s %s: %v\n", style.Bad.Render("✗"), id, rerr)
		} else {
			fmt.Printf("%s Recovered %s\n", style.Good.Render("✓"), id)
		}
	}
	if len(failed) > 0 {
		return exitcode.Newf(exitcode.ErrGeneral, "failed to recover: %s", strings.Join(failed, ", "))
	}
	return nil
}

func runAgentApprove(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	id := resolveAgentID(args[0])
	if err := a.store.Approve(id); err != nil {
		return coded(err)
	}
	fmt.Printf("%s Approved %s\n", style.Good.Render("✓"), id)
	return nil
}

func runAgentRemove(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	if err := a.sup.Remove(args[0]); err != nil {
		return coded(err)
	}
	fmt.Printf("%s Removed %s\n", style.Good.Render("✓"), args[0])
	return nil
}

// resolveAgentID accepts either a full agent id or a bare issue ref.
func resolveAgentID(arg string) string {
	if agent.IsSpecialist(arg) || strings.HasPrefix(arg, "agent-") {
		return arg
	}
	return agent.IDForIssue(arg)
}
