package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/parishlabs/parish/internal/constants"
	"github.com/parishlabs/parish/internal/exitcode"
	"github.com/parishlabs/parish/internal/specialist"
	"github.com/parishlabs/parish/internal/style"
)

var specialistCmd = &cobra.Command{
	Use:     "specialist",
	Aliases: []string{"spec"},
	GroupID: GroupSpecialists,
	Short:   "Manage specialist sessions and their queues",
	Long: `Manage the long-lived specialist sessions: review, test, merge, and
planning agents. Each role has a single session and a durable task queue;
tasks queued while the specialist is busy are delivered in priority order
when it goes idle.`,
	RunE: requireSubcommand,
}

var (
	taskIssue     string
	taskBranch    string
	taskWorkspace string
	taskPR        string
	taskPriority  string
	statsJSON     bool
)

var specialistInitCmd = &cobra.Command{
	Use:   "init <role>",
	Short: "Start (or resume) a specialist session",
	Long: `Start a specialist session, resuming the stored assistant session when
one exists. Initializing a running specialist is a no-op.

Roles: review, test, merge, planning.`,
	Args: cobra.ExactArgs(1),
	RunE: runSpecialistInit,
}

var specialistWakeCmd = &cobra.Command{
	Use:   "wake <role> <task>",
	Short: "Wake a specialist with a task, queueing if busy",
	Long: `Deliver a task to a specialist. An actively working specialist is never
interrupted; the task is queued instead and the command reports that.`,
	Args: cobra.ExactArgs(2),
	RunE: runSpecialistWake,
}

var specialistQueueCmd = &cobra.Command{
	Use:   "queue <role> <task>",
	Short: "Queue a task without waking anyone",
	Args:  cobra.ExactArgs(2),
	RunE:  runSpecialistQueue,
}

var specialistNextCmd = &cobra.Command{
	Use:   "next <role>",
	Short: "Show the task at the head of the queue",
	Args:  cobra.ExactArgs(1),
	RunE:  runSpecialistNext,
}

var specialistCompleteCmd = &cobra.Command{
	Use:   "complete <role> <task-id>",
	Short: "Complete the head task",
	Long: `Mark the head task done and remove it from the queue.

Only the head can be completed; completing out of order is rejected so a
lost race never silently drops someone else's task.`,
	Args: cobra.ExactArgs(2),
	RunE: runSpecialistComplete,
}

var specialistStatsCmd = &cobra.Command{
	Use:   "stats [role]",
	Short: "Show queue statistics",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSpecialistStats,
}

func init() {
	for _, c := range []*cobra.Command{specialistWakeCmd, specialistQueueCmd} {
		c.Flags().StringVar(&taskIssue, "issue", "", "Related issue ref")
		c.Flags().StringVar(&taskBranch, "branch", "", "Branch under review/test/merge")
		c.Flags().StringVar(&taskWorkspace, "workspace", "", "Workspace directory")
		c.Flags().StringVar(&taskPR, "pr", "", "Pull request URL")
		c.Flags().StringVar(&taskPriority, "priority", "", "Priority: urgent, high, normal, low")
	}
	specialistStatsCmd.Flags().BoolVar(&statsJSON, "json", false, "Output as JSON")

	specialistCmd.AddCommand(specialistInitCmd, specialistWakeCmd, specialistQueueCmd,
		specialistNextCmd, specialistCompleteCmd, specialistStatsCmd)
	rootCmd.AddCommand(specialistCmd)
}

// specialistRoles lists the canonical role names for usage messages.
func specialistRoles() []string {
	return constants.SpecialistRoles
}

// normalizeRole accepts both canonical role names and the short forms
// (review, test, merge, planning).
func normalizeRole(arg string) string {
	for _, known := range constants.SpecialistRoles {
		if arg == known {
			return arg
		}
	}
	long := arg + "-agent"
	for _, known := range constants.SpecialistRoles {
		if long == known {
			return long
		}
	}
	return arg
}

func buildTask(body string) specialist.Task {
	return specialist.Task{
		IssueID:  taskIssue,
		Priority: taskPriority,
		Body:     body,
		Source:   "cli",
		Context: specialist.TaskContext{
			Branch:    taskBranch,
			Workspace: taskWorkspace,
			PRURL:     taskPR,
		},
	}
}

func runSpecialistInit(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	role := normalizeRole(args[0])
	if err := a.coordinator().Initialize(role); err != nil {
		return coded(err)
	}
	fmt.Printf("%s Specialist %s running\n", style.Good.Render("✓"), role)
	return nil
}

func runSpecialistWake(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	role := normalizeRole(args[0])
	res, err := a.coordinator().WakeSpecialistOrQueue(role, buildTask(args[1]))
	if err != nil {
		return coded(err)
	}
	if res.Queued {
		fmt.Printf("%s busy; task %s queued\n", role, res.TaskID)
	} else {
		fmt.Printf("%s Woke %s\n", style.Good.Render("✓"), role)
	}
	return nil
}

func runSpecialistQueue(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	role := normalizeRole(args[0])
	task, err := a.coordinator().Enqueue(role, buildTask(args[1]))
	if err != nil {
		return coded(err)
	}
	fmt.Printf("%s Queued %s for %s (%s)\n", style.Good.Render("✓"), task.ID, role, task.Priority)
	return nil
}

func runSpecialistNext(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	role := normalizeRole(args[0])
	task, err := a.coordinator().NextTask(role)
	if err != nil {
		return coded(err)
	}
	fmt.Printf("%s [%s] %s\n", style.Dim.Render(task.ID), task.Priority, task.Body)
	if task.IssueID != "" {
		fmt.Printf("  issue: %s\n", task.IssueID)
	}
	if task.Context.Branch != "" {
		fmt.Printf("  branch: %s\n", task.Context.Branch)
	}
	return nil
}

func runSpecialistComplete(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	role := normalizeRole(args[0])
	if err := a.coordinator().CompleteTask(role, args[1]); err != nil {
		if exitcode.Code(coded(err)) == exitcode.ErrGeneral {
			return exitcode.Wrap(exitcode.ErrPrecondition, "complete rejected", err)
		}
		return coded(err)
	}
	fmt.Printf("%s Completed %s\n", style.Good.Render("✓"), args[1])
	return nil
}

func runSpecialistStats(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	coord := a.coordinator()

	roles := a.tcfg.Roles()
	if len(args) == 1 {
		roles = []string{normalizeRole(args[0])}
	}

	stats := make(map[string]specialist.QueueStats, len(roles))
	for _, role := range roles {
		st, err := coord.Stats(role)
		if err != nil {
			return coded(err)
		}
		stats[role] = st
	}

	if statsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	tbl := style.NewTable(
		style.Column{Name: "ROLE", Width: 16},
		style.Column{Name: "DEPTH", Width: 6, Align: style.AlignRight},
		style.Column{Name: "OLDEST", Width: 10, Align: style.AlignRight},
	)
	for _, role := range roles {
		st := stats[role]
		oldest := ""
		if st.HasWork {
			oldest = (time.Duration(st.OldestAgeMs) * time.Millisecond).Round(time.Second).String()
		}
		tbl.AddRow(role, fmt.Sprintf("%d", st.Depth), oldest)
	}
	fmt.Print(tbl.Render())
	return nil
}
