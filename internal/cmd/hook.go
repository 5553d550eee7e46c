package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/parishlabs/parish/internal/exitcode"
	"github.com/parishlabs/parish/internal/hook"
	"github.com/parishlabs/parish/internal/style"
)

var hookCmd = &cobra.Command{
	Use:     "hook",
	GroupID: GroupWork,
	Short:   "Manage an agent's durable work queue",
	Long: `Manage an agent's hook: the durable per-agent work queue.

Work on the hook survives session restarts, crashes, and handoffs.
Assistant hook scripts call 'parish hook check' on session start to pick
up pending work.`,
	RunE: requireSubcommand,
}

var (
	hookPriority string
	hookSource   string
	hookType     string
	hookTTL      time.Duration
	hookJSON     bool
)

var hookPushCmd = &cobra.Command{
	Use:   "push <agent-id|issue-ref> <text>",
	Short: "Queue work on an agent's hook",
	Long: `Queue a work item on an agent's hook.

The agent does not need to be running; the item waits until the next
check. Priority orders the queue: urgent > high > normal > low.

Examples:
  parish hook push MIN-42 "Address the review feedback"
  parish hook push agent-min-42 "Hotfix prod" --priority urgent --ttl 2h`,
	Args: cobra.ExactArgs(2),
	RunE: runHookPush,
}

var hookCheckCmd = &cobra.Command{
	Use:   "check <agent-id|issue-ref>",
	Short: "Show pending work, absorbing the mailbox",
	Long: `Show pending hook items sorted by priority then arrival.

Mailbox files are absorbed into the durable queue on every check, and
expired items are dropped. Exits 0 with work pending, ` + fmt.Sprint(exitcode.ErrPrecondition) + ` when empty.`,
	Args: cobra.ExactArgs(1),
	RunE: runHookCheck,
}

var hookPopCmd = &cobra.Command{
	Use:   "pop <agent-id|issue-ref> <item-id>",
	Short: "Remove a completed item from the hook",
	Args:  cobra.ExactArgs(2),
	RunE:  runHookPop,
}

var hookClearCmd = &cobra.Command{
	Use:   "clear <agent-id|issue-ref>",
	Short: "Empty an agent's hook",
	Args:  cobra.ExactArgs(1),
	RunE:  runHookClear,
}

var hookReorderCmd = &cobra.Command{
	Use:   "reorder <agent-id|issue-ref> <item-id>...",
	Short: "Reorder the hook queue",
	Long: `Replace the queue order with the given item ids.

The id list must be a permutation of the current queue; anything else is
rejected so a stale listing cannot silently drop work.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runHookReorder,
}

func init() {
	hookPushCmd.Flags().StringVar(&hookPriority, "priority", "", "Item priority: urgent, high, normal, low")
	hookPushCmd.Flags().StringVar(&hookSource, "source", "cli", "Who queued the item")
	hookPushCmd.Flags().StringVar(&hookType, "type", "task", "Item type: task, message, notification")
	hookPushCmd.Flags().DurationVar(&hookTTL, "ttl", 0, "Expire the item after this duration")
	hookCheckCmd.Flags().BoolVar(&hookJSON, "json", false, "Output as JSON")

	hookCmd.AddCommand(hookPushCmd, hookCheckCmd, hookPopCmd, hookClearCmd, hookReorderCmd)
	rootCmd.AddCommand(hookCmd)
}

func runHookPush(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	id := resolveAgentID(args[0])
	item := hook.Item{
		Type:     hookType,
		Priority: hookPriority,
		Source:   hookSource,
		Payload:  map[string]string{"message": args[1]},
	}
	if hookTTL > 0 {
		expires := time.Now().Add(hookTTL)
		item.ExpiresAt = &expires
	}
	pushed, err := a.hooks.Push(id, item)
	if err != nil {
		return coded(err)
	}
	fmt.Printf("%s Queued %s on %s (%s)\n", style.Good.Render("✓"), pushed.ID, id, pushed.Priority)
	return nil
}

func runHookCheck(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	id := resolveAgentID(args[0])
	result, err := a.hooks.Check(id)
	if err != nil {
		return coded(err)
	}

	if hookJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else if !result.HasWork {
		fmt.Println(style.Dim.Render("Hook is empty."))
	} else {
		fmt.Printf("%d pending (%d urgent):\n", len(result.Items), result.UrgentCount)
		for _, it := range result.Items {
			fmt.Printf("  %s [%s] %s %s\n",
				style.Dim.Render(it.ID), it.Priority, it.Type, it.Payload["message"])
		}
	}
	if !result.HasWork {
		return exitcode.New(exitcode.ErrPrecondition, "")
	}
	return nil
}

func runHookPop(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	id := resolveAgentID(args[0])
	found, err := a.hooks.Pop(id, args[1])
	if err != nil {
		return coded(err)
	}
	if !found {
		return exitcode.Newf(exitcode.ErrNotFound, "item %s not on %s's hook", args[1], id)
	}
	fmt.Printf("%s Popped %s\n", style.Good.Render("✓"), args[1])
	return nil
}

func runHookClear(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	id := resolveAgentID(args[0])
	if err := a.hooks.Clear(id); err != nil {
		return coded(err)
	}
	fmt.Printf("%s Hook cleared for %s\n", style.Good.Render("✓"), id)
	return nil
}

func runHookReorder(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	id := resolveAgentID(args[0])
	if err := a.hooks.Reorder(id, args[1:]); err != nil {
		if strings.Contains(err.Error(), "mismatch") {
			return exitcode.Wrap(exitcode.ErrPrecondition, "reorder rejected", err)
		}
		return coded(err)
	}
	fmt.Printf("%s Reordered %d items\n", style.Good.Render("✓"), len(args)-1)
	return nil
}
