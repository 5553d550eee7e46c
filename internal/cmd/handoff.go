package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/parishlabs/parish/internal/handoff"
	"github.com/parishlabs/parish/internal/style"
)

var handoffCmd = &cobra.Command{
	Use:     "handoff <agent-id|issue-ref>",
	GroupID: GroupAgents,
	Short:   "Hand an agent's work to a different model",
	Long: `Hand an agent's work to a different model.

Work agents are killed and respawned with a handoff document capturing
the session tail, branch, and recent commits. Specialists are woken with
the handoff as a task instead; their session survives.

Examples:
  parish handoff MIN-42 --to opus --reason "complexity escalation"
  parish handoff specialist-merge-agent --reason "quota" `,
	Args: cobra.ExactArgs(1),
	RunE: runHandoff,
}

var (
	handoffTo           string
	handoffReason       string
	handoffMode         string
	handoffInstructions string
	handoffIdleTimeout  time.Duration
)

func init() {
	handoffCmd.Flags().StringVar(&handoffTo, "to", "", "Target model (required)")
	handoffCmd.Flags().StringVar(&handoffReason, "reason", "", "Why the handoff happens")
	handoffCmd.Flags().StringVar(&handoffMode, "mode", "", "Force a mode: kill-and-spawn or specialist-wake")
	handoffCmd.Flags().StringVar(&handoffInstructions, "instructions", "", "Extra instructions for the new session")
	handoffCmd.Flags().DurationVar(&handoffIdleTimeout, "idle-timeout", 0, "How long to wait for the session to go idle")
	_ = handoffCmd.MarkFlagRequired("to")

	rootCmd.AddCommand(handoffCmd)
}

func runHandoff(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	m, err := a.handoffManager()
	if err != nil {
		return err
	}

	res, err := m.Execute(handoff.Request{
		AgentID:                resolveAgentID(args[0]),
		TargetModel:            handoffTo,
		Reason:                 handoffReason,
		Mode:                   handoffMode,
		AdditionalInstructions: handoffInstructions,
		IdleTimeout:            handoffIdleTimeout,
	})
	if err != nil {
		return coded(err)
	}

	switch {
	case res.Queued:
		fmt.Printf("%s Specialist busy; handoff queued\n", style.Good.Render("✓"))
	case res.Mode == handoff.ModeSpecialistWake:
		fmt.Printf("%s Specialist woken with handoff\n", style.Good.Render("✓"))
	default:
		fmt.Printf("%s Handed off to %s\n", style.Good.Render("✓"), handoffTo)
		fmt.Printf("  Document: %s\n", res.Document)
	}
	return nil
}
