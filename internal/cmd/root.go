// Package cmd provides CLI commands for the parish tool.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/parishlabs/parish/internal/exitcode"
	"github.com/parishlabs/parish/internal/style"
)

var rootCmd = &cobra.Command{
	Use:     "parish",
	Short:   "Parish - AI agent fleet orchestrator",
	Version: Version,
	Long: `Parish manages a fleet of coding-assistant sessions in tmux.

It spawns one agent per issue, keeps durable per-agent work queues,
coordinates review/test/merge/planning specialists, and runs a health
patrol (the deacon) that restarts stuck sessions and suspends idle ones.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and returns an exit code.
// The caller (main) should call os.Exit with this code.
func Execute() int {
	style.Init()
	if err := rootCmd.Execute(); err != nil {
		// Coded errors with no message signal status purely via exit code.
		if msg := err.Error(); msg != "" {
			fmt.Fprintln(os.Stderr, style.ErrText.Render("Error: ")+msg)
		}
		return exitcode.Code(err)
	}
	return exitcode.Success
}

// Command group IDs, used by subcommands to organize help output.
const (
	GroupAgents      = "agents"
	GroupWork        = "work"
	GroupSpecialists = "specialists"
	GroupServices    = "services"
	GroupDiag        = "diag"
)

func init() {
	cobra.EnablePrefixMatching = true

	rootCmd.AddGroup(
		&cobra.Group{ID: GroupAgents, Title: "Agent Management:"},
		&cobra.Group{ID: GroupWork, Title: "Work Queues:"},
		&cobra.Group{ID: GroupSpecialists, Title: "Specialists:"},
		&cobra.Group{ID: GroupServices, Title: "Services:"},
		&cobra.Group{ID: GroupDiag, Title: "Diagnostics:"},
	)
	rootCmd.SetHelpCommandGroupID(GroupDiag)
	rootCmd.SetCompletionCommandGroupID(GroupDiag)
}

// requireSubcommand is the RunE for parent commands that are only
// namespaces. Without it cobra shows help and exits 0 for unknown
// subcommands, masking typos.
func requireSubcommand(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return exitcode.Newf(exitcode.ErrPrecondition,
			"requires a subcommand\n\nRun '%s --help' for usage", cmd.CommandPath())
	}
	return exitcode.Newf(exitcode.ErrPrecondition,
		"unknown command %q for %q\n\nRun '%s --help' for available commands",
		args[0], cmd.CommandPath(), cmd.CommandPath())
}
