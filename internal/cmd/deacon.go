package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/parishlabs/parish/internal/config"
	"github.com/parishlabs/parish/internal/deacon"
	"github.com/parishlabs/parish/internal/style"
)

var deaconCmd = &cobra.Command{
	Use:     "deacon",
	GroupID: GroupServices,
	Short:   "Run and control the health patrol",
	Long: `Run and control the deacon: the health patrol that restarts stuck
specialists, feeds queued work to idle sessions, suspends idle agents,
and raises mass-death alerts. One deacon runs per control-plane root.`,
	RunE: requireSubcommand,
}

var deaconStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the patrol loop in the foreground",
	Long: `Run the patrol loop until interrupted.

A second deacon on the same root exits with the already-running code, so
this is safe to invoke from supervisors like systemd.`,
	RunE: runDeaconStart,
}

var deaconPatrolCmd = &cobra.Command{
	Use:   "patrol",
	Short: "Run a single patrol cycle",
	RunE:  runDeaconPatrol,
}

var deaconKillCmd = &cobra.Command{
	Use:   "kill <role>",
	Short: "Force-kill a specialist session",
	Long: `Force-kill a specialist out of band, honoring the per-role cooldown.
The next patrol restarts it.`,
	Args: cobra.ExactArgs(1),
	RunE: runDeaconKill,
}

var deaconConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show patrol tuning",
	RunE:  runDeaconConfig,
}

var deaconLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show recent patrol log lines",
	RunE:  runDeaconLogs,
}

var deaconLogsLimit int

func init() {
	deaconLogsCmd.Flags().IntVarP(&deaconLogsLimit, "limit", "n", 20, "Lines to show")
	deaconCmd.AddCommand(deaconStartCmd, deaconPatrolCmd, deaconKillCmd, deaconConfigCmd, deaconLogsCmd)
	rootCmd.AddCommand(deaconCmd)
}

func runDeaconStart(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	d, err := a.deacon()
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		return coded(err)
	}
	fmt.Printf("%s Deacon patrolling %s\n", style.Good.Render("✓"), a.root)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	d.Stop()
	return nil
}

func runDeaconPatrol(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	d, err := a.deacon()
	if err != nil {
		return err
	}
	if err := d.Patrol(); err != nil {
		return err
	}
	fmt.Printf("%s Patrol complete\n", style.Good.Render("✓"))
	return nil
}

func runDeaconKill(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	d, err := a.deacon()
	if err != nil {
		return err
	}
	role := normalizeRole(args[0])
	if err := d.ForceKill(role); err != nil {
		return coded(err)
	}
	fmt.Printf("%s Force-killed %s\n", style.Good.Render("✓"), role)
	return nil
}

func runDeaconLogs(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(deacon.LogPath(a.root))
	if errors.Is(err, os.ErrNotExist) {
		fmt.Println(style.Dim.Render("No patrol log yet."))
		return nil
	}
	if err != nil {
		return err
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if deaconLogsLimit > 0 && len(lines) > deaconLogsLimit {
		lines = lines[len(lines)-deaconLogsLimit:]
	}
	for _, line := range lines {
		fmt.Println(line)
	}
	return nil
}

func runDeaconConfig(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	cfg, err := config.LoadDeaconConfig(a.root)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}
