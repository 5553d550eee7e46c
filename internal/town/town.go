// Package town resolves the control-plane root directory and its layout.
// The filesystem under the root is the state store: agents, specialists,
// heartbeats, and the deacon all persist there.
package town

import (
	"fmt"
	"os"
	"path/filepath"
)

// RootEnv overrides the control-plane root directory.
const RootEnv = "PARISH_ROOT"

// Root locates the control-plane root. Precedence: $PARISH_ROOT, then
// ~/parish. The directory is not created here; see EnsureLayout.
func Root() (string, error) {
	if root := os.Getenv(RootEnv); root != "" {
		return filepath.Clean(root), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, "parish"), nil
}

// MustRoot is Root for CLI paths where a missing home directory is fatal anyway.
func MustRoot() string {
	root, err := Root()
	if err != nil {
		panic(err)
	}
	return root
}

// AgentsDir holds one directory per agent id.
func AgentsDir(root string) string { return filepath.Join(root, "agents") }

// AgentDir is the per-agent state directory.
func AgentDir(root, id string) string { return filepath.Join(AgentsDir(root), id) }

// MailDir is the per-agent mailbox directory.
func MailDir(root, id string) string { return filepath.Join(AgentDir(root, id), "mail") }

// HandoffsDir holds rendered handoff documents for an agent.
func HandoffsDir(root, id string) string { return filepath.Join(AgentDir(root, id), "handoffs") }

// HeartbeatsDir holds one heartbeat file per session name.
func HeartbeatsDir(root string) string { return filepath.Join(root, "heartbeats") }

// SpecialistsDir holds one directory per specialist role.
func SpecialistsDir(root string) string { return filepath.Join(root, "specialists") }

// SpecialistDir is the per-role state directory.
func SpecialistDir(root, role string) string { return filepath.Join(SpecialistsDir(root), role) }

// DeaconDir holds the deacon's config, health state, and log.
func DeaconDir(root string) string { return filepath.Join(root, "deacon") }

// EnsureLayout creates the top-level directories idempotently.
func EnsureLayout(root string) error {
	for _, dir := range []string{
		AgentsDir(root),
		HeartbeatsDir(root),
		SpecialistsDir(root),
		DeaconDir(root),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}
