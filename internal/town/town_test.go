package town

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRootEnvOverride(t *testing.T) {
	t.Setenv(RootEnv, "/tmp/parish-test//")
	root, err := Root()
	if err != nil {
		t.Fatal(err)
	}
	if root != "/tmp/parish-test" {
		t.Errorf("Root() = %q", root)
	}
}

func TestRootDefaultsToHome(t *testing.T) {
	t.Setenv(RootEnv, "")
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory in test environment")
	}
	root, err := Root()
	if err != nil {
		t.Fatal(err)
	}
	if root != filepath.Join(home, "parish") {
		t.Errorf("Root() = %q", root)
	}
}

func TestEnsureLayout(t *testing.T) {
	root := t.TempDir()
	if err := EnsureLayout(root); err != nil {
		t.Fatal(err)
	}
	// Idempotent.
	if err := EnsureLayout(root); err != nil {
		t.Fatal(err)
	}
	for _, dir := range []string{AgentsDir(root), HeartbeatsDir(root), SpecialistsDir(root), DeaconDir(root)} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Errorf("missing layout dir %s: %v", dir, err)
		}
	}
}

func TestAgentPaths(t *testing.T) {
	if got := AgentDir("/r", "agent-min-42"); got != "/r/agents/agent-min-42" {
		t.Errorf("AgentDir = %q", got)
	}
	if got := MailDir("/r", "agent-min-42"); got != "/r/agents/agent-min-42/mail" {
		t.Errorf("MailDir = %q", got)
	}
	if got := SpecialistDir("/r", "review-agent"); got != "/r/specialists/review-agent" {
		t.Errorf("SpecialistDir = %q", got)
	}
}
