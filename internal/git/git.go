// Package git wraps the git subprocess operations the control plane needs
// for merge preflight and verification. Read-mostly: the specialists do the
// actual merging inside their sessions; this package only observes.
package git

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
)

// GitError carries the raw output of a failed git command.
type GitError struct {
	Command string
	Args    []string
	Stdout  string
	Stderr  string
	Err     error
}

func (e *GitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("git %s: %s", e.Command, strings.TrimSpace(e.Stderr))
	}
	return fmt.Sprintf("git %s: %v", e.Command, e.Err)
}

func (e *GitError) Unwrap() error { return e.Err }

// Git wraps git operations for one working directory.
type Git struct {
	workDir string
	// runner executes a git command; overridable in tests.
	runner func(args ...string) (string, error)
}

// NewGit creates a wrapper for the given directory.
func NewGit(workDir string) *Git {
	g := &Git{workDir: workDir}
	g.runner = g.execGit
	return g
}

// NewWithRunner creates a wrapper with a custom command runner (tests).
func NewWithRunner(workDir string, runner func(args ...string) (string, error)) *Git {
	return &Git{workDir: workDir, runner: runner}
}

// WorkDir returns the working directory for this wrapper.
func (g *Git) WorkDir() string { return g.workDir }

func (g *Git) execGit(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	if g.workDir != "" {
		cmd.Dir = g.workDir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", &GitError{
			Command: args[0],
			Args:    args,
			Stdout:  stdout.String(),
			Stderr:  stderr.String(),
			Err:     err,
		}
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (g *Git) run(args ...string) (string, error) {
	return g.runner(args...)
}

// IsRepo reports whether the working directory is inside a git repository.
func (g *Git) IsRepo() bool {
	_, err := g.run("rev-parse", "--git-dir")
	return err == nil
}

// CurrentBranch returns the checked-out branch name.
func (g *Git) CurrentBranch() (string, error) {
	return g.run("rev-parse", "--abbrev-ref", "HEAD")
}

// Head returns the commit hash a local ref points at. Empty ref means HEAD.
func (g *Git) Head(ref string) (string, error) {
	if ref == "" {
		ref = "HEAD"
	}
	return g.run("rev-parse", ref)
}

// Fetch updates remote-tracking refs from origin.
func (g *Git) Fetch() error {
	_, err := g.run("fetch", "origin")
	return err
}

// RemoteHead returns the commit hash of a branch on origin, or "" when the
// branch does not exist there.
func (g *Git) RemoteHead(branch string) (string, error) {
	out, err := g.run("ls-remote", "origin", "refs/heads/"+branch)
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", nil
	}
	fields := strings.Fields(out)
	return fields[0], nil
}

// BranchOnRemote reports whether a branch exists on origin.
func (g *Git) BranchOnRemote(branch string) (bool, error) {
	head, err := g.RemoteHead(branch)
	if err != nil {
		return false, err
	}
	return head != "", nil
}

// UncommittedPaths returns dirty paths from `git status --porcelain`,
// excluding paths under any of the ignore prefixes.
func (g *Git) UncommittedPaths(ignorePrefixes []string) ([]string, error) {
	out, err := g.run("status", "--porcelain")
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		path := strings.TrimSpace(line[3:])
		// Renames report "old -> new"; the new path is what matters.
		if i := strings.Index(path, " -> "); i >= 0 {
			path = path[i+4:]
		}
		if ignored(path, ignorePrefixes) {
			continue
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func ignored(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if p == "" {
			continue
		}
		if path == p || strings.HasPrefix(path, strings.TrimSuffix(p, "/")+"/") {
			return true
		}
	}
	return false
}

// ConflictedPaths returns paths with unresolved merge conflicts.
func (g *Git) ConflictedPaths() ([]string, error) {
	out, err := g.run("diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// CommitMessage returns the full commit message of a ref.
func (g *Git) CommitMessage(ref string) (string, error) {
	if ref == "" {
		ref = "HEAD"
	}
	return g.run("log", "-1", "--format=%B", ref)
}

// RecentCommits returns the last n one-line commit subjects.
func (g *Git) RecentCommits(n int) ([]string, error) {
	out, err := g.run("log", fmt.Sprintf("-%d", n), "--format=%h %s")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}
