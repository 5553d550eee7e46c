package specialist

import (
	"errors"
	"fmt"
	"strings"

	"github.com/parishlabs/parish/internal/git"
)

// Merge preflight and verification errors.
var (
	ErrSourceNotOnRemote = errors.New("source branch not on remote")
	ErrDirtyWorkingTree  = errors.New("uncommitted changes in working tree")
	ErrMergeNotVerified  = errors.New("merge not verified")
)

// MergeRequest describes one merge task for the merge specialist.
type MergeRequest struct {
	ProjectPath  string `json:"projectPath"`
	SourceBranch string `json:"sourceBranch"`
	TargetBranch string `json:"targetBranch"`
	IssueID      string `json:"issueId"`
}

// gitOps is the version-control surface merge checking needs.
// *git.Git satisfies it.
type gitOps interface {
	Fetch() error
	Head(ref string) (string, error)
	RemoteHead(branch string) (string, error)
	BranchOnRemote(branch string) (bool, error)
	UncommittedPaths(ignorePrefixes []string) ([]string, error)
	CommitMessage(ref string) (string, error)
}

var _ gitOps = (*git.Git)(nil)

// PreflightMerge enforces the checks that must hold before the merge
// specialist is woken: the source branch is reachable on the remote, and
// the working tree is clean apart from the configured ignore list.
func PreflightMerge(g gitOps, req MergeRequest, ignorePaths []string) error {
	if err := g.Fetch(); err != nil {
		return fmt.Errorf("preflight fetch: %w", err)
	}
	onRemote, err := g.BranchOnRemote(req.SourceBranch)
	if err != nil {
		return err
	}
	if !onRemote {
		return fmt.Errorf("%w: %s", ErrSourceNotOnRemote, req.SourceBranch)
	}
	dirty, err := g.UncommittedPaths(ignorePaths)
	if err != nil {
		return err
	}
	if len(dirty) > 0 {
		return fmt.Errorf("%w: %s", ErrDirtyWorkingTree, strings.Join(dirty, ", "))
	}
	return nil
}

// VerifyMerge decides whether a merge wake succeeded by observing the
// repository, not by trusting the specialist's own report: the target
// branch must have a new HEAD whose commit message references the source
// branch, and that HEAD must be present at the remote.
func VerifyMerge(g gitOps, req MergeRequest, headBefore string) error {
	head, err := g.Head(req.TargetBranch)
	if err != nil {
		return err
	}
	if head == headBefore {
		return fmt.Errorf("%w: %s HEAD unchanged", ErrMergeNotVerified, req.TargetBranch)
	}
	msg, err := g.CommitMessage(head)
	if err != nil {
		return err
	}
	if !strings.Contains(msg, req.SourceBranch) {
		return fmt.Errorf("%w: commit message does not reference %s", ErrMergeNotVerified, req.SourceBranch)
	}
	remoteHead, err := g.RemoteHead(req.TargetBranch)
	if err != nil {
		return err
	}
	if remoteHead != head {
		return fmt.Errorf("%w: %s not pushed (remote at %.12s)", ErrMergeNotVerified, req.TargetBranch, remoteHead)
	}
	return nil
}

// MergeTask builds the queueable task for a merge request. Preflight runs
// first so a doomed merge never reaches the queue.
func (c *Coordinator) MergeTask(g gitOps, req MergeRequest, ignorePaths []string, priority string) (Task, error) {
	if err := PreflightMerge(g, req, ignorePaths); err != nil {
		return Task{}, err
	}
	testCmd := DetectTestCommand(req.ProjectPath)
	body := fmt.Sprintf(
		"Merge %s into %s in %s. Fast-forward if possible, otherwise resolve conflicts. "+
			"Reference %s in the merge commit message, run %s, and push.",
		req.SourceBranch, req.TargetBranch, req.ProjectPath, req.SourceBranch, describeTestCommand(testCmd))
	return Task{
		IssueID:  req.IssueID,
		Priority: priority,
		Body:     body,
		Context: TaskContext{
			Branch:    req.SourceBranch,
			Workspace: req.ProjectPath,
		},
	}, nil
}

func describeTestCommand(cmd string) string {
	if cmd == "" {
		return "no tests (none detected)"
	}
	return "`" + cmd + "`"
}
