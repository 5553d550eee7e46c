package specialist

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/parishlabs/parish/internal/agent"
	"github.com/parishlabs/parish/internal/constants"
	"github.com/parishlabs/parish/internal/hook"
)

// Review verdicts.
const (
	ResultApproved         = "APPROVED"
	ResultChangesRequested = "CHANGES_REQUESTED"
	ResultCommented        = "COMMENTED"
	ResultPass             = "PASS"
	ResultFail             = "FAIL"
)

// Report is the parsed marker output of a review or test wake.
type Report struct {
	Result            string   `json:"result"`
	FilesReviewed     []string `json:"filesReviewed,omitempty"`
	SecurityIssues    []string `json:"securityIssues,omitempty"`
	PerformanceIssues []string `json:"performanceIssues,omitempty"`
	Notes             string   `json:"notes,omitempty"`
}

// Complete reports whether a verdict marker has been seen.
func (r Report) Complete() bool { return r.Result != "" }

// splitList parses a comma-separated marker value; "none" means empty.
func splitList(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" || strings.EqualFold(v, "none") {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseMarkers extracts result markers from captured session output.
// Markers are recognized by line prefix after trimming; unknown prefixes
// are ignored. Later markers override earlier ones, so re-emitted verdicts
// read as the final word.
func ParseMarkers(output string) Report {
	var r Report
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "REVIEW_RESULT:"):
			r.Result = strings.TrimSpace(strings.TrimPrefix(line, "REVIEW_RESULT:"))
		case strings.HasPrefix(line, "TEST_RESULT:"):
			r.Result = strings.TrimSpace(strings.TrimPrefix(line, "TEST_RESULT:"))
		case strings.HasPrefix(line, "FILES_REVIEWED:"):
			r.FilesReviewed = splitList(strings.TrimPrefix(line, "FILES_REVIEWED:"))
		case strings.HasPrefix(line, "SECURITY_ISSUES:"):
			r.SecurityIssues = splitList(strings.TrimPrefix(line, "SECURITY_ISSUES:"))
		case strings.HasPrefix(line, "PERFORMANCE_ISSUES:"):
			r.PerformanceIssues = splitList(strings.TrimPrefix(line, "PERFORMANCE_ISSUES:"))
		case strings.HasPrefix(line, "NOTES:"):
			r.Notes = strings.TrimSpace(strings.TrimPrefix(line, "NOTES:"))
		}
	}
	return r
}

// AwaitReport polls a specialist's pane for result markers until the
// role's wake deadline. On timeout the task is marked failed in history
// and the session is left running; the task is not re-queued.
func (c *Coordinator) AwaitReport(role string, task Task) (Report, error) {
	id := agent.IDForSpecialist(role)
	deadline := c.now().Add(constants.WakeDeadline(role))

	for c.now().Before(deadline) {
		pane, err := c.tmux.CapturePane(id, 500)
		if err == nil {
			if r := ParseMarkers(pane); r.Complete() {
				if err := c.recordHistory(role, historyRecord{
					TaskID:  task.ID,
					IssueID: task.IssueID,
					Status:  "completed",
					Report:  &r,
				}); err != nil {
					return r, err
				}
				return r, nil
			}
		}
		time.Sleep(c.poll)
	}

	_ = c.recordHistory(role, historyRecord{
		TaskID:  task.ID,
		IssueID: task.IssueID,
		Status:  "failed",
		Reason:  "wake deadline exceeded",
	})
	return Report{}, fmt.Errorf("%w: %s after %s", ErrWakeTimeout, role, constants.WakeDeadline(role))
}

// DeliverVerdict routes a review verdict back to the originating work
// agent. CHANGES_REQUESTED produces a structured feedback message; it goes
// to the live session when possible and to the mailbox otherwise.
func (c *Coordinator) DeliverVerdict(m Messenger, hooks *hook.Hooks, task Task, r Report) error {
	if r.Result != ResultChangesRequested && r.Result != ResultFail {
		return nil
	}
	workID := agent.IDForIssue(task.IssueID)
	feedback := renderFeedback(task, r)

	if m != nil {
		err := m.Message(workID, feedback)
		if err == nil {
			return nil
		}
		// Dead session: fall through to the mailbox so the feedback is
		// waiting when the agent comes back.
		if !isNotRunning(err) {
			return err
		}
	}
	_, err := hooks.SendMail(workID, agent.IDForSpecialist(constants.RoleReview), feedback, constants.PriorityHigh)
	return err
}

func isNotRunning(err error) bool {
	return err != nil && (errors.Is(err, ErrNotRunning) || strings.Contains(err.Error(), "not running"))
}

func renderFeedback(task Task, r Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Review verdict for %s: %s\n", task.IssueID, r.Result)
	if task.Context.Branch != "" {
		fmt.Fprintf(&b, "Branch: %s\n", task.Context.Branch)
	}
	if len(r.SecurityIssues) > 0 {
		fmt.Fprintf(&b, "Security issues: %s\n", strings.Join(r.SecurityIssues, "; "))
	}
	if len(r.PerformanceIssues) > 0 {
		fmt.Fprintf(&b, "Performance issues: %s\n", strings.Join(r.PerformanceIssues, "; "))
	}
	if r.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", r.Notes)
	}
	b.WriteString("Address the issues above and push an update, then request re-review.")
	return b.String()
}
