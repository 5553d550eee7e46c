package specialist

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/parishlabs/parish/internal/constants"
	"github.com/parishlabs/parish/internal/util"
)

// TaskContext carries the fields the deacon passes through verbatim when
// draining a queue.
type TaskContext struct {
	Branch    string `json:"branch,omitempty"`
	Workspace string `json:"workspace,omitempty"`
	PRURL     string `json:"prUrl,omitempty"`
}

// Task is one queued unit of specialist work.
type Task struct {
	ID        string      `json:"id"`
	IssueID   string      `json:"issueId"`
	Priority  string      `json:"priority"`
	Body      string      `json:"body"`
	Source    string      `json:"source,omitempty"`
	Context   TaskContext `json:"context"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Prompt renders the task as the message injected into the session.
func (t Task) Prompt() string {
	var b strings.Builder
	b.WriteString(t.Body)
	if t.IssueID != "" {
		fmt.Fprintf(&b, "\nIssue: %s", t.IssueID)
	}
	if t.Context.Branch != "" {
		fmt.Fprintf(&b, "\nBranch: %s", t.Context.Branch)
	}
	if t.Context.Workspace != "" {
		fmt.Fprintf(&b, "\nWorkspace: %s", t.Context.Workspace)
	}
	if t.Context.PRURL != "" {
		fmt.Fprintf(&b, "\nPR: %s", t.Context.PRURL)
	}
	return b.String()
}

// QueueStats summarize a role's queue.
type QueueStats struct {
	HasWork     bool
	Depth       int
	OldestAgeMs int64
}

func (c *Coordinator) queuePath(role string) string {
	return filepath.Join(c.dir(role), "queue.jsonl")
}

func (c *Coordinator) queueLockPath(role string) string {
	return filepath.Join(c.dir(role), "queue.lock")
}

// withQueueLock serializes queue read-modify-writes across processes.
func (c *Coordinator) withQueueLock(role string, fn func() error) error {
	if err := os.MkdirAll(c.dir(role), 0755); err != nil {
		return err
	}
	lock := flock.New(c.queueLockPath(role))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("acquiring queue lock: %w", err)
	}
	defer func() { _ = lock.Unlock() }()
	return fn()
}

// loadQueue reads queue.jsonl, skipping unparseable lines (torn tails).
func (c *Coordinator) loadQueue(role string) ([]Task, error) {
	data, err := os.ReadFile(c.queuePath(role))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var tasks []Task
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var t Task
		if err := json.Unmarshal(line, &t); err != nil {
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// saveQueue rewrites queue.jsonl atomically.
func (c *Coordinator) saveQueue(role string, tasks []Task) error {
	var buf bytes.Buffer
	for _, t := range tasks {
		line, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return util.WriteFileAtomic(c.queuePath(role), buf.Bytes(), 0644)
}

func (c *Coordinator) stamp(t Task) Task {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = c.now()
	}
	if t.Priority == "" {
		t.Priority = constants.PriorityNormal
	}
	return t
}

func taskRank(p string) int {
	switch p {
	case constants.PriorityUrgent:
		return 0
	case constants.PriorityHigh:
		return 1
	case constants.PriorityNormal:
		return 2
	case constants.PriorityLow:
		return 3
	default:
		return 2
	}
}

// Enqueue appends a task, then restores priority order. The stable sort
// keeps arrival order within a priority while letting an urgent task jump
// ahead of queued lower-priority work.
func (c *Coordinator) Enqueue(role string, task Task) (Task, error) {
	if err := validateRole(role); err != nil {
		return Task{}, err
	}
	task = c.stamp(task)
	err := c.withQueueLock(role, func() error {
		tasks, err := c.loadQueue(role)
		if err != nil {
			return err
		}
		tasks = append(tasks, task)
		sort.SliceStable(tasks, func(i, j int) bool {
			return taskRank(tasks[i].Priority) < taskRank(tasks[j].Priority)
		})
		return c.saveQueue(role, tasks)
	})
	return task, err
}

// NextTask peeks the head of the queue without removing it.
func (c *Coordinator) NextTask(role string) (Task, error) {
	if err := validateRole(role); err != nil {
		return Task{}, err
	}
	var head Task
	err := c.withQueueLock(role, func() error {
		tasks, err := c.loadQueue(role)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			return ErrEmptyQueue
		}
		head = tasks[0]
		return nil
	})
	return head, err
}

// CompleteTask removes the head task. Only the task currently being
// processed, identified by id, may be completed; anything else is a bug in
// the caller.
func (c *Coordinator) CompleteTask(role, taskID string) error {
	if err := validateRole(role); err != nil {
		return err
	}
	return c.withQueueLock(role, func() error {
		tasks, err := c.loadQueue(role)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			return ErrEmptyQueue
		}
		if tasks[0].ID != taskID {
			return fmt.Errorf("%w: head is %s, got %s", ErrNotHead, tasks[0].ID, taskID)
		}
		completed := tasks[0]
		if err := c.saveQueue(role, tasks[1:]); err != nil {
			return err
		}
		return c.recordHistory(role, historyRecord{
			TaskID:  completed.ID,
			IssueID: completed.IssueID,
			Status:  "completed",
		})
	})
}

// Stats summarizes a role's queue.
func (c *Coordinator) Stats(role string) (QueueStats, error) {
	if err := validateRole(role); err != nil {
		return QueueStats{}, err
	}
	var stats QueueStats
	err := c.withQueueLock(role, func() error {
		tasks, err := c.loadQueue(role)
		if err != nil {
			return err
		}
		stats.Depth = len(tasks)
		stats.HasWork = len(tasks) > 0
		if len(tasks) > 0 {
			oldest := tasks[0].CreatedAt
			for _, t := range tasks[1:] {
				if t.CreatedAt.Before(oldest) {
					oldest = t.CreatedAt
				}
			}
			stats.OldestAgeMs = c.now().Sub(oldest).Milliseconds()
		}
		return nil
	})
	return stats, err
}
