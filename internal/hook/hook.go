// Package hook implements the durable per-agent work queue ("the hook")
// and its companion mailbox. The queue lives in agents/<id>/hook.json;
// every read-modify-write happens under a cross-process file lock and
// lands via temp+rename, so items survive crashes and concurrent writers.
package hook

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/parishlabs/parish/internal/constants"
	"github.com/parishlabs/parish/internal/town"
	"github.com/parishlabs/parish/internal/util"
)

// Item is one queued unit of work or message.
type Item struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"` // task | message | notification
	Priority  string            `json:"priority"`
	Source    string            `json:"source"`
	Payload   map[string]string `json:"payload,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	ExpiresAt *time.Time        `json:"expiresAt,omitempty"`
}

// Expired reports whether the item is past its expiry at the given instant.
func (it Item) Expired(now time.Time) bool {
	return it.ExpiresAt != nil && now.After(*it.ExpiresAt)
}

// hookFile is the on-disk shape of hook.json.
type hookFile struct {
	Items       []Item    `json:"items"`
	LastChecked time.Time `json:"lastChecked,omitempty"`
}

// CheckResult is the merged, ordered view of pending work.
type CheckResult struct {
	HasWork     bool
	UrgentCount int
	Items       []Item
}

// Hooks operates on the hook/mailbox files under one control-plane root.
type Hooks struct {
	root string
	now  func() time.Time
}

// New creates a Hooks handle.
func New(root string) *Hooks {
	return &Hooks{root: root, now: time.Now}
}

// NewWithClock creates a Hooks handle with an injected clock (tests).
func NewWithClock(root string, now func() time.Time) *Hooks {
	return &Hooks{root: root, now: now}
}

func (h *Hooks) hookPath(id string) string {
	return filepath.Join(town.AgentDir(h.root, id), "hook.json")
}

func (h *Hooks) lockPath(id string) string {
	return filepath.Join(town.AgentDir(h.root, id), "hook.lock")
}

// withLock runs fn while holding the agent's hook lock.
// The lock serializes all hook.json writers across processes: CLI pushes,
// the supervisor, the deacon, and other agents.
func (h *Hooks) withLock(id string, fn func() error) error {
	if err := os.MkdirAll(town.AgentDir(h.root, id), 0755); err != nil {
		return fmt.Errorf("creating agent directory: %w", err)
	}
	lock := flock.New(h.lockPath(id))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("acquiring hook lock: %w", err)
	}
	defer func() { _ = lock.Unlock() }()
	return fn()
}

// load reads hook.json, treating a missing file as an empty hook.
func (h *Hooks) load(id string) (*hookFile, error) {
	var hf hookFile
	if err := util.ReadJSON(h.hookPath(id), &hf); err != nil {
		if os.IsNotExist(err) {
			return &hookFile{}, nil
		}
		return nil, err
	}
	return &hf, nil
}

// save writes hook.json, reaping expired items on the way out.
func (h *Hooks) save(id string, hf *hookFile) error {
	now := h.now()
	kept := hf.Items[:0]
	for _, it := range hf.Items {
		if !it.Expired(now) {
			kept = append(kept, it)
		}
	}
	hf.Items = kept
	return util.WriteJSON(h.hookPath(id), hf)
}

// Init creates agents/<id>/ with an empty hook and mailbox, idempotently.
func (h *Hooks) Init(id string) error {
	if err := os.MkdirAll(town.MailDir(h.root, id), 0755); err != nil {
		return fmt.Errorf("creating mailbox: %w", err)
	}
	return h.withLock(id, func() error {
		if _, err := os.Stat(h.hookPath(id)); err == nil {
			return nil // already initialized
		}
		return h.save(id, &hookFile{Items: []Item{}})
	})
}

// Push appends an item to the hook, generating its id and timestamp.
func (h *Hooks) Push(id string, item Item) (Item, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = h.now()
	}
	if item.Priority == "" {
		item.Priority = constants.PriorityNormal
	}
	if item.Type == "" {
		item.Type = "task"
	}

	err := h.withLock(id, func() error {
		hf, err := h.load(id)
		if err != nil {
			return err
		}
		for _, existing := range hf.Items {
			if existing.ID == item.ID {
				return fmt.Errorf("duplicate hook item id %s", item.ID)
			}
		}
		hf.Items = append(hf.Items, item)
		return h.save(id, hf)
	})
	return item, err
}

// priorityRank orders urgent < high < normal < low.
func priorityRank(p string) int {
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

// sortItems orders by (priority, arrival), id as a final tiebreak for
// deterministic output.
func sortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		ri, rj := priorityRank(items[i].Priority), priorityRank(items[j].Priority)
		if ri != rj {
			return ri < rj
		}
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
}

// Check returns the merged hook+mailbox view, sorted by (priority, arrival),
// with expired items dropped. Mailbox files are absorbed into hook.json
// under the lock, so a message delivered while the agent was offline
// becomes durable queue state the moment anyone looks. Check does not
// consume queue items.
func (h *Hooks) Check(id string) (CheckResult, error) {
	var result CheckResult
	err := h.withLock(id, func() error {
		hf, err := h.load(id)
		if err != nil {
			return err
		}

		mail, err := h.drainMailLocked(id)
		if err != nil {
			return err
		}
		if len(mail) > 0 {
			seen := make(map[string]bool, len(hf.Items))
			for _, it := range hf.Items {
				seen[it.ID] = true
			}
			for _, m := range mail {
				if !seen[m.ID] {
					hf.Items = append(hf.Items, m)
				}
			}
		}

		if err := h.save(id, hf); err != nil {
			return err
		}

		items := make([]Item, len(hf.Items))
		copy(items, hf.Items)
		sortItems(items)

		result.Items = items
		result.HasWork = len(items) > 0
		for _, it := range items {
			if it.Priority == constants.PriorityUrgent {
				result.UrgentCount++
			}
		}
		return nil
	})
	return result, err
}

// Pop removes the identified item and updates lastChecked. Returns whether
// the item was present; losing a pop race reads as "not present", not an
// error.
func (h *Hooks) Pop(id, itemID string) (bool, error) {
	found := false
	err := h.withLock(id, func() error {
		hf, err := h.load(id)
		if err != nil {
			return err
		}
		kept := hf.Items[:0]
		for _, it := range hf.Items {
			if it.ID == itemID {
				found = true
				continue
			}
			kept = append(kept, it)
		}
		hf.Items = kept
		hf.LastChecked = h.now()
		return h.save(id, hf)
	})
	return found, err
}

// Clear empties the queue.
func (h *Hooks) Clear(id string) error {
	return h.withLock(id, func() error {
		hf, err := h.load(id)
		if err != nil {
			return err
		}
		hf.Items = []Item{}
		hf.LastChecked = h.now()
		return h.save(id, hf)
	})
}

// Reorder replaces the queue order with the given permutation. Fails unless
// the id set exactly matches the current (non-expired) item set.
func (h *Hooks) Reorder(id string, orderedIDs []string) error {
	return h.withLock(id, func() error {
		hf, err := h.load(id)
		if err != nil {
			return err
		}

		now := h.now()
		current := make(map[string]Item)
		for _, it := range hf.Items {
			if !it.Expired(now) {
				current[it.ID] = it
			}
		}

		if len(orderedIDs) != len(current) {
			return fmt.Errorf("reorder id set mismatch: %d given, %d present", len(orderedIDs), len(current))
		}
		reordered := make([]Item, 0, len(orderedIDs))
		for _, oid := range orderedIDs {
			it, ok := current[oid]
			if !ok {
				return fmt.Errorf("reorder id set mismatch: unknown id %s", oid)
			}
			delete(current, oid)
			reordered = append(reordered, it)
		}

		hf.Items = reordered
		return h.save(id, hf)
	})
}
