package hook

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/parishlabs/parish/internal/town"
	"github.com/parishlabs/parish/internal/util"
)

// SendMail drops one message file into the recipient's mailbox. Writers
// never touch the recipient's hook.json, so no lock is needed: each message
// is its own file, written atomically.
func (h *Hooks) SendMail(to, from, message, priority string) (Item, error) {
	item := Item{
		ID:       uuid.NewString(),
		Type:     "message",
		Priority: priority,
		Source:   from,
		Payload:  map[string]string{"message": message},
		CreatedAt: h.now(),
	}
	if item.Priority == "" {
		item.Priority = "normal"
	}

	dir := town.MailDir(h.root, to)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return item, fmt.Errorf("creating mailbox: %w", err)
	}
	path := filepath.Join(dir, item.ID+".json")
	if err := util.WriteJSON(path, item); err != nil {
		return item, fmt.Errorf("writing mail: %w", err)
	}
	return item, nil
}

// CollectMail reads and deletes every mailbox message, returning them as
// items. Only *.json files are messages; sent-message copies (*.md) stay.
func (h *Hooks) CollectMail(id string) ([]Item, error) {
	items, err := h.drainMailLocked(id)
	if err != nil {
		return nil, err
	}
	sortItems(items)
	return items, nil
}

// drainMailLocked consumes mailbox files. Callers that also mutate
// hook.json must hold the hook lock; CollectMail itself is safe without it
// because each message is a single file and deletion is atomic.
func (h *Hooks) drainMailLocked(id string) ([]Item, error) {
	dir := town.MailDir(h.root, id)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading mailbox: %w", err)
	}

	var items []Item
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		var item Item
		if err := util.ReadJSON(path, &item); err != nil {
			// Torn write from a concurrent sender; leave it for the
			// next collection.
			continue
		}
		if err := os.Remove(path); err != nil {
			// Lost a race with another collector; it owns the item.
			continue
		}
		items = append(items, item)
	}
	return items, nil
}
