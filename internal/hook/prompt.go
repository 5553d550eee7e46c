package hook

import (
	"fmt"
	"strings"
)

// StartupPrompt renders the pending queue as a fixed-form Markdown block
// for injection as a fresh agent's initial prompt. Returns "" when the
// queue is empty.
func (h *Hooks) StartupPrompt(id string) (string, error) {
	result, err := h.Check(id)
	if err != nil {
		return "", err
	}
	if !result.HasWork {
		return "", nil
	}
	return RenderStartupPrompt(id, result.Items), nil
}

// RenderStartupPrompt formats pending items for an agent's first prompt.
func RenderStartupPrompt(id string, items []Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Pending Work Items (%d)\n\n", len(items))
	fmt.Fprintf(&b, "You have work queued from before this session started. Work through these in order:\n\n")
	for i, it := range items {
		summary := it.Payload["message"]
		if summary == "" {
			summary = it.Payload["issueId"]
		}
		if summary == "" {
			summary = it.Type
		}
		fmt.Fprintf(&b, "%d. [%s] %s (from %s, %s)\n",
			i+1, it.Priority, summary, it.Source, it.CreatedAt.Format("2006-01-02 15:04"))
	}
	fmt.Fprintf(&b, "\nRun `parish hook check %s` for full payloads and `parish hook pop %s <item-id>` as you finish each one.\n", id, id)
	return b.String()
}
