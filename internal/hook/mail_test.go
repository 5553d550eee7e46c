package hook

import (
	"os"
	"testing"

	"github.com/parishlabs/parish/internal/town"
)

func TestSendCollectMail(t *testing.T) {
	h := newTestHooks(t)

	if _, err := h.SendMail(testAgent, "agent-other", "branch pushed", "high"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.SendMail(testAgent, "deacon", "patrol note", ""); err != nil {
		t.Fatal(err)
	}

	items, err := h.CollectMail(testAgent)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("CollectMail = %d items", len(items))
	}
	for _, it := range items {
		if it.Type != "message" {
			t.Errorf("mail item type = %q", it.Type)
		}
	}

	// Mailbox is empty afterwards.
	items, err = h.CollectMail(testAgent)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Errorf("mailbox not drained: %d items", len(items))
	}
}

func TestCollectMailIgnoresMarkdownCopies(t *testing.T) {
	h := newTestHooks(t)
	dir := town.MailDir(h.root, testAgent)
	if err := os.WriteFile(dir+"/20260801-120000.md", []byte("# sent copy"), 0644); err != nil {
		t.Fatal(err)
	}

	items, err := h.CollectMail(testAgent)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Errorf("markdown copy consumed as mail: %+v", items)
	}
	if _, err := os.Stat(dir + "/20260801-120000.md"); err != nil {
		t.Error("markdown copy should remain")
	}
}

func TestCheckAbsorbsMailIntoHook(t *testing.T) {
	h := newTestHooks(t)
	if _, err := h.SendMail(testAgent, "agent-peer", "heads up", "urgent"); err != nil {
		t.Fatal(err)
	}

	res, err := h.Check(testAgent)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Items) != 1 || res.UrgentCount != 1 {
		t.Fatalf("Check = %+v", res)
	}

	// The message is now durable hook state and the mailbox is empty.
	hf, err := h.load(testAgent)
	if err != nil {
		t.Fatal(err)
	}
	if len(hf.Items) != 1 {
		t.Errorf("mail not absorbed into hook.json: %d items", len(hf.Items))
	}
	mail, _ := h.CollectMail(testAgent)
	if len(mail) != 0 {
		t.Errorf("mailbox should be empty after Check, got %d", len(mail))
	}
}
