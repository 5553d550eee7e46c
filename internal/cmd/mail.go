package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/parishlabs/parish/internal/style"
	"github.com/parishlabs/parish/internal/town"
)

var mailCmd = &cobra.Command{
	Use:     "mail",
	GroupID: GroupWork,
	Short:   "Send and read agent mail",
	Long: `Send and read agent mail.

Mail lands in the recipient's mailbox directory and is absorbed into the
durable hook on the next check, so messages to offline agents are not
lost.`,
	RunE: requireSubcommand,
}

var (
	mailFrom     string
	mailPriority string
	mailLimit    int
)

var mailSendCmd = &cobra.Command{
	Use:   "send <agent-id|issue-ref> <message>",
	Short: "Send mail to an agent",
	Long: `Send a message to an agent's mailbox.

Examples:
  parish mail send MIN-42 "Rebase onto main before continuing"
  parish mail send specialist-merge-agent "Hold merges" --priority urgent`,
	Args: cobra.ExactArgs(2),
	RunE: runMailSend,
}

var mailLogCmd = &cobra.Command{
	Use:   "log <agent-id|issue-ref>",
	Short: "Show messages delivered to a live session",
	Long: `Render the markdown archive of messages already delivered into an
agent's session, newest first.`,
	Args: cobra.ExactArgs(1),
	RunE: runMailLog,
}

func init() {
	mailSendCmd.Flags().StringVar(&mailFrom, "from", "cli", "Sender identity")
	mailSendCmd.Flags().StringVar(&mailPriority, "priority", "", "Priority: urgent, high, normal, low")
	mailLogCmd.Flags().IntVarP(&mailLimit, "limit", "n", 5, "How many messages to show")

	mailCmd.AddCommand(mailSendCmd, mailLogCmd)
	rootCmd.AddCommand(mailCmd)
}

func runMailSend(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	to := resolveAgentID(args[0])
	item, err := a.hooks.SendMail(to, mailFrom, args[1], mailPriority)
	if err != nil {
		return coded(err)
	}
	fmt.Printf("%s Mail %s queued for %s\n", style.Good.Render("✓"), item.ID, to)
	return nil
}

func runMailLog(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	id := resolveAgentID(args[0])

	dir := town.MailDir(a.root, id)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println(style.Dim.Render("No mail."))
			return nil
		}
		return err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		fmt.Println(style.Dim.Render("No mail."))
		return nil
	}
	// Archive names are timestamps, so lexical order is delivery order.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	if mailLimit > 0 && len(names) > mailLimit {
		names = names[:mailLimit]
	}

	renderer, err := newMarkdownRenderer()
	if err != nil {
		return err
	}
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		fmt.Println(style.Header.Render("── " + strings.TrimSuffix(name, ".md") + " ──"))
		out, err := renderer.Render(string(data))
		if err != nil {
			fmt.Println(string(data))
			continue
		}
		fmt.Print(out)
	}
	return nil
}

// newMarkdownRenderer builds a glamour renderer sized to the terminal.
func newMarkdownRenderer() (*glamour.TermRenderer, error) {
	width := 100
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 && w < width {
		width = w
	}
	return glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
}
