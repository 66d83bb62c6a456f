package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	circloth "github.com/circloth/circloth-go"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	chatNoPush bool
	chatLimit  int
)

func init() {
	chatCmd.Flags().BoolVar(&chatNoPush, "no-push", false, "Rely on polling only")
	chatCmd.Flags().IntVarP(&chatLimit, "limit", "n", circloth.DefaultHistoryLimit, "Number of history messages to load")
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat <other-user-id>",
	Short: "Open a live conversation",
	Long:  "Print the conversation with another user and keep it live. Every line read from stdin is sent as a message.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		s, err := getSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		other := args[0]
		interactive := term.IsTerminal(int(os.Stdin.Fd()))

		conv := s.client.Chats.NewSync(s.userID, other, &circloth.ChatSyncOptions{
			DisablePush: chatNoPush,
			Limit:       chatLimit,
		})
		printer := &messagePrinter{self: s.userID, prompt: interactive}
		conv.OnChange(printer.update)
		if err := conv.Open(ctx); err != nil {
			return err
		}
		defer conv.Close()

		lines := make(chan string)
		go func() {
			defer close(lines)
			in := bufio.NewScanner(os.Stdin)
			for in.Scan() {
				lines <- in.Text()
			}
		}()

		printer.showPrompt()
		for {
			select {
			case <-ctx.Done():
				fmt.Println()
				return nil
			case line, ok := <-lines:
				if !ok {
					if !interactive {
						// Let piped messages reach the backend echo before leaving.
						time.Sleep(time.Second)
					}
					return nil
				}
				if strings.TrimSpace(line) == "" {
					printer.showPrompt()
					continue
				}
				if _, err := conv.Send(ctx, line); err != nil {
					fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
				}
				printer.showPrompt()
			}
		}
	},
}

// messagePrinter prints messages it has not printed yet. Messages are
// counted per sender, receiver and content, so one that sorts into the
// middle of the list is still shown and a local copy replaced by the
// backend's is not shown twice.
type messagePrinter struct {
	self   string
	prompt bool
	out    io.Writer

	mu      sync.Mutex
	printed map[messageKey]int
}

type messageKey struct {
	sender, receiver, content string
}

func (p *messagePrinter) update(msgs []circloth.ChatMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.printed == nil {
		p.printed = make(map[messageKey]int)
	}
	out := p.out
	if out == nil {
		out = os.Stdout
	}

	seen := make(map[messageKey]int, len(msgs))
	wrote := false
	for _, m := range msgs {
		k := messageKey{m.Sender, m.Receiver, m.Content}
		seen[k]++
		if seen[k] <= p.printed[k] {
			continue
		}
		p.printed[k] = seen[k]
		if !wrote && p.prompt {
			fmt.Fprint(out, "\r")
		}
		wrote = true
		who := m.Sender
		if m.Sender == p.self {
			who = "you"
		}
		fmt.Fprintf(out, "[%s] %s: %s\n", shortTime(m.Timestamp), who, m.Content)
	}
	if wrote && p.prompt {
		fmt.Fprint(out, "> ")
	}
}

func (p *messagePrinter) showPrompt() {
	if p.prompt {
		fmt.Print("> ")
	}
}

func shortTime(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return t.Local().Format(time.TimeOnly)
}

func itemIDs(items []circloth.Item) string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	if len(ids) == 0 {
		return "-"
	}
	return strings.Join(ids, ", ")
}
