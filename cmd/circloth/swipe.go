package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	circloth "github.com/circloth/circloth-go"
	"github.com/spf13/cobra"
)

var swipeFilterBySize bool

func init() {
	swipeCmd.Flags().BoolVar(&swipeFilterBySize, "filter-by-size", false, "Only show items in your preferred sizes")
	rootCmd.AddCommand(swipeCmd)
}

var swipeCmd = &cobra.Command{
	Use:   "swipe",
	Short: "Swipe through candidate items",
	Long:  "Show one candidate item at a time. Answer l (like), p (pass), r (retry) or q (quit).",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		s, err := getSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		session := s.client.NewSwipeSession(s.userID)
		session.SetFilterBySize(swipeFilterBySize)

		if ok, err := session.HasOwnItems(ctx); err == nil && !ok {
			fmt.Println("You have no items yet. Upload one with 'circloth items add' so others can like you back.")
		}

		in := bufio.NewScanner(os.Stdin)
		item, err := session.Next(ctx)
		for {
			switch session.State() {
			case circloth.SwipeEmpty:
				fmt.Println("No more items to show. Try again later.")
				return nil
			case circloth.SwipeError:
				fmt.Printf("Error: %v\n", err)
				fmt.Print("[r]etry or [q]uit? ")
			case circloth.SwipeShowing:
				fmt.Printf("\n%s (by %s)\n", describeItem(*item), item.OwnerID)
				if item.ItemStory != "" {
					fmt.Printf("  %s\n", item.ItemStory)
				}
				fmt.Print("[l]ike, [p]ass or [q]uit? ")
			}

			if !in.Scan() {
				return in.Err()
			}
			switch strings.ToLower(strings.TrimSpace(in.Text())) {
			case "l", "like":
				item, err = session.Like(ctx)
			case "p", "pass":
				item, err = session.Pass(ctx)
			case "r", "retry":
				item, err = session.Retry(ctx)
			case "q", "quit":
				return nil
			}
		}
	},
}
