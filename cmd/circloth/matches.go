package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	matchesJSON    bool
	matchesRefresh bool
)

func init() {
	matchesCmd.Flags().BoolVar(&matchesJSON, "json", false, "Output raw JSON")
	matchesCmd.Flags().BoolVar(&matchesRefresh, "refresh", false, "Bypass the local cache")
	rootCmd.AddCommand(matchesCmd)
}

var matchesCmd = &cobra.Command{
	Use:   "matches",
	Short: "List your matches grouped by conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		s, err := getSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		if matchesRefresh {
			if err := s.client.Matches.Invalidate(s.userID); err != nil {
				return err
			}
		}
		groups, err := s.client.Inbox(s.userID).Load(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if matchesJSON {
			return printJSON(groups)
		}
		if len(groups) == 0 {
			fmt.Println("No matches yet.")
			return nil
		}
		for _, g := range groups {
			marker := " "
			switch {
			case g.IsNew:
				marker = "N"
			case g.IsUnread:
				marker = "*"
			}
			fmt.Printf("%s %-20s  user %s\n", marker, g.OtherUser.Label(), g.OtherUser.ID)
			fmt.Printf("    theirs: %s\n", itemIDs(g.TheirItems))
			fmt.Printf("    yours:  %s\n", itemIDs(g.YourItems))
			if !g.LastMessageAt.IsZero() {
				fmt.Printf("    last message %s\n", g.LastMessageAt.Local().Format(time.DateTime))
			}
		}
		return nil
	},
}
