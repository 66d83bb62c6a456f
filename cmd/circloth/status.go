package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration, cache and account status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadEffectiveConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Environment: %s\n", valueOrDefault(cfg.Default.Environment, "(not set)"))
		if cfg.Default.BaseURL != "" {
			fmt.Printf("  Base URL:    %s\n", cfg.Default.BaseURL)
		}
		fmt.Printf("  User ID:     %s\n", valueOrDefault(cfg.Default.UserID, "(not set)"))
		if cfg.Default.Token != "" {
			fmt.Printf("  Token:       %s\n", maskKey(cfg.Default.Token))
		} else {
			fmt.Println("  Token:       (not set)")
		}
		fmt.Printf("  Photos:      %s\n", valueOrDefault(cfg.Photos.S3Bucket, "(no bucket)"))

		if cfg.Default.UserID == "" {
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s, err := getSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		cachePath, _ := resolveCachePath(cfg)
		fmt.Println()
		fmt.Println("Cache:")
		fmt.Printf("  Path:          %s\n", cachePath)
		fmt.Printf("  Liked items:   %d\n", len(s.client.Actions.LikedItems(s.userID)))
		if at, ok := s.client.Matches.LastFetchedAt(s.userID); ok {
			fmt.Printf("  Matches fetch: %s\n", at.Local().Format(time.RFC3339))
		} else {
			fmt.Println("  Matches fetch: never")
		}

		fmt.Println()
		fmt.Println("Live status:")
		user, err := s.client.Users.Get(ctx, s.userID)
		if err != nil {
			fmt.Printf("  Error fetching account info: %v\n", err)
			return nil
		}
		fmt.Printf("  Name:     %s\n", user.Label())
		fmt.Printf("  Email:    %s\n", valueOrDefault(user.Email, "-"))
		fmt.Printf("  Language: %s\n", valueOrDefault(user.Language, "-"))
		return nil
	},
}
