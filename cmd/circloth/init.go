package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	initBaseURL string
	initToken   string
)

func init() {
	initCmd.Flags().StringVar(&initBaseURL, "base-url", "", "Backend base URL")
	initCmd.Flags().StringVar(&initToken, "token", "", "Bearer token issued by the auth provider")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init <user-id>",
	Short: "Store the acting user in ~/.circloth/config.toml",
	Long:  "Initialize the Circloth CLI by storing your user ID and, optionally, the backend URL and token.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Default.UserID = args[0]
		if initBaseURL != "" {
			cfg.Default.BaseURL = initBaseURL
		}
		if initToken != "" {
			cfg.Default.Token = initToken
		}
		if cfg.Default.BaseURL == "" && cfg.Default.Environment == "" {
			cfg.Default.Environment = "local"
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("User %s saved to %s\n", args[0], path)
		return nil
	},
}
