package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.circloth/config.toml.
type Config struct {
	Default ConfigDefault `toml:"default"`
	Photos  ConfigPhotos  `toml:"photos"`
}

// ConfigDefault holds general SDK settings.
type ConfigDefault struct {
	Environment string `toml:"environment"`
	BaseURL     string `toml:"base_url"`
	Token       string `toml:"token"`
	UserID      string `toml:"user_id"`
	CachePath   string `toml:"cache_path"`
}

// ConfigPhotos holds the S3 photo bucket settings.
type ConfigPhotos struct {
	S3Bucket      string `toml:"s3_bucket"`
	S3Region      string `toml:"s3_region"`
	S3Prefix      string `toml:"s3_prefix"`
	PublicBaseURL string `toml:"public_base_url"`
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.circloth, creating it if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".circloth")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

// configPath returns the full path to the config file.
func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads and parses the config file.
// If the file does not exist, it returns a zero-value Config.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

// loadEffectiveConfig is loadConfig with environment overrides applied.
// A .env file in the working directory is read first if present.
func loadEffectiveConfig() (*Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("could not read .env", "error", err)
	}
	overrides := map[string]*string{
		"CIRCLOTH_BACKEND_URL": &cfg.Default.BaseURL,
		"CIRCLOTH_TOKEN":       &cfg.Default.Token,
		"CIRCLOTH_USER_ID":     &cfg.Default.UserID,
		"CIRCLOTH_CACHE_PATH":  &cfg.Default.CachePath,
		"CIRCLOTH_S3_BUCKET":   &cfg.Photos.S3Bucket,
		"AWS_REGION":           &cfg.Photos.S3Region,
	}
	for env, dst := range overrides {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	return cfg, nil
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "default.user_id").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. default.user_id)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "default":
		switch field {
		case "environment":
			cfg.Default.Environment = value
		case "base_url":
			cfg.Default.BaseURL = value
		case "token":
			cfg.Default.Token = value
		case "user_id":
			cfg.Default.UserID = value
		case "cache_path":
			cfg.Default.CachePath = value
		default:
			return fmt.Errorf("unknown field %q in section [default]", field)
		}
	case "photos":
		switch field {
		case "s3_bucket":
			cfg.Photos.S3Bucket = value
		case "s3_region":
			cfg.Photos.S3Region = value
		case "s3_prefix":
			cfg.Photos.S3Prefix = value
		case "public_base_url":
			cfg.Photos.PublicBaseURL = value
		default:
			return fmt.Errorf("unknown field %q in section [photos]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: default, photos)", section)
	}
	return nil
}

// ============================================================================
// Root command
// ============================================================================

var (
	verbose bool
	logger  = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
)

var rootCmd = &cobra.Command{
	Use:   "circloth",
	Short: "Circloth SDK CLI",
	Long:  "Command-line interface for the Circloth clothing-exchange backend.\nManage items, swipe, browse matches and chat.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		}
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log SDK activity to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
