package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	circloth "github.com/circloth/circloth-go"
)

// session bundles the configured client with the acting user.
type session struct {
	client *circloth.Client
	userID string
	cfg    *Config
}

func (s *session) Close() error { return s.client.Close() }

// getSession builds a client from the effective config, with the SQLite
// cache and, when a bucket is configured, the S3 photo store.
func getSession(ctx context.Context) (*session, error) {
	cfg, err := loadEffectiveConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Default.UserID == "" {
		return nil, fmt.Errorf("no user configured; run 'circloth init <user-id>' first")
	}

	cachePath, err := resolveCachePath(cfg)
	if err != nil {
		return nil, err
	}
	storage, err := circloth.NewSQLiteStorage(cachePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	opts := []circloth.ClientOption{
		circloth.WithStorage(storage),
		circloth.WithLogger(circloth.NewSlogLogger(logger)),
	}
	if cfg.Default.BaseURL != "" {
		opts = append(opts, circloth.WithBaseURL(cfg.Default.BaseURL))
	} else if cfg.Default.Environment != "" {
		opts = append(opts, circloth.WithEnvironment(circloth.Environment(cfg.Default.Environment)))
	}
	if cfg.Default.Token != "" {
		opts = append(opts, circloth.WithToken(cfg.Default.Token))
	}
	if cfg.Photos.S3Bucket != "" {
		photos, err := circloth.NewS3PhotoStore(ctx, circloth.S3PhotoConfig{
			Bucket:        cfg.Photos.S3Bucket,
			Region:        cfg.Photos.S3Region,
			Prefix:        cfg.Photos.S3Prefix,
			PublicBaseURL: cfg.Photos.PublicBaseURL,
		})
		if err != nil {
			storage.Close()
			return nil, err
		}
		opts = append(opts, circloth.WithPhotoStore(photos))
	}

	return &session{client: circloth.NewClient(opts...), userID: cfg.Default.UserID, cfg: cfg}, nil
}

func resolveCachePath(cfg *Config) (string, error) {
	if cfg.Default.CachePath != "" {
		return cfg.Default.CachePath, nil
	}
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "cache.db"), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// describeItem renders an item on one line.
func describeItem(it circloth.Item) string {
	parts := []string{it.Category}
	for _, p := range []string{it.Brand, it.Size, it.Color} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return fmt.Sprintf("%s  %s", it.ID, strings.Join(parts, " / "))
}

// maskKey shows the first and last 4 characters of a secret.
func maskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
