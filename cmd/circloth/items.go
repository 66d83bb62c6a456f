package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	circloth "github.com/circloth/circloth-go"
	"github.com/spf13/cobra"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	itemsListJSON   bool
	itemsListCached bool

	itemsAddSize     string
	itemsAddColor    string
	itemsAddBrand    string
	itemsAddMaterial string
	itemsAddStory    string
	itemsAddPhotos   []string
	itemsAddJSON     bool
)

var itemsCmd = &cobra.Command{
	Use:   "items",
	Short: "Manage your clothing items",
}

// ============================================================================
// items list
// ============================================================================

var itemsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your items",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		s, err := getSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		var items []circloth.Item
		if itemsListCached {
			items, err = s.client.Items.ListCached(ctx, s.userID, "")
			if err != nil {
				return fmt.Errorf("request failed: %w", err)
			}
		} else {
			items = s.client.Items.Sync(ctx, s.userID, "")
		}

		if itemsListJSON {
			return printJSON(items)
		}
		if len(items) == 0 {
			fmt.Println("No items.")
			return nil
		}
		for _, it := range items {
			fmt.Println(describeItem(it))
		}
		return nil
	},
}

// ============================================================================
// items add
// ============================================================================

var itemsAddCmd = &cobra.Command{
	Use:   "add <category> <photo-file>...",
	Short: "Upload photos and create an item",
	Long:  "Upload the given photo files to the configured bucket and create an item with them.\nUse --photo-url to reference already uploaded photos instead.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		s, err := getSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		urls := append([]string(nil), itemsAddPhotos...)
		for _, file := range args[1:] {
			u, err := uploadFile(ctx, s, file)
			if err != nil {
				return err
			}
			urls = append(urls, u)
		}

		item, err := s.client.Items.Add(ctx, circloth.NewItem{
			OwnerID:   s.userID,
			Category:  args[0],
			Size:      itemsAddSize,
			Color:     itemsAddColor,
			Brand:     itemsAddBrand,
			Material:  itemsAddMaterial,
			ItemStory: itemsAddStory,
			PhotoURLs: urls,
		}, "")
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if itemsAddJSON {
			return printJSON(item)
		}
		fmt.Printf("Item created: %s\n", describeItem(*item))
		return nil
	},
}

// ============================================================================
// items delete
// ============================================================================

var itemsDeleteCmd = &cobra.Command{
	Use:   "delete <item-id>",
	Short: "Delete an item and its photos",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s, err := getSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		items, err := s.client.Items.ListCached(ctx, s.userID, "")
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		for _, it := range items {
			if it.ID == args[0] {
				if err := s.client.Items.Delete(ctx, it, ""); err != nil {
					return fmt.Errorf("request failed: %w", err)
				}
				fmt.Printf("Item %s deleted\n", it.ID)
				return nil
			}
		}
		return fmt.Errorf("item %s not found among your items", args[0])
	},
}

// ============================================================================
// items upload
// ============================================================================

var itemsUploadCmd = &cobra.Command{
	Use:   "upload <photo-file>",
	Short: "Upload a photo and print its URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		s, err := getSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		u, err := uploadFile(ctx, s, args[0])
		if err != nil {
			return err
		}
		fmt.Println(u)
		return nil
	},
}

func uploadFile(ctx context.Context, s *session, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("cannot open %s: %w", path, err)
	}
	defer f.Close()

	u, err := s.client.Items.UploadPhoto(ctx, s.userID, filepath.Base(path), "", f)
	if err != nil {
		return "", fmt.Errorf("upload of %s failed: %w", path, err)
	}
	return u, nil
}

// ============================================================================
// Registration
// ============================================================================

func init() {
	itemsListCmd.Flags().BoolVar(&itemsListJSON, "json", false, "Output raw JSON")
	itemsListCmd.Flags().BoolVar(&itemsListCached, "cached", false, "Serve from the local cache when possible")

	itemsAddCmd.Flags().StringVar(&itemsAddSize, "size", "", "Size label")
	itemsAddCmd.Flags().StringVar(&itemsAddColor, "color", "", "Color")
	itemsAddCmd.Flags().StringVar(&itemsAddBrand, "brand", "", "Brand")
	itemsAddCmd.Flags().StringVar(&itemsAddMaterial, "material", "", "Material")
	itemsAddCmd.Flags().StringVar(&itemsAddStory, "story", "", "The item's story")
	itemsAddCmd.Flags().StringSliceVar(&itemsAddPhotos, "photo-url", nil, "Already uploaded photo URL (repeatable)")
	itemsAddCmd.Flags().BoolVar(&itemsAddJSON, "json", false, "Output raw JSON")

	itemsCmd.AddCommand(itemsListCmd)
	itemsCmd.AddCommand(itemsAddCmd)
	itemsCmd.AddCommand(itemsDeleteCmd)
	itemsCmd.AddCommand(itemsUploadCmd)
	rootCmd.AddCommand(itemsCmd)
}
