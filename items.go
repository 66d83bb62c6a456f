package circloth

import (
	"context"
	"fmt"
	"io"
	"path"
)

// ItemsClient manages a user's clothing items and their cached copy.
type ItemsClient struct{ client *Client }

// List fetches the user's items and caches them under contextID.
func (ic *ItemsClient) List(ctx context.Context, userID, contextID string) ([]Item, error) {
	c := ic.client
	data, err := c.doRequest(ctx, "GET", "/items/"+pathSegment(userID), nil)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	resp, err := decodeJSON[itemsResponse](data)
	if err != nil {
		return nil, err
	}
	items := keepValid(c.logger, "item", resp.Items)
	if err := c.cache.SetItems(userID, contextID, items); err != nil {
		c.logger.Warn("failed to cache items", "user", userID, "error", err)
	}
	return items, nil
}

// ListCached returns the cached items when an entry exists, otherwise it
// fetches them.
func (ic *ItemsClient) ListCached(ctx context.Context, userID, contextID string) ([]Item, error) {
	if ic.client.cache.HasItems(userID, contextID) {
		return ic.client.cache.Items(userID, contextID), nil
	}
	return ic.List(ctx, userID, contextID)
}

// Sync refreshes the cache from the backend, returning the cached items if
// the backend is unreachable.
func (ic *ItemsClient) Sync(ctx context.Context, userID, contextID string) []Item {
	items, err := ic.List(ctx, userID, contextID)
	if err != nil {
		ic.client.logger.Warn("item sync failed, using cached items", "user", userID, "error", err)
		return ic.client.cache.Items(userID, contextID)
	}
	return items
}

// Add creates an item and appends it to the owner's cached items.
func (ic *ItemsClient) Add(ctx context.Context, item NewItem, contextID string) (*Item, error) {
	c := ic.client
	if err := validateOne("item", &item); err != nil {
		return nil, err
	}
	data, err := c.doRequest(ctx, "POST", "/item", item)
	if err != nil {
		return nil, fmt.Errorf("creating item: %w", err)
	}
	created, err := decodeJSON[createdResponse](data)
	if err != nil {
		return nil, err
	}
	if created.ID == "" {
		return nil, fmt.Errorf("creating item: backend returned no id")
	}

	out := Item{
		ID:             created.ID.String(),
		OwnerID:        item.OwnerID,
		Category:       item.Category,
		Size:           item.Size,
		SizeDetails:    item.SizeDetails,
		ItemStory:      item.ItemStory,
		Color:          item.Color,
		Brand:          item.Brand,
		Material:       item.Material,
		AdditionalInfo: item.AdditionalInfo,
		PhotoURLs:      append([]string(nil), item.PhotoURLs...),
	}
	err = c.cache.UpdateItems(item.OwnerID, contextID, func(items []Item) []Item {
		return append(items, out)
	})
	if err != nil {
		c.logger.Warn("failed to cache new item", "item", out.ID, "error", err)
	}
	c.logger.Info("item created", "item", out.ID, "owner", item.OwnerID)
	return &out, nil
}

// Update replaces an item's fields and refreshes its cached copy.
func (ic *ItemsClient) Update(ctx context.Context, item Item, contextID string) error {
	c := ic.client
	if err := validateOne("item", &item); err != nil {
		return err
	}
	if _, err := c.doRequest(ctx, "PUT", "/item/"+pathSegment(item.ID), item); err != nil {
		return fmt.Errorf("updating item: %w", err)
	}
	if item.OwnerID == "" {
		return nil
	}
	err := c.cache.UpdateItems(item.OwnerID, contextID, func(items []Item) []Item {
		for i := range items {
			if items[i].ID == item.ID {
				items[i] = item
			}
		}
		return items
	})
	if err != nil {
		c.logger.Warn("failed to cache item update", "item", item.ID, "error", err)
	}
	return nil
}

// Delete removes an item and, once the backend confirmed, its photos and
// cache entry. Photo deletion failures are logged and do not fail the call.
func (ic *ItemsClient) Delete(ctx context.Context, item Item, contextID string) error {
	c := ic.client
	if _, err := c.doRequest(ctx, "DELETE", "/item/"+pathSegment(item.ID), nil); err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}

	if c.photos != nil {
		for _, u := range item.PhotoURLs {
			if err := c.photos.Delete(ctx, u); err != nil {
				c.logger.Warn("failed to delete item photo", "item", item.ID, "url", u, "error", err)
			}
		}
	}

	if item.OwnerID != "" {
		err := c.cache.UpdateItems(item.OwnerID, contextID, func(items []Item) []Item {
			out := items[:0]
			for _, it := range items {
				if it.ID != item.ID {
					out = append(out, it)
				}
			}
			return out
		})
		if err != nil {
			c.logger.Warn("failed to drop deleted item from cache", "item", item.ID, "error", err)
		}
	}
	c.logger.Info("item deleted", "item", item.ID)
	return nil
}

// UploadPhoto stores a photo for ownerID and returns its public URL.
func (ic *ItemsClient) UploadPhoto(ctx context.Context, ownerID, fileName, contentType string, body io.Reader) (string, error) {
	c := ic.client
	if c.photos == nil {
		return "", ErrNoPhotoStore
	}
	if contentType == "" {
		contentType = guessMimeType(fileName)
	}
	key := path.Join(ownerID, c.ids.New()+path.Ext(fileName))
	u, err := c.photos.Put(ctx, key, contentType, body)
	if err != nil {
		return "", fmt.Errorf("uploading photo: %w", err)
	}
	return u, nil
}
