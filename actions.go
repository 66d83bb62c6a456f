package circloth

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ActionsClient records like/pass decisions and keeps the local liked-items
// projection in step with the backend.
type ActionsClient struct {
	client *Client

	mu       sync.Mutex
	inflight map[string]struct{}
}

func newActionsClient(c *Client) *ActionsClient {
	return &ActionsClient{client: c, inflight: make(map[string]struct{})}
}

// RecordOptions carries optional context for Record.
type RecordOptions struct {
	// Item is the acted-on item. When set, a like on an item whose owner
	// already matched with the user yields a provisional match in the cache.
	Item *Item
}

// Record sends a like or pass for itemID. Only one action per (user, item)
// may be in flight; a concurrent duplicate returns ErrActionInFlight
// without reaching the backend. The local cache is touched only after the
// backend accepted the action.
func (a *ActionsClient) Record(ctx context.Context, userID, itemID string, kind ActionKind, opts *RecordOptions) (*ActionResult, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, kind)
	}
	if userID == "" || itemID == "" {
		return nil, fmt.Errorf("%w: user id and item id are required", ErrInvalidAction)
	}

	key := userID + "\x00" + itemID
	a.mu.Lock()
	if _, busy := a.inflight[key]; busy {
		a.mu.Unlock()
		return nil, ErrActionInFlight
	}
	a.inflight[key] = struct{}{}
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.inflight, key)
		a.mu.Unlock()
	}()

	c := a.client
	at := a.nextActionTime(userID)
	req := actionRequest{UserID: userID, ItemID: itemID, Action: kind}
	if kind == ActionLike {
		ms := at.UnixMilli()
		req.LastLike = &ms
	}

	data, err := c.doRequest(ctx, "POST", "/action", req)
	if err != nil {
		return nil, fmt.Errorf("recording %s on item %s: %w", kind, itemID, err)
	}
	result, err := decodeJSON[ActionResult](data)
	if err != nil {
		c.logger.Debug("unexpected action response body", "error", err)
		result = &ActionResult{}
	}

	action := Action{UserID: userID, ItemID: itemID, Action: kind, Timestamp: formatTimestamp(at)}
	result.Action = action

	if err := c.cache.UpsertAction(userID, action); err != nil {
		c.logger.Warn("failed to cache action", "user", userID, "item", itemID, "error", err)
	}
	if kind == ActionLike {
		if err := c.cache.SetLastLike(userID, at); err != nil {
			c.logger.Warn("failed to cache last like", "user", userID, "error", err)
		}
	}
	var item *Item
	if opts != nil {
		item = opts.Item
	}
	c.Matches.ApplyAction(userID, action, item)

	c.logger.Info("action recorded", "user", userID, "item", itemID, "action", kind)
	return result, nil
}

// nextActionTime returns a timestamp strictly after every action already
// known for the user, so each action moves the latest-action marker.
func (a *ActionsClient) nextActionTime(userID string) time.Time {
	at := a.client.clock.Now().UTC()
	if latest := a.client.cache.LatestActionAt(userID); !at.After(latest) {
		at = latest.Add(time.Millisecond)
	}
	return at
}

// List returns the user's actions. With useCache, a non-empty cached log is
// returned without a network call.
func (a *ActionsClient) List(ctx context.Context, userID string, useCache bool) ([]Action, error) {
	c := a.client
	if useCache {
		if cached := c.cache.Actions(userID); len(cached) > 0 {
			return cached, nil
		}
	}

	data, err := c.doRequest(ctx, "GET", "/user/"+pathSegment(userID)+"/actions", nil)
	if err != nil {
		return nil, fmt.Errorf("listing actions: %w", err)
	}
	resp, err := decodeJSON[actionsResponse](data)
	if err != nil {
		return nil, err
	}
	actions := keepValid(c.logger, "action", resp.Actions)
	if err := c.cache.SetActions(userID, actions); err != nil {
		c.logger.Warn("failed to cache actions", "user", userID, "error", err)
	}
	return c.cache.Actions(userID), nil
}

// Sync rebuilds the liked-items projection from the backend and returns it.
// On failure the cached projection is returned.
func (a *ActionsClient) Sync(ctx context.Context, userID string) []string {
	if _, err := a.List(ctx, userID, false); err != nil {
		a.client.logger.Warn("action sync failed, using cached likes", "user", userID, "error", err)
	}
	return a.client.cache.LikedItems(userID)
}

// LikedItems returns the cached liked item ids of a user.
func (a *ActionsClient) LikedItems(userID string) []string {
	return a.client.cache.LikedItems(userID)
}

// LikedItemsOf returns the items of profileUserID that visitorUserID has
// liked, as the backend knows them.
func (a *ActionsClient) LikedItemsOf(ctx context.Context, profileUserID, visitorUserID string) ([]Item, error) {
	c := a.client
	path := "/user/" + pathSegment(visitorUserID) + "/liked_items/" + pathSegment(profileUserID)
	data, err := c.doRequest(ctx, "GET", path, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching liked items: %w", err)
	}
	resp, err := decodeJSON[likedItemsResponse](data)
	if err != nil {
		return nil, err
	}
	return keepValid(c.logger, "item", resp.LikedItems), nil
}
