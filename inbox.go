package circloth

import (
	"context"
	"sync"
	"time"
)

// Inbox combines a user's matches with their chats into display-ready
// match groups.
type Inbox struct {
	client *Client
	userID string

	mu        sync.Mutex
	lastChats []Chat
}

// Inbox returns the match-group view for userID.
func (c *Client) Inbox(userID string) *Inbox {
	return &Inbox{client: c, userID: userID}
}

// Load returns the grouped matches. Matches follow the cache policy of
// GetMatches. If chats cannot be fetched the last known chats are used.
func (i *Inbox) Load(ctx context.Context) ([]MatchGroup, error) {
	matches, err := i.client.Matches.GetMatches(ctx, i.userID)
	if err != nil {
		return nil, err
	}
	return GroupMatches(matches, i.chats(ctx), i.userID), nil
}

func (i *Inbox) chats(ctx context.Context) []Chat {
	chats, err := i.client.Chats.List(ctx, i.userID)
	i.mu.Lock()
	defer i.mu.Unlock()
	if err != nil {
		i.client.logger.Warn("chat list fetch failed, using last known chats", "user", i.userID, "error", err)
		return i.lastChats
	}
	i.lastChats = chats
	return chats
}

// Watch loads the groups every interval and hands them to fn until ctx is
// done. Load errors are logged and the tick is skipped.
func (i *Inbox) Watch(ctx context.Context, interval time.Duration, fn func([]MatchGroup)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		groups, err := i.Load(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			i.client.logger.Warn("inbox refresh failed", "user", i.userID, "error", err)
		} else {
			fn(groups)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
