package circloth

import (
	"context"
	"fmt"
	"time"
)

// MatchCache serves a user's matches from the local cache while they are
// fresh and no newer action is known, and refetches otherwise. It is the
// only writer of the matches cache.
type MatchCache struct {
	client *Client
}

func newMatchCache(c *Client) *MatchCache {
	return &MatchCache{client: c}
}

// GetMatches returns cached matches fetched less than the fresh window ago
// with no action since; otherwise it fetches from the backend. An empty
// list is cached like any other.
func (m *MatchCache) GetMatches(ctx context.Context, userID string) ([]Match, error) {
	return m.get(ctx, userID, m.client.freshWindow)
}

// GetCachedOrFresh is GetMatches with the longer record TTL as the
// staleness ceiling.
func (m *MatchCache) GetCachedOrFresh(ctx context.Context, userID string) ([]Match, error) {
	return m.get(ctx, userID, m.client.recordTTL)
}

func (m *MatchCache) get(ctx context.Context, userID string, maxAge time.Duration) ([]Match, error) {
	c := m.client
	latest := c.cache.LatestActionAt(userID)
	if env, ok := c.cache.MatchesEnvelope(userID); ok && isFresh(env, c.clock.Now(), latest, maxAge) {
		c.logger.Debug("serving matches from cache", "user", userID, "count", len(env.Payload))
		return cloneMatches(env.Payload), nil
	}
	return m.fetch(ctx, userID, latest)
}

func isFresh(env CacheEnvelope[[]Match], now, latestAction time.Time, maxAge time.Duration) bool {
	age := now.Sub(env.LastFetchedAt)
	return age >= 0 && age < maxAge && env.LastActionAt.Equal(latestAction)
}

// fetch stores the backend's matches stamped with the latest action known
// before the request, so an action landing mid-flight forces a refetch.
func (m *MatchCache) fetch(ctx context.Context, userID string, latestAction time.Time) ([]Match, error) {
	c := m.client
	data, err := c.doRequest(ctx, "GET", "/matches/"+pathSegment(userID), nil)
	if err != nil {
		return nil, fmt.Errorf("fetching matches: %w", err)
	}
	resp, err := decodeJSON[matchesResponse](data)
	if err != nil {
		return nil, err
	}
	matches := keepValid(c.logger, "match", resp.Matches)

	now := c.clock.Now()
	env := CacheEnvelope[[]Match]{Payload: matches, LastFetchedAt: now, LastActionAt: latestAction}
	if err := c.cache.SetMatchesEnvelope(userID, env); err != nil {
		c.logger.Warn("failed to cache matches", "user", userID, "error", err)
	}
	if err := c.cache.SetMatchesFetchedAt(userID, now); err != nil {
		c.logger.Debug("failed to record match fetch time", "user", userID, "error", err)
	}
	return cloneMatches(matches), nil
}

// Refresh fetches matches in the background sense: errors are logged and
// the cached list (possibly empty) is returned instead.
func (m *MatchCache) Refresh(ctx context.Context, userID string) []Match {
	matches, err := m.fetch(ctx, userID, m.client.cache.LatestActionAt(userID))
	if err != nil {
		m.client.logger.Warn("match refresh failed, keeping cached matches", "user", userID, "error", err)
		cached, _ := m.Cached(userID)
		return cached
	}
	return matches
}

// Cached returns the cached matches regardless of age.
func (m *MatchCache) Cached(userID string) ([]Match, bool) {
	env, ok := m.client.cache.MatchesEnvelope(userID)
	if !ok {
		return []Match{}, false
	}
	return cloneMatches(env.Payload), true
}

// LastFetchedAt returns when matches were last fetched from the backend.
func (m *MatchCache) LastFetchedAt(userID string) (time.Time, bool) {
	return m.client.cache.MatchesFetchedAt(userID)
}

// Invalidate drops the cached matches; the next read goes to the backend.
func (m *MatchCache) Invalidate(userID string) error {
	if err := m.client.cache.Clear(NamespaceMatches, userID, ""); err != nil {
		return fmt.Errorf("invalidating matches: %w", err)
	}
	m.client.logger.Debug("matches invalidated", "user", userID)
	return nil
}

// ApplyAction patches the cached matches after a recorded action. A pass
// removes matches on the passed item. A like adds a provisional match when
// the cache already shows the item's owner liking one of the user's items.
// The envelope keeps its action marker, so the next GetMatches refetches.
func (m *MatchCache) ApplyAction(userID string, action Action, item *Item) {
	c := m.client
	err := c.cache.UpdateMatchesEnvelope(userID, func(env CacheEnvelope[[]Match]) CacheEnvelope[[]Match] {
		switch action.Action {
		case ActionPass:
			env.Payload = withoutItem(env.Payload, action.ItemID)
		case ActionLike:
			if p, ok := reciprocalMatch(env.Payload, userID, item); ok {
				env.Payload = append(env.Payload, p)
			}
		}
		return env
	})
	if err != nil {
		c.logger.Warn("failed to patch cached matches", "user", userID, "error", err)
	}
}

func withoutItem(matches []Match, itemID string) []Match {
	out := matches[:0]
	for _, m := range matches {
		if m.TheirItem.ID != itemID {
			out = append(out, m)
		}
	}
	return out
}

func reciprocalMatch(matches []Match, userID string, item *Item) (Match, bool) {
	if item == nil || item.ID == "" || item.OwnerID == "" || item.OwnerID == userID {
		return Match{}, false
	}
	for _, m := range matches {
		if m.TheirItem.ID == item.ID {
			return Match{}, false
		}
	}
	for _, m := range matches {
		if m.OtherUser.ID != item.OwnerID {
			continue
		}
		yours := m.Yours()
		if len(yours) == 0 {
			continue
		}
		return Match{
			ID:          FlexID("provisional-" + item.ID),
			OtherUser:   m.OtherUser,
			TheirItem:   *item,
			YourItems:   append([]Item(nil), yours...),
			Provisional: true,
		}, true
	}
	return Match{}, false
}

func cloneMatches(in []Match) []Match {
	out := make([]Match, len(in))
	copy(out, in)
	return out
}
