package circloth

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ============================================================================
// Namespaces & keys
// ============================================================================

// Namespace is a logical cache within the local store.
type Namespace string

const (
	NamespaceItems        Namespace = "items"
	NamespaceActions      Namespace = "actions"
	NamespaceMatches      Namespace = "matches_cache"
	NamespaceLastLike     Namespace = "last_like"
	NamespaceMatchesFetch Namespace = "matches_last_fetch"
)

var allNamespaces = []Namespace{
	NamespaceItems, NamespaceActions, NamespaceMatches, NamespaceLastLike, NamespaceMatchesFetch,
}

var keyEscaper = strings.NewReplacer("%", "%25", "_", "%5F")

// CacheKey builds the storage key for a namespace, user and optional
// context. Underscores inside ids are escaped so that distinct
// (user, context) pairs never share a key.
func CacheKey(ns Namespace, userID, contextID string) string {
	key := string(ns) + "_" + keyEscaper.Replace(userID)
	if contextID != "" {
		key += "_" + keyEscaper.Replace(contextID)
	}
	return key
}

// ============================================================================
// CacheStore
// ============================================================================

// CacheStore is the only component that touches Storage. Reads fail soft:
// a missing, unreadable or corrupt entry is a miss.
type CacheStore struct {
	storage Storage
	logger  Logger
	mu      sync.Mutex // serializes read-modify-write helpers
}

func NewCacheStore(storage Storage, logger Logger) *CacheStore {
	if logger == nil {
		logger = NewNopLogger()
	}
	return &CacheStore{storage: storage, logger: logger}
}

// Get decodes the entry into dst and reports whether it was present and
// well-formed.
func (s *CacheStore) Get(ns Namespace, userID, contextID string, dst any) bool {
	key := CacheKey(ns, userID, contextID)
	raw, ok, err := s.storage.Get(key)
	if err != nil {
		s.logger.Debug("cache read failed", "key", key, "error", err)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.logger.Debug("cache entry corrupt, treating as miss", "key", key, "error", err)
		return false
	}
	return true
}

func (s *CacheStore) Set(ns Namespace, userID, contextID string, value any) error {
	key := CacheKey(ns, userID, contextID)
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding cache entry %q: %w", key, err)
	}
	return s.storage.Set(key, raw)
}

func (s *CacheStore) Clear(ns Namespace, userID, contextID string) error {
	return s.storage.Delete(CacheKey(ns, userID, contextID))
}

// ClearUser removes every entry belonging to userID, including
// context-scoped ones.
func (s *CacheStore) ClearUser(userID string) error {
	for _, ns := range allNamespaces {
		base := CacheKey(ns, userID, "")
		keys, err := s.storage.Keys(base)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if k != base && !strings.HasPrefix(k, base+"_") {
				continue
			}
			if err := s.storage.Delete(k); err != nil {
				return err
			}
		}
	}
	return nil
}

// update re-reads the entry, applies fn and writes the result back while
// holding the store lock. fn returns false to skip the write.
func update[T any](s *CacheStore, ns Namespace, userID, contextID string, fn func(cur T, found bool) (T, bool)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cur T
	found := s.Get(ns, userID, contextID, &cur)
	next, write := fn(cur, found)
	if !write {
		return nil
	}
	return s.Set(ns, userID, contextID, next)
}

// ============================================================================
// Items
// ============================================================================

// Items returns the cached items of a user within an optional context
// (e.g. "profile"). A miss yields an empty list.
func (s *CacheStore) Items(userID, contextID string) []Item {
	var items []Item
	if !s.Get(NamespaceItems, userID, contextID, &items) {
		return []Item{}
	}
	return items
}

func (s *CacheStore) SetItems(userID, contextID string, items []Item) error {
	if items == nil {
		items = []Item{}
	}
	return s.Set(NamespaceItems, userID, contextID, items)
}

// HasItems reports whether an items entry exists, even if empty.
func (s *CacheStore) HasItems(userID, contextID string) bool {
	var items []Item
	return s.Get(NamespaceItems, userID, contextID, &items)
}

// UpdateItems applies fn to the freshly re-read item list.
func (s *CacheStore) UpdateItems(userID, contextID string, fn func([]Item) []Item) error {
	return update(s, NamespaceItems, userID, contextID, func(cur []Item, _ bool) ([]Item, bool) {
		next := fn(cur)
		if next == nil {
			next = []Item{}
		}
		return next, true
	})
}

// ============================================================================
// Actions & liked items
// ============================================================================

// Actions returns the user's action log, one entry per item.
func (s *CacheStore) Actions(userID string) []Action {
	var actions []Action
	if !s.Get(NamespaceActions, userID, "", &actions) {
		return []Action{}
	}
	return actions
}

func (s *CacheStore) SetActions(userID string, actions []Action) error {
	return s.Set(NamespaceActions, userID, "", dedupeActions(actions))
}

// UpsertAction records a; it supersedes any earlier action on the same item.
func (s *CacheStore) UpsertAction(userID string, a Action) error {
	return update(s, NamespaceActions, userID, "", func(cur []Action, _ bool) ([]Action, bool) {
		return dedupeActions(append(cur, a)), true
	})
}

// LikedItems is the projection of the action log onto liked item ids,
// sorted.
func (s *CacheStore) LikedItems(userID string) []string {
	liked := []string{}
	for _, a := range s.Actions(userID) {
		if a.Action == ActionLike {
			liked = append(liked, a.ItemID)
		}
	}
	sort.Strings(liked)
	return liked
}

// IsLiked reports whether the latest action on itemID is a like.
func (s *CacheStore) IsLiked(userID, itemID string) bool {
	for _, a := range s.Actions(userID) {
		if a.ItemID == itemID {
			return a.Action == ActionLike
		}
	}
	return false
}

// SetLikedItems replaces the projection with exactly ids, stamped at.
func (s *CacheStore) SetLikedItems(userID string, ids []string, at time.Time) error {
	actions := make([]Action, 0, len(ids))
	for _, id := range ids {
		actions = append(actions, Action{UserID: userID, ItemID: id, Action: ActionLike, Timestamp: formatTimestamp(at)})
	}
	return s.SetActions(userID, actions)
}

// LatestActionAt returns the newest action timestamp known for the user,
// or the zero time.
func (s *CacheStore) LatestActionAt(userID string) time.Time {
	var latest time.Time
	for _, a := range s.Actions(userID) {
		if t := a.Time(); t.After(latest) {
			latest = t
		}
	}
	return latest
}

// dedupeActions keeps the last action per item, preserving the position
// of its latest occurrence.
func dedupeActions(actions []Action) []Action {
	last := make(map[string]int, len(actions))
	for i, a := range actions {
		last[a.ItemID] = i
	}
	out := make([]Action, 0, len(last))
	for i, a := range actions {
		if last[a.ItemID] == i {
			out = append(out, a)
		}
	}
	return out
}

// ============================================================================
// Last like
// ============================================================================

func (s *CacheStore) LastLike(userID string) (time.Time, bool) {
	var ms int64
	if !s.Get(NamespaceLastLike, userID, "", &ms) {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func (s *CacheStore) SetLastLike(userID string, at time.Time) error {
	return s.Set(NamespaceLastLike, userID, "", at.UnixMilli())
}

// ============================================================================
// Matches
// ============================================================================

func (s *CacheStore) MatchesEnvelope(userID string) (CacheEnvelope[[]Match], bool) {
	var env CacheEnvelope[[]Match]
	if !s.Get(NamespaceMatches, userID, "", &env) {
		return CacheEnvelope[[]Match]{}, false
	}
	if env.Payload == nil {
		env.Payload = []Match{}
	}
	return env, true
}

func (s *CacheStore) SetMatchesEnvelope(userID string, env CacheEnvelope[[]Match]) error {
	if env.Payload == nil {
		env.Payload = []Match{}
	}
	return s.Set(NamespaceMatches, userID, "", env)
}

// UpdateMatchesEnvelope applies fn to the re-read envelope. Nothing is
// written when no envelope is cached.
func (s *CacheStore) UpdateMatchesEnvelope(userID string, fn func(CacheEnvelope[[]Match]) CacheEnvelope[[]Match]) error {
	return update(s, NamespaceMatches, userID, "", func(cur CacheEnvelope[[]Match], found bool) (CacheEnvelope[[]Match], bool) {
		if !found {
			return cur, false
		}
		if cur.Payload == nil {
			cur.Payload = []Match{}
		}
		return fn(cur), true
	})
}

// MatchesFetchedAt returns when matches were last fetched from the backend.
func (s *CacheStore) MatchesFetchedAt(userID string) (time.Time, bool) {
	var ms int64
	if !s.Get(NamespaceMatchesFetch, userID, "", &ms) {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func (s *CacheStore) SetMatchesFetchedAt(userID string, at time.Time) error {
	return s.Set(NamespaceMatchesFetch, userID, "", at.UnixMilli())
}
