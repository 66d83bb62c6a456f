package circloth

import (
	"sort"
	"time"
)

// GroupMatches collapses raw matches into one entry per conversation and
// orders them for display. It is pure and idempotent: grouping a list that
// contains the same matches twice gives the same result as grouping it once.
//
// Matches with a single item of yours are keyed by other user and that
// item; matches listing several of your items are keyed by other user
// alone. Groups without a chat are new and listed first in first-seen
// order; the rest follow by last message, newest first.
func GroupMatches(matches []Match, chats []Chat, selfID string) []MatchGroup {
	type acc struct {
		group     MatchGroup
		seenYours map[string]bool
		seenTheir map[string]bool
		seenIDs   map[string]bool
	}

	var order []string
	byKey := make(map[string]*acc)

	for _, m := range matches {
		yours := m.Yours()
		key := groupKey(m.OtherUser.ID, yours)

		a, ok := byKey[key]
		if !ok {
			a = &acc{
				group:     MatchGroup{Key: key, OtherUser: m.OtherUser},
				seenYours: make(map[string]bool),
				seenTheir: make(map[string]bool),
				seenIDs:   make(map[string]bool),
			}
			byKey[key] = a
			order = append(order, key)
		}

		for _, it := range yours {
			if !a.seenYours[it.ID] {
				a.seenYours[it.ID] = true
				a.group.YourItems = append(a.group.YourItems, it)
			}
		}
		if id := m.TheirItem.ID; id != "" && !a.seenTheir[id] {
			a.seenTheir[id] = true
			a.group.TheirItems = append(a.group.TheirItems, m.TheirItem)
		}
		if id := string(m.ID); !a.seenIDs[id] {
			a.seenIDs[id] = true
			a.group.MatchIDs = append(a.group.MatchIDs, id)
		}
	}

	groups := make([]MatchGroup, 0, len(order))
	for _, key := range order {
		g := byKey[key].group
		if chat, ok := findChat(chats, selfID, g.OtherUser.ID); ok {
			g.IsUnread = chat.IsUnread
			g.LastMessageAt = chatActivity(chat)
		} else {
			g.IsNew = true
		}
		groups = append(groups, g)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if a.IsNew != b.IsNew {
			return a.IsNew
		}
		if a.IsNew {
			return false
		}
		return a.LastMessageAt.After(b.LastMessageAt)
	})
	return groups
}

func groupKey(otherUserID string, yours []Item) string {
	if len(yours) == 1 {
		return otherUserID + "_" + yours[0].ID
	}
	return otherUserID
}

// findChat returns the most recently active chat between selfID and
// otherID. An empty selfID matches on otherID alone.
func findChat(chats []Chat, selfID, otherID string) (Chat, bool) {
	var best Chat
	found := false
	for _, c := range chats {
		if !c.HasParticipant(otherID) {
			continue
		}
		if selfID != "" && !c.HasParticipant(selfID) {
			continue
		}
		if !found || chatActivity(c).After(chatActivity(best)) {
			best = c
			found = true
		}
	}
	return best, found
}

func chatActivity(c Chat) time.Time {
	if t := parseTimestamp(c.LastMessageAt); !t.IsZero() {
		return t
	}
	return parseTimestamp(c.CreatedAt)
}
