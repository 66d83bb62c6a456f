package circloth

import (
	"reflect"
	"testing"
)

func match(id, other, their string, yours ...string) Match {
	m := Match{ID: FlexID(id), OtherUser: User{ID: other}, TheirItem: Item{ID: their, OwnerID: other}}
	switch len(yours) {
	case 0:
	case 1:
		m.YourItem = &Item{ID: yours[0]}
	default:
		for _, y := range yours {
			m.YourItems = append(m.YourItems, Item{ID: y})
		}
	}
	return m
}

func TestGroupMatches(t *testing.T) {
	t.Run("same user and item share a group", func(t *testing.T) {
		matches := []Match{
			match("m1", "B", "x1", "y1"),
			match("m2", "B", "x2", "y1"),
		}
		chats := []Chat{{ID: "c1", Participants: []string{"A", "B"}, IsUnread: true, LastMessageAt: "2025-03-01T11:00:00Z"}}

		groups := GroupMatches(matches, chats, "A")
		if len(groups) != 1 {
			t.Fatalf("got %d groups, want 1", len(groups))
		}
		g := groups[0]
		if g.Key != "B_y1" {
			t.Errorf("Key = %q, want B_y1", g.Key)
		}
		if !reflect.DeepEqual(g.MatchIDs, []string{"m1", "m2"}) {
			t.Errorf("MatchIDs = %v", g.MatchIDs)
		}
		if len(g.TheirItems) != 2 || g.TheirItems[0].ID != "x1" || g.TheirItems[1].ID != "x2" {
			t.Errorf("TheirItems = %+v", g.TheirItems)
		}
		if len(g.YourItems) != 1 || g.YourItems[0].ID != "y1" {
			t.Errorf("YourItems = %+v", g.YourItems)
		}
		if !g.IsUnread || g.IsNew {
			t.Errorf("IsUnread = %v, IsNew = %v; want true, false", g.IsUnread, g.IsNew)
		}
	})

	t.Run("different items of yours split groups", func(t *testing.T) {
		groups := GroupMatches([]Match{
			match("m1", "B", "x1", "y1"),
			match("m2", "B", "x1", "y2"),
		}, nil, "A")
		if len(groups) != 2 {
			t.Fatalf("got %d groups, want 2", len(groups))
		}
	})

	t.Run("several items of yours key by user", func(t *testing.T) {
		groups := GroupMatches([]Match{
			match("m1", "B", "x1", "y1", "y2"),
			match("m2", "B", "x2", "y2", "y3"),
		}, nil, "A")
		if len(groups) != 1 {
			t.Fatalf("got %d groups, want 1", len(groups))
		}
		g := groups[0]
		if g.Key != "B" {
			t.Errorf("Key = %q, want B", g.Key)
		}
		if len(g.YourItems) != 3 {
			t.Errorf("YourItems = %+v, want y1 y2 y3", g.YourItems)
		}
	})

	t.Run("missing chat is new and read", func(t *testing.T) {
		groups := GroupMatches([]Match{match("m1", "B", "x1", "y1")}, nil, "A")
		if !groups[0].IsNew || groups[0].IsUnread {
			t.Errorf("IsNew = %v, IsUnread = %v; want true, false", groups[0].IsNew, groups[0].IsUnread)
		}
	})

	t.Run("chat must include self", func(t *testing.T) {
		chats := []Chat{{Participants: []string{"B", "Z"}, LastMessageAt: "2025-03-01T11:00:00Z"}}
		groups := GroupMatches([]Match{match("m1", "B", "x1", "y1")}, chats, "A")
		if !groups[0].IsNew {
			t.Error("a chat between other users must not count")
		}
	})

	t.Run("idempotent over duplicated input", func(t *testing.T) {
		matches := []Match{
			match("m1", "B", "x1", "y1"),
			match("m2", "C", "x2", "y2"),
			match("m3", "B", "x3", "y1"),
		}
		chats := []Chat{{Participants: []string{"A", "C"}, LastMessageAt: "2025-03-01T09:00:00Z"}}

		once := GroupMatches(matches, chats, "A")
		twice := GroupMatches(append(append([]Match{}, matches...), matches...), chats, "A")
		if !reflect.DeepEqual(once, twice) {
			t.Errorf("grouping twice differs:\n%+v\n%+v", once, twice)
		}
	})

	t.Run("each match id appears exactly once", func(t *testing.T) {
		matches := []Match{
			match("m1", "B", "x1", "y1"),
			match("m2", "B", "x2", "y2"),
			match("m3", "C", "x3", "y1"),
			match("m1", "B", "x1", "y1"),
		}
		seen := map[string]int{}
		for _, g := range GroupMatches(matches, nil, "A") {
			for _, id := range g.MatchIDs {
				seen[id]++
			}
		}
		for _, id := range []string{"m1", "m2", "m3"} {
			if seen[id] != 1 {
				t.Errorf("match %s appears %d times", id, seen[id])
			}
		}
	})

	t.Run("ordering", func(t *testing.T) {
		matches := []Match{
			match("m1", "B", "x1", "y1"), // chat 10:00
			match("m2", "C", "x2", "y2"), // new
			match("m3", "D", "x3", "y3"), // chat 11:00
			match("m4", "E", "x4", "y4"), // new
			match("m5", "F", "x5", "y5"), // chat 10:00
		}
		chats := []Chat{
			{Participants: []string{"A", "B"}, LastMessageAt: "2025-03-01T10:00:00Z"},
			{Participants: []string{"A", "D"}, LastMessageAt: "2025-03-01T11:00:00Z"},
			{Participants: []string{"A", "F"}, LastMessageAt: "2025-03-01T10:00:00Z"},
		}

		var got []string
		for _, g := range GroupMatches(matches, chats, "A") {
			got = append(got, g.OtherUser.ID)
		}
		want := []string{"C", "E", "D", "B", "F"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("order = %v, want %v", got, want)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		groups := GroupMatches(nil, nil, "A")
		if groups == nil || len(groups) != 0 {
			t.Errorf("GroupMatches(nil) = %v, want empty", groups)
		}
	})
}
