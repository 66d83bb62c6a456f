package circloth

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/circloth/circloth-go/internal/testutil"
)

func TestActionsClient_Record(t *testing.T) {
	ctx := context.Background()

	t.Run("like then pass supersedes", func(t *testing.T) {
		b := testutil.NewBackend(t)
		b.JSON("POST", "/action", http.StatusOK, map[string]string{"message": "Action recorded"})
		c, clock := newTestClient(t, b)

		res, err := c.Actions.Record(ctx, "A", "X", ActionLike, nil)
		if err != nil {
			t.Fatalf("Record(like) error = %v", err)
		}
		if res.Message != "Action recorded" || res.Action.Action != ActionLike {
			t.Errorf("Record(like) = %+v", res)
		}
		if !c.Cache().IsLiked("A", "X") {
			t.Fatal("X not liked after like")
		}
		if last, ok := c.Cache().LastLike("A"); !ok || !last.Equal(clock.Now().Truncate(time.Millisecond)) {
			t.Errorf("LastLike() = %v, %v", last, ok)
		}

		clock.Advance(time.Second)
		if _, err := c.Actions.Record(ctx, "A", "X", ActionPass, nil); err != nil {
			t.Fatalf("Record(pass) error = %v", err)
		}
		if c.Cache().IsLiked("A", "X") {
			t.Fatal("X still liked after pass")
		}

		bodies := b.Bodies("POST", "/action")
		if len(bodies) != 2 {
			t.Fatalf("got %d /action bodies, want 2", len(bodies))
		}
		if _, ok := bodies[0]["last_like"]; !ok {
			t.Error("like body missing last_like")
		}
		if _, ok := bodies[1]["last_like"]; ok {
			t.Error("pass body should not carry last_like")
		}
		if bodies[1]["action"] != "pass" || bodies[1]["item_id"] != "X" || bodies[1]["user_id"] != "A" {
			t.Errorf("pass body = %v", bodies[1])
		}
	})

	t.Run("invalid action never reaches backend", func(t *testing.T) {
		b := testutil.NewBackend(t)
		b.JSON("POST", "/action", http.StatusOK, map[string]string{})
		c, _ := newTestClient(t, b)

		_, err := c.Actions.Record(ctx, "A", "X", ActionKind("superlike"), nil)
		if !errors.Is(err, ErrInvalidAction) {
			t.Fatalf("error = %v, want ErrInvalidAction", err)
		}
		if n := b.Calls("POST", "/action"); n != 0 {
			t.Errorf("/action called %d times", n)
		}
	})

	t.Run("backend failure leaves cache untouched", func(t *testing.T) {
		b := testutil.NewBackend(t)
		b.JSON("POST", "/action", http.StatusInternalServerError, map[string]string{"detail": "database unavailable"})
		c, _ := newTestClient(t, b)

		_, err := c.Actions.Record(ctx, "A", "X", ActionLike, nil)
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("error = %v, want *APIError", err)
		}
		if apiErr.Status != http.StatusInternalServerError || apiErr.Message != "database unavailable" {
			t.Errorf("APIError = %+v", apiErr)
		}
		if c.Cache().IsLiked("A", "X") {
			t.Error("cache mutated after failed action")
		}
		if _, ok := c.Cache().LastLike("A"); ok {
			t.Error("last_like written after failed action")
		}
	})

	t.Run("concurrent duplicate is rejected", func(t *testing.T) {
		b := testutil.NewBackend(t)
		release := make(chan struct{})
		b.Handle("POST", "/action", func(w http.ResponseWriter, r *http.Request) {
			<-release
			testutil.WriteJSON(w, http.StatusOK, map[string]string{"message": "ok"})
		})
		c, _ := newTestClient(t, b)

		var wg sync.WaitGroup
		wg.Add(1)
		var firstErr error
		go func() {
			defer wg.Done()
			_, firstErr = c.Actions.Record(ctx, "A", "X", ActionLike, nil)
		}()
		testutil.Eventually(t, time.Second, func() bool { return b.Calls("POST", "/action") == 1 }, "first action in flight")

		_, err := c.Actions.Record(ctx, "A", "X", ActionLike, nil)
		if !errors.Is(err, ErrActionInFlight) {
			t.Errorf("second Record() error = %v, want ErrActionInFlight", err)
		}
		close(release)
		wg.Wait()

		if firstErr != nil {
			t.Fatalf("first Record() error = %v", firstErr)
		}
		if n := b.Calls("POST", "/action"); n != 1 {
			t.Errorf("/action called %d times, want 1", n)
		}
	})

	t.Run("each action moves the latest-action marker", func(t *testing.T) {
		b := testutil.NewBackend(t)
		b.JSON("POST", "/action", http.StatusOK, map[string]string{})
		c, _ := newTestClient(t, b)

		c.Actions.Record(ctx, "A", "X", ActionLike, nil)
		first := c.Cache().LatestActionAt("A")
		// The stub clock does not move between the two actions.
		c.Actions.Record(ctx, "A", "Y", ActionPass, nil)
		second := c.Cache().LatestActionAt("A")
		if !second.After(first) {
			t.Errorf("LatestActionAt did not advance: %v then %v", first, second)
		}
	})
}

func TestActionsClient_ListAndSync(t *testing.T) {
	ctx := context.Background()

	t.Run("list caches backend actions", func(t *testing.T) {
		b := testutil.NewBackend(t)
		b.JSON("GET", "/user/{userId}/actions", http.StatusOK, map[string]any{
			"actions": []map[string]any{
				{"user_id": "A", "item_id": "X", "action": "like", "timestamp": "2025-03-01T10:00:00Z"},
				{"user_id": "A", "item_id": "Y", "action": "pass", "timestamp": "2025-03-01T10:01:00Z"},
				{"user_id": "A", "item_id": "", "action": "like"},
			},
		})
		c, _ := newTestClient(t, b)

		actions, err := c.Actions.List(ctx, "A", false)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(actions) != 2 {
			t.Fatalf("List() returned %d actions, want 2 (invalid dropped)", len(actions))
		}

		if _, err := c.Actions.List(ctx, "A", true); err != nil {
			t.Fatalf("cached List() error = %v", err)
		}
		if n := b.Calls("GET", "/user/{userId}/actions"); n != 1 {
			t.Errorf("backend called %d times, want 1", n)
		}
		if got := c.Actions.LikedItems("A"); len(got) != 1 || got[0] != "X" {
			t.Errorf("LikedItems() = %v, want [X]", got)
		}
	})

	t.Run("sync falls back to cache", func(t *testing.T) {
		b := testutil.NewBackend(t)
		b.JSON("GET", "/user/{userId}/actions", http.StatusServiceUnavailable, map[string]string{"detail": "down"})
		c, clock := newTestClient(t, b)
		c.Cache().SetLikedItems("A", []string{"Z"}, clock.Now())

		got := c.Actions.Sync(ctx, "A")
		if len(got) != 1 || got[0] != "Z" {
			t.Errorf("Sync() = %v, want [Z]", got)
		}
	})
}

func TestActionsClient_LikedItemsOf(t *testing.T) {
	b := testutil.NewBackend(t)
	b.Handle("GET", "/user/{visitor}/liked_items/{profile}", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user/visitor/liked_items/owner" {
			t.Errorf("path = %s", r.URL.Path)
		}
		testutil.WriteJSON(w, http.StatusOK, map[string]any{
			"liked_items": []map[string]any{{"id": "i1", "ownerId": "owner"}},
		})
	})
	c, _ := newTestClient(t, b)

	items, err := c.Actions.LikedItemsOf(context.Background(), "owner", "visitor")
	if err != nil {
		t.Fatalf("LikedItemsOf() error = %v", err)
	}
	if len(items) != 1 || items[0].ID != "i1" {
		t.Errorf("LikedItemsOf() = %+v", items)
	}
}
