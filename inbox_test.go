package circloth

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/circloth/circloth-go/internal/testutil"
)

func newInboxBackend(t *testing.T) *testutil.Backend {
	b := testutil.NewBackend(t)
	b.JSON("GET", "/matches/{userId}", http.StatusOK, map[string]any{
		"matches": []any{
			matchJSON("m1", "B", "b1", "y1"),
			matchJSON("m2", "B", "b2", "y1"),
			matchJSON("m3", "C", "c1", "y2"),
		},
	})
	return b
}

func TestInbox_Load(t *testing.T) {
	ctx := context.Background()

	t.Run("groups matches with chats", func(t *testing.T) {
		b := newInboxBackend(t)
		b.JSON("GET", "/chats/{userId}", http.StatusOK, map[string]any{
			"chats": []map[string]any{
				{"id": "chat-ab", "participants": []string{"A", "B"}, "is_unread": true, "last_message_at": "2025-03-01T11:00:00Z"},
			},
		})
		c, _ := newTestClient(t, b)

		groups, err := c.Inbox("A").Load(ctx)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if len(groups) != 2 {
			t.Fatalf("Load() = %+v, want 2 groups", groups)
		}
		if groups[0].OtherUser.ID != "C" || !groups[0].IsNew {
			t.Errorf("first group = %+v, want new group with C", groups[0])
		}
		if groups[1].OtherUser.ID != "B" || !groups[1].IsUnread || len(groups[1].TheirItems) != 2 {
			t.Errorf("second group = %+v", groups[1])
		}
	})

	t.Run("keeps last chats when the chat list fails", func(t *testing.T) {
		b := newInboxBackend(t)
		var mu sync.Mutex
		fail := false
		b.Handle("GET", "/chats/{userId}", func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			defer mu.Unlock()
			if fail {
				testutil.WriteJSON(w, http.StatusInternalServerError, map[string]string{"detail": "boom"})
				return
			}
			testutil.WriteJSON(w, http.StatusOK, map[string]any{
				"chats": []map[string]any{{"id": "chat-ab", "participants": []string{"A", "B"}}},
			})
		})
		c, _ := newTestClient(t, b)
		inbox := c.Inbox("A")

		inbox.Load(ctx)
		mu.Lock()
		fail = true
		mu.Unlock()

		groups, err := inbox.Load(ctx)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		for _, g := range groups {
			if g.OtherUser.ID == "B" && g.IsNew {
				t.Error("group with B lost its chat after a failed chat fetch")
			}
		}
	})

	t.Run("match failure surfaces", func(t *testing.T) {
		b := testutil.NewBackend(t)
		b.JSON("GET", "/matches/{userId}", http.StatusInternalServerError, map[string]string{"detail": "boom"})
		c, _ := newTestClient(t, b)
		if _, err := c.Inbox("A").Load(ctx); err == nil {
			t.Error("expected error")
		}
	})
}

func TestInbox_Watch(t *testing.T) {
	b := newInboxBackend(t)
	b.JSON("GET", "/chats/{userId}", http.StatusOK, map[string]any{"chats": []any{}})
	c, _ := newTestClient(t, b)

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan []MatchGroup, 8)
	done := make(chan struct{})
	go func() {
		c.Inbox("A").Watch(ctx, 10*time.Millisecond, func(g []MatchGroup) { updates <- g })
		close(done)
	}()

	for i := 0; i < 2; i++ {
		select {
		case g := <-updates:
			if len(g) != 2 {
				t.Errorf("update %d has %d groups", i, len(g))
			}
		case <-time.After(time.Second):
			t.Fatal("no update from Watch")
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watch did not stop on cancel")
	}
}
