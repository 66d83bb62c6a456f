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

// candidateQueue answers POST /match with the queued responses in order,
// repeating the last one.
type candidateQueue struct {
	mu        sync.Mutex
	responses []func(w http.ResponseWriter)
}

func (q *candidateQueue) item(id string) *candidateQueue {
	return q.push(func(w http.ResponseWriter) {
		testutil.WriteJSON(w, http.StatusOK, map[string]any{"item": map[string]any{"id": id, "ownerId": "owner-" + id}})
	})
}

func (q *candidateQueue) status(code int, detail string) *candidateQueue {
	return q.push(func(w http.ResponseWriter) {
		testutil.WriteJSON(w, code, map[string]string{"detail": detail})
	})
}

func (q *candidateQueue) push(fn func(w http.ResponseWriter)) *candidateQueue {
	q.mu.Lock()
	q.responses = append(q.responses, fn)
	q.mu.Unlock()
	return q
}

func (q *candidateQueue) serve(w http.ResponseWriter, _ *http.Request) {
	q.mu.Lock()
	fn := q.responses[0]
	if len(q.responses) > 1 {
		q.responses = q.responses[1:]
	}
	q.mu.Unlock()
	fn(w)
}

func newSwipeBackend(t *testing.T) (*testutil.Backend, *candidateQueue) {
	b := testutil.NewBackend(t)
	q := &candidateQueue{}
	b.Handle("POST", "/match", q.serve)
	return b, q
}

func TestSwipeSession_Next(t *testing.T) {
	ctx := context.Background()

	t.Run("shows a candidate", func(t *testing.T) {
		b, q := newSwipeBackend(t)
		q.item("i1")
		c, _ := newTestClient(t, b)
		s := c.NewSwipeSession("A")

		var states []SwipeState
		s.OnState(func(st SwipeState) { states = append(states, st) })

		if s.State() != SwipeIdle {
			t.Fatalf("initial State() = %s", s.State())
		}
		item, err := s.Next(ctx)
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if item.ID != "i1" || s.Current().ID != "i1" || s.State() != SwipeShowing {
			t.Errorf("item = %+v, state = %s", item, s.State())
		}
		if len(states) != 2 || states[0] != SwipeFetching || states[1] != SwipeShowing {
			t.Errorf("transitions = %v", states)
		}
		body := b.Bodies("POST", "/match")[0]
		if body["user_id"] != "A" || body["filter_by_size"] != false {
			t.Errorf("match request = %v", body)
		}
	})

	t.Run("size filter is passed through", func(t *testing.T) {
		b, q := newSwipeBackend(t)
		q.item("i1")
		c, _ := newTestClient(t, b)
		s := c.NewSwipeSession("A")
		s.SetFilterBySize(true)
		s.Next(ctx)

		if body := b.Bodies("POST", "/match")[0]; body["filter_by_size"] != true {
			t.Errorf("filter_by_size = %v, want true", body["filter_by_size"])
		}
	})

	tests := []struct {
		name  string
		setup func(q *candidateQueue)
		want  SwipeState
	}{
		{"null item is empty", func(q *candidateQueue) {
			q.push(func(w http.ResponseWriter) { testutil.WriteJSON(w, http.StatusOK, map[string]any{"item": nil}) })
		}, SwipeEmpty},
		{"no items 404 is empty", func(q *candidateQueue) { q.status(http.StatusNotFound, "No items found") }, SwipeEmpty},
		{"unknown user 404 is an error", func(q *candidateQueue) { q.status(http.StatusNotFound, "User not found") }, SwipeError},
		{"server error", func(q *candidateQueue) { q.status(http.StatusInternalServerError, "boom") }, SwipeError},
		{"invalid item", func(q *candidateQueue) {
			q.push(func(w http.ResponseWriter) { testutil.WriteJSON(w, http.StatusOK, map[string]any{"item": map[string]any{"brand": "x"}}) })
		}, SwipeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, q := newSwipeBackend(t)
			tt.setup(q)
			c, _ := newTestClient(t, b)
			s := c.NewSwipeSession("A")

			item, err := s.Next(ctx)
			if item != nil {
				t.Errorf("Next() item = %+v, want nil", item)
			}
			if s.State() != tt.want {
				t.Errorf("State() = %s, want %s", s.State(), tt.want)
			}
			if (tt.want == SwipeError) != (err != nil) {
				t.Errorf("Next() error = %v", err)
			}
			if tt.want == SwipeError && s.Err() == nil {
				t.Error("Err() = nil in error state")
			}
		})
	}
}

func TestSwipeSession_RetryAfterError(t *testing.T) {
	b, q := newSwipeBackend(t)
	q.status(http.StatusBadGateway, "down").item("i1")
	c, _ := newTestClient(t, b)
	s := c.NewSwipeSession("A")
	ctx := context.Background()

	if _, err := s.Next(ctx); err == nil {
		t.Fatal("expected error on first fetch")
	}
	item, err := s.Retry(ctx)
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if item.ID != "i1" || s.State() != SwipeShowing || s.Err() != nil {
		t.Errorf("after retry item = %+v, state = %s, err = %v", item, s.State(), s.Err())
	}
}

func TestSwipeSession_EmptyCanRestart(t *testing.T) {
	b, q := newSwipeBackend(t)
	q.status(http.StatusNotFound, "No items").item("new")
	c, _ := newTestClient(t, b)
	s := c.NewSwipeSession("A")
	ctx := context.Background()

	s.Next(ctx)
	if s.State() != SwipeEmpty {
		t.Fatalf("State() = %s, want empty", s.State())
	}
	if item, _ := s.Next(ctx); item == nil || item.ID != "new" {
		t.Errorf("Next() after empty = %+v", item)
	}
}

func TestSwipeSession_Act(t *testing.T) {
	ctx := context.Background()

	t.Run("like records and advances", func(t *testing.T) {
		b, q := newSwipeBackend(t)
		q.item("i1").item("i2")
		b.JSON("POST", "/action", http.StatusOK, map[string]string{"message": "ok"})
		b.JSON("GET", "/matches/{userId}", http.StatusOK, map[string]any{"matches": []any{}})
		c, _ := newTestClient(t, b)
		s := c.NewSwipeSession("A")

		s.Next(ctx)
		next, err := s.Like(ctx)
		if err != nil {
			t.Fatalf("Like() error = %v", err)
		}
		if next.ID != "i2" || s.State() != SwipeShowing {
			t.Errorf("next = %+v, state = %s", next, s.State())
		}
		body := b.Bodies("POST", "/action")[0]
		if body["item_id"] != "i1" || body["action"] != "like" {
			t.Errorf("action request = %v", body)
		}
		if !c.Cache().IsLiked("A", "i1") {
			t.Error("liked item missing from cache")
		}
	})

	t.Run("pass records and advances", func(t *testing.T) {
		b, q := newSwipeBackend(t)
		q.item("i1").status(http.StatusNotFound, "No items")
		b.JSON("POST", "/action", http.StatusOK, map[string]string{"message": "ok"})
		c, _ := newTestClient(t, b)
		s := c.NewSwipeSession("A")

		s.Next(ctx)
		next, err := s.Pass(ctx)
		if err != nil || next != nil {
			t.Fatalf("Pass() = %+v, %v", next, err)
		}
		if s.State() != SwipeEmpty {
			t.Errorf("State() = %s, want empty", s.State())
		}
		if body := b.Bodies("POST", "/action")[0]; body["action"] != "pass" {
			t.Errorf("action request = %v", body)
		}
	})

	t.Run("no candidate", func(t *testing.T) {
		b, _ := newSwipeBackend(t)
		c, _ := newTestClient(t, b)
		s := c.NewSwipeSession("A")
		if _, err := s.Like(ctx); !errors.Is(err, ErrNoCandidate) {
			t.Errorf("Like() on idle = %v, want ErrNoCandidate", err)
		}
	})

	t.Run("double like issues one action", func(t *testing.T) {
		b, q := newSwipeBackend(t)
		q.item("i1").item("i2")
		release := make(chan struct{})
		b.Handle("POST", "/action", func(w http.ResponseWriter, r *http.Request) {
			<-release
			testutil.WriteJSON(w, http.StatusOK, map[string]string{"message": "ok"})
		})
		c, _ := newTestClient(t, b)
		s := c.NewSwipeSession("A")
		s.Next(ctx)

		done := make(chan error, 1)
		go func() {
			_, err := s.Like(ctx)
			done <- err
		}()
		testutil.Eventually(t, time.Second, func() bool { return s.State() == SwipeActing }, "first like in flight")

		if _, err := s.Like(ctx); !errors.Is(err, ErrActionInFlight) {
			t.Errorf("second Like() = %v, want ErrActionInFlight", err)
		}
		if _, err := s.Next(ctx); !errors.Is(err, ErrActionInFlight) {
			t.Errorf("Next() while acting = %v, want ErrActionInFlight", err)
		}
		close(release)
		if err := <-done; err != nil {
			t.Fatalf("first Like() error = %v", err)
		}
		if n := b.Calls("POST", "/action"); n != 1 {
			t.Errorf("/action called %d times, want 1", n)
		}
	})

	t.Run("failed action keeps the candidate", func(t *testing.T) {
		b, q := newSwipeBackend(t)
		q.item("i1").item("i2")
		b.JSON("POST", "/action", http.StatusInternalServerError, map[string]string{"detail": "boom"})
		c, _ := newTestClient(t, b)
		s := c.NewSwipeSession("A")
		s.Next(ctx)

		if _, err := s.Like(ctx); err == nil {
			t.Fatal("expected error")
		}
		if s.State() != SwipeError || s.Err() == nil {
			t.Errorf("State() = %s, Err() = %v", s.State(), s.Err())
		}
		if cur := s.Current(); cur == nil || cur.ID != "i1" {
			t.Errorf("Current() = %+v, want i1 kept", cur)
		}
		if c.Cache().IsLiked("A", "i1") {
			t.Error("failed like reached the cache")
		}
		if n := b.Calls("POST", "/match"); n != 1 {
			t.Errorf("/match called %d times, want no refetch", n)
		}
	})
}

func TestSwipeSession_HasOwnItems(t *testing.T) {
	b := testutil.NewBackend(t)
	b.JSON("GET", "/items/{userId}", http.StatusOK, map[string]any{"items": []map[string]any{{"id": "mine"}}})
	c, _ := newTestClient(t, b)
	s := c.NewSwipeSession("A")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := s.HasOwnItems(ctx)
		if err != nil || !ok {
			t.Fatalf("HasOwnItems() = %v, %v", ok, err)
		}
	}
	if n := b.Calls("GET", "/items/{userId}"); n != 1 {
		t.Errorf("/items called %d times, want 1 (cached)", n)
	}
}
