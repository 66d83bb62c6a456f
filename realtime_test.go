package circloth

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/circloth/circloth-go/internal/testutil"
	"nhooyr.io/websocket"
)

func TestReconnector(t *testing.T) {
	t.Run("delay grows and is capped", func(t *testing.T) {
		r := newReconnector(&SocketConfig{
			ReconnectBaseDelay:   100 * time.Millisecond,
			ReconnectMaxDelay:    time.Second,
			MaxReconnectAttempts: 10,
		})
		prev := time.Duration(0)
		for i := 0; i < 3; i++ {
			d := r.nextDelay()
			if d < prev {
				t.Errorf("attempt %d delay %v shorter than previous %v", i, d, prev)
			}
			prev = d
		}
		for i := 0; i < 5; i++ {
			if d := r.nextDelay(); d > time.Second {
				t.Errorf("delay %v exceeds max", d)
			}
		}
	})

	t.Run("attempt limit", func(t *testing.T) {
		r := newReconnector(&SocketConfig{ReconnectBaseDelay: time.Millisecond, ReconnectMaxDelay: time.Millisecond, MaxReconnectAttempts: 2})
		r.nextDelay()
		r.nextDelay()
		if r.shouldReconnect() {
			t.Error("shouldReconnect() = true after max attempts")
		}
		r.reset()
		if !r.shouldReconnect() {
			t.Error("shouldReconnect() = false after reset")
		}
	})

	t.Run("negative limit retries forever", func(t *testing.T) {
		r := newReconnector(&SocketConfig{ReconnectBaseDelay: time.Millisecond, ReconnectMaxDelay: time.Millisecond, MaxReconnectAttempts: -1})
		for i := 0; i < 100; i++ {
			r.nextDelay()
		}
		if !r.shouldReconnect() {
			t.Error("shouldReconnect() = false with unlimited attempts")
		}
	})
}

type received struct {
	mu   sync.Mutex
	msgs []ChatMessage
}

func (r *received) add(m ChatMessage) {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
}

func (r *received) all() []ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ChatMessage(nil), r.msgs...)
}

func TestChatSocket(t *testing.T) {
	ctx := context.Background()

	t.Run("URL", func(t *testing.T) {
		c := NewClient(WithBaseURL("https://api.example.com"))
		ws := c.Chats.NewSocket("a b", "c", nil)
		if got, want := ws.URL(), "wss://api.example.com/ws/chat/a%20b/c"; got != want {
			t.Errorf("URL() = %q, want %q", got, want)
		}
	})

	t.Run("delivers valid frames", func(t *testing.T) {
		b := testutil.NewBackend(t)
		b.EnableChatSocket()
		c, clock := newTestClient(t, b)
		ws := c.Chats.NewSocket("A", "B", nil)
		var got received
		ws.OnMessage(got.add)
		ws.OnMessage(func(ChatMessage) { panic("bad handler") })

		if err := ws.Connect(ctx); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		defer ws.Close()
		if ws.State() != SocketConnected {
			t.Fatalf("State() = %s, want connected", ws.State())
		}
		testutil.Eventually(t, time.Second, func() bool { return b.Sockets("A", "B") == 1 }, "socket registered")

		b.Push(ctx, "A", "B", "not an object")
		b.Push(ctx, "A", "B", map[string]string{"sender": "B", "content": "no receiver"})
		b.Push(ctx, "A", "B", map[string]string{"sender": "B", "receiver": "A", "content": "hi"})
		testutil.Eventually(t, time.Second, func() bool { return len(got.all()) == 1 }, "one message delivered")

		msg := got.all()[0]
		if msg.Content != "hi" || msg.Timestamp != ts(clock.Now()) || !msg.Local {
			t.Errorf("message = %+v, want stamped with receipt time", msg)
		}
	})

	t.Run("sends bearer token", func(t *testing.T) {
		b := testutil.NewBackend(t)
		auth := make(chan string, 1)
		b.Handle("GET", "/ws/chat/{user1}/{user2}", func(w http.ResponseWriter, r *http.Request) {
			auth <- r.Header.Get("Authorization")
			conn, err := websocket.Accept(w, r, nil)
			if err != nil {
				return
			}
			conn.Close(websocket.StatusNormalClosure, "")
		})
		c, _ := newTestClient(t, b, WithToken("tok"))
		ws := c.Chats.NewSocket("A", "B", &SocketConfig{})
		ws.Connect(ctx)
		defer ws.Close()

		select {
		case got := <-auth:
			if got != "Bearer tok" {
				t.Errorf("Authorization = %q", got)
			}
		case <-time.After(time.Second):
			t.Fatal("socket never dialed")
		}
	})

	t.Run("dial failure", func(t *testing.T) {
		b := testutil.NewBackend(t)
		c, _ := newTestClient(t, b)
		ws := c.Chats.NewSocket("A", "B", nil)
		if err := ws.Connect(ctx); err == nil {
			t.Fatal("expected error without a socket endpoint")
		}
		if ws.State() != SocketDisconnected {
			t.Errorf("State() = %s, want disconnected", ws.State())
		}
	})

	t.Run("reconnects after drop", func(t *testing.T) {
		b := testutil.NewBackend(t)
		b.EnableChatSocket()
		c, _ := newTestClient(t, b)
		ws := c.Chats.NewSocket("A", "B", &SocketConfig{
			AutoReconnect:      true,
			ReconnectBaseDelay: 10 * time.Millisecond,
			ReconnectMaxDelay:  20 * time.Millisecond,
		})
		var got received
		ws.OnMessage(got.add)
		if err := ws.Connect(ctx); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		defer ws.Close()
		testutil.Eventually(t, time.Second, func() bool { return b.Sockets("A", "B") == 1 }, "first socket")

		b.DropSockets("A", "B")
		testutil.Eventually(t, 2*time.Second, func() bool {
			return b.Sockets("A", "B") == 1 && ws.State() == SocketConnected
		}, "socket re-established")

		b.Push(ctx, "A", "B", map[string]string{"sender": "B", "receiver": "A", "content": "back"})
		testutil.Eventually(t, time.Second, func() bool { return len(got.all()) == 1 }, "message after reconnect")
	})

	t.Run("close stops the connection", func(t *testing.T) {
		b := testutil.NewBackend(t)
		b.EnableChatSocket()
		c, _ := newTestClient(t, b)
		ws := c.Chats.NewSocket("A", "B", nil)
		ws.Connect(ctx)
		testutil.Eventually(t, time.Second, func() bool { return b.Sockets("A", "B") == 1 }, "socket open")

		if err := ws.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
		testutil.Eventually(t, time.Second, func() bool { return b.Sockets("A", "B") == 0 }, "socket released")
		if ws.State() != SocketDisconnected {
			t.Errorf("State() = %s, want disconnected", ws.State())
		}
	})
}

func TestChatSync_OverWebSocket(t *testing.T) {
	ctx := context.Background()
	cb := newChatBackend(t, ChatMessage{Sender: "A", Receiver: "B", Content: "hi", Timestamp: "2025-03-01T11:00:00Z"})
	cb.EnableChatSocket()
	c, _ := newTestClient(t, cb.Backend, WithPollInterval(time.Hour))

	s := c.Chats.NewSync("A", "B", nil)
	if err := s.Open(ctx); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()
	testutil.Eventually(t, time.Second, func() bool { return cb.Sockets("A", "B") == 1 }, "push connected")

	cb.Push(ctx, "A", "B", map[string]string{"sender": "B", "receiver": "A", "content": "hey", "timestamp": "2025-03-01T11:05:00Z"})
	testutil.Eventually(t, time.Second, func() bool { return len(s.Messages()) == 2 }, "pushed message merged")

	msgs := s.Messages()
	if msgs[0].Content != "hi" || msgs[1].Content != "hey" {
		t.Errorf("Messages() = %+v", msgs)
	}

	s.Close()
	testutil.Eventually(t, time.Second, func() bool { return cb.Sockets("A", "B") == 0 }, "push released on close")
}
