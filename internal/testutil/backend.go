// Package testutil provides deterministic clocks and a fake backend for
// package tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"nhooyr.io/websocket"
)

// Backend is an in-process fake of the REST and WebSocket backend. Every
// registered route counts its calls and records JSON request bodies.
type Backend struct {
	Router *mux.Router
	Server *httptest.Server

	mu      sync.Mutex
	calls   map[string]int
	bodies  map[string][]map[string]any
	sockets map[string][]*websocket.Conn
}

// NewBackend starts a fake backend that is shut down when the test ends.
func NewBackend(t *testing.T) *Backend {
	t.Helper()
	b := &Backend{
		Router:  mux.NewRouter(),
		calls:   make(map[string]int),
		bodies:  make(map[string][]map[string]any),
		sockets: make(map[string][]*websocket.Conn),
	}
	b.Server = httptest.NewServer(b.Router)
	t.Cleanup(b.Close)
	return b
}

// URL returns the base URL of the fake backend.
func (b *Backend) URL() string { return b.Server.URL }

// Close drops open sockets and stops the server.
func (b *Backend) Close() {
	b.mu.Lock()
	var conns []*websocket.Conn
	for _, cs := range b.sockets {
		conns = append(conns, cs...)
	}
	b.sockets = make(map[string][]*websocket.Conn)
	b.mu.Unlock()
	for _, c := range conns {
		c.Close(websocket.StatusGoingAway, "server shutdown")
	}
	b.Server.Close()
}

// Handle registers h for method and a mux path pattern such as
// "/matches/{userId}".
func (b *Backend) Handle(method, pattern string, h http.HandlerFunc) {
	key := method + " " + pattern
	b.Router.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(raw))

		b.mu.Lock()
		b.calls[key]++
		if len(raw) > 0 {
			var m map[string]any
			if json.Unmarshal(raw, &m) == nil {
				b.bodies[key] = append(b.bodies[key], m)
			}
		}
		b.mu.Unlock()

		h(w, r)
	}).Methods(method)
}

// JSON registers a route that always answers with status and body.
func (b *Backend) JSON(method, pattern string, status int, body any) {
	b.Handle(method, pattern, func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, status, body)
	})
}

// Calls returns how many requests hit the route.
func (b *Backend) Calls(method, pattern string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[method+" "+pattern]
}

// Bodies returns the decoded JSON bodies received by the route, in order.
func (b *Backend) Bodies(method, pattern string) []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]map[string]any(nil), b.bodies[method+" "+pattern]...)
}

// WriteJSON writes v as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ============================================================================
// Chat WebSocket
// ============================================================================

// EnableChatSocket serves /ws/chat/{user1}/{user2}. Connected sockets are
// kept open until the client leaves or the backend closes.
func (b *Backend) EnableChatSocket() {
	b.Handle(http.MethodGet, "/ws/chat/{user1}/{user2}", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		vars := mux.Vars(r)
		key := vars["user1"] + "/" + vars["user2"]

		b.mu.Lock()
		b.sockets[key] = append(b.sockets[key], conn)
		b.mu.Unlock()

		defer b.dropSocket(key, conn)
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
		}
	})
}

func (b *Backend) dropSocket(key string, conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	conns := b.sockets[key]
	for i, c := range conns {
		if c == conn {
			b.sockets[key] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
}

// Sockets returns the number of open sockets for the conversation.
func (b *Backend) Sockets(user1, user2 string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sockets[user1+"/"+user2])
}

// DropSockets closes every socket open for the conversation, as a backend
// restart would.
func (b *Backend) DropSockets(user1, user2 string) {
	b.mu.Lock()
	conns := b.sockets[user1+"/"+user2]
	delete(b.sockets, user1+"/"+user2)
	b.mu.Unlock()
	for _, c := range conns {
		c.Close(websocket.StatusGoingAway, "restart")
	}
}

// Push writes frame as JSON to every socket open for the conversation.
func (b *Backend) Push(ctx context.Context, user1, user2 string, frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	b.mu.Lock()
	conns := append([]*websocket.Conn(nil), b.sockets[user1+"/"+user2]...)
	b.mu.Unlock()
	for _, c := range conns {
		if err := c.Write(ctx, websocket.MessageText, data); err != nil {
			return err
		}
	}
	return nil
}

// Eventually polls cond until it holds or the timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}
