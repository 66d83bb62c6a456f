package circloth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Configuration
// ============================================================================

// SocketConfig configures the chat push channel.
type SocketConfig struct {
	Token                string
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
	HTTPClient           *http.Client
}

func (c *SocketConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
}

// SocketState represents the connection state.
type SocketState string

const (
	SocketDisconnected SocketState = "disconnected"
	SocketConnecting   SocketState = "connecting"
	SocketConnected    SocketState = "connected"
	SocketReconnecting SocketState = "reconnecting"
)

// PushChannel delivers chat messages as the backend pushes them.
type PushChannel interface {
	Connect(ctx context.Context) error
	OnMessage(handler func(ChatMessage))
	Close() error
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *SocketConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

// shouldReconnect reports whether another attempt is allowed. A negative
// MaxReconnectAttempts retries forever.
func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts < 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

func (r *reconnector) reset() {
	r.attempt = 0
	r.connectedAt = time.Time{}
}

// ============================================================================
// ChatSocket
// ============================================================================

// ChatSocket is the WebSocket push channel of one conversation, with
// auto-reconnect and heartbeat. It can be reconnected after Close.
type ChatSocket struct {
	url              string
	config           *SocketConfig
	logger           Logger
	clock            Clock
	mu               sync.Mutex
	conn             *websocket.Conn
	state            SocketState
	intentionalClose bool
	recon            *reconnector
	cancelFn         context.CancelFunc
	handlersMu       sync.RWMutex
	handlers         []func(ChatMessage)
}

// NewSocket creates the push channel for the conversation between user1
// and user2. Call Connect to establish it.
func (cc *ChatClient) NewSocket(user1, user2 string, config *SocketConfig) *ChatSocket {
	cfg := SocketConfig{AutoReconnect: true}
	if config != nil {
		cfg = *config
	}
	if cfg.Token == "" {
		cfg.Token = cc.client.token
	}
	cfg.defaults()
	return &ChatSocket{
		url:    cc.client.wsURL("/ws/chat/" + pathSegment(user1) + "/" + pathSegment(user2)),
		config: &cfg,
		logger: cc.client.logger,
		clock:  cc.client.clock,
		state:  SocketDisconnected,
		recon:  newReconnector(&cfg),
	}
}

// URL returns the WebSocket endpoint.
func (ws *ChatSocket) URL() string { return ws.url }

// OnMessage registers a handler for pushed messages. Messages without a
// timestamp are stamped with the receipt time.
func (ws *ChatSocket) OnMessage(h func(ChatMessage)) {
	ws.handlersMu.Lock()
	ws.handlers = append(ws.handlers, h)
	ws.handlersMu.Unlock()
}

// State returns the current connection state.
func (ws *ChatSocket) State() SocketState {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.state
}

// Connect dials the socket. The connection, including reconnects, lives
// until Close or until ctx is done.
func (ws *ChatSocket) Connect(ctx context.Context) error {
	ws.mu.Lock()
	if ws.state != SocketDisconnected {
		ws.mu.Unlock()
		return nil
	}
	ws.state = SocketConnecting
	ws.intentionalClose = false
	runCtx, cancel := context.WithCancel(ctx)
	ws.cancelFn = cancel
	ws.mu.Unlock()

	ws.recon.reset()
	if err := ws.dial(runCtx); err != nil {
		ws.mu.Lock()
		ws.state = SocketDisconnected
		ws.cancelFn = nil
		ws.mu.Unlock()
		cancel()
		return err
	}
	return nil
}

func (ws *ChatSocket) dial(ctx context.Context) error {
	opts := &websocket.DialOptions{HTTPClient: ws.config.HTTPClient}
	if ws.config.Token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + ws.config.Token}}
	}
	conn, _, err := websocket.Dial(ctx, ws.url, opts)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	ws.mu.Lock()
	if ws.intentionalClose {
		ws.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
		return ErrClosed
	}
	ws.conn = conn
	ws.state = SocketConnected
	ws.mu.Unlock()
	ws.recon.markConnected()
	ws.logger.Debug("chat socket connected", "url", ws.url)

	go ws.readLoop(ctx, conn)
	go ws.heartbeatLoop(ctx, conn)
	return nil
}

// Close gracefully closes the connection and stops reconnecting.
func (ws *ChatSocket) Close() error {
	ws.mu.Lock()
	ws.intentionalClose = true
	if ws.cancelFn != nil {
		ws.cancelFn()
		ws.cancelFn = nil
	}
	conn := ws.conn
	ws.conn = nil
	ws.state = SocketDisconnected
	ws.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

func (ws *ChatSocket) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			ws.mu.Lock()
			intentional := ws.intentionalClose
			if !intentional {
				ws.state = SocketDisconnected
				ws.conn = nil
			}
			ws.mu.Unlock()
			if intentional || ctx.Err() != nil {
				return
			}

			ws.logger.Warn("chat socket dropped", "url", ws.url, "error", err)
			if ws.config.AutoReconnect {
				ws.reconnect(ctx)
			}
			return
		}

		var msg ChatMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			ws.logger.Debug("ignoring malformed chat frame", "error", err)
			continue
		}
		if err := validateOne("chat frame", &msg); err != nil {
			ws.logger.Debug("ignoring invalid chat frame", "error", err)
			continue
		}
		if msg.Timestamp == "" {
			msg.Timestamp = formatTimestamp(ws.clock.Now())
			msg.Local = true
		}
		ws.dispatch(msg)
	}
}

func (ws *ChatSocket) dispatch(msg ChatMessage) {
	ws.handlersMu.RLock()
	handlers := append([]func(ChatMessage){}, ws.handlers...)
	ws.handlersMu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() { recover() }() // swallow panics in user callbacks
			h(msg)
		}()
	}
}

func (ws *ChatSocket) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(ws.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ws.mu.Lock()
			current := ws.conn
			ws.mu.Unlock()
			if current != conn {
				return
			}

			pingCtx, cancel := context.WithTimeout(ctx, ws.config.HeartbeatInterval)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				// Heartbeat failed, force close so readLoop reconnects.
				conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

func (ws *ChatSocket) reconnect(ctx context.Context) {
	for ws.recon.shouldReconnect() {
		delay := ws.recon.nextDelay()
		ws.mu.Lock()
		ws.state = SocketReconnecting
		ws.mu.Unlock()
		ws.logger.Debug("chat socket reconnecting", "attempt", ws.recon.attempt, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		err := ws.dial(ctx)
		if err == nil || errors.Is(err, ErrClosed) {
			return
		}
	}

	ws.mu.Lock()
	ws.state = SocketDisconnected
	ws.mu.Unlock()
	ws.logger.Warn("chat socket gave up reconnecting", "url", ws.url)
}
