package circloth

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ============================================================================
// ChatClient
// ============================================================================

// ChatClient wraps the chat endpoints and creates live conversation syncs.
type ChatClient struct{ client *Client }

// List returns the chats a user takes part in.
func (cc *ChatClient) List(ctx context.Context, userID string) ([]Chat, error) {
	c := cc.client
	data, err := c.doRequest(ctx, "GET", "/chats/"+pathSegment(userID), nil)
	if err != nil {
		return nil, fmt.Errorf("listing chats: %w", err)
	}
	resp, err := decodeJSON[chatsResponse](data)
	if err != nil {
		return nil, err
	}
	return keepValid(c.logger, "chat", resp.Chats), nil
}

// History returns up to limit messages between user1 and user2.
func (cc *ChatClient) History(ctx context.Context, user1, user2 string, limit int) ([]ChatMessage, error) {
	c := cc.client
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	data, err := c.doRequest(ctx, "POST", "/chat/list", chatListRequest{User1: user1, User2: user2, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("fetching chat history: %w", err)
	}
	resp, err := decodeJSON[messagesResponse](data)
	if err != nil {
		return nil, err
	}
	return keepValid(c.logger, "chat message", resp.Messages), nil
}

// Send posts a message and returns it as confirmed by the backend. Fields
// the backend does not echo are filled from the request; a missing
// timestamp becomes the confirmation time.
func (cc *ChatClient) Send(ctx context.Context, sender, receiver, content string) (*ChatMessage, error) {
	c := cc.client
	data, err := c.doRequest(ctx, "POST", "/chat/send", chatSendRequest{Sender: sender, Receiver: receiver, Content: content})
	if err != nil {
		return nil, fmt.Errorf("sending message: %w", err)
	}
	msg, err := decodeJSON[ChatMessage](data)
	if err != nil {
		msg = &ChatMessage{}
	}
	if msg.Sender == "" {
		msg.Sender = sender
	}
	if msg.Receiver == "" {
		msg.Receiver = receiver
	}
	if msg.Content == "" {
		msg.Content = content
	}
	if msg.Timestamp == "" {
		msg.Timestamp = formatTimestamp(c.clock.Now())
		msg.Local = true
	}
	return msg, nil
}

// ============================================================================
// ChatSync
// ============================================================================

// ChatState is the lifecycle state of a ChatSync.
type ChatState string

const (
	ChatClosed  ChatState = "closed"
	ChatLoading ChatState = "loading"
	ChatLive    ChatState = "live"
)

// Events emitted by ChatSync.
const (
	EventChatMessages = "chat.messages"
	EventChatState    = "chat.state"
)

// ChatSyncOptions tunes a ChatSync. Zero values take the client defaults.
type ChatSyncOptions struct {
	// Push overrides the push channel. Nil uses a ChatSocket unless
	// DisablePush is set.
	Push         PushChannel
	DisablePush  bool
	PollInterval time.Duration
	Tolerance    time.Duration
	Limit        int
}

// chatEntry is a message in the local view. token is set while the entry
// is provisional (a confirmed send or a pushed frame) and its backend copy
// has not been seen yet. paired marks backend entries that already stand
// for a provisional copy or came with the initial history.
type chatEntry struct {
	msg    ChatMessage
	token  string
	paired bool
}

// ChatSync keeps one conversation's message list live by merging the
// initial history, pushed messages and periodic polls. The list only
// grows: a poll never removes a message that push already delivered.
type ChatSync struct {
	chats        *ChatClient
	selfID       string
	otherID      string
	push         PushChannel
	pollInterval time.Duration
	tolerance    time.Duration
	limit        int
	events       *emitter

	mu         sync.Mutex
	state      ChatState
	generation uint64
	entries    []chatEntry
	cancel     context.CancelFunc
}

// NewSync creates a closed ChatSync for the conversation between selfID
// and otherID.
func (cc *ChatClient) NewSync(selfID, otherID string, opts *ChatSyncOptions) *ChatSync {
	c := cc.client
	o := ChatSyncOptions{}
	if opts != nil {
		o = *opts
	}
	if o.PollInterval <= 0 {
		o.PollInterval = c.pollInterval
	}
	if o.Tolerance <= 0 {
		o.Tolerance = c.tolerance
	}
	if o.Limit <= 0 {
		o.Limit = DefaultHistoryLimit
	}

	s := &ChatSync{
		chats:        cc,
		selfID:       selfID,
		otherID:      otherID,
		pollInterval: o.PollInterval,
		tolerance:    o.Tolerance,
		limit:        o.Limit,
		events:       newEmitter(),
		state:        ChatClosed,
	}
	switch {
	case o.Push != nil:
		s.push = o.Push
	case !o.DisablePush:
		s.push = cc.NewSocket(selfID, otherID, nil)
	}
	if s.push != nil {
		s.push.OnMessage(s.handlePush)
	}
	return s
}

// State returns the lifecycle state.
func (s *ChatSync) State() ChatState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages returns a snapshot of the conversation, ordered by timestamp.
func (s *ChatSync) Messages() []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// OnChange registers a callback invoked with a fresh snapshot whenever the
// message list changes.
func (s *ChatSync) OnChange(fn func([]ChatMessage)) {
	s.events.On(EventChatMessages, func(_ string, payload any) {
		if msgs, ok := payload.([]ChatMessage); ok {
			fn(msgs)
		}
	})
}

// OnState registers a callback for lifecycle transitions.
func (s *ChatSync) OnState(fn func(ChatState)) {
	s.events.On(EventChatState, func(_ string, payload any) {
		if st, ok := payload.(ChatState); ok {
			fn(st)
		}
	})
}

// Open loads the history and goes live. A failed history fetch still goes
// live with an empty list; polling fills it in later. ctx bounds the
// lifetime of the poll loop and the push connection.
func (s *ChatSync) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.state != ChatClosed {
		s.mu.Unlock()
		return nil
	}
	s.generation++
	gen := s.generation
	s.state = ChatLoading
	s.entries = nil
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()
	s.events.emit(EventChatState, ChatLoading)

	logger := s.chats.client.logger
	history, err := s.chats.History(runCtx, s.selfID, s.otherID, s.limit)
	if err != nil {
		logger.Warn("chat history fetch failed", "self", s.selfID, "other", s.otherID, "error", err)
		history = nil
	}

	s.mu.Lock()
	if s.generation != gen {
		// Closed while loading.
		s.mu.Unlock()
		return nil
	}
	s.mergeLocked(history, "")
	for i := range s.entries {
		s.entries[i].paired = true
	}
	s.state = ChatLive
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.events.emit(EventChatState, ChatLive)
	s.events.emit(EventChatMessages, snapshot)

	if s.push != nil {
		if err := s.push.Connect(runCtx); err != nil {
			logger.Warn("chat push unavailable, relying on polling", "self", s.selfID, "other", s.otherID, "error", err)
		}
	}
	go s.pollLoop(runCtx, gen)
	return nil
}

// Close stops polling and releases the push channel. Results of requests
// still in flight are discarded.
func (s *ChatSync) Close() error {
	s.mu.Lock()
	if s.state == ChatClosed {
		s.mu.Unlock()
		return nil
	}
	s.generation++
	s.state = ChatClosed
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.events.emit(EventChatState, ChatClosed)
	if s.push != nil {
		return s.push.Close()
	}
	return nil
}

// Send posts content to the other user. The message is appended only
// after the backend confirms it.
func (s *ChatSync) Send(ctx context.Context, content string) (*ChatMessage, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}
	s.mu.Lock()
	if s.state != ChatLive {
		s.mu.Unlock()
		return nil, ErrNotOpen
	}
	gen := s.generation
	s.mu.Unlock()

	msg, err := s.chats.Send(ctx, s.selfID, s.otherID, content)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return msg, nil
	}
	changed := s.mergeLocked([]ChatMessage{*msg}, s.chats.client.ids.New())
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	if changed {
		s.events.emit(EventChatMessages, snapshot)
	}
	return msg, nil
}

func (s *ChatSync) handlePush(msg ChatMessage) {
	if !s.belongs(msg) {
		return
	}
	s.mu.Lock()
	if s.state != ChatLive {
		s.mu.Unlock()
		return
	}
	if msg.Timestamp == "" {
		msg.Timestamp = formatTimestamp(s.chats.client.clock.Now())
		msg.Local = true
	}
	token := ""
	if msg.Local {
		token = s.chats.client.ids.New()
	}
	changed := s.mergeLocked([]ChatMessage{msg}, token)
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	if changed {
		s.events.emit(EventChatMessages, snapshot)
	}
}

func (s *ChatSync) pollLoop(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx, gen)
		}
	}
}

func (s *ChatSync) poll(ctx context.Context, gen uint64) {
	history, err := s.chats.History(ctx, s.selfID, s.otherID, s.limit)
	if err != nil {
		if ctx.Err() == nil {
			s.chats.client.logger.Debug("chat poll failed", "self", s.selfID, "other", s.otherID, "error", err)
		}
		return
	}

	s.mu.Lock()
	if s.generation != gen || s.state != ChatLive {
		s.mu.Unlock()
		return
	}
	changed := s.mergeLocked(history, "")
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	if changed {
		s.events.emit(EventChatMessages, snapshot)
	}
}

func (s *ChatSync) belongs(m ChatMessage) bool {
	return (m.Sender == s.selfID && m.Receiver == s.otherID) ||
		(m.Sender == s.otherID && m.Receiver == s.selfID)
}

// mergeLocked adds the incoming batch to the view and reports whether it
// changed. Each existing entry absorbs at most one incoming message per
// batch, so distinct backend records with equal content survive. A non-empty
// token marks the batch as provisional. Provisional and backend copies of
// one message are paired on sender, receiver and content, so clock skew
// between client and backend never shows a message twice.
func (s *ChatSync) mergeLocked(incoming []ChatMessage, token string) bool {
	existing := len(s.entries)
	claimed := make([]bool, existing)
	changed := false

	for _, in := range incoming {
		if !s.belongs(in) {
			continue
		}
		idx := -1
		for i := 0; i < existing; i++ {
			if !claimed[i] && s.sameMessage(s.entries[i].msg, in) {
				idx = i
				break
			}
		}
		switch {
		case idx >= 0 && token == "":
			if s.entries[idx].token != "" {
				s.entries[idx].token = ""
				s.entries[idx].paired = true
			}
		case idx >= 0:
			if s.entries[idx].token == "" {
				s.entries[idx].paired = true
			}
		case token == "":
			// Backend copy of a provisional entry stamped by this client.
			if idx = s.counterpartLocked(in, claimed, true); idx >= 0 {
				s.entries[idx] = chatEntry{msg: in, paired: true}
				changed = true
			}
		default:
			// Provisional copy of a backend entry a poll already delivered.
			if idx = s.counterpartLocked(in, claimed, false); idx >= 0 {
				s.entries[idx].paired = true
			}
		}
		if idx >= 0 {
			claimed[idx] = true
			continue
		}
		s.entries = append(s.entries, chatEntry{msg: in, token: token})
		changed = true
	}

	if changed {
		sort.SliceStable(s.entries, func(i, j int) bool {
			return s.entries[i].msg.Time().Before(s.entries[j].msg.Time())
		})
	}
	return changed
}

// counterpartLocked finds the oldest unclaimed entry with the same content
// as m. provisional selects token entries; otherwise unpaired backend
// entries are searched.
func (s *ChatSync) counterpartLocked(m ChatMessage, claimed []bool, provisional bool) int {
	for i := range claimed {
		e := s.entries[i]
		if claimed[i] || !sameContent(e.msg, m) {
			continue
		}
		if provisional && e.token != "" {
			return i
		}
		if !provisional && e.token == "" && !e.paired {
			return i
		}
	}
	return -1
}

func (s *ChatSync) sameMessage(a, b ChatMessage) bool {
	if !sameContent(a, b) {
		return false
	}
	ta, tb := a.Time(), b.Time()
	if ta.IsZero() || tb.IsZero() {
		return ta.IsZero() && tb.IsZero()
	}
	d := ta.Sub(tb)
	if d < 0 {
		d = -d
	}
	return d <= s.tolerance
}

func sameContent(a, b ChatMessage) bool {
	return a.Sender == b.Sender && a.Receiver == b.Receiver && a.Content == b.Content
}

func (s *ChatSync) snapshotLocked() []ChatMessage {
	out := make([]ChatMessage, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.msg
	}
	return out
}
