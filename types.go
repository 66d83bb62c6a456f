package circloth

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ============================================================================
// Errors
// ============================================================================

var (
	// ErrNotOpen is returned when sending on a chat that is not live.
	ErrNotOpen = errors.New("circloth: chat is not open")
	// ErrEmptyMessage is returned for a message that is empty after trimming.
	ErrEmptyMessage = errors.New("circloth: message is empty")
	// ErrActionInFlight is returned when an action for the same item is
	// already being recorded.
	ErrActionInFlight = errors.New("circloth: action already in flight")
	// ErrInvalidAction is returned for an action other than like or pass.
	ErrInvalidAction = errors.New("circloth: invalid action")
	// ErrNoCandidate is returned when acting without a displayed candidate.
	ErrNoCandidate = errors.New("circloth: no candidate to act on")
	// ErrClosed is returned when using a closed session.
	ErrClosed = errors.New("circloth: closed")
	// ErrNoPhotoStore is returned when photo operations have no store configured.
	ErrNoPhotoStore = errors.New("circloth: no photo store configured")
)

// APIError is returned when the backend answers with a non-2xx status.
// Message carries the backend's "detail" field when present.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code,omitempty"`
	Message string `json:"detail"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("circloth: backend returned %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("circloth: backend returned %d: %s", e.Status, e.Message)
}

func newAPIError(status int, body []byte) *APIError {
	e := &APIError{Status: status, Code: strconv.Itoa(status)}
	var raw struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &raw); err != nil || len(raw.Detail) == 0 {
		e.Message = strings.TrimSpace(string(body))
		return e
	}
	var s string
	if err := json.Unmarshal(raw.Detail, &s); err == nil {
		e.Message = s
		return e
	}
	// Validation failures carry a structured detail; keep it verbatim.
	e.Message = string(raw.Detail)
	return e
}

// NetworkError wraps a transport failure: the request never produced a
// response.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return "circloth: " + e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a backend 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// ============================================================================
// Items & Users
// ============================================================================

// Item is a clothing item. Items are immutable once created except through
// ItemsClient.Update.
type Item struct {
	ID             string   `json:"id" validate:"required"`
	OwnerID        string   `json:"ownerId,omitempty"`
	Category       string   `json:"category,omitempty"`
	Size           string   `json:"size,omitempty"`
	SizeDetails    string   `json:"sizeDetails,omitempty"`
	ItemStory      string   `json:"itemStory,omitempty"`
	Color          string   `json:"color,omitempty"`
	Brand          string   `json:"brand,omitempty"`
	Material       string   `json:"material,omitempty"`
	AdditionalInfo string   `json:"additionalInfo,omitempty"`
	PhotoURLs      []string `json:"photoURLs,omitempty"`
}

// NewItem is the payload for creating an item.
type NewItem struct {
	OwnerID        string   `json:"ownerId" validate:"required"`
	Category       string   `json:"category" validate:"required"`
	Size           string   `json:"size,omitempty"`
	SizeDetails    string   `json:"sizeDetails,omitempty"`
	ItemStory      string   `json:"itemStory,omitempty"`
	Color          string   `json:"color,omitempty"`
	Brand          string   `json:"brand,omitempty"`
	Material       string   `json:"material,omitempty"`
	AdditionalInfo string   `json:"additionalInfo,omitempty"`
	PhotoURLs      []string `json:"photoURLs" validate:"required,min=1,dive,required"`
}

type User struct {
	ID                string `json:"id" validate:"required"`
	Name              string `json:"name,omitempty"`
	DisplayName       string `json:"displayName,omitempty"`
	Email             string `json:"email,omitempty"`
	Language          string `json:"language,omitempty"`
	ProfilePictureURL string `json:"profile_picture_url,omitempty"`
}

// Label returns the best human-readable name for the user.
func (u User) Label() string {
	switch {
	case u.DisplayName != "":
		return u.DisplayName
	case u.Name != "":
		return u.Name
	default:
		return u.ID
	}
}

// SizePreferences maps a category to the sizes a user wants to see.
type SizePreferences map[string][]string

// ============================================================================
// Actions
// ============================================================================

type ActionKind string

const (
	ActionLike ActionKind = "like"
	ActionPass ActionKind = "pass"
)

func (k ActionKind) Valid() bool {
	return k == ActionLike || k == ActionPass
}

// Action is a user's decision on an item. A later action on the same item
// supersedes an earlier one.
type Action struct {
	UserID    string     `json:"user_id,omitempty"`
	ItemID    string     `json:"item_id" validate:"required"`
	Action    ActionKind `json:"action" validate:"oneof=like pass"`
	Timestamp string     `json:"timestamp,omitempty"`
}

// Time parses the action timestamp. The zero time is returned when it is
// missing or unparseable.
func (a Action) Time() time.Time {
	return parseTimestamp(a.Timestamp)
}

type ActionResult struct {
	Message string `json:"message,omitempty"`
	Action  Action `json:"-"`
}

// ============================================================================
// Matches
// ============================================================================

// FlexID is an identifier that the backend may send as either a JSON number
// or a JSON string.
type FlexID string

func (id *FlexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = FlexID(n.String())
	return nil
}

func (id FlexID) String() string { return string(id) }

// Match pairs one of the other user's items with one or more of yours.
// Older backends send a single YourItem, newer ones YourItems.
type Match struct {
	ID          FlexID `json:"id" validate:"required"`
	OtherUser   User   `json:"otherUser"`
	TheirItem   Item   `json:"theirItem"`
	YourItem    *Item  `json:"yourItem,omitempty"`
	YourItems   []Item `json:"yourItems,omitempty" validate:"omitempty,dive"`
	Provisional bool   `json:"provisional,omitempty"`
}

// Yours returns the user's side of the match, whichever form it arrived in.
func (m Match) Yours() []Item {
	if len(m.YourItems) > 0 {
		return m.YourItems
	}
	if m.YourItem != nil {
		return []Item{*m.YourItem}
	}
	return nil
}

// MatchGroup collapses all matches with one other user around the same
// item of yours into a single conversation entry.
type MatchGroup struct {
	Key           string
	OtherUser     User
	YourItems     []Item
	TheirItems    []Item
	MatchIDs      []string
	IsUnread      bool
	IsNew         bool
	LastMessageAt time.Time
}

// ============================================================================
// Chat
// ============================================================================

type Chat struct {
	ID            string   `json:"id"`
	Participants  []string `json:"participants" validate:"required,min=1,dive,required"`
	IsUnread      bool     `json:"is_unread"`
	LastMessageAt string   `json:"last_message_at,omitempty"`
	Status        string   `json:"status,omitempty"`
	CreatedAt     string   `json:"created_at,omitempty"`
}

// HasParticipant reports whether userID takes part in the chat.
func (c Chat) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

type ChatMessage struct {
	Sender    string `json:"sender" validate:"required"`
	Receiver  string `json:"receiver" validate:"required"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`

	// Local is set when Timestamp was assigned by this client on receipt
	// rather than by the backend.
	Local bool `json:"-"`
}

func (m ChatMessage) Time() time.Time {
	return parseTimestamp(m.Timestamp)
}

// ============================================================================
// Cache
// ============================================================================

// CacheEnvelope wraps a cached payload with the bookkeeping the staleness
// policy needs.
type CacheEnvelope[T any] struct {
	Payload       T         `json:"payload"`
	LastFetchedAt time.Time `json:"lastFetchedAt"`
	LastActionAt  time.Time `json:"lastActionAt"`
}

// ============================================================================
// Wire payloads
// ============================================================================

type matchRequest struct {
	UserID       string `json:"user_id"`
	FilterBySize bool   `json:"filter_by_size"`
}

type matchResponse struct {
	Item *Item `json:"item"`
}

type actionRequest struct {
	UserID   string     `json:"user_id"`
	ItemID   string     `json:"item_id"`
	Action   ActionKind `json:"action"`
	LastLike *int64     `json:"last_like,omitempty"`
}

type chatSendRequest struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Content  string `json:"content"`
}

type chatListRequest struct {
	User1 string `json:"user1"`
	User2 string `json:"user2"`
	Limit int    `json:"limit"`
}

type itemsResponse struct {
	Items []Item `json:"items"`
}

type matchesResponse struct {
	Matches []Match `json:"matches"`
}

type actionsResponse struct {
	Actions []Action `json:"actions"`
}

type chatsResponse struct {
	Chats []Chat `json:"chats"`
}

type messagesResponse struct {
	Messages []ChatMessage `json:"messages"`
}

type likedItemsResponse struct {
	LikedItems []Item `json:"liked_items"`
}

type sizePreferencesResponse struct {
	SizePreferences SizePreferences `json:"size_preferences"`
}

type createdResponse struct {
	ID      FlexID `json:"id"`
	Message string `json:"message,omitempty"`
}

// ============================================================================
// Timestamps
// ============================================================================

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// parseTimestamp accepts the ISO forms the backend emits, with or without
// a zone designator. Zone-less values are read as UTC.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
