// Package circloth is the Go client SDK for the Circloth clothing-exchange
// backend.
//
// It covers items, swiping, matches and chat, and keeps a local cache so
// the match list and liked items survive restarts.
//
// Example:
//
//	client := circloth.NewClient(
//		circloth.WithBaseURL("http://localhost:8000"),
//		circloth.WithStorage(storage),
//	)
//
//	// Swipe through candidates
//	session := client.NewSwipeSession("user-123")
//	item, _ := session.Next(ctx)
//	next, _ := session.Like(ctx)
//
//	// Matches grouped per conversation
//	groups, _ := client.Inbox("user-123").Load(ctx)
//
//	// Live chat
//	chat := client.Chats.NewSync("user-123", "user-456", nil)
//	_ = chat.Open(ctx)
//	_, _ = chat.Send(ctx, "Hi!")
package circloth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ============================================================================
// Environment
// ============================================================================

type Environment string

const (
	Local Environment = "local"
)

var environments = map[Environment]string{
	Local: "http://localhost:8000",
}

const (
	DefaultBaseURL = "http://localhost:8000"
	DefaultTimeout = 30 * time.Second

	// DefaultFreshWindow is how long a fetched match list is served from
	// cache when no action happened since.
	DefaultFreshWindow = 30 * time.Second
	// DefaultRecordTTL is the ceiling for GetCachedOrFresh.
	DefaultRecordTTL = 3 * time.Minute
	// DefaultPollInterval is the chat history poll period.
	DefaultPollInterval = 3 * time.Second
	// DefaultDuplicateTolerance is the timestamp distance under which two
	// otherwise equal chat messages are treated as one.
	DefaultDuplicateTolerance = 2 * time.Second
	// DefaultHistoryLimit is the number of messages requested per chat fetch.
	DefaultHistoryLimit = 50
)

// ============================================================================
// Client
// ============================================================================

type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	logger     Logger
	clock      Clock
	ids        IDGenerator
	storage    Storage
	photos     PhotoStore
	cache      *CacheStore

	freshWindow  time.Duration
	recordTTL    time.Duration
	pollInterval time.Duration
	tolerance    time.Duration

	Items   *ItemsClient
	Users   *UsersClient
	Actions *ActionsClient
	Matches *MatchCache
	Chats   *ChatClient
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithEnvironment(env Environment) ClientOption {
	return func(c *Client) {
		if u, ok := environments[env]; ok {
			c.baseURL = u
		}
	}
}

// WithTimeout bounds each backend request. It applies regardless of option
// order; a client passed to WithHTTPClient is copied, never modified.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithToken sets the bearer token issued by the auth provider.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithStorage sets the durable backend for the local cache.
// Defaults to an in-memory store.
func WithStorage(s Storage) ClientOption {
	return func(c *Client) { c.storage = s }
}

func WithLogger(l Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

func WithClock(clock Clock) ClientOption {
	return func(c *Client) { c.clock = clock }
}

func WithIDGenerator(ids IDGenerator) ClientOption {
	return func(c *Client) { c.ids = ids }
}

// WithPhotoStore enables photo upload and deletion of item photos.
func WithPhotoStore(p PhotoStore) ClientOption {
	return func(c *Client) { c.photos = p }
}

func WithFreshWindow(d time.Duration) ClientOption {
	return func(c *Client) { c.freshWindow = d }
}

func WithRecordTTL(d time.Duration) ClientOption {
	return func(c *Client) { c.recordTTL = d }
}

func WithPollInterval(d time.Duration) ClientOption {
	return func(c *Client) { c.pollInterval = d }
}

func WithDuplicateTolerance(d time.Duration) ClientOption {
	return func(c *Client) { c.tolerance = d }
}

// NewClient creates a new Circloth client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:      DefaultBaseURL,
		freshWindow:  DefaultFreshWindow,
		recordTTL:    DefaultRecordTTL,
		pollInterval: DefaultPollInterval,
		tolerance:    DefaultDuplicateTolerance,
	}

	for _, opt := range opts {
		opt(c)
	}

	switch {
	case c.httpClient == nil:
		timeout := c.timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		c.httpClient = &http.Client{Timeout: timeout}
	case c.timeout > 0:
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}
	if c.logger == nil {
		c.logger = NewNopLogger()
	}
	if c.clock == nil {
		c.clock = RealClock{}
	}
	if c.ids == nil {
		c.ids = UUIDGenerator{}
	}
	if c.storage == nil {
		c.storage = NewMemoryStorage()
	}

	c.cache = NewCacheStore(c.storage, c.logger)
	c.Items = &ItemsClient{client: c}
	c.Users = &UsersClient{client: c}
	c.Matches = newMatchCache(c)
	c.Actions = newActionsClient(c)
	c.Chats = &ChatClient{client: c}
	return c
}

// SetToken sets or updates the bearer token.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Cache returns the local cache shared by all sub-clients.
func (c *Client) Cache() *CacheStore {
	return c.cache
}

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Close releases the cache storage.
func (c *Client) Close() error {
	return c.storage.Close()
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	u := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: method + " " + path, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := newAPIError(resp.StatusCode, data)
		c.logger.Debug("backend returned error", "method", method, "path", path, "status", resp.StatusCode, "detail", apiErr.Message)
		return nil, apiErr
	}
	return data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

func pathSegment(s string) string {
	return url.PathEscape(s)
}

// wsURL turns the HTTP base URL into its WebSocket counterpart.
func (c *Client) wsURL(path string) string {
	base := strings.Replace(c.baseURL, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return base + path
}
