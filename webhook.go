package circloth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ============================================================================
// Webhook Types
// ============================================================================

// Webhook event names sent by the backend.
const (
	WebhookMatchCreated = "match.created"
	WebhookMatchRemoved = "match.removed"
	WebhookMessageNew   = "message.new"
)

// SignatureHeader carries the HMAC-SHA256 of the webhook body.
const SignatureHeader = "X-Circloth-Signature"

// WebhookEvent is a backend notification addressed to one user.
type WebhookEvent struct {
	Source    string       `json:"source"`
	Event     string       `json:"event"`
	UserID    string       `json:"user_id"`
	Timestamp int64        `json:"timestamp"`
	Match     *Match       `json:"match,omitempty"`
	Message   *ChatMessage `json:"message,omitempty"`
}

// WebhookHandlerFunc is called for every verified event after the local
// cache has been updated.
type WebhookHandlerFunc func(event *WebhookEvent) error

// ============================================================================
// Standalone Functions
// ============================================================================

// VerifyWebhookSignature verifies a webhook signature using HMAC-SHA256.
// Uses constant-time comparison to prevent timing attacks.
func VerifyWebhookSignature(body, signature, secret string) bool {
	if body == "" || signature == "" || secret == "" {
		return false
	}

	sig := strings.TrimPrefix(signature, "sha256=")
	if sig == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	expected := hex.EncodeToString(mac.Sum(nil))

	if len(sig) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1
}

// SignWebhookBody returns the signature header value for body.
func SignWebhookBody(body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// ParseWebhookEvent parses and checks a raw webhook body.
func ParseWebhookEvent(body string) (*WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal([]byte(body), &ev); err != nil {
		return nil, fmt.Errorf("invalid JSON in webhook body: %w", err)
	}

	if ev.Source != "circloth" {
		return nil, fmt.Errorf("unknown webhook source: %s", ev.Source)
	}
	if ev.Event == "" {
		return nil, fmt.Errorf("missing event field in webhook payload")
	}
	if ev.UserID == "" {
		return nil, fmt.Errorf("missing user_id in webhook payload")
	}
	switch ev.Event {
	case WebhookMatchCreated, WebhookMatchRemoved:
		if ev.Match == nil {
			return nil, fmt.Errorf("missing match in %s payload", ev.Event)
		}
		if err := validateOne("match", ev.Match); err != nil {
			return nil, err
		}
	case WebhookMessageNew:
		if ev.Message == nil {
			return nil, fmt.Errorf("missing message in %s payload", ev.Event)
		}
		if err := validateOne("chat message", ev.Message); err != nil {
			return nil, err
		}
	}
	return &ev, nil
}

// ============================================================================
// WebhookHandler
// ============================================================================

// WebhookHandler receives backend notifications, verifies them and keeps
// the local match cache honest: match events invalidate the addressed
// user's cached matches so the next read refetches.
type WebhookHandler struct {
	secret  string
	matches *MatchCache
	logger  Logger
	onEvent WebhookHandlerFunc
}

// NewWebhookHandler creates a handler bound to the client's match cache.
// onEvent may be nil.
func (c *Client) NewWebhookHandler(secret string, onEvent WebhookHandlerFunc) (*WebhookHandler, error) {
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	return &WebhookHandler{
		secret:  secret,
		matches: c.Matches,
		logger:  c.logger,
		onEvent: onEvent,
	}, nil
}

// Verify verifies an HMAC-SHA256 signature.
func (w *WebhookHandler) Verify(body, signature string) bool {
	return VerifyWebhookSignature(body, signature, w.secret)
}

// Handle processes a webhook request (verify, parse, update cache, call
// handler). Returns the status code and response body for the caller to
// write.
func (w *WebhookHandler) Handle(body, signature string) (int, any) {
	if !w.Verify(body, signature) {
		return http.StatusUnauthorized, map[string]string{"error": "Invalid signature"}
	}

	ev, err := ParseWebhookEvent(body)
	if err != nil {
		return http.StatusBadRequest, map[string]string{"error": err.Error()}
	}

	switch ev.Event {
	case WebhookMatchCreated, WebhookMatchRemoved:
		if err := w.matches.Invalidate(ev.UserID); err != nil {
			w.logger.Warn("webhook could not invalidate matches", "user", ev.UserID, "error", err)
		}
	}

	if w.onEvent != nil {
		if err := w.onEvent(ev); err != nil {
			return http.StatusInternalServerError, map[string]string{"error": err.Error()}
		}
	}
	return http.StatusOK, map[string]bool{"ok": true}
}

// ServeHTTP makes WebhookHandler an http.Handler.
//
// Example:
//
//	wh, _ := client.NewWebhookHandler("secret", nil)
//	http.Handle("/webhook", wh)
func (w *WebhookHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		json.NewEncoder(rw).Encode(map[string]string{"error": "Method not allowed"})
		return
	}

	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(rw).Encode(map[string]string{"error": "Failed to read body"})
		return
	}
	defer r.Body.Close()

	statusCode, data := w.Handle(string(bodyBytes), r.Header.Get(SignatureHeader))
	rw.WriteHeader(statusCode)
	json.NewEncoder(rw).Encode(data)
}
