package circloth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// SwipeState is the state of a SwipeSession.
type SwipeState string

const (
	SwipeIdle     SwipeState = "idle"
	SwipeFetching SwipeState = "fetching"
	SwipeShowing  SwipeState = "showing"
	SwipeActing   SwipeState = "acting"
	SwipeEmpty    SwipeState = "empty"
	SwipeError    SwipeState = "error"
)

// EventSwipeState is emitted with the new SwipeState on every transition.
const EventSwipeState = "swipe.state"

// SwipeSession presents one candidate item at a time and records the
// user's like or pass on it.
type SwipeSession struct {
	client *Client
	userID string
	events *emitter

	mu           sync.Mutex
	state        SwipeState
	current      *Item
	err          error
	filterBySize bool
	generation   uint64
}

// NewSwipeSession creates an idle session for userID.
func (c *Client) NewSwipeSession(userID string) *SwipeSession {
	return &SwipeSession{
		client: c,
		userID: userID,
		events: newEmitter(),
		state:  SwipeIdle,
	}
}

func (s *SwipeSession) State() SwipeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Current returns the displayed candidate, if any.
func (s *SwipeSession) Current() *Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	it := *s.current
	return &it
}

// Err returns the error that put the session in the error state.
func (s *SwipeSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// OnState registers a callback for state transitions.
func (s *SwipeSession) OnState(fn func(SwipeState)) {
	s.events.On(EventSwipeState, func(_ string, payload any) {
		if st, ok := payload.(SwipeState); ok {
			fn(st)
		}
	})
}

// SetFilterBySize restricts candidates to the user's size preferences from
// the next fetch on.
func (s *SwipeSession) SetFilterBySize(on bool) {
	s.mu.Lock()
	s.filterBySize = on
	s.mu.Unlock()
}

// Next fetches the next candidate. It returns nil with no error when the
// backend has nothing left to show. Only the most recent fetch may update
// the session.
func (s *SwipeSession) Next(ctx context.Context) (*Item, error) {
	s.mu.Lock()
	if s.state == SwipeActing {
		s.mu.Unlock()
		return nil, ErrActionInFlight
	}
	s.generation++
	gen := s.generation
	filter := s.filterBySize
	s.mu.Unlock()
	s.transition(gen, SwipeFetching, nil, nil)

	item, err := s.fetchCandidate(ctx, filter)
	switch {
	case err != nil:
		s.transition(gen, SwipeError, nil, err)
		return nil, err
	case item == nil:
		s.transition(gen, SwipeEmpty, nil, nil)
		return nil, nil
	default:
		s.transition(gen, SwipeShowing, item, nil)
		it := *item
		return &it, nil
	}
}

// Retry re-enters fetching after an error or an empty result.
func (s *SwipeSession) Retry(ctx context.Context) (*Item, error) {
	return s.Next(ctx)
}

// Like records a like on the current candidate and moves to the next one.
func (s *SwipeSession) Like(ctx context.Context) (*Item, error) {
	return s.act(ctx, ActionLike)
}

// Pass records a pass on the current candidate and moves to the next one.
func (s *SwipeSession) Pass(ctx context.Context) (*Item, error) {
	return s.act(ctx, ActionPass)
}

func (s *SwipeSession) act(ctx context.Context, kind ActionKind) (*Item, error) {
	s.mu.Lock()
	switch {
	case s.state == SwipeActing:
		s.mu.Unlock()
		return nil, ErrActionInFlight
	case s.state != SwipeShowing || s.current == nil:
		s.mu.Unlock()
		return nil, ErrNoCandidate
	}
	s.generation++
	gen := s.generation
	item := *s.current
	s.mu.Unlock()
	s.transition(gen, SwipeActing, &item, nil)

	if _, err := s.client.Actions.Record(ctx, s.userID, item.ID, kind, &RecordOptions{Item: &item}); err != nil {
		s.transition(gen, SwipeError, &item, err)
		return nil, err
	}

	s.mu.Lock()
	if s.generation == gen {
		// Leave acting so Next may proceed.
		s.state = SwipeFetching
	}
	s.mu.Unlock()
	return s.Next(ctx)
}

// HasOwnItems reports whether the user has uploaded anything, from the
// cache when possible.
func (s *SwipeSession) HasOwnItems(ctx context.Context) (bool, error) {
	items, err := s.client.Items.ListCached(ctx, s.userID, "")
	if err != nil {
		return false, err
	}
	return len(items) > 0, nil
}

func (s *SwipeSession) transition(gen uint64, state SwipeState, item *Item, err error) {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.err = err
	if state != SwipeFetching {
		s.current = item
	}
	s.mu.Unlock()
	s.events.emit(EventSwipeState, state)
}

// fetchCandidate asks the backend for the next item. Both a null item and
// a "no items" 404 mean there is nothing left to show.
func (s *SwipeSession) fetchCandidate(ctx context.Context, filterBySize bool) (*Item, error) {
	c := s.client
	data, err := c.doRequest(ctx, "POST", "/match", matchRequest{UserID: s.userID, FilterBySize: filterBySize})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == 404 && !strings.Contains(strings.ToLower(apiErr.Message), "user") {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching candidate: %w", err)
	}
	resp, err := decodeJSON[matchResponse](data)
	if err != nil {
		return nil, err
	}
	if resp.Item == nil {
		return nil, nil
	}
	if err := validateOne("candidate item", resp.Item); err != nil {
		return nil, err
	}
	return resp.Item, nil
}
