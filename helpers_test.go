package circloth

import (
	"testing"
	"time"

	"github.com/circloth/circloth-go/internal/testutil"
)

// newTestClient returns a client talking to b with a stub clock and
// sequential ids.
func newTestClient(t *testing.T, b *testutil.Backend, opts ...ClientOption) (*Client, *testutil.StubClock) {
	t.Helper()
	clock := testutil.FixedClock()
	base := []ClientOption{
		WithBaseURL(b.URL()),
		WithClock(clock),
		WithIDGenerator(testutil.NewStubIDGenerator()),
		WithLogger(NewNopLogger()),
	}
	c := NewClient(append(base, opts...)...)
	t.Cleanup(func() { c.Close() })
	return c, clock
}

func ts(t time.Time) string { return formatTimestamp(t) }

func matchJSON(id any, otherUser, theirItem, yourItem string) map[string]any {
	return map[string]any{
		"id":        id,
		"otherUser": map[string]any{"id": otherUser},
		"theirItem": map[string]any{"id": theirItem, "ownerId": otherUser},
		"yourItem":  map[string]any{"id": yourItem},
	}
}
