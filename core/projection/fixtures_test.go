package projection

import (
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/dcb-go/core/dcb"
	"github.com/codewandler/dcb-go/core/suid"
)

type (
	itemAdded struct {
		Name string `json:"name"`
		Note string `json:"note,omitempty"`
	}
	itemRenamed struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	catalog struct {
		Items []string `json:"items"`
		Notes []string `json:"notes,omitempty"`
	}
)

func (itemAdded) EventType() string   { return "ItemAdded" }
func (itemRenamed) EventType() string { return "ItemRenamed" }

func catalogProjector(version string) Projector {
	return NewProjector("catalog", version, func(c catalog, ev dcb.Event) (catalog, error) {
		switch p := ev.Payload.(type) {
		case itemAdded:
			c.Items = append(slices.Clone(c.Items), p.Name)
			if p.Note != "" {
				c.Notes = append(slices.Clone(c.Notes), p.Note)
			}
		case itemRenamed:
			c.Items = slices.Clone(c.Items)
			for i, name := range c.Items {
				if name == p.From {
					c.Items[i] = p.To
				}
			}
		}
		return c, nil
	})
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// eventAt builds an event whose position lies at t; seq keeps positions in
// one millisecond distinct.
func eventAt(t time.Time, seq uint64, payload any) dcb.Event {
	return dcb.Event{
		ID:         uuid.New(),
		SortableID: suid.Generate(t, seq),
		Type:       dcb.EventTypeOf(payload),
		Tags:       []string{"catalog:main"},
		Payload:    payload,
	}
}

func newTestActor(t *testing.T, clock *testClock, opts ...Option) *Actor {
	t.Helper()
	a, err := NewActor(catalogProjector("v1"), append([]Option{WithClock(clock.Now)}, opts...)...)
	require.NoError(t, err)
	return a
}

func payloadOf(t *testing.T, s State) catalog {
	t.Helper()
	c, ok := s.Payload.(catalog)
	require.True(t, ok, "payload is %T", s.Payload)
	return c
}
