package nats

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/dcb-go/core/dcb"
	"github.com/codewandler/dcb-go/core/suid"
	"github.com/codewandler/dcb-go/core/tag"
)

type itemAdded struct {
	Name string `json:"name"`
}

func (itemAdded) EventType() string { return "ItemAdded" }

func TestEventFeed(t *testing.T) {
	types := dcb.NewEventTypes()
	dcb.RegisterEvent[itemAdded](types)

	connect := ReuseConnection(NewTestContainer(t))
	feed, err := NewEventFeed(t.Context(), EventFeedConfig{Connect: connect, Types: types})
	require.NoError(t, err)
	defer feed.Close()

	var (
		mu      sync.Mutex
		batches [][]dcb.Event
	)
	cancel, err := feed.Subscribe(t.Context(), func(_ context.Context, events []dcb.Event) error {
		mu.Lock()
		defer mu.Unlock()
		batches = append(batches, events)
		return nil
	})
	require.NoError(t, err)
	defer cancel()

	gen := suid.NewGenerator(nil)
	batch := func(names ...string) []dcb.Event {
		var out []dcb.Event
		for _, n := range names {
			ev := dcb.NewEvent(itemAdded{Name: n}, tag.MustNew("catalog", "main"))
			ev.ID = uuid.New()
			ev.SortableID = gen.Next()
			out = append(out, ev)
		}
		return out
	}

	first := batch("a", "b")
	second := batch("c")
	require.NoError(t, feed.Publish(t.Context(), first))
	require.NoError(t, feed.Publish(t.Context(), first), "retried publish")
	require.NoError(t, feed.Publish(t.Context(), second))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(batches) == 2
	}, 10*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, batches[0], 2)
	require.Equal(t, itemAdded{Name: "a"}, batches[0][0].Payload)
	require.Equal(t, first[1].SortableID, batches[0][1].SortableID)
	require.Equal(t, []string{"catalog:main"}, batches[0][0].Tags)
	require.Equal(t, itemAdded{Name: "c"}, batches[1][0].Payload)
}
