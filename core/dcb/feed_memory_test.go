package dcb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInMemoryFeed(t *testing.T) {
	feed := NewInMemoryFeed(nil)

	got := make(chan []Event, 4)
	cancel, err := feed.Subscribe(t.Context(), func(_ context.Context, events []Event) error {
		got <- events
		return nil
	})
	require.NoError(t, err)

	batch := []Event{{Type: "A"}, {Type: "B"}}
	require.NoError(t, feed.Publish(t.Context(), batch))
	require.NoError(t, feed.Publish(t.Context(), []Event{{Type: "C"}}))

	select {
	case events := <-got:
		require.Len(t, events, 2)
		require.Equal(t, "A", events[0].Type)
	case <-time.After(time.Second):
		t.Fatal("first batch not delivered")
	}
	select {
	case events := <-got:
		require.Equal(t, "C", events[0].Type)
	case <-time.After(time.Second):
		t.Fatal("second batch not delivered")
	}

	cancel()
	require.Eventually(t, func() bool {
		feed.mu.Lock()
		defer feed.mu.Unlock()
		return len(feed.subs) == 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, feed.Publish(t.Context(), batch))
}
