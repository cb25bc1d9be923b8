// Package dcbtest holds the behavior every dcb.EventStore implementation
// must show, as a reusable test suite.
package dcbtest

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/dcb-go/core/dcb"
	"github.com/codewandler/dcb-go/core/suid"
	"github.com/codewandler/dcb-go/core/tag"
)

type (
	Opened struct {
		Title string `json:"title"`
	}
	Noted struct {
		Text string `json:"text"`
	}
)

func (Opened) EventType() string { return "Opened" }
func (Noted) EventType() string  { return "Noted" }

// EventTypes returns the registry the suite's payloads decode with.
func EventTypes() *dcb.EventTypes {
	types := dcb.NewEventTypes()
	dcb.RegisterEvent[Opened](types)
	dcb.RegisterEvent[Noted](types)
	return types
}

// NewStoreFunc opens an empty store that decodes payloads with types.
type NewStoreFunc func(t *testing.T, types *dcb.EventTypes) dcb.EventStore

// RunEventStoreSuite runs the store contract against stores from newStore.
func RunEventStoreSuite(t *testing.T, newStore NewStoreFunc) {
	t.Run("ReadWrite", func(t *testing.T) { testReadWrite(t, newStore(t, EventTypes())) })
	t.Run("WriteResult", func(t *testing.T) { testWriteResult(t, newStore(t, EventTypes())) })
	t.Run("AtomicBatches", func(t *testing.T) { testAtomicBatches(t, newStore(t, EventTypes())) })
	t.Run("ConcurrentWrites", func(t *testing.T) { testConcurrentWrites(t, newStore(t, EventTypes())) })
	t.Run("PagedReads", func(t *testing.T) {
		store := newStore(t, EventTypes())
		paged, ok := store.(dcb.PagedEventReader)
		if !ok {
			t.Skipf("%T does not page reads", store)
		}
		testPagedReads(t, store, paged)
	})
}

func newEvent(t *testing.T, gen *suid.Generator, payload any, tags ...string) dcb.Event {
	t.Helper()
	ev, err := dcb.Encode(dcb.Event{
		ID:         uuid.New(),
		SortableID: gen.Next(),
		Type:       dcb.EventTypeOf(payload),
		Tags:       tags,
		Metadata:   dcb.Metadata{CorrelationID: "corr"},
		Payload:    payload,
	})
	require.NoError(t, err)
	return ev
}

func positions(events []dcb.Event) []suid.ID {
	out := make([]suid.ID, len(events))
	for i, ev := range events {
		out[i] = ev.SortableID
	}
	return out
}

func testReadWrite(t *testing.T, store dcb.EventStore) {
	ctx := t.Context()
	gen := suid.NewGenerator(nil)

	e1 := newEvent(t, gen, Opened{Title: "a"}, "doc:a")
	e2 := newEvent(t, gen, Noted{Text: "hi"}, "doc:a", "user:u1")
	e3 := newEvent(t, gen, Opened{Title: "b"}, "doc:b")
	for _, ev := range []dcb.Event{e1, e2, e3} {
		_, err := store.WriteEvents(ctx, []dcb.Event{ev})
		require.NoError(t, err)
	}

	all, err := store.ReadAllEvents(ctx, "")
	require.NoError(t, err)
	require.Equal(t, positions([]dcb.Event{e1, e2, e3}), positions(all))
	require.Equal(t, Noted{Text: "hi"}, all[1].Payload)
	require.Equal(t, []string{"doc:a", "user:u1"}, all[1].Tags)
	require.Equal(t, "corr", all[1].Metadata.CorrelationID)

	since, err := store.ReadAllEvents(ctx, e1.SortableID)
	require.NoError(t, err)
	require.Equal(t, positions([]dcb.Event{e2, e3}), positions(since), "since is exclusive")

	docA, err := store.ReadEventsByTag(ctx, tag.MustParse("doc:a"), "")
	require.NoError(t, err)
	require.Equal(t, positions([]dcb.Event{e1, e2}), positions(docA))

	docA, err = store.ReadEventsByTag(ctx, tag.MustParse("doc:a"), e1.SortableID)
	require.NoError(t, err)
	require.Equal(t, positions([]dcb.Event{e2}), positions(docA))

	got, err := store.ReadEvent(ctx, e3.ID)
	require.NoError(t, err)
	require.Equal(t, Opened{Title: "b"}, got.Payload)
	require.Equal(t, e3.SortableID, got.SortableID)

	_, err = store.ReadEvent(ctx, uuid.New())
	require.ErrorIs(t, err, dcb.ErrNotFound)

	latest, err := store.LatestTagPosition(ctx, tag.MustParse("doc:a"))
	require.NoError(t, err)
	require.Equal(t, e2.SortableID, latest)

	latest, err = store.LatestTagPosition(ctx, tag.MustParse("doc:never"))
	require.NoError(t, err)
	require.Empty(t, latest)
}

func testPagedReads(t *testing.T, store dcb.EventStore, paged dcb.PagedEventReader) {
	ctx := t.Context()
	gen := suid.NewGenerator(nil)

	var written []dcb.Event
	for range 5 {
		written = append(written, newEvent(t, gen, Noted{Text: "n"}, "doc:a"))
	}
	_, err := store.WriteEvents(ctx, written)
	require.NoError(t, err)

	page, err := paged.ReadAllEventsLimit(ctx, "", 2)
	require.NoError(t, err)
	require.Equal(t, positions(written[:2]), positions(page))
	require.Equal(t, Noted{Text: "n"}, page[0].Payload)

	page, err = paged.ReadAllEventsLimit(ctx, written[1].SortableID, 2)
	require.NoError(t, err)
	require.Equal(t, positions(written[2:4]), positions(page), "since is exclusive")

	page, err = paged.ReadAllEventsLimit(ctx, written[3].SortableID, 2)
	require.NoError(t, err)
	require.Equal(t, positions(written[4:]), positions(page))

	page, err = paged.ReadAllEventsLimit(ctx, written[4].SortableID, 2)
	require.NoError(t, err)
	require.Empty(t, page)
}

func testWriteResult(t *testing.T, store dcb.EventStore) {
	gen := suid.NewGenerator(nil)
	batch := []dcb.Event{
		newEvent(t, gen, Opened{Title: "a"}, "doc:a"),
		newEvent(t, gen, Noted{Text: "x"}, "doc:a", "user:u1"),
	}

	res, err := store.WriteEvents(t.Context(), batch)
	require.NoError(t, err)
	require.Len(t, res.Events, 2)
	require.Len(t, res.Tags, 2)
	require.Equal(t, "doc:a", res.Tags[0].Tag)
	require.Equal(t, 2, res.Tags[0].NewEventCount)
	require.Equal(t, batch[1].SortableID, res.Tags[0].LastSortableID)
	require.Equal(t, "user:u1", res.Tags[1].Tag)
	require.Equal(t, 1, res.Tags[1].NewEventCount)

	_, err = store.WriteEvents(t.Context(), batch[:1])
	require.ErrorIs(t, err, dcb.ErrConflict, "same event twice")
}

func testAtomicBatches(t *testing.T, store dcb.EventStore) {
	gen := suid.NewGenerator(nil)
	written := newEvent(t, gen, Opened{Title: "a"}, "doc:a")
	_, err := store.WriteEvents(t.Context(), []dcb.Event{written})
	require.NoError(t, err)

	fresh := newEvent(t, gen, Noted{Text: "x"}, "doc:a")
	_, err = store.WriteEvents(t.Context(), []dcb.Event{fresh, written})
	require.ErrorIs(t, err, dcb.ErrConflict)

	bad := newEvent(t, gen, Noted{Text: "y"}, "doc:a")
	bad.Tags = []string{"no-separator"}
	_, err = store.WriteEvents(t.Context(), []dcb.Event{newEvent(t, gen, Noted{Text: "z"}, "doc:a"), bad})
	require.ErrorIs(t, err, dcb.ErrValidation)

	_, err = store.WriteEvents(t.Context(), nil)
	require.ErrorIs(t, err, dcb.ErrValidation)

	all, err := store.ReadAllEvents(t.Context(), "")
	require.NoError(t, err)
	require.Equal(t, positions([]dcb.Event{written}), positions(all), "failed batches write nothing")
}

func testConcurrentWrites(t *testing.T, store dcb.EventStore) {
	gen := suid.NewGenerator(nil)
	const writers, perWriter = 4, 10

	batches := make([][]dcb.Event, writers)
	for w := range batches {
		for range perWriter {
			batches[w] = append(batches[w], newEvent(t, gen, Noted{Text: "x"}, "doc:shared"))
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for _, batch := range batches {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, ev := range batch {
				if _, err := store.WriteEvents(t.Context(), []dcb.Event{ev}); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	all, err := store.ReadEventsByTag(t.Context(), tag.MustParse("doc:shared"), "")
	require.NoError(t, err)
	require.Len(t, all, writers*perWriter)
	for i := 1; i < len(all); i++ {
		require.True(t, all[i-1].SortableID.IsEarlierThan(all[i].SortableID), "ordered by position")
	}
}
