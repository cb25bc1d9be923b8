package dcb

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/dcb-go/core/suid"
)

func TestInMemoryStore_ReadWrite(t *testing.T) {
	clock := newTestClock()
	store := NewInMemoryStore(WithStoreClock(clock.Now))
	gen := suid.NewGenerator(clock.Now)

	e1 := writeRaw(t, store, gen, courseCreated{Name: "go", Capacity: 2}, courseTag("c1"))
	e2 := writeRaw(t, store, gen, studentEnrolled{Student: "s1"}, courseTag("c1"), studentTag("s1"))
	e3 := writeRaw(t, store, gen, courseCreated{Name: "rust"}, courseTag("c2"))

	all, err := store.ReadAllEvents(t.Context(), "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, []suid.ID{e1.SortableID, e2.SortableID, e3.SortableID}, []suid.ID{all[0].SortableID, all[1].SortableID, all[2].SortableID})

	since, err := store.ReadAllEvents(t.Context(), e1.SortableID)
	require.NoError(t, err)
	require.Len(t, since, 2, "since is exclusive")

	c1, err := store.ReadEventsByTag(t.Context(), courseTag("c1"), "")
	require.NoError(t, err)
	require.Len(t, c1, 2)

	s1, err := store.ReadEventsByTag(t.Context(), studentTag("s1"), "")
	require.NoError(t, err)
	require.Len(t, s1, 1)
	require.Equal(t, e2.ID, s1[0].ID)

	got, err := store.ReadEvent(t.Context(), e3.ID)
	require.NoError(t, err)
	require.Equal(t, courseCreated{Name: "rust"}, got.Payload)

	_, err = store.ReadEvent(t.Context(), uuid.New())
	require.ErrorIs(t, err, ErrNotFound)

	latest, err := store.LatestTagPosition(t.Context(), courseTag("c1"))
	require.NoError(t, err)
	require.Equal(t, e2.SortableID, latest)

	latest, err = store.LatestTagPosition(t.Context(), courseTag("never"))
	require.NoError(t, err)
	require.Empty(t, latest)
}

func TestInMemoryStore_WriteResult(t *testing.T) {
	clock := newTestClock()
	store := NewInMemoryStore(WithStoreClock(clock.Now))
	gen := suid.NewGenerator(clock.Now)

	var batch []Event
	for _, p := range []any{courseCreated{Name: "go"}, studentEnrolled{Student: "s1"}} {
		ev, err := Encode(Event{ID: uuid.New(), SortableID: gen.Next(), Type: EventTypeOf(p), Payload: p})
		require.NoError(t, err)
		batch = append(batch, ev)
	}
	batch[0].Tags = []string{"course:c1"}
	batch[1].Tags = []string{"course:c1", "student:s1"}

	res, err := store.WriteEvents(t.Context(), batch)
	require.NoError(t, err)
	require.Len(t, res.Events, 2)
	require.Equal(t, []TagWriteResult{
		{Tag: "course:c1", NewEventCount: 2, LastSortableID: batch[1].SortableID, WrittenAt: clock.Now()},
		{Tag: "student:s1", NewEventCount: 1, LastSortableID: batch[1].SortableID, WrittenAt: clock.Now()},
	}, res.Tags)

	_, err = store.WriteEvents(t.Context(), batch[:1])
	require.ErrorIs(t, err, ErrConflict, "same event id twice")
}

func TestInMemoryStore_RejectsInvalidBatch(t *testing.T) {
	store := NewInMemoryStore()
	gen := suid.NewGenerator(nil)

	_, err := store.WriteEvents(t.Context(), nil)
	require.ErrorIs(t, err, ErrValidation)

	good, err := Encode(Event{ID: uuid.New(), SortableID: gen.Next(), Tags: []string{"course:c1"}, Payload: courseCreated{}})
	require.NoError(t, err)

	badTag := good
	badTag.ID = uuid.New()
	badTag.SortableID = gen.Next()
	badTag.Tags = []string{"no-separator"}

	_, err = store.WriteEvents(t.Context(), []Event{good, badTag})
	require.ErrorIs(t, err, ErrValidation)

	dup := good
	dup.SortableID = gen.Next()
	_, err = store.WriteEvents(t.Context(), []Event{good, dup})
	require.ErrorIs(t, err, ErrValidation)

	all, err := store.ReadAllEvents(t.Context(), "")
	require.NoError(t, err)
	require.Empty(t, all, "failed batches write nothing")
}
