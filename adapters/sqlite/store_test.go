package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/dcb-go/core/dcb"
	"github.com/codewandler/dcb-go/core/dcb/dcbtest"
	"github.com/codewandler/dcb-go/core/projection"
	"github.com/codewandler/dcb-go/core/suid"
	"github.com/codewandler/dcb-go/core/tag"
)

func openTestStore(t *testing.T, types *dcb.EventTypes) *Store {
	t.Helper()
	s, err := Open(t.Context(), filepath.Join(t.TempDir(), "dcb.db"), WithEventTypes(types))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_Suite(t *testing.T) {
	dcbtest.RunEventStoreSuite(t, func(t *testing.T, types *dcb.EventTypes) dcb.EventStore {
		return openTestStore(t, types)
	})
}

func TestStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dcb.db")
	s, err := Open(t.Context(), path, WithEventTypes(dcbtest.EventTypes()))
	require.NoError(t, err)

	ev, err := dcb.Encode(dcb.NewEvent(dcbtest.Opened{Title: "kept"}, tag.MustNew("doc", "a")))
	require.NoError(t, err)
	ev.ID = uuid.New()
	ev.SortableID = suid.NewGenerator(nil).Next()
	_, err = s.WriteEvents(t.Context(), []dcb.Event{ev})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(t.Context(), path, WithEventTypes(dcbtest.EventTypes()))
	require.NoError(t, err)
	defer s.Close()
	all, err := s.ReadAllEvents(t.Context(), "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, dcbtest.Opened{Title: "kept"}, all[0].Payload)
}

func TestStore_UndecodedWithoutTypes(t *testing.T) {
	s, err := Open(t.Context(), filepath.Join(t.TempDir(), "dcb.db"))
	require.NoError(t, err)
	defer s.Close()

	ev, err := dcb.Encode(dcb.NewEvent(dcbtest.Noted{Text: "raw"}, tag.MustNew("doc", "a")))
	require.NoError(t, err)
	ev.ID = uuid.New()
	ev.SortableID = suid.NewGenerator(nil).Next()
	_, err = s.WriteEvents(t.Context(), []dcb.Event{ev})
	require.NoError(t, err)

	got, err := s.ReadEvent(t.Context(), ev.ID)
	require.NoError(t, err)
	require.Nil(t, got.Payload)
	require.JSONEq(t, `{"text":"raw"}`, string(got.Data))
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(t.Context(), " ")
	require.Error(t, err)
}

func TestSnapshotStore(t *testing.T) {
	snaps := openTestStore(t, nil).Snapshots()
	ctx := t.Context()

	_, err := snaps.Load(ctx, "catalog")
	require.ErrorIs(t, err, dcb.ErrNotFound)

	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := projection.SnapshotRecord{
		ProjectorName:       "catalog",
		ProjectorVersion:    "v1",
		PayloadType:         "catalog",
		LastSortableID:      suid.Generate(created, 3),
		EventsProcessed:     3,
		StateData:           []byte{0x1f, 0x8b, 0x08},
		OriginalSizeBytes:   10,
		CompressedSizeBytes: 3,
		SafeWindowThreshold: suid.Min(created),
		CreatedAt:           created,
		UpdatedAt:           created,
	}
	require.NoError(t, snaps.Save(ctx, rec))

	got, err := snaps.Load(ctx, "catalog")
	require.NoError(t, err)
	require.Equal(t, rec, *got)

	later := created.Add(time.Hour)
	offloaded := rec
	offloaded.StateData = nil
	offloaded.IsOffloaded = true
	offloaded.OffloadKey = "snapshots/catalog/abc-1"
	offloaded.OffloadProvider = "memory"
	offloaded.EventsProcessed = 9
	offloaded.CreatedAt = later
	offloaded.UpdatedAt = later
	require.NoError(t, snaps.Save(ctx, offloaded))

	got, err = snaps.Load(ctx, "catalog")
	require.NoError(t, err)
	require.True(t, got.IsOffloaded)
	require.Empty(t, got.StateData)
	require.Equal(t, "snapshots/catalog/abc-1", got.OffloadKey)
	require.Equal(t, 9, got.EventsProcessed)
	require.True(t, created.Equal(got.CreatedAt), "first creation time is kept")
	require.True(t, later.Equal(got.UpdatedAt))

	require.NoError(t, snaps.Save(ctx, projection.SnapshotRecord{ProjectorName: "audit", CreatedAt: created, UpdatedAt: created}))
	names, err := snaps.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"audit", "catalog"}, names)

	require.NoError(t, snaps.Delete(ctx, "catalog"))
	_, err = snaps.Load(ctx, "catalog")
	require.ErrorIs(t, err, dcb.ErrNotFound)
}

func TestSnapshotStore_RestoresActor(t *testing.T) {
	snaps := openTestStore(t, nil).Snapshots()

	type counter struct{ N int }
	p := projection.NewProjector("counter", "v1", func(c counter, _ dcb.Event) (counter, error) {
		c.N++
		return c, nil
	})

	now := time.Now()
	a, err := projection.NewActor(p)
	require.NoError(t, err)
	gen := suid.NewGenerator(func() time.Time { return now.Add(-time.Minute) })
	var events []dcb.Event
	for range 4 {
		events = append(events, dcb.Event{SortableID: gen.Next(), Type: "Tick", Payload: struct{}{}})
	}
	require.NoError(t, a.AddEvents(t.Context(), events, true, projection.SourceStore))

	rec, err := a.BuildSnapshotRecord(t.Context())
	require.NoError(t, err)
	require.NoError(t, snaps.Save(t.Context(), *rec))

	b, err := projection.NewActor(p)
	require.NoError(t, err)
	ok, err := b.RestoreFrom(t.Context(), snaps)
	require.NoError(t, err)
	require.True(t, ok)

	s, err := b.State(t.Context())
	require.NoError(t, err)
	require.Equal(t, counter{N: 4}, s.Payload)
	require.Equal(t, events[3].SortableID, s.LastSortableID)
}
