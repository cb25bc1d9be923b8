package projection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/dcb-go/core/dcb"
	"github.com/codewandler/dcb-go/core/suid"
	"github.com/codewandler/dcb-go/ports/kv"
)

func TestSnapshotStores(t *testing.T) {
	stores := map[string]func() SnapshotStore{
		"memory": func() SnapshotStore { return NewInMemorySnapshotStore() },
		"kv":     func() SnapshotStore { return NewKVSnapshotStore(kv.NewMemStore()) },
	}

	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			s := newStore()

			_, err := s.Load(ctx, "catalog")
			require.ErrorIs(t, err, dcb.ErrNotFound)

			created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			rec := SnapshotRecord{
				ProjectorName:    "catalog",
				ProjectorVersion: "v1",
				LastSortableID:   suid.Generate(created, 1),
				EventsProcessed:  3,
				StateData:        []byte{1, 2, 3},
				CreatedAt:        created,
				UpdatedAt:        created,
			}
			require.NoError(t, s.Save(ctx, rec))
			require.NoError(t, s.Save(ctx, SnapshotRecord{ProjectorName: "audit", ProjectorVersion: "v1", CreatedAt: created}))

			got, err := s.Load(ctx, "catalog")
			require.NoError(t, err)
			require.Equal(t, rec.LastSortableID, got.LastSortableID)
			require.Equal(t, []byte{1, 2, 3}, got.StateData)
			require.True(t, created.Equal(got.CreatedAt))

			later := created.Add(time.Hour)
			rec.EventsProcessed = 5
			rec.CreatedAt = later
			rec.UpdatedAt = later
			require.NoError(t, s.Save(ctx, rec))

			got, err = s.Load(ctx, "catalog")
			require.NoError(t, err)
			require.Equal(t, 5, got.EventsProcessed)
			require.True(t, created.Equal(got.CreatedAt), "first creation time is kept")
			require.True(t, later.Equal(got.UpdatedAt))

			names, err := s.List(ctx)
			require.NoError(t, err)
			require.Equal(t, []string{"audit", "catalog"}, names)

			require.NoError(t, s.Delete(ctx, "catalog"))
			require.NoError(t, s.Delete(ctx, "catalog"))
			_, err = s.Load(ctx, "catalog")
			require.ErrorIs(t, err, dcb.ErrNotFound)
		})
	}
}
