package nats

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/dcb-go/core/dcb"
	"github.com/codewandler/dcb-go/core/projection"
	"github.com/codewandler/dcb-go/ports/kv"
)

func TestKV(t *testing.T) {
	type fooBar struct {
		Fruit string
		Count int
	}

	var (
		mu  sync.Mutex
		now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	store, err := NewKvStore(t.Context(), KvConfig{
		Bucket:  "fruits",
		Connect: NewTestContainer(t),
		Now:     clock,
	})
	require.NoError(t, err)
	defer store.Close()

	ctx := t.Context()
	require.NoError(t, kv.Put(ctx, store, "fruit/apple", fooBar{Fruit: "apple", Count: 10}, kv.PutOptions{}))
	require.NoError(t, kv.Put(ctx, store, "fruit/kiwi", fooBar{Fruit: "kiwi", Count: 1}, kv.PutOptions{TTL: time.Minute}))
	require.NoError(t, kv.Put(ctx, store, "veg/leek", fooBar{Fruit: "leek"}, kv.PutOptions{}))

	v, err := kv.Get[fooBar](ctx, store, "fruit/apple")
	require.NoError(t, err)
	require.Equal(t, fooBar{Fruit: "apple", Count: 10}, v)

	keys, err := store.Keys(ctx, "fruit/")
	require.NoError(t, err)
	require.Equal(t, []string{"fruit/apple", "fruit/kiwi"}, keys)

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	_, err = store.Get(ctx, "fruit/kiwi")
	require.ErrorIs(t, err, kv.ErrNotFound)
	keys, err = store.Keys(ctx, "fruit/")
	require.NoError(t, err)
	require.Equal(t, []string{"fruit/apple"}, keys)

	require.NoError(t, store.Delete(ctx, "fruit/apple"))
	require.NoError(t, store.Delete(ctx, "fruit/apple"))
	_, err = store.Get(ctx, "fruit/apple")
	require.ErrorIs(t, err, kv.ErrNotFound)
}

func TestKV_SnapshotStore(t *testing.T) {
	store, err := NewKvStore(t.Context(), KvConfig{Bucket: "snapshots", Connect: NewTestContainer(t)})
	require.NoError(t, err)
	defer store.Close()

	snaps := projection.NewKVSnapshotStore(store)
	_, err = snaps.Load(t.Context(), "catalog")
	require.ErrorIs(t, err, dcb.ErrNotFound)

	rec := projection.SnapshotRecord{ProjectorName: "catalog", ProjectorVersion: "v1", StateData: []byte("state")}
	require.NoError(t, snaps.Save(t.Context(), rec))

	got, err := snaps.Load(t.Context(), "catalog")
	require.NoError(t, err)
	require.Equal(t, []byte("state"), got.StateData)

	names, err := snaps.List(t.Context())
	require.NoError(t, err)
	require.Equal(t, []string{"catalog"}, names)
}
