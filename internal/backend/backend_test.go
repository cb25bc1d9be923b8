package backend

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/dcb-go/adapters/sqlite"
	"github.com/codewandler/dcb-go/core/config"
	"github.com/codewandler/dcb-go/core/dcb"
)

func TestOpen_Memory(t *testing.T) {
	b, err := Open(t.Context(), config.Config{Store: config.StoreMemory, HostShards: 4}, nil, dcb.NewEventTypes())
	require.NoError(t, err)
	t.Cleanup(b.Close)

	require.IsType(t, &dcb.InMemoryStore{}, b.Store)
	require.Nil(t, b.Publisher)
	require.Nil(t, b.Subscriber)
	require.Nil(t, b.Snapshots)
	require.Nil(t, b.TagStates)
	require.Len(t, b.HostOptions(config.Config{HostShards: 4}), 2)
}

func TestOpen_SQLite(t *testing.T) {
	cfg := config.Config{Store: config.StoreSQLite, SQLitePath: filepath.Join(t.TempDir(), "dcb.db")}
	b, err := Open(t.Context(), cfg, nil, dcb.NewEventTypes())
	require.NoError(t, err)
	t.Cleanup(b.Close)

	require.IsType(t, &sqlite.Store{}, b.Store)
	require.IsType(t, &sqlite.SnapshotStore{}, b.Snapshots)

	names, err := b.Snapshots.List(t.Context())
	require.NoError(t, err)
	require.Empty(t, names)
}

func TestOpen_SQLiteFailure(t *testing.T) {
	cfg := config.Config{Store: config.StoreSQLite, SQLitePath: filepath.Join(t.TempDir(), "missing", "dcb.db")}
	_, err := Open(t.Context(), cfg, nil, dcb.NewEventTypes())
	require.Error(t, err)
}

func TestClose_Reverse(t *testing.T) {
	var order []int
	b := &Backend{}
	b.onClose(func() { order = append(order, 1) })
	b.onClose(func() { order = append(order, 2) })
	b.Close()
	b.Close()
	require.Equal(t, []int{2, 1}, order)
}
