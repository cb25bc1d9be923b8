package kv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemStore(t *testing.T) {
	type record struct {
		Projector string
		Version   int
	}
	s := NewMemStore()

	_, err := Get[record](t.Context(), s, "snapshot/missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, Put(t.Context(), s, "snapshot/p1", record{Projector: "p1", Version: 10}, PutOptions{}))
	require.NoError(t, Put(t.Context(), s, "snapshot/p2", record{Projector: "p2", Version: 20}, PutOptions{}))
	require.NoError(t, Put(t.Context(), s, "tagstate/x", record{}, PutOptions{}))

	loaded, err := Get[record](t.Context(), s, "snapshot/p1")
	require.NoError(t, err)
	require.Equal(t, record{Projector: "p1", Version: 10}, loaded)

	keys, err := s.Keys(t.Context(), "snapshot/")
	require.NoError(t, err)
	require.Equal(t, []string{"snapshot/p1", "snapshot/p2"}, keys)

	require.NoError(t, s.Delete(t.Context(), "snapshot/p1"))
	require.NoError(t, s.Delete(t.Context(), "snapshot/p1"))
	_, err = Get[record](t.Context(), s, "snapshot/p1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemStore_TTL(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemStore(WithMemClock(func() time.Time { return now }))

	require.NoError(t, s.Put(t.Context(), "k", Entry{Data: []byte("v")}, PutOptions{TTL: time.Minute}))
	e, err := s.Get(t.Context(), "k")
	require.NoError(t, err)
	require.Equal(t, now.Add(time.Minute), e.ExpiresAt)

	now = now.Add(time.Minute)
	_, err = s.Get(t.Context(), "k")
	require.ErrorIs(t, err, ErrNotFound)

	keys, err := s.Keys(t.Context(), "")
	require.NoError(t, err)
	require.Empty(t, keys)
}
