package nats

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/dcb-go/core/dcb"
)

func TestObjectBlobAccessor(t *testing.T) {
	blob, err := NewObjectBlobAccessor(t.Context(), ObjectBlobConfig{
		Bucket:  "snapshots",
		Connect: NewTestContainer(t),
	})
	require.NoError(t, err)
	defer blob.Close()

	require.Equal(t, "nats:snapshots", blob.ProviderName())

	data := bytes.Repeat([]byte("state"), 100_000)
	key, err := blob.Write(t.Context(), data, "snapshots/catalog/abc")
	require.NoError(t, err)
	require.Contains(t, key, "snapshots/catalog/abc-")

	got, err := blob.Read(t.Context(), key)
	require.NoError(t, err)
	require.Equal(t, data, got)

	other, err := blob.Write(t.Context(), data, "snapshots/catalog/abc")
	require.NoError(t, err)
	require.NotEqual(t, key, other)

	require.NoError(t, blob.Delete(t.Context(), key))
	_, err = blob.Read(t.Context(), key)
	require.ErrorIs(t, err, dcb.ErrNotFound)
}
