//go:build integration

package postgres

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/dcb-go/core/dcb"
	"github.com/codewandler/dcb-go/core/dcb/dcbtest"
)

func openTestStore(t *testing.T, types *dcb.EventTypes) *EventStore {
	t.Helper()
	url := os.Getenv("DCB_POSTGRES_URL")
	if url == "" {
		t.Skip("DCB_POSTGRES_URL not set")
	}
	s, err := Connect(t.Context(), url, WithEventTypes(types))
	require.NoError(t, err)
	_, err = s.pool.Exec(t.Context(), `TRUNCATE dcb_events`)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestEventStore_Suite(t *testing.T) {
	dcbtest.RunEventStoreSuite(t, func(t *testing.T, types *dcb.EventTypes) dcb.EventStore {
		return openTestStore(t, types)
	})
}

func TestEventStore_EnsureSchemaIsIdempotent(t *testing.T) {
	s := openTestStore(t, nil)
	require.NoError(t, s.EnsureSchema(t.Context()))
}
