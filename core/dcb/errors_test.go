package dcb

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestError_Is(t *testing.T) {
	cause := errors.New("disk full")
	err := NewError(KindStorage, "write_events", cause)

	require.ErrorIs(t, err, ErrStorage)
	require.ErrorIs(t, err, cause)
	require.NotErrorIs(t, err, ErrConflict)
	require.Equal(t, "write_events: storage: disk full", err.Error())

	wrapped := fmt.Errorf("execute: %w", err)
	require.ErrorIs(t, wrapped, ErrStorage)
	require.Equal(t, KindStorage, KindOf(wrapped))
}

func TestKindOf(t *testing.T) {
	require.Equal(t, KindUnknown, KindOf(nil))
	require.Equal(t, KindUnknown, KindOf(errors.New("boom")))
	require.Equal(t, KindConflict, KindOf(fmt.Errorf("x: %w", ErrConflict)))
	require.Equal(t, KindNotFound, KindOf(NewError(KindNotFound, "read_event", nil)))
}

func TestStorageError_KeepsClassified(t *testing.T) {
	nf := NewError(KindNotFound, "read_event", nil)
	require.Same(t, nf, StorageError("adapter", nf).(*Error))
	require.ErrorIs(t, StorageError("adapter", errors.New("io")), ErrStorage)
	require.NoError(t, StorageError("adapter", nil))
}
