package projection

import (
	"context"
	"slices"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/codewandler/dcb-go/core/dcb"
)

// BlobAccessor stores offloaded snapshot bytes.
type BlobAccessor interface {
	// Write stores data and returns the key to read it back. keyHint is a
	// content derived name the accessor may use as a prefix.
	Write(ctx context.Context, data []byte, keyHint string) (string, error)
	Read(ctx context.Context, key string) ([]byte, error)
	ProviderName() string
}

type InMemoryBlobAccessor struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewInMemoryBlobAccessor() *InMemoryBlobAccessor {
	return &InMemoryBlobAccessor{blobs: map[string][]byte{}}
}

func (m *InMemoryBlobAccessor) ProviderName() string { return "memory" }

func (m *InMemoryBlobAccessor) Write(ctx context.Context, data []byte, keyHint string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key := keyHint + "-" + gonanoid.Must(8)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = slices.Clone(data)
	return key, nil
}

func (m *InMemoryBlobAccessor) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, dcb.Errorf(dcb.KindNotFound, "read_blob", "blob %q", key)
	}
	return slices.Clone(data), nil
}

func (m *InMemoryBlobAccessor) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

var _ BlobAccessor = (*InMemoryBlobAccessor)(nil)
