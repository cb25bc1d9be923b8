package projection

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/crypto/blake2b"

	"github.com/codewandler/dcb-go/core/dcb"
	"github.com/codewandler/dcb-go/core/suid"
)

// OffloadedState points at snapshot bytes kept by a BlobAccessor.
type OffloadedState struct {
	OffloadKey      string `json:"offload_key"`
	StorageProvider string `json:"storage_provider"`
	// PayloadLength is the length of the stored, compressed bytes.
	PayloadLength int64 `json:"payload_length"`
}

// SnapshotEnvelope is a serialized safe state. Exactly one of InlineState
// and Offloaded is set.
type SnapshotEnvelope struct {
	InlineState         []byte          `json:"inline_state,omitempty"`
	Offloaded           *OffloadedState `json:"offloaded,omitempty"`
	ProjectorName       string          `json:"projector_name"`
	ProjectorVersion    string          `json:"projector_version"`
	PayloadType         string          `json:"payload_type"`
	LastSortableID      suid.ID         `json:"last_sortable_id"`
	EventsProcessed     int             `json:"events_processed"`
	OriginalSizeBytes   int             `json:"original_size_bytes"`
	CompressedSizeBytes int             `json:"compressed_size_bytes"`
	SafeWindowThreshold suid.ID         `json:"safe_window_threshold"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

func (e *SnapshotEnvelope) IsOffloaded() bool { return e.Offloaded != nil }

// Serialize encodes payload with p and compresses it. It returns the
// uncompressed length alongside the compressed bytes.
func Serialize(p Projector, payload any) (compressed []byte, originalSize int, err error) {
	raw, err := p.Encode(payload)
	if err != nil {
		return nil, 0, err
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, 0, dcb.NewError(dcb.KindSerialization, "serialize", err)
	}
	if err := zw.Close(); err != nil {
		return nil, 0, dcb.NewError(dcb.KindSerialization, "serialize", err)
	}
	return buf.Bytes(), len(raw), nil
}

// Deserialize reverses Serialize.
func Deserialize(p Projector, compressed []byte) (any, error) {
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, dcb.NewError(dcb.KindSerialization, "deserialize", err)
	}
	defer func() { _ = zr.Close() }()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, dcb.NewError(dcb.KindSerialization, "deserialize", err)
	}
	return p.Decode(raw)
}

// offloadKeyHint names blobs after their content, so identical snapshots
// share a prefix across writes.
func offloadKeyHint(projector string, data []byte) string {
	sum := blake2b.Sum256(data)
	return fmt.Sprintf("snapshots/%s/%s", projector, hex.EncodeToString(sum[:]))
}

// SnapshotRecord is the storage form of a snapshot.
type SnapshotRecord struct {
	ProjectorName       string    `json:"projector_name"`
	ProjectorVersion    string    `json:"projector_version"`
	PayloadType         string    `json:"payload_type"`
	LastSortableID      suid.ID   `json:"last_sortable_id"`
	EventsProcessed     int       `json:"events_processed"`
	StateData           []byte    `json:"state_data,omitempty"`
	IsOffloaded         bool      `json:"is_offloaded"`
	OffloadKey          string    `json:"offload_key,omitempty"`
	OffloadProvider     string    `json:"offload_provider,omitempty"`
	OriginalSizeBytes   int       `json:"original_size_bytes"`
	CompressedSizeBytes int       `json:"compressed_size_bytes"`
	SafeWindowThreshold suid.ID   `json:"safe_window_threshold"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func RecordFromEnvelope(env *SnapshotEnvelope) SnapshotRecord {
	r := SnapshotRecord{
		ProjectorName:       env.ProjectorName,
		ProjectorVersion:    env.ProjectorVersion,
		PayloadType:         env.PayloadType,
		LastSortableID:      env.LastSortableID,
		EventsProcessed:     env.EventsProcessed,
		StateData:           env.InlineState,
		OriginalSizeBytes:   env.OriginalSizeBytes,
		CompressedSizeBytes: env.CompressedSizeBytes,
		SafeWindowThreshold: env.SafeWindowThreshold,
		CreatedAt:           env.CreatedAt,
		UpdatedAt:           env.UpdatedAt,
	}
	if env.Offloaded != nil {
		r.IsOffloaded = true
		r.OffloadKey = env.Offloaded.OffloadKey
		r.OffloadProvider = env.Offloaded.StorageProvider
	}
	return r
}

// Envelope converts the record back for Actor.SetSnapshot.
func (r SnapshotRecord) Envelope() *SnapshotEnvelope {
	env := &SnapshotEnvelope{
		ProjectorName:       r.ProjectorName,
		ProjectorVersion:    r.ProjectorVersion,
		PayloadType:         r.PayloadType,
		LastSortableID:      r.LastSortableID,
		EventsProcessed:     r.EventsProcessed,
		OriginalSizeBytes:   r.OriginalSizeBytes,
		CompressedSizeBytes: r.CompressedSizeBytes,
		SafeWindowThreshold: r.SafeWindowThreshold,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
	if r.IsOffloaded {
		env.Offloaded = &OffloadedState{
			OffloadKey:      r.OffloadKey,
			StorageProvider: r.OffloadProvider,
			PayloadLength:   int64(r.CompressedSizeBytes),
		}
	} else {
		env.InlineState = r.StateData
	}
	return env
}
