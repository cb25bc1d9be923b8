package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/codewandler/dcb-go/core/dcb"
	"github.com/codewandler/dcb-go/core/projection"
	"github.com/codewandler/dcb-go/core/suid"
)

// SnapshotStore implements projection.SnapshotStore on the snapshots table.
type SnapshotStore struct {
	s *Store
}

func (ss *SnapshotStore) Save(ctx context.Context, rec projection.SnapshotRecord) error {
	_, err := ss.s.db.ExecContext(ctx, `
		INSERT INTO snapshots (
			projector_name, projector_version, payload_type, last_sortable_id, events_processed,
			state_data, is_offloaded, offload_key, offload_provider,
			original_size_bytes, compressed_size_bytes, safe_window_threshold, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(projector_name) DO UPDATE SET
			projector_version = excluded.projector_version,
			payload_type = excluded.payload_type,
			last_sortable_id = excluded.last_sortable_id,
			events_processed = excluded.events_processed,
			state_data = excluded.state_data,
			is_offloaded = excluded.is_offloaded,
			offload_key = excluded.offload_key,
			offload_provider = excluded.offload_provider,
			original_size_bytes = excluded.original_size_bytes,
			compressed_size_bytes = excluded.compressed_size_bytes,
			safe_window_threshold = excluded.safe_window_threshold,
			updated_at = excluded.updated_at`,
		rec.ProjectorName, rec.ProjectorVersion, rec.PayloadType, rec.LastSortableID.String(), rec.EventsProcessed,
		rec.StateData, rec.IsOffloaded, rec.OffloadKey, rec.OffloadProvider,
		rec.OriginalSizeBytes, rec.CompressedSizeBytes, rec.SafeWindowThreshold.String(),
		formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
	)
	return dcb.StorageError("save_snapshot", err)
}

func (ss *SnapshotStore) Load(ctx context.Context, projector string) (*projection.SnapshotRecord, error) {
	var (
		rec                  projection.SnapshotRecord
		last, threshold      string
		createdAt, updatedAt string
	)
	err := ss.s.db.QueryRowContext(ctx, `
		SELECT projector_name, projector_version, payload_type, last_sortable_id, events_processed,
			state_data, is_offloaded, offload_key, offload_provider,
			original_size_bytes, compressed_size_bytes, safe_window_threshold, created_at, updated_at
		FROM snapshots WHERE projector_name = ?`, projector,
	).Scan(
		&rec.ProjectorName, &rec.ProjectorVersion, &rec.PayloadType, &last, &rec.EventsProcessed,
		&rec.StateData, &rec.IsOffloaded, &rec.OffloadKey, &rec.OffloadProvider,
		&rec.OriginalSizeBytes, &rec.CompressedSizeBytes, &threshold, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dcb.Errorf(dcb.KindNotFound, "load_snapshot", "no snapshot for %q", projector)
	}
	if err != nil {
		return nil, dcb.StorageError("load_snapshot", err)
	}
	rec.LastSortableID = suid.ID(last)
	rec.SafeWindowThreshold = suid.ID(threshold)
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, dcb.NewError(dcb.KindSerialization, "load_snapshot", err)
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, dcb.NewError(dcb.KindSerialization, "load_snapshot", err)
	}
	return &rec, nil
}

func (ss *SnapshotStore) Delete(ctx context.Context, projector string) error {
	_, err := ss.s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE projector_name = ?`, projector)
	return dcb.StorageError("delete_snapshot", err)
}

func (ss *SnapshotStore) List(ctx context.Context) ([]string, error) {
	rows, err := ss.s.db.QueryContext(ctx, `SELECT projector_name FROM snapshots ORDER BY projector_name`)
	if err != nil {
		return nil, dcb.StorageError("list_snapshots", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, dcb.StorageError("list_snapshots", err)
		}
		out = append(out, name)
	}
	return out, dcb.StorageError("list_snapshots", rows.Err())
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }

var _ projection.SnapshotStore = (*SnapshotStore)(nil)
