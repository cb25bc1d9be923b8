package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/codewandler/dcb-go/core/dcb"
	"github.com/codewandler/dcb-go/core/suid"
	"github.com/codewandler/dcb-go/core/tag"
)

const selectEvent = `SELECT e.sortable_id, e.id, e.type, e.tags, e.metadata, e.data FROM events e`

func (s *Store) ReadAllEvents(ctx context.Context, since suid.ID) ([]dcb.Event, error) {
	return s.query(ctx, "read_all_events", selectEvent+` WHERE e.sortable_id > ? ORDER BY e.sortable_id`, since.String())
}

func (s *Store) ReadAllEventsLimit(ctx context.Context, since suid.ID, limit int) ([]dcb.Event, error) {
	return s.query(ctx, "read_all_events", selectEvent+` WHERE e.sortable_id > ? ORDER BY e.sortable_id LIMIT ?`, since.String(), limit)
}

func (s *Store) ReadEventsByTag(ctx context.Context, t tag.Tag, since suid.ID) ([]dcb.Event, error) {
	return s.query(
		ctx, "read_events_by_tag",
		selectEvent+` JOIN event_tags t ON t.sortable_id = e.sortable_id
		WHERE t.tag = ? AND t.sortable_id > ? ORDER BY t.sortable_id`,
		t.String(), since.String(),
	)
}

func (s *Store) ReadEvent(ctx context.Context, id uuid.UUID) (dcb.Event, error) {
	events, err := s.query(ctx, "read_event", selectEvent+` WHERE e.id = ?`, id.String())
	if err != nil {
		return dcb.Event{}, err
	}
	if len(events) == 0 {
		return dcb.Event{}, dcb.Errorf(dcb.KindNotFound, "read_event", "event %s", id)
	}
	return events[0], nil
}

func (s *Store) LatestTagPosition(ctx context.Context, t tag.Tag) (suid.ID, error) {
	var latest sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT MAX(sortable_id) FROM event_tags WHERE tag = ?`, t.String()).Scan(&latest)
	if err != nil {
		return "", dcb.StorageError("latest_tag_position", err)
	}
	return suid.ID(latest.String), nil
}

func (s *Store) WriteEvents(ctx context.Context, events []dcb.Event) (*dcb.WriteResult, error) {
	if err := dcb.ValidateBatch(events); err != nil {
		return nil, err
	}

	type row struct {
		ev       dcb.Event
		tags     []byte
		metadata []byte
	}
	rows := make([]row, 0, len(events))
	for _, ev := range events {
		enc, err := dcb.Encode(ev)
		if err != nil {
			return nil, err
		}
		tags, err := json.Marshal(enc.Tags)
		if err != nil {
			return nil, dcb.NewError(dcb.KindSerialization, "write_events", err)
		}
		md, err := json.Marshal(enc.Metadata)
		if err != nil {
			return nil, dcb.NewError(dcb.KindSerialization, "write_events", err)
		}
		rows = append(rows, row{ev: enc, tags: tags, metadata: md})
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, dcb.StorageError("write_events", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range rows {
		var exists int
		err := tx.QueryRowContext(
			ctx, `SELECT COUNT(*) FROM events WHERE id = ? OR sortable_id = ?`,
			r.ev.ID.String(), r.ev.SortableID.String(),
		).Scan(&exists)
		if err != nil {
			return nil, dcb.StorageError("write_events", err)
		}
		if exists > 0 {
			return nil, dcb.Errorf(dcb.KindConflict, "write_events", "event %s already written", r.ev.ID)
		}

		_, err = tx.ExecContext(
			ctx, `INSERT INTO events (sortable_id, id, type, tags, metadata, data) VALUES (?, ?, ?, ?, ?, ?)`,
			r.ev.SortableID.String(), r.ev.ID.String(), r.ev.Type, string(r.tags), string(r.metadata), []byte(r.ev.Data),
		)
		if err != nil {
			return nil, dcb.StorageError("write_events", fmt.Errorf("insert %s: %w", r.ev.ID, err))
		}
		for _, t := range r.ev.Tags {
			if _, err := tx.ExecContext(ctx, `INSERT INTO event_tags (tag, sortable_id) VALUES (?, ?)`, t, r.ev.SortableID.String()); err != nil {
				return nil, dcb.StorageError("write_events", fmt.Errorf("insert tag %s: %w", t, err))
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, dcb.StorageError("write_events", err)
	}

	written := make([]dcb.Event, len(rows))
	for i, r := range rows {
		written[i] = r.ev
		written[i].Payload = events[i].Payload
	}

	s.log.Debug(
		"write",
		slog.Int("num_events", len(written)),
		slog.String("last_sortable_id", written[len(written)-1].SortableID.String()),
	)
	return &dcb.WriteResult{Events: written, Tags: dcb.TagResults(written, s.now())}, nil
}

func (s *Store) query(ctx context.Context, op, q string, args ...any) ([]dcb.Event, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, dcb.StorageError(op, err)
	}
	defer func() { _ = rows.Close() }()

	var out []dcb.Event
	for rows.Next() {
		var (
			ev             dcb.Event
			sortableID, id string
			tags, metadata string
			data           []byte
		)
		if err := rows.Scan(&sortableID, &id, &ev.Type, &tags, &metadata, &data); err != nil {
			return nil, dcb.StorageError(op, err)
		}
		if ev.ID, err = uuid.Parse(id); err != nil {
			return nil, dcb.NewError(dcb.KindSerialization, op, fmt.Errorf("event id %q: %w", id, err))
		}
		ev.SortableID = suid.ID(sortableID)
		if err := json.Unmarshal([]byte(tags), &ev.Tags); err != nil {
			return nil, dcb.NewError(dcb.KindSerialization, op, err)
		}
		if err := json.Unmarshal([]byte(metadata), &ev.Metadata); err != nil {
			return nil, dcb.NewError(dcb.KindSerialization, op, err)
		}
		ev.Data = data
		if s.types != nil {
			if ev, err = s.types.Decode(ev); err != nil {
				return nil, err
			}
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, dcb.StorageError(op, err)
	}
	return out, nil
}

var (
	_ dcb.EventStore       = (*Store)(nil)
	_ dcb.PagedEventReader = (*Store)(nil)
)
