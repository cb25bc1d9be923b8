// Package postgres is an event store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codewandler/dcb-go/core/dcb"
	"github.com/codewandler/dcb-go/core/suid"
	"github.com/codewandler/dcb-go/core/tag"
)

const schema = `
CREATE TABLE IF NOT EXISTS dcb_events (
	sortable_id TEXT COLLATE "C" PRIMARY KEY,
	id          UUID NOT NULL UNIQUE,
	type        TEXT NOT NULL,
	tags        TEXT[] NOT NULL,
	metadata    JSONB NOT NULL,
	data        JSONB
);
CREATE INDEX IF NOT EXISTS dcb_events_tags_idx ON dcb_events USING GIN (tags);
`

const uniqueViolation = "23505"

type Option func(*EventStore)

func WithLogger(log *slog.Logger) Option {
	return func(s *EventStore) { s.log = log }
}

// WithEventTypes decodes payloads of read events.
func WithEventTypes(types *dcb.EventTypes) Option {
	return func(s *EventStore) { s.types = types }
}

func WithClock(now func() time.Time) Option {
	return func(s *EventStore) { s.now = now }
}

type EventStore struct {
	pool  *pgxpool.Pool
	log   *slog.Logger
	types *dcb.EventTypes
	now   func() time.Time
}

func NewEventStore(pool *pgxpool.Pool, opts ...Option) *EventStore {
	s := &EventStore{pool: pool, log: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(slog.String("store", "postgres"))
	return s
}

// Connect opens a pool for url and ensures the schema.
func Connect(ctx context.Context, url string, opts ...Option) (*EventStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	s := NewEventStore(pool, opts...)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *EventStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *EventStore) Close() { s.pool.Close() }

const selectEvent = `SELECT sortable_id, id, type, tags, metadata, data FROM dcb_events`

func (s *EventStore) ReadAllEvents(ctx context.Context, since suid.ID) ([]dcb.Event, error) {
	return s.query(ctx, "read_all_events", selectEvent+` WHERE sortable_id > $1 ORDER BY sortable_id`, since.String())
}

func (s *EventStore) ReadAllEventsLimit(ctx context.Context, since suid.ID, limit int) ([]dcb.Event, error) {
	return s.query(ctx, "read_all_events", selectEvent+` WHERE sortable_id > $1 ORDER BY sortable_id LIMIT $2`, since.String(), limit)
}

func (s *EventStore) ReadEventsByTag(ctx context.Context, t tag.Tag, since suid.ID) ([]dcb.Event, error) {
	return s.query(
		ctx, "read_events_by_tag",
		selectEvent+` WHERE tags @> ARRAY[$1]::text[] AND sortable_id > $2 ORDER BY sortable_id`,
		t.String(), since.String(),
	)
}

func (s *EventStore) ReadEvent(ctx context.Context, id uuid.UUID) (dcb.Event, error) {
	events, err := s.query(ctx, "read_event", selectEvent+` WHERE id = $1`, id)
	if err != nil {
		return dcb.Event{}, err
	}
	if len(events) == 0 {
		return dcb.Event{}, dcb.Errorf(dcb.KindNotFound, "read_event", "event %s", id)
	}
	return events[0], nil
}

func (s *EventStore) LatestTagPosition(ctx context.Context, t tag.Tag) (suid.ID, error) {
	var latest *string
	err := s.pool.QueryRow(ctx, `SELECT MAX(sortable_id) FROM dcb_events WHERE tags @> ARRAY[$1]::text[]`, t.String()).Scan(&latest)
	if err != nil {
		return "", dcb.StorageError("latest_tag_position", err)
	}
	if latest == nil {
		return "", nil
	}
	return suid.ID(*latest), nil
}

func (s *EventStore) WriteEvents(ctx context.Context, events []dcb.Event) (*dcb.WriteResult, error) {
	if err := dcb.ValidateBatch(events); err != nil {
		return nil, err
	}

	written := make([]dcb.Event, 0, len(events))
	batch := &pgx.Batch{}
	for _, ev := range events {
		enc, err := dcb.Encode(ev)
		if err != nil {
			return nil, err
		}
		md, err := json.Marshal(enc.Metadata)
		if err != nil {
			return nil, dcb.NewError(dcb.KindSerialization, "write_events", err)
		}
		batch.Queue(
			`INSERT INTO dcb_events (sortable_id, id, type, tags, metadata, data) VALUES ($1, $2, $3, $4, $5, $6)`,
			enc.SortableID.String(), enc.ID, enc.Type, enc.Tags, md, []byte(enc.Data),
		)
		written = append(written, enc)
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, dcb.NewError(dcb.KindConflict, "write_events", err)
		}
		return nil, dcb.StorageError("write_events", err)
	}

	s.log.Debug(
		"write",
		slog.Int("num_events", len(written)),
		slog.String("last_sortable_id", written[len(written)-1].SortableID.String()),
	)
	return &dcb.WriteResult{Events: written, Tags: dcb.TagResults(written, s.now())}, nil
}

func (s *EventStore) query(ctx context.Context, op, q string, args ...any) ([]dcb.Event, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, dcb.StorageError(op, err)
	}
	defer rows.Close()

	var out []dcb.Event
	for rows.Next() {
		var (
			ev         dcb.Event
			sortableID string
			metadata   []byte
			data       []byte
		)
		if err := rows.Scan(&sortableID, &ev.ID, &ev.Type, &ev.Tags, &metadata, &data); err != nil {
			return nil, dcb.StorageError(op, err)
		}
		ev.SortableID = suid.ID(sortableID)
		if err := json.Unmarshal(metadata, &ev.Metadata); err != nil {
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
		return nil, dcb.StorageError(op, err)
	}
	return out, nil
}

var (
	_ dcb.EventStore       = (*EventStore)(nil)
	_ dcb.PagedEventReader = (*EventStore)(nil)
)
