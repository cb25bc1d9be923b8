// Package sqlite is an embedded, single process event store and snapshot
// store on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/codewandler/dcb-go/core/dcb"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	sortable_id TEXT PRIMARY KEY,
	id          TEXT NOT NULL UNIQUE,
	type        TEXT NOT NULL,
	tags        TEXT NOT NULL,
	metadata    TEXT NOT NULL,
	data        BLOB
);
CREATE TABLE IF NOT EXISTS event_tags (
	tag         TEXT NOT NULL,
	sortable_id TEXT NOT NULL REFERENCES events(sortable_id),
	PRIMARY KEY (tag, sortable_id)
) WITHOUT ROWID;
CREATE TABLE IF NOT EXISTS snapshots (
	projector_name        TEXT PRIMARY KEY,
	projector_version     TEXT NOT NULL,
	payload_type          TEXT NOT NULL,
	last_sortable_id      TEXT NOT NULL,
	events_processed      INTEGER NOT NULL,
	state_data            BLOB,
	is_offloaded          INTEGER NOT NULL,
	offload_key           TEXT NOT NULL,
	offload_provider      TEXT NOT NULL,
	original_size_bytes   INTEGER NOT NULL,
	compressed_size_bytes INTEGER NOT NULL,
	safe_window_threshold TEXT NOT NULL,
	created_at            TEXT NOT NULL,
	updated_at            TEXT NOT NULL
);
`

type Option func(*Store)

func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithEventTypes decodes payloads of read events.
func WithEventTypes(types *dcb.EventTypes) Option {
	return func(s *Store) { s.types = types }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store keeps events and snapshot records in one database file. Writes are
// serialized in process; reads run concurrently under WAL.
type Store struct {
	db    *sql.DB
	log   *slog.Logger
	types *dcb.EventTypes
	now   func() time.Time

	writeMu sync.Mutex
}

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &Store{db: db, log: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(slog.String("store", "sqlite"), slog.String("path", path))
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Snapshots returns the snapshot store sharing this database.
func (s *Store) Snapshots() *SnapshotStore { return &SnapshotStore{s: s} }
