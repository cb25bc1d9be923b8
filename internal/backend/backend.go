// Package backend opens the storage and transport adapters selected by the
// runtime configuration.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/codewandler/dcb-go/adapters/kafka"
	"github.com/codewandler/dcb-go/adapters/nats"
	"github.com/codewandler/dcb-go/adapters/postgres"
	"github.com/codewandler/dcb-go/adapters/sqlite"
	"github.com/codewandler/dcb-go/core/config"
	"github.com/codewandler/dcb-go/core/dcb"
	"github.com/codewandler/dcb-go/core/projection"
)

const (
	TagStateBucket = "dcb_tag_states"
	SnapshotBucket = "dcb_snapshots"
	BlobBucket     = "dcb_snapshot_blobs"
)

// Backend is the set of adapters one process runs on. Fields left nil fall
// back to the in-process defaults of the app.
type Backend struct {
	Store      dcb.EventStore
	Publisher  dcb.EventPublisher
	Subscriber dcb.EventSubscriber
	Snapshots  projection.SnapshotStore
	Blob       projection.BlobAccessor
	// TagStates is set when tag states are shared through NATS.
	TagStates dcb.TagStatePersistentFactory

	log     *slog.Logger
	closers []func()
}

// Open connects every adapter cfg names. On error the adapters opened so
// far are closed again.
func Open(ctx context.Context, cfg config.Config, log *slog.Logger, types *dcb.EventTypes) (_ *Backend, err error) {
	if log == nil {
		log = slog.Default()
	}
	b := &Backend{log: log.With(slog.String("component", "backend"))}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	if err := b.openStore(ctx, cfg, types); err != nil {
		return nil, err
	}
	if cfg.NatsURL != "" {
		if err := b.openNats(ctx, cfg, types); err != nil {
			return nil, err
		}
	}
	if len(cfg.KafkaBrokers) > 0 {
		if err := b.openKafka(cfg, types); err != nil {
			return nil, err
		}
	}

	b.log.Info(
		"backend opened",
		slog.String("store", string(cfg.Store)),
		slog.Bool("nats", cfg.NatsURL != ""),
		slog.Bool("kafka", len(cfg.KafkaBrokers) > 0),
	)
	return b, nil
}

func (b *Backend) onClose(f func()) { b.closers = append(b.closers, f) }

func (b *Backend) openStore(ctx context.Context, cfg config.Config, types *dcb.EventTypes) error {
	switch cfg.Store {
	case config.StoreSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLitePath, sqlite.WithLogger(b.log), sqlite.WithEventTypes(types))
		if err != nil {
			return fmt.Errorf("open sqlite store: %w", err)
		}
		b.onClose(func() { _ = s.Close() })
		b.Store = s
		b.Snapshots = s.Snapshots()
	case config.StorePostgres:
		s, err := postgres.Connect(ctx, cfg.PostgresURL, postgres.WithLogger(b.log), postgres.WithEventTypes(types))
		if err != nil {
			return fmt.Errorf("open postgres store: %w", err)
		}
		b.onClose(s.Close)
		b.Store = s
	default:
		b.Store = dcb.NewInMemoryStore(dcb.WithStoreLogger(b.log))
	}
	return nil
}

func (b *Backend) openNats(ctx context.Context, cfg config.Config, types *dcb.EventTypes) error {
	connect := nats.ReuseConnection(nats.ConnectURL(cfg.NatsURL))

	tagStates, err := nats.NewKvStore(ctx, nats.KvConfig{Connect: connect, Bucket: TagStateBucket})
	if err != nil {
		return fmt.Errorf("open tag state bucket: %w", err)
	}
	b.onClose(tagStates.Close)
	b.TagStates = dcb.KVTagStatePersistence(tagStates)

	blob, err := nats.NewObjectBlobAccessor(ctx, nats.ObjectBlobConfig{Connect: connect, Log: b.log, Bucket: BlobBucket})
	if err != nil {
		return fmt.Errorf("open blob bucket: %w", err)
	}
	b.onClose(blob.Close)
	b.Blob = blob

	if b.Snapshots == nil {
		snapshots, err := nats.NewKvStore(ctx, nats.KvConfig{Connect: connect, Bucket: SnapshotBucket})
		if err != nil {
			return fmt.Errorf("open snapshot bucket: %w", err)
		}
		b.onClose(snapshots.Close)
		b.Snapshots = projection.NewKVSnapshotStore(snapshots)
	}

	feed, err := nats.NewEventFeed(ctx, nats.EventFeedConfig{Connect: connect, Log: b.log, Types: types})
	if err != nil {
		return fmt.Errorf("open event feed: %w", err)
	}
	b.onClose(feed.Close)
	b.Publisher, b.Subscriber = feed, feed
	return nil
}

// openKafka replaces a NATS feed when both are configured.
func (b *Backend) openKafka(cfg config.Config, types *dcb.EventTypes) error {
	kcfg := kafka.Config{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, Log: b.log, Types: types}
	pub, err := kafka.NewPublisher(kcfg)
	if err != nil {
		return err
	}
	b.onClose(pub.Close)
	sub := kafka.NewSubscriber(kcfg)
	b.onClose(sub.Close)
	b.Publisher, b.Subscriber = pub, sub
	return nil
}

// HostOptions returns cfg's host options plus the shared tag state
// persistence when one is open.
func (b *Backend) HostOptions(cfg config.Config) []dcb.HostOption {
	opts := cfg.HostOptions()
	if b.TagStates != nil {
		opts = append(opts, dcb.WithTagStatePersistence(b.TagStates))
	}
	return opts
}

// Close closes the adapters in reverse opening order.
func (b *Backend) Close() {
	for _, f := range slices.Backward(b.closers) {
		f()
	}
	b.closers = nil
}
