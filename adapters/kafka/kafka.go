// Package kafka carries written events to live subscribers over a Kafka
// topic. Every batch is one record on a single partition, so subscribers
// see batches whole and in publish order.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/codewandler/dcb-go/core/dcb"
)

const (
	DefaultTopic = "dcb-events"
	batchKey     = "dcb"
)

type Config struct {
	Brokers []string
	Topic   string
	Log     *slog.Logger
	// Types decodes delivered events. Without it handlers receive events
	// with Data only.
	Types *dcb.EventTypes
}

func (c Config) withDefaults() Config {
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	return c
}

// Publisher implements dcb.EventPublisher.
type Publisher struct {
	client *kgo.Client
	topic  string
	log    *slog.Logger
}

func NewPublisher(cfg Config) (*Publisher, error) {
	cfg = cfg.withDefaults()
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.AllowAutoTopicCreation(),
		kgo.DefaultProduceTopic(cfg.Topic),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}
	return &Publisher{
		client: client,
		topic:  cfg.Topic,
		log:    cfg.Log.With(slog.String("component", "kafka-publisher"), slog.String("topic", cfg.Topic)),
	}, nil
}

func (p *Publisher) Publish(ctx context.Context, events []dcb.Event) error {
	if len(events) == 0 {
		return nil
	}
	record, err := encodeBatch(p.topic, events)
	if err != nil {
		return err
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.topic, err)
	}
	p.log.Debug("published", slog.Int("events", len(events)))
	return nil
}

func (p *Publisher) Close() { p.client.Close() }

// Subscriber implements dcb.EventSubscriber. Every subscription has its own
// client starting at the subscribe time, so all subscribers see every batch
// published after they subscribed.
type Subscriber struct {
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	clients map[*kgo.Client]struct{}
}

func NewSubscriber(cfg Config) *Subscriber {
	cfg = cfg.withDefaults()
	return &Subscriber{
		cfg:     cfg,
		log:     cfg.Log.With(slog.String("component", "kafka-subscriber"), slog.String("topic", cfg.Topic)),
		clients: map[*kgo.Client]struct{}{},
	}
}

func (s *Subscriber) Subscribe(ctx context.Context, h dcb.EventHandler) (func(), error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(s.cfg.Brokers...),
		kgo.ConsumeTopics(s.cfg.Topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AfterMilli(time.Now().UnixMilli())),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach brokers: %w", err)
	}

	s.mu.Lock()
	s.clients[client] = struct{}{}
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			client.Close()
			s.mu.Lock()
			delete(s.clients, client)
			s.mu.Unlock()
		})
	}

	go func() {
		defer stop()
		for {
			fetches := client.PollFetches(ctx)
			if fetches.IsClientClosed() || ctx.Err() != nil {
				return
			}
			for _, err := range fetches.Errors() {
				s.log.Error(
					"fetch error",
					slog.String("topic", err.Topic),
					slog.Int("partition", int(err.Partition)),
					slog.Any("error", err.Err),
				)
			}
			fetches.EachRecord(func(r *kgo.Record) {
				events, err := decodeBatch(r, s.cfg.Types)
				if err != nil {
					s.log.Error("failed to decode batch", slog.Int64("offset", r.Offset), slog.Any("error", err))
					return
				}
				if err := h(ctx, events); err != nil {
					s.log.Error("subscriber failed", slog.Int("events", len(events)), slog.Any("error", err))
				}
			})
		}
	}()

	return stop, nil
}

// Close ends every open subscription.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		c.Close()
	}
	clear(s.clients)
}

func encodeBatch(topic string, events []dcb.Event) (*kgo.Record, error) {
	encoded := make([]dcb.Event, len(events))
	for i, ev := range events {
		var err error
		if encoded[i], err = dcb.Encode(ev); err != nil {
			return nil, err
		}
	}
	value, err := json.Marshal(encoded)
	if err != nil {
		return nil, dcb.NewError(dcb.KindSerialization, "encode_batch", err)
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(batchKey),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "x-batch-size", Value: []byte(strconv.Itoa(len(events)))},
			{Key: "x-last-sortable-id", Value: []byte(events[len(events)-1].SortableID)},
		},
	}, nil
}

func decodeBatch(r *kgo.Record, types *dcb.EventTypes) ([]dcb.Event, error) {
	var events []dcb.Event
	if err := json.Unmarshal(r.Value, &events); err != nil {
		return nil, dcb.NewError(dcb.KindSerialization, "decode_batch", err)
	}
	if types == nil {
		return events, nil
	}
	return types.DecodeAll(events)
}

var (
	_ dcb.EventPublisher  = (*Publisher)(nil)
	_ dcb.EventSubscriber = (*Subscriber)(nil)
)
