package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/dcb-go/core/dcb"
)

const (
	defaultFeedSubject = "dcb.events"
	defaultFeedStream  = "DCB_EVENTS"
	defaultFeedMaxAge  = 24 * time.Hour
)

type EventFeedConfig struct {
	Connect Connector    // Connect is used to create the underlying NATS connection. If nil, ConnectDefault() is used.
	Log     *slog.Logger // Log for diagnostics (optional)
	// Types decodes delivered events. Without it handlers receive events
	// with Data only.
	Types      *dcb.EventTypes
	StreamName string
	Subject    string
	// MaxAge bounds the stream. Live subscribers only read new batches, so
	// the stream never needs to hold the full history.
	MaxAge time.Duration
}

// EventFeed carries written batches over a JetStream stream, one message
// per batch, so subscribers see batches whole and in publish order.
type EventFeed struct {
	js      jetstream.JetStream
	stream  jetstream.Stream
	closeNc closeFunc
	log     *slog.Logger
	types   *dcb.EventTypes
	subject string
}

func NewEventFeed(ctx context.Context, cfg EventFeedConfig) (*EventFeed, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	streamName := strings.ToUpper(cfg.StreamName)
	if streamName == "" {
		streamName = defaultFeedStream
	}
	subject := cfg.Subject
	if subject == "" {
		subject = defaultFeedSubject
	}
	maxAge := cfg.MaxAge
	if maxAge == 0 {
		maxAge = defaultFeedMaxAge
	}

	nc, closeNc, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeNc()
		return nil, err
	}

	log = log.With(slog.String("feed", "nats_js"), slog.String("stream", streamName), slog.String("subject", subject))
	log.Debug("ensuring stream")

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       streamName,
		Subjects:   []string{subject},
		Retention:  jetstream.LimitsPolicy,
		Storage:    jetstream.FileStorage,
		MaxAge:     maxAge,
		Duplicates: time.Minute,
	})
	if err != nil {
		closeNc()
		return nil, fmt.Errorf("failed to ensure stream %s: %w", streamName, err)
	}

	return &EventFeed{
		js:      js,
		stream:  stream,
		closeNc: closeNc,
		log:     log,
		types:   cfg.Types,
		subject: subject,
	}, nil
}

func (f *EventFeed) Close() {
	f.js.CleanupPublisher()
	f.closeNc()
	f.log.Debug("closed event feed")
}

// Publish sends events as one message. The message id is derived from the
// first event, so a retried publish of the same batch is deduplicated.
func (f *EventFeed) Publish(ctx context.Context, events []dcb.Event) error {
	if len(events) == 0 {
		return nil
	}
	encoded := make([]dcb.Event, len(events))
	for i, ev := range events {
		var err error
		if encoded[i], err = dcb.Encode(ev); err != nil {
			return err
		}
	}

	msg := natsgo.NewMsg(f.subject)
	msg.Header.Set("x-batch-size", strconv.Itoa(len(events)))
	msg.Header.Set("x-last-sortable-id", events[len(events)-1].SortableID.String())

	var err error
	if msg.Data, err = json.Marshal(encoded); err != nil {
		return dcb.NewError(dcb.KindSerialization, "publish", err)
	}

	msgID := events[0].ID.String() + "-" + strconv.Itoa(len(events))
	if _, err := f.js.PublishMsg(ctx, msg, jetstream.WithMsgID(msgID)); err != nil {
		return fmt.Errorf("failed to publish %d events to %s: %w", len(events), f.subject, err)
	}
	return nil
}

// Subscribe delivers batches published after the call. Handler errors are
// logged; the subscription keeps running.
func (f *EventFeed) Subscribe(ctx context.Context, h dcb.EventHandler) (func(), error) {
	consumer, err := f.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		DeliverPolicy:  jetstream.DeliverNewPolicy,
		FilterSubjects: []string{f.subject},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	msgs, err := consumer.Messages()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	stopOnce := sync.Once{}
	stop := func() {
		stopOnce.Do(func() {
			cancel()
			msgs.Stop()
		})
	}
	context.AfterFunc(ctx, stop)

	go func() {
		defer f.log.Debug("unsubscribed")
		for {
			msg, err := msgs.Next()
			if err != nil {
				if !errors.Is(err, jetstream.ErrMsgIteratorClosed) {
					f.log.Error("failed to read next message", slog.Any("error", err))
				}
				return
			}

			events, err := f.decode(msg.Data())
			if err != nil {
				f.log.Error("failed to decode batch", slog.Any("error", err))
				continue
			}
			if err := h(ctx, events); err != nil {
				f.log.Error("subscriber failed", slog.Int("events", len(events)), slog.Any("error", err))
			}
		}
	}()

	return stop, nil
}

func (f *EventFeed) decode(data []byte) ([]dcb.Event, error) {
	var events []dcb.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, dcb.NewError(dcb.KindSerialization, "decode_batch", err)
	}
	if f.types == nil {
		return events, nil
	}
	return f.types.DecodeAll(events)
}

var (
	_ dcb.EventPublisher  = (*EventFeed)(nil)
	_ dcb.EventSubscriber = (*EventFeed)(nil)
)
