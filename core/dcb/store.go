package dcb

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/codewandler/dcb-go/core/suid"
	"github.com/codewandler/dcb-go/core/tag"
)

type (
	// EventStore is the only storage contract the engine depends on. Reads
	// return events ordered by SortableID; since is exclusive and the empty id
	// reads from the beginning.
	EventStore interface {
		ReadAllEvents(ctx context.Context, since suid.ID) ([]Event, error)
		ReadEventsByTag(ctx context.Context, t tag.Tag, since suid.ID) ([]Event, error)
		// ReadEvent returns ErrNotFound for unknown ids.
		ReadEvent(ctx context.Context, id uuid.UUID) (Event, error)
		// WriteEvents appends atomically: either every event is written or none.
		WriteEvents(ctx context.Context, events []Event) (*WriteResult, error)
		// LatestTagPosition returns the empty id for tags never written.
		LatestTagPosition(ctx context.Context, t tag.Tag) (suid.ID, error)
	}

	// PagedEventReader is implemented by stores that can bound a global
	// read, so a replay does not hold the whole history in memory.
	PagedEventReader interface {
		// ReadAllEventsLimit returns at most limit events after since.
		ReadAllEventsLimit(ctx context.Context, since suid.ID, limit int) ([]Event, error)
	}

	WriteResult struct {
		Events []Event
		// Tags has one entry per distinct tag, in first-seen order.
		Tags []TagWriteResult
	}

	// TagWriteResult acknowledges the events one write added to one tag.
	TagWriteResult struct {
		Tag            string    `json:"tag"`
		NewEventCount  int       `json:"new_event_count"`
		LastSortableID suid.ID   `json:"last_sortable_id"`
		WrittenAt      time.Time `json:"written_at"`
	}

	// EventPublisher forwards written events to live subscribers.
	EventPublisher interface {
		Publish(ctx context.Context, events []Event) error
	}

	// EventHandler receives one delivered batch.
	EventHandler func(ctx context.Context, events []Event) error

	// EventSubscriber delivers published batches until ctx ends or the
	// returned cancel func is called.
	EventSubscriber interface {
		Subscribe(ctx context.Context, h EventHandler) (cancel func(), err error)
	}
)

// TagResults builds the per-tag acknowledgement for a batch of written events.
func TagResults(events []Event, writtenAt time.Time) []TagWriteResult {
	var (
		out   []TagWriteResult
		index = map[string]int{}
	)
	for _, ev := range events {
		for _, t := range ev.Tags {
			i, ok := index[t]
			if !ok {
				i = len(out)
				index[t] = i
				out = append(out, TagWriteResult{Tag: t, WrittenAt: writtenAt})
			}
			out[i].NewEventCount++
			if ev.SortableID.IsLaterThan(out[i].LastSortableID) {
				out[i].LastSortableID = ev.SortableID
			}
		}
	}
	return out
}

// ValidateBatch validates every event and rejects duplicate ids inside the
// batch. Stores call it before taking their write lock.
func ValidateBatch(events []Event) error {
	if len(events) == 0 {
		return Errorf(KindValidation, "write_events", "no events")
	}
	ids := make(map[uuid.UUID]struct{}, len(events))
	pos := make(map[suid.ID]struct{}, len(events))
	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			return err
		}
		if _, dup := ids[ev.ID]; dup {
			return Errorf(KindValidation, "write_events", "duplicate event id %s", ev.ID)
		}
		if _, dup := pos[ev.SortableID]; dup {
			return Errorf(KindValidation, "write_events", "duplicate sortable id %s", ev.SortableID)
		}
		ids[ev.ID] = struct{}{}
		pos[ev.SortableID] = struct{}{}
	}
	return nil
}
