package dcb

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codewandler/dcb-go/core/reflector"
	"github.com/codewandler/dcb-go/core/suid"
	"github.com/codewandler/dcb-go/core/tag"
)

type Metadata struct {
	CausationID   string `json:"causation_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	ExecutedUser  string `json:"executed_user,omitempty"`
}

// Event is an immutable fact. SortableID is its position in the single
// global order every fold uses.
//
// Payload holds the decoded value; Data holds its encoded form. Stores
// persist Data and decode it through EventTypes when reading.
type Event struct {
	ID         uuid.UUID       `json:"id"`
	SortableID suid.ID         `json:"sortable_id"`
	Type       string          `json:"type"`
	Tags       []string        `json:"tags"`
	Metadata   Metadata        `json:"metadata"`
	Data       json.RawMessage `json:"data,omitempty"`
	Payload    any             `json:"-"`
}

// NewEvent prepares an event for appending. ID and SortableID are assigned
// when it is written.
func NewEvent(payload any, tags ...tag.Tag) Event {
	return Event{
		Type:    EventTypeOf(payload),
		Tags:    tag.Strings(tags),
		Payload: payload,
	}
}

// Time is the timestamp encoded in the event's position.
func (e Event) Time() (time.Time, error) { return e.SortableID.Time() }

func (e Event) HasTag(t tag.Tag) bool { return slices.Contains(e.Tags, t.String()) }

// ParsedTags parses and validates the event's tags.
func (e Event) ParsedTags() ([]tag.Tag, error) {
	tags, err := tag.ParseAll(e.Tags)
	if err != nil {
		return nil, NewError(KindValidation, "parse_tags", err)
	}
	return tags, nil
}

// Validate checks what every store requires before persisting the event.
func (e Event) Validate() error {
	if e.ID == uuid.Nil {
		return Errorf(KindValidation, "validate_event", "event id is empty")
	}
	if err := e.SortableID.Validate(); err != nil {
		return NewError(KindValidation, "validate_event", err)
	}
	if e.Type == "" {
		return Errorf(KindValidation, "validate_event", "event %s has no type", e.ID)
	}
	if _, err := e.ParsedTags(); err != nil {
		return err
	}
	return nil
}

func (e Event) String() string {
	return fmt.Sprintf("%s(%s@%s)", e.Type, e.ID, e.SortableID)
}

// EventTypeOf names a payload: its EventType() method when present, the fully
// qualified Go type name otherwise.
func EventTypeOf(payload any) string {
	if t, ok := payload.(interface{ EventType() string }); ok {
		return t.EventType()
	}
	return reflector.NameOf(payload)
}

// === registry ===

// EventTypes maps event type names to constructors so persisted events can
// be decoded.
type EventTypes struct {
	mu   sync.RWMutex
	news map[string]func() any
}

func NewEventTypes() *EventTypes {
	return &EventTypes{news: map[string]func() any{}}
}

// Register adds a constructor returning a pointer to a fresh payload.
func (r *EventTypes) Register(eventType string, ctor func() any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.news[eventType] = ctor
}

// RegisterEvent registers T under EventTypeOf(T).
func RegisterEvent[T any](r *EventTypes) {
	var zero T
	r.Register(EventTypeOf(zero), func() any { return new(T) })
}

func (r *EventTypes) Known(eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.news[eventType]
	return ok
}

// Decode fills ev.Payload from ev.Data. Payloads are returned as values, not
// pointers, so projectors see the same types that were appended.
func (r *EventTypes) Decode(ev Event) (Event, error) {
	r.mu.RLock()
	ctor, ok := r.news[ev.Type]
	r.mu.RUnlock()
	if !ok {
		return ev, Errorf(KindSerialization, "decode_event", "unknown event type %q", ev.Type)
	}
	p := ctor()
	if len(ev.Data) > 0 {
		if err := json.Unmarshal(ev.Data, p); err != nil {
			return ev, NewError(KindSerialization, "decode_event", fmt.Errorf("%s: %w", ev.Type, err))
		}
	}
	ev.Payload = reflector.Deref(p)
	return ev, nil
}

// DecodeAll decodes every event, failing on the first error.
func (r *EventTypes) DecodeAll(events []Event) ([]Event, error) {
	out := make([]Event, len(events))
	for i, ev := range events {
		d, err := r.Decode(ev)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

// Encode fills ev.Data from ev.Payload. Events that already carry Data and no
// payload pass through unchanged.
func Encode(ev Event) (Event, error) {
	if ev.Payload == nil {
		if ev.Data == nil {
			return ev, Errorf(KindSerialization, "encode_event", "event %s has neither payload nor data", ev.ID)
		}
		return ev, nil
	}
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		return ev, NewError(KindSerialization, "encode_event", fmt.Errorf("%s: %w", ev.Type, err))
	}
	if ev.Type == "" {
		ev.Type = EventTypeOf(ev.Payload)
	}
	ev.Data = data
	return ev, nil
}
