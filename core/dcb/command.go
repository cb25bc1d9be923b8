package dcb

import (
	"context"
	"sync"

	"github.com/codewandler/dcb-go/core/ds"
	"github.com/codewandler/dcb-go/core/suid"
	"github.com/codewandler/dcb-go/core/tag"
)

// AppendedEvent is an event a command handler wants written. Writing it
// reserves every tag in Tags; ReferenceTags are written without a
// consistency check.
type AppendedEvent struct {
	Payload       any
	Tags          []tag.Tag
	ReferenceTags []tag.Tag
	Metadata      Metadata
}

func (a AppendedEvent) allTags() []string {
	set := ds.NewSet(tag.Strings(a.Tags)...)
	set.Extend(tag.Strings(a.ReferenceTags)...)
	return set.Values()
}

// CommandHandler decides which events to append. It reads current states
// through c; every tag position it observes becomes the expected position
// when the events are written.
type CommandHandler func(ctx context.Context, c *CommandContext) error

type CommandContext struct {
	host *Host

	mu       sync.Mutex
	observed map[string]suid.ID
	appended []AppendedEvent
}

func newCommandContext(host *Host) *CommandContext {
	return &CommandContext{host: host, observed: map[string]suid.ID{}}
}

// observe keeps the earliest position seen for t, so a tag that moved
// between two reads of the same command still conflicts.
func (c *CommandContext) observe(t tag.Tag, id suid.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := t.String()
	if prev, ok := c.observed[key]; ok && prev.IsEarlierThanOrEqual(id) {
		return
	}
	c.observed[key] = id
}

func (c *CommandContext) observedPosition(t tag.Tag) (suid.ID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.observed[t.String()]
	return id, ok
}

// State returns the current state of id.
func (c *CommandContext) State(ctx context.Context, id tag.StateID) (TagState, error) {
	if err := id.Tag.Validate(); err != nil {
		return TagState{}, NewError(KindValidation, "command_state", err)
	}
	a, err := c.host.TagState(id)
	if err != nil {
		return TagState{}, err
	}
	s, err := a.State(ctx)
	if err != nil {
		return TagState{}, err
	}
	c.observe(id.Tag, s.LastSortableID)
	return s, nil
}

// TagExists reports whether any event was ever written to t.
func (c *CommandContext) TagExists(ctx context.Context, t tag.Tag) (bool, error) {
	if err := t.Validate(); err != nil {
		return false, NewError(KindValidation, "tag_exists", err)
	}
	latest, err := c.host.TagConsistent(t).LatestSortableID(ctx)
	if err != nil {
		return false, err
	}
	c.observe(t, latest)
	return latest != "", nil
}

// Append queues payload for writing under tags.
func (c *CommandContext) Append(payload any, tags ...tag.Tag) {
	c.AppendEvent(AppendedEvent{Payload: payload, Tags: tags})
}

func (c *CommandContext) AppendEvent(ev AppendedEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appended = append(c.appended, ev)
}

func (c *CommandContext) Appended() []AppendedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]AppendedEvent, len(c.appended))
	copy(out, c.appended)
	return out
}

// CommandStateAs is StateAs for a state read inside a command.
func CommandStateAs[T any](ctx context.Context, c *CommandContext, id tag.StateID) (T, TagState, error) {
	var zero T
	s, err := c.State(ctx, id)
	if err != nil {
		return zero, s, err
	}
	out, _, err := PayloadAs[T](s)
	if err != nil {
		return zero, s, err
	}
	return out, s, nil
}
