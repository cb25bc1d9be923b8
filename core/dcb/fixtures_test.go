package dcb

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/dcb-go/core/suid"
	"github.com/codewandler/dcb-go/core/tag"
)

type (
	courseCreated struct {
		Name     string `json:"name"`
		Capacity int    `json:"capacity"`
	}
	studentEnrolled struct {
		Student string `json:"student"`
	}
	courseState struct {
		Name     string   `json:"name"`
		Capacity int      `json:"capacity"`
		Students []string `json:"students"`
	}
)

func (courseCreated) EventType() string   { return "CourseCreated" }
func (studentEnrolled) EventType() string { return "StudentEnrolled" }

func courseTag(id string) tag.Tag  { return tag.MustNew("course", id) }
func studentTag(id string) tag.Tag { return tag.MustNew("student", id) }

func testEventTypes() *EventTypes {
	types := NewEventTypes()
	RegisterEvent[courseCreated](types)
	RegisterEvent[studentEnrolled](types)
	return types
}

func courseProjector(version string) TagProjector {
	return NewTagProjector("course", version, func(s courseState, ev Event) (courseState, error) {
		switch p := ev.Payload.(type) {
		case courseCreated:
			s.Name = p.Name
			s.Capacity = p.Capacity
		case studentEnrolled:
			s.Students = append(append([]string(nil), s.Students...), p.Student)
		}
		return s, nil
	})
}

func courseStateID(id string) tag.StateID { return tag.NewStateID(courseTag(id), "course") }

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// writeRaw appends events directly to the store, bypassing the executor.
func writeRaw(t *testing.T, store EventStore, gen *suid.Generator, payload any, tags ...tag.Tag) Event {
	t.Helper()
	ev, err := Encode(Event{
		ID:         uuid.New(),
		SortableID: gen.Next(),
		Type:       EventTypeOf(payload),
		Tags:       tag.Strings(tags),
		Payload:    payload,
	})
	require.NoError(t, err)
	res, err := store.WriteEvents(t.Context(), []Event{ev})
	require.NoError(t, err)
	return res.Events[0]
}
