package kafka

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/dcb-go/core/dcb"
	"github.com/codewandler/dcb-go/core/suid"
	"github.com/codewandler/dcb-go/core/tag"
)

type itemAdded struct {
	Name string `json:"name"`
}

func (itemAdded) EventType() string { return "ItemAdded" }

func testBatch(names ...string) []dcb.Event {
	gen := suid.NewGenerator(nil)
	var out []dcb.Event
	for _, n := range names {
		ev := dcb.NewEvent(itemAdded{Name: n}, tag.MustNew("catalog", "main"))
		ev.ID = uuid.New()
		ev.SortableID = gen.Next()
		out = append(out, ev)
	}
	return out
}

func TestBatchRecord(t *testing.T) {
	events := testBatch("a", "b")
	r, err := encodeBatch("topic", events)
	require.NoError(t, err)
	require.Equal(t, "topic", r.Topic)
	require.Equal(t, []byte(batchKey), r.Key)
	require.Len(t, r.Headers, 2)
	require.Equal(t, []byte(events[1].SortableID), r.Headers[1].Value)

	raw, err := decodeBatch(r, nil)
	require.NoError(t, err)
	require.Len(t, raw, 2)
	require.Nil(t, raw[0].Payload)
	require.JSONEq(t, `{"name":"a"}`, string(raw[0].Data))

	types := dcb.NewEventTypes()
	dcb.RegisterEvent[itemAdded](types)
	decoded, err := decodeBatch(r, types)
	require.NoError(t, err)
	require.Equal(t, itemAdded{Name: "b"}, decoded[1].Payload)
	require.Equal(t, events[1].SortableID, decoded[1].SortableID)
	require.Equal(t, []string{"catalog:main"}, decoded[1].Tags)

	r.Value = []byte("not json")
	_, err = decodeBatch(r, types)
	require.ErrorIs(t, err, dcb.ErrSerialization)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	require.Equal(t, DefaultTopic, cfg.Topic)
	require.NotNil(t, cfg.Log)
}
