package dcb

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/codewandler/dcb-go/core/reflector"
	"github.com/codewandler/dcb-go/core/suid"
	"github.com/codewandler/dcb-go/core/tag"
)

// EmptyTagStatePayload is the payload of a tag nothing has been projected for.
type EmptyTagStatePayload struct{}

// TagState is one tag folded by one projector. Each recompute produces a new
// value; a TagState is never changed in place.
type TagState struct {
	Payload          any     `json:"-"`
	Version          int     `json:"version"`
	LastSortableID   suid.ID `json:"last_sortable_id"`
	TagGroup         string  `json:"tag_group"`
	TagContent       string  `json:"tag_content"`
	ProjectorName    string  `json:"projector_name"`
	ProjectorVersion string  `json:"projector_version"`
}

func EmptyTagState(id tag.StateID, projectorVersion string) TagState {
	return TagState{
		Payload:          EmptyTagStatePayload{},
		TagGroup:         id.Tag.Group,
		TagContent:       id.Tag.Content,
		ProjectorName:    id.Projector,
		ProjectorVersion: projectorVersion,
	}
}

func (s TagState) Tag() tag.Tag { return tag.Tag{Group: s.TagGroup, Content: s.TagContent} }

func (s TagState) StateID() tag.StateID { return tag.NewStateID(s.Tag(), s.ProjectorName) }

func (s TagState) IsEmpty() bool {
	_, ok := s.Payload.(EmptyTagStatePayload)
	return ok || s.Payload == nil
}

// PayloadAs returns the payload as T. An empty state yields the zero T with
// ok=false; any other type mismatch is a serialization error.
func PayloadAs[T any](s TagState) (out T, ok bool, err error) {
	if s.IsEmpty() {
		return out, false, nil
	}
	if out, ok = s.Payload.(T); ok {
		return out, true, nil
	}
	return out, false, Errorf(
		KindSerialization, "tag_state_payload",
		"expected payload %s but got %s", reflector.TypeInfoFor[T]().Short, reflector.TypeInfoOf(s.Payload).Short,
	)
}

// === projectors ===

// TagProjector folds the events of one tag into a payload. Project must not
// change the payload it receives.
type TagProjector interface {
	Name() string
	Version() string
	Project(payload any, ev Event) (any, error)
	EncodeState(payload any) ([]byte, error)
	DecodeState(data []byte) (any, error)
}

type typedTagProjector[T any] struct {
	name    string
	version string
	fn      func(T, Event) (T, error)
}

// NewTagProjector builds a projector over payload type T. The fold of the
// first event starts from the zero T.
func NewTagProjector[T any](name, version string, fn func(state T, ev Event) (T, error)) TagProjector {
	return &typedTagProjector[T]{name: name, version: version, fn: fn}
}

func (p *typedTagProjector[T]) Name() string    { return p.name }
func (p *typedTagProjector[T]) Version() string { return p.version }

func (p *typedTagProjector[T]) Project(payload any, ev Event) (any, error) {
	var cur T
	switch v := payload.(type) {
	case nil, EmptyTagStatePayload:
	case T:
		cur = v
	default:
		return nil, Errorf(
			KindSerialization, "tag_project",
			"projector %s expects %s but state holds %s",
			p.name, reflector.TypeInfoFor[T]().Short, reflector.TypeInfoOf(payload).Short,
		)
	}
	return p.fn(cur, ev)
}

func (p *typedTagProjector[T]) EncodeState(payload any) ([]byte, error) {
	if _, empty := payload.(EmptyTagStatePayload); empty || payload == nil {
		return nil, nil
	}
	if _, ok := payload.(T); !ok {
		return nil, Errorf(KindSerialization, "encode_tag_state", "projector %s cannot encode %T", p.name, payload)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, NewError(KindSerialization, "encode_tag_state", err)
	}
	return data, nil
}

func (p *typedTagProjector[T]) DecodeState(data []byte) (any, error) {
	if len(data) == 0 {
		return EmptyTagStatePayload{}, nil
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, NewError(KindSerialization, "decode_tag_state", fmt.Errorf("projector %s: %w", p.name, err))
	}
	return out, nil
}

// TagProjectors is the name-keyed registry of tag projectors.
type TagProjectors struct {
	mu sync.RWMutex
	m  map[string]TagProjector
}

func NewTagProjectors(ps ...TagProjector) *TagProjectors {
	r := &TagProjectors{m: map[string]TagProjector{}}
	for _, p := range ps {
		r.Register(p)
	}
	return r
}

func (r *TagProjectors) Register(p TagProjector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[p.Name()] = p
}

func (r *TagProjectors) Get(name string) (TagProjector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.m[name]
	if !ok {
		return nil, Errorf(KindSerialization, "tag_projector", "unknown tag projector %q", name)
	}
	return p, nil
}
