package projection

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/codewandler/dcb-go/core/dcb"
	"github.com/codewandler/dcb-go/core/reflector"
	"github.com/codewandler/dcb-go/core/suid"
)

// Projector folds the global event stream into one payload. Project must be
// pure: it returns a new payload and never changes the one it receives.
type Projector interface {
	Name() string
	Version() string
	// Initial is the payload before any event.
	Initial() any
	// Project applies ev. safeThreshold is the position below which events
	// are final at the time of the fold.
	Project(payload any, ev dcb.Event, safeThreshold suid.ID) (any, error)
	// Clone returns a copy Project may start an unsafe fold from.
	Clone(payload any) (any, error)
	Encode(payload any) ([]byte, error)
	Decode(data []byte) (any, error)
}

type typedProjector[T any] struct {
	name    string
	version string
	initial T
	fn      func(T, dcb.Event) (T, error)
	clone   func(T) T
}

type TypedOption[T any] func(*typedProjector[T])

// WithInitial sets the payload the fold starts from. Defaults to the zero T.
func WithInitial[T any](initial T) TypedOption[T] {
	return func(p *typedProjector[T]) { p.initial = initial }
}

// WithClone sets a cheaper copy than the default JSON round trip.
func WithClone[T any](clone func(T) T) TypedOption[T] {
	return func(p *typedProjector[T]) { p.clone = clone }
}

// NewProjector builds a Projector over payload type T.
func NewProjector[T any](name, version string, fn func(state T, ev dcb.Event) (T, error), opts ...TypedOption[T]) Projector {
	p := &typedProjector[T]{name: name, version: version, fn: fn}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *typedProjector[T]) Name() string    { return p.name }
func (p *typedProjector[T]) Version() string { return p.version }
func (p *typedProjector[T]) Initial() any    { return p.initial }

func (p *typedProjector[T]) cast(op string, payload any) (T, error) {
	v, ok := payload.(T)
	if !ok {
		var zero T
		return zero, dcb.Errorf(
			dcb.KindSerialization, op,
			"projector %s expects %s but got %s",
			p.name, reflector.TypeInfoFor[T]().Short, reflector.TypeInfoOf(payload).Short,
		)
	}
	return v, nil
}

func (p *typedProjector[T]) Project(payload any, ev dcb.Event, _ suid.ID) (any, error) {
	cur, err := p.cast("project", payload)
	if err != nil {
		return nil, err
	}
	return p.fn(cur, ev)
}

func (p *typedProjector[T]) Clone(payload any) (any, error) {
	cur, err := p.cast("clone", payload)
	if err != nil {
		return nil, err
	}
	if p.clone != nil {
		return p.clone(cur), nil
	}
	data, err := p.Encode(cur)
	if err != nil {
		return nil, err
	}
	return p.Decode(data)
}

func (p *typedProjector[T]) Encode(payload any) ([]byte, error) {
	cur, err := p.cast("encode", payload)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(cur)
	if err != nil {
		return nil, dcb.NewError(dcb.KindSerialization, "encode", fmt.Errorf("projector %s: %w", p.name, err))
	}
	return data, nil
}

func (p *typedProjector[T]) Decode(data []byte) (any, error) {
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, dcb.NewError(dcb.KindSerialization, "decode", fmt.Errorf("projector %s: %w", p.name, err))
	}
	return out, nil
}

// PayloadTypeOf names the payload type recorded in snapshots.
func PayloadTypeOf(payload any) string { return reflector.NameOf(payload) }

// Projectors is the name-keyed registry of multi projectors.
type Projectors struct {
	mu sync.RWMutex
	m  map[string]Projector
}

func NewProjectors(ps ...Projector) *Projectors {
	r := &Projectors{m: map[string]Projector{}}
	for _, p := range ps {
		r.Register(p)
	}
	return r
}

func (r *Projectors) Register(p Projector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[p.Name()] = p
}

func (r *Projectors) Get(name string) (Projector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.m[name]
	if !ok {
		return nil, dcb.Errorf(dcb.KindSerialization, "projector", "unknown projector %q", name)
	}
	return p, nil
}

func (r *Projectors) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.m))
}
