package cache

import "time"

type PutOptions struct {
	// TTL expires the entry after the given duration; zero keeps it until
	// it is evicted.
	TTL time.Duration
}

type PutOption func(*PutOptions)

func WithTTL(ttl time.Duration) PutOption {
	return func(o *PutOptions) { o.TTL = ttl }
}

type Cache interface {
	Get(key string) (any, bool)
	Put(key string, val any, opts ...PutOption)
	Delete(key string)
}

// Typed narrows a Cache to values of T. A stored value of another type reads
// as a miss.
type Typed[T any] struct {
	c Cache
}

func NewTyped[T any](c Cache) Typed[T] { return Typed[T]{c: c} }

func (t Typed[T]) Get(key string) (T, bool) {
	v, ok := t.c.Get(key)
	out, isT := v.(T)
	return out, ok && isT
}

func (t Typed[T]) Put(key string, val T, opts ...PutOption) { t.c.Put(key, val, opts...) }
func (t Typed[T]) Delete(key string)                        { t.c.Delete(key) }
