// Package cache holds the bounded in-memory cache that backs tag states by
// default.
//
// A [Host] without explicit tag state persistence keeps every folded state
// in one shared [LRU], so a host that has touched many tags holds only the
// most recently used ones; an evicted state is refolded from the store the
// next time it is read.
//
//	lru := cache.NewLRU(cache.LRUOpts{Size: 4096})
//	defer lru.Close()
//	states := cache.NewTyped[dcb.TagState](lru)
//	states.Put(id.String(), s, cache.WithTTL(time.Hour))
//
// [Host]: github.com/codewandler/dcb-go/core/dcb.Host
package cache
