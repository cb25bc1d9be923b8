// Package sf is a typed wrapper around golang.org/x/sync/singleflight.
//
// Tag state actors use it so that concurrent readers asking for the state at
// the same store position share one fold:
//
//	var g sf.Group[suid.ID, dcb.TagState]
//	state, shared, err := g.Do(ctx, latest, func(ctx context.Context) (dcb.TagState, error) {
//		return fold(ctx, latest)
//	})
package sf

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Group runs at most one fn per key at a time. The zero Group is ready to use.
type Group[K ~string, T any] struct {
	g singleflight.Group
}

// Do runs fn unless a call for key is already in flight, in which case it
// waits for that call. shared reports whether the result went to more than
// one caller.
//
// fn gets ctx without its cancellation, so a caller that leaves early does
// not fail the call for the others. A caller whose ctx ends stops waiting
// and gets ctx.Err().
func (g *Group[K, T]) Do(ctx context.Context, key K, fn func(ctx context.Context) (T, error)) (v T, shared bool, err error) {
	if err := ctx.Err(); err != nil {
		return v, false, err
	}
	detached := context.WithoutCancel(ctx)
	ch := g.g.DoChan(string(key), func() (any, error) { return fn(detached) })
	select {
	case r := <-ch:
		if r.Err != nil {
			return v, r.Shared, r.Err
		}
		return r.Val.(T), r.Shared, nil
	case <-ctx.Done():
		return v, false, ctx.Err()
	}
}

// Forget makes the next Do for key run fn even if a call is still in flight.
func (g *Group[K, T]) Forget(key K) { g.g.Forget(string(key)) }
