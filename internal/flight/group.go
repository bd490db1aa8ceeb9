package flight

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Group shares one in-flight call per key among concurrent callers. The key
// is released as soon as the call settles, so a failed call is retried by the
// next caller instead of poisoning the key.
type Group[T any] struct {
	sfg singleflight.Group
}

// Do runs fn once per key at a time. The shared call is detached from the
// first caller's cancellation; a caller whose ctx ends stops waiting but the
// other callers still get the result.
func (g *Group[T]) Do(ctx context.Context, key string, fn func(context.Context) (T, error)) (T, bool, error) {
	detached := context.WithoutCancel(ctx)
	ch := g.sfg.DoChan(key, func() (interface{}, error) {
		return fn(detached)
	})

	var zero T
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Shared, res.Err
		}
		v, _ := res.Val.(T)
		return v, res.Shared, nil
	case <-ctx.Done():
		return zero, false, ctx.Err()
	}
}

// Forget drops the registration for key so the next Do starts a new call.
func (g *Group[T]) Forget(key string) {
	g.sfg.Forget(key)
}
