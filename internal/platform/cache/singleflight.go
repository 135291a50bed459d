package cache

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Coalescer collapses concurrent builds of the same key into one call.
type Coalescer struct {
	group singleflight.Group
}

// Do runs fn once per key among concurrent callers. The caller's ctx only bounds its own wait.
func (c *Coalescer) Do(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error, bool) {
	resultChan := c.group.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err(), false
	case res := <-resultChan:
		return res.Val, res.Err, res.Shared
	}
}
