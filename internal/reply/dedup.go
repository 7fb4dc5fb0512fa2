package reply

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Dedup collapses concurrent requests for the same context into a single
// call to the wrapped generator. Every waiter receives the shared result;
// the call runs under the first caller's context.
type Dedup struct {
	next  Generator
	group singleflight.Group
}

func NewDedup(next Generator) *Dedup {
	return &Dedup{next: next}
}

func (d *Dedup) Generate(ctx context.Context, contextText string) (string, error) {
	ch := d.group.DoChan(contextText, func() (any, error) {
		return d.next.Generate(ctx, contextText)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}
