package notify

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"cvneat/internal/modules/order"
)

// Multi publishes to every publisher concurrently and reports all failures.
type Multi []order.Notifier

func (m Multi) Publish(ctx context.Context, e order.Event) error {
	errs := make([]error, len(m))
	var g errgroup.Group
	for i, n := range m {
		g.Go(func() error {
			errs[i] = n.Publish(ctx, e)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
