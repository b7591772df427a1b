package cache

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// BatchDeleter is implemented by layers that remove several keys in one
// round trip.
type BatchDeleter interface {
	DeleteMulti(ctx context.Context, keys []string) error
}

// DeleteMulti removes keys from layer, in one call when the layer is a
// BatchDeleter and with one concurrent Delete per key otherwise.
func DeleteMulti(ctx context.Context, layer CacheLayer, keys []string) error {
	switch len(keys) {
	case 0:
		return nil
	case 1:
		return layer.Delete(ctx, keys[0])
	}
	if bd, ok := layer.(BatchDeleter); ok {
		return bd.DeleteMulti(ctx, keys)
	}

	// Every key is attempted; failures are joined rather than cancelling
	// the remaining deletes.
	errs := make([]error, len(keys))
	var g errgroup.Group
	for i, key := range keys {
		i, key := i, key // per-iteration copies (go.mod targets go 1.21)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			errs[i] = layer.Delete(ctx, key)
			return nil
		})
	}
	g.Wait()

	return errors.Join(errs...)
}
