package runner

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/afqmcgo/comm"
)

// RunShards drives one Runner per worker of an in-process communicator
// group, all executing the identical loop concurrently. build is called on
// the worker's goroutine so each shard constructs its own propagator and
// ensemble. The first error cancels the remaining shards through the group
// context.
//
// Shards synchronize only inside population control, so builds must wire
// every shard with the same cadences or the collectives will not line up.
func RunShards(ctx context.Context, workers []*comm.Worker, build func(w *comm.Worker) (*Runner, error)) ([]*Result, error) {
	results := make([]*Result, len(workers))
	g, gctx := errgroup.WithContext(ctx)
	for i, w := range workers {
		i, w := i, w
		g.Go(func() error {
			r, err := build(w)
			if err != nil {
				return err
			}
			res, err := r.Run(gctx)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
