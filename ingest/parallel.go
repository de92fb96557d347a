package ingest

import (
	"context"

	"github.com/kwertop/hllcount/count"
	"golang.org/x/sync/errgroup"
)

// BuildParallel builds the sketch of values with workers goroutines. Each
// worker fills a private sketch from its own slice of values; the shards are
// then merged by register-wise maximum, which gives exactly the sketch a
// single sequential pass would.
func BuildParallel(ctx context.Context, values []string, workers int, config count.Config) (*count.HyperLogLog, error) {
	if workers < 1 {
		workers = 1
	}
	workers = min(workers, max(len(values), 1))

	shards := make([]*count.HyperLogLog, workers)
	for i := range shards {
		shard, err := count.NewHyperLogLogWithConfig(config)
		if err != nil {
			return nil, err
		}
		shards[i] = shard
	}

	g, ctx := errgroup.WithContext(ctx)
	chunk := (len(values) + workers - 1) / workers
	for i, shard := range shards {
		start := min(i*chunk, len(values))
		end := min(start+chunk, len(values))
		part := values[start:end]
		g.Go(func() error {
			for j, v := range part {
				if j%4096 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				shard.AddString(v)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := shards[0]
	for _, shard := range shards[1:] {
		if err := result.Merge(shard); err != nil {
			return nil, err
		}
	}
	return result, nil
}
