package ingest

import (
	"context"
	"strconv"
	"testing"

	"github.com/kwertop/hllcount/count"
	"github.com/stretchr/testify/require"
)

func TestBuildParallelMatchesSequential(t *testing.T) {
	values := make([]string, 0, 50_000)
	for i := 0; i < 50_000; i++ {
		values = append(values, "10."+strconv.Itoa(i/65536)+"."+strconv.Itoa(i/256%256)+"."+strconv.Itoa(i%256))
	}
	config := count.DefaultConfig()
	sequential, _ := count.NewHyperLogLogWithConfig(config)
	for _, v := range values {
		sequential.AddString(v)
	}

	for _, workers := range []int{0, 1, 3, 8, 64} {
		sketch, err := BuildParallel(context.Background(), values, workers, config)
		require.NoError(t, err)
		require.True(t, sketch.Equals(sequential), "workers %d", workers)
		require.Equal(t, sequential.Estimate(), sketch.Estimate())
	}
}

func TestBuildParallelEmpty(t *testing.T) {
	sketch, err := BuildParallel(context.Background(), nil, 4, count.DefaultConfig())
	require.NoError(t, err)
	require.Equal(t, uint64(11817), sketch.Estimate())
}

func TestBuildParallelInvalidPrecision(t *testing.T) {
	_, err := BuildParallel(context.Background(), []string{"a"}, 2, count.Config{Precision: 30})
	require.ErrorIs(t, err, count.ErrInvalidPrecision)
}

func TestBuildParallelCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := BuildParallel(ctx, []string{"a", "b"}, 2, count.DefaultConfig())
	require.ErrorIs(t, err, context.Canceled)
}
