package workload

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// StressChunk is the number of additions between deadline checks.
const StressChunk = 200_000

var stressSink atomic.Uint64

// Stress keeps workers goroutines busy for d or until ctx is done, checking
// the clock between fixed-size chunks of integer work. It returns the number
// of chunks completed across all workers.
func Stress(ctx context.Context, d time.Duration, workers int) uint64 {
	if workers <= 0 {
		workers = 1
	}
	end := time.Now().Add(d)

	var chunks atomic.Uint64
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for time.Now().Before(end) && ctx.Err() == nil {
				var x uint64
				for j := 0; j < StressChunk; j++ {
					x++
				}
				stressSink.Add(x)
				chunks.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return chunks.Load()
}
