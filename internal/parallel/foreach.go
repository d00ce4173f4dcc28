// Package parallel contains the bounded fan-out/fan-in primitive used for
// Monte-Carlo inference passes and bootstrap resamples.
package parallel

import (
	"context"
	"runtime"

	"github.com/klauspost/cpuid/v2"
	"github.com/sourcegraph/conc/pool"
)

// DefaultWorkers returns the number of logical cores reported by the CPU,
// falling back to the Go runtime's view when detection is unavailable.
func DefaultWorkers() int {
	if n := cpuid.CPU.LogicalCores; n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// ForEach runs body for every index in [0, length) with at most limit
// concurrent goroutines and blocks until all of them have returned.
//
// The first error cancels the context handed to the remaining bodies and is
// returned once every goroutine has finished. Bodies are expected to write
// only to their own index of any shared result slice.
func ForEach(ctx context.Context, length, limit int, body func(ctx context.Context, i int) error) error {
	if length <= 0 {
		return nil
	}
	if limit <= 0 {
		limit = 1
	}
	if limit > length {
		limit = length
	}

	p := pool.New().
		WithMaxGoroutines(limit).
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError()

	for i := 0; i < length; i++ {
		i := i
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return body(ctx, i)
		})
	}

	return p.Wait()
}
