package parallel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForEach_VisitsEveryIndex(t *testing.T) {
	results := make([]int, 100)

	err := ForEach(context.Background(), len(results), 8, func(ctx context.Context, i int) error {
		results[i] = i * i
		return nil
	})
	require.NoError(t, err)

	for i, v := range results {
		assert.Equal(t, i*i, v)
	}
}

func TestForEach_RespectsLimit(t *testing.T) {
	var active, peak int32

	err := ForEach(context.Background(), 50, 3, func(ctx context.Context, i int) error {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		atomic.AddInt32(&active, -1)
		return nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestForEach_ReturnsFirstError(t *testing.T) {
	boom := errors.New("boom")

	err := ForEach(context.Background(), 20, 4, func(ctx context.Context, i int) error {
		if i == 7 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
}

func TestForEach_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int32
	err := ForEach(ctx, 10, 2, func(ctx context.Context, i int) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestForEach_EmptyAndDefaults(t *testing.T) {
	assert.NoError(t, ForEach(context.Background(), 0, 4, func(ctx context.Context, i int) error {
		t.Fatal("body must not run")
		return nil
	}))

	var calls int32
	require.NoError(t, ForEach(context.Background(), 5, 0, func(ctx context.Context, i int) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))
	assert.Equal(t, int32(5), calls)
	assert.Greater(t, DefaultWorkers(), 0)
}

func TestSeed(t *testing.T) {
	assert.Equal(t, Seed(42, 1, 2), Seed(42, 1, 2))
	assert.NotEqual(t, Seed(42, 1, 2), Seed(42, 2, 1))
	assert.NotEqual(t, Seed(42, 1, 2), Seed(43, 1, 2))
	assert.GreaterOrEqual(t, Seed(-7, 3), int64(0))
}
