package iteration

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/Daedalus/pkg/concurrency"
	daedalusErrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

type invocation struct {
	item  int
	index int
}

func TestForEach_CallsInOrder(t *testing.T) {
	arr := []int{1, 2, 3}
	var calls []invocation

	err := ForEach(context.Background(), arr, func(ctx context.Context, item int, index int, items []int) error {
		assert.Equal(t, arr, items)
		calls = append(calls, invocation{item: item, index: index})
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []invocation{{1, 0}, {2, 1}, {3, 2}}, calls)
}

func TestForEach_WaitsForEachCall(t *testing.T) {
	var active, peak atomic.Int32

	err := ForEach(context.Background(), []int{1, 2, 3}, func(ctx context.Context, item int, index int, items []int) error {
		n := active.Add(1)
		if n > peak.Load() {
			peak.Store(n)
		}
		time.Sleep(2 * time.Millisecond)
		active.Add(-1)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, int32(1), peak.Load())
}

func TestForEach_StopsOnFirstFailure(t *testing.T) {
	boom := errors.New("boom")
	count := 0

	err := ForEach(context.Background(), []int{1, 2, 3}, func(ctx context.Context, item int, index int, items []int) error {
		count++
		if index == 1 {
			return boom
		}
		return nil
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, count)
}

func TestMap_Doubles(t *testing.T) {
	result, err := Map(context.Background(), []int{1, 2, 3}, double)

	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 6}, result)
}

func TestMap_PanicPropagatesAsError(t *testing.T) {
	_, err := Map(context.Background(), []int{1}, func(ctx context.Context, item int, index int, items []int) (int, error) {
		panic("boom")
	})

	assert.ErrorIs(t, err, daedalusErrors.ErrPanic)
	var actuatorErr *daedalusErrors.ActuatorError
	assert.ErrorAs(t, err, &actuatorErr)
}

func TestMap_StopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	count := 0

	_, err := Map(ctx, []int{1, 2, 3}, func(ctx context.Context, item int, index int, items []int) (int, error) {
		count++
		cancel()
		return item, nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, count)
}

func TestParallel_ProcessesAllItems(t *testing.T) {
	var calls atomic.Int32

	result, err := Parallel(context.Background(), []int{1, 2, 3, 4, 5}, func(ctx context.Context, item int, index int, items []int) (int, error) {
		calls.Add(1)
		return item * 2, nil
	}, 2)

	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 6, 8, 10}, result)
	assert.Equal(t, int32(5), calls.Load())
}

func TestParallel_RespectsConcurrencyLimit(t *testing.T) {
	var active, peak atomic.Int32
	var mu sync.Mutex

	start := time.Now()
	_, err := Parallel(context.Background(), []int{1, 2, 3, 4, 5}, func(ctx context.Context, item int, index int, items []int) (int, error) {
		n := active.Add(1)
		mu.Lock()
		if n > peak.Load() {
			peak.Store(n)
		}
		mu.Unlock()
		time.Sleep(50 * time.Millisecond)
		active.Add(-1)
		return item, nil
	}, 2)
	duration := time.Since(start)

	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.GreaterOrEqual(t, duration, 150*time.Millisecond)
}

func TestParallel_WideWindowMatchesMap(t *testing.T) {
	items := []int{3, 1, 2}
	var calls atomic.Int32
	fn := func(ctx context.Context, item int, index int, items []int) (int, error) {
		calls.Add(1)
		time.Sleep(time.Duration(item) * time.Millisecond)
		return item * 2, nil
	}

	parallel, err := Parallel(context.Background(), items, fn, 10)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())

	sequential, err := Map(context.Background(), items, fn)
	require.NoError(t, err)
	assert.Equal(t, sequential, parallel)
}

func TestParallel_ContainsFailures(t *testing.T) {
	errOne := errors.New("one")
	errThree := errors.New("three")
	var calls atomic.Int32

	result, err := Parallel(context.Background(), []int{0, 1, 2, 3}, func(ctx context.Context, item int, index int, items []int) (int, error) {
		calls.Add(1)
		switch index {
		case 1:
			return 0, errOne
		case 3:
			return 0, errThree
		}
		return item + 10, nil
	}, 2)

	assert.Equal(t, int32(4), calls.Load(), "every item is dispatched despite failures")
	assert.Equal(t, []int{10, 0, 12, 0}, result)
	assert.ErrorIs(t, err, errOne)
	assert.ErrorIs(t, err, errThree)
	assert.Contains(t, err.Error(), "failed processing item 1: one")
	assert.Contains(t, err.Error(), "failed processing item 3: three")
}

func TestParallel_ClampsConcurrency(t *testing.T) {
	for _, window := range []int{0, -3, 100} {
		result, err := Parallel(context.Background(), []int{1, 2, 3}, double, window)
		require.NoError(t, err)
		assert.Equal(t, []int{2, 4, 6}, result)
	}

	assert.Equal(t, 3, clampConcurrency(100, 3))
	assert.Equal(t, 1, clampConcurrency(1, 3))
}

func TestParallel_EmptyInput(t *testing.T) {
	result, err := Parallel(context.Background(), []int{}, double, 2)

	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestParallel_WithLimiter(t *testing.T) {
	limiter := concurrency.NewLimiter(1)

	result, err := Parallel(context.Background(), []int{1, 2, 3, 4}, func(ctx context.Context, item int, index int, items []int) (int, error) {
		time.Sleep(2 * time.Millisecond)
		return item, nil
	}, 4, WithLimiter(limiter))

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, result)
	assert.Equal(t, int64(1), limiter.GetMetrics().PeakConcurrent)
}

func TestParallel_OpenCircuitFailsItems(t *testing.T) {
	cb := concurrency.NewCircuitBreaker(1, time.Hour)
	cb.RecordFailure()
	limiter := concurrency.NewLimiterWithCircuitBreaker(2, cb)

	_, err := Parallel(context.Background(), []int{1, 2}, double, 2, WithLimiter(limiter))

	assert.ErrorIs(t, err, daedalusErrors.ErrCircuitOpen)
}
