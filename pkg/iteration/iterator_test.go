package iteration

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/Daedalus/pkg/concurrency"
	daedalusErrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

func double(ctx context.Context, item int, index int, items []int) (int, error) {
	return item * 2, nil
}

func TestIterator_ProcessSequential_Success(t *testing.T) {
	iterator := NewIterator[int, int](Config{Strategy: StrategySequential})

	results, err := iterator.Process(context.Background(), []int{1, 2, 3}, double)

	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 6}, results)
}

func TestIterator_ProcessSequential_FailFast(t *testing.T) {
	iterator := NewIterator[int, int](Config{Strategy: StrategySequential})
	processCount := 0

	results, err := iterator.Process(context.Background(), []int{1, 2, 3, 4, 5}, func(ctx context.Context, item int, index int, items []int) (int, error) {
		processCount++
		if index == 2 {
			return 0, errors.New("item 2 failed")
		}
		return item, nil
	})

	require.Error(t, err)
	assert.EqualError(t, err, "failed processing item 2: item 2 failed")
	assert.Nil(t, results)
	assert.Equal(t, 3, processCount, "Should stop after item 2 fails")
}

func TestIterator_Process_EmptyArray(t *testing.T) {
	for _, strategy := range []Strategy{StrategySequential, StrategyParallel} {
		iterator := NewIterator[int, int](Config{Strategy: strategy, MaxConcurrent: 4})

		results, err := iterator.Process(context.Background(), []int{}, func(ctx context.Context, item int, index int, items []int) (int, error) {
			t.Fatal("Should not be called for empty array")
			return 0, nil
		})

		require.NoError(t, err)
		assert.Equal(t, []int{}, results)
	}
}

func TestIterator_ProcessParallel_PreservesOrder(t *testing.T) {
	iterator := NewIterator[int, int](Config{Strategy: StrategyParallel, MaxConcurrent: 4})

	results, err := iterator.Process(context.Background(), []int{5, 4, 3, 2, 1, 0}, func(ctx context.Context, item int, index int, items []int) (int, error) {
		time.Sleep(time.Duration(item) * time.Millisecond)
		return index * 10, nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int{0, 10, 20, 30, 40, 50}, results)
}

func TestIterator_ProcessParallel_FailFast(t *testing.T) {
	iterator := NewIterator[int, int](Config{Strategy: StrategyParallel, MaxConcurrent: 5})

	items := make([]int, 20)
	for i := range items {
		items[i] = i
	}
	processedItems := &sync.Map{}

	results, err := iterator.Process(context.Background(), items, func(ctx context.Context, item int, index int, items []int) (int, error) {
		processedItems.Store(index, true)

		if index == 5 {
			time.Sleep(20 * time.Millisecond)
			return 0, fmt.Errorf("item %d failed", index)
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(50 * time.Millisecond):
			return item, nil
		}
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed processing item 5")
	assert.Nil(t, results)

	count := 0
	processedItems.Range(func(key, value any) bool {
		count++
		return true
	})
	assert.Less(t, count, 20, "Fail-fast should prevent processing all items")
}

func TestIterator_ProcessParallel_ParentCancelled(t *testing.T) {
	iterator := NewIterator[int, int](Config{Strategy: StrategyParallel, MaxConcurrent: 2})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := iterator.Process(ctx, []int{1, 2, 3}, double)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIterator_NewIterator_DefaultMaxConcurrent(t *testing.T) {
	iterator := NewIterator[int, int](Config{Strategy: StrategyParallel})

	assert.Equal(t, runtime.NumCPU(), iterator.Config().MaxConcurrent)
}

func TestIterator_HonorsLimiterPeakConcurrency(t *testing.T) {
	limiter := concurrency.NewLimiter(1)
	iterator := NewIteratorWithLimiter[int, int](Config{Strategy: StrategyParallel, MaxConcurrent: 4}, limiter)

	results, err := iterator.Process(context.Background(), []int{1, 2, 3, 4}, func(ctx context.Context, item int, index int, items []int) (int, error) {
		time.Sleep(2 * time.Millisecond)
		return item, nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, results)
	assert.Equal(t, int64(1), limiter.GetMetrics().PeakConcurrent)
	assert.Equal(t, int64(4), limiter.GetMetrics().TotalAcquired)
}

func TestConfigFromConcurrency(t *testing.T) {
	cfg := ConfigFromConcurrency(&concurrency.Config{MaxConcurrent: 6, IteratorMode: concurrency.IteratorModeParallel})
	assert.Equal(t, Config{Strategy: StrategyParallel, MaxConcurrent: 6}, cfg)

	cfg = ConfigFromConcurrency(&concurrency.Config{MaxConcurrent: 2, IteratorMode: concurrency.IteratorModeSequential})
	assert.Equal(t, StrategySequential, cfg.Strategy)
}

func TestIterator_ErrorIsActuatorError(t *testing.T) {
	iterator := NewIterator[int, int](Config{Strategy: StrategyParallel, MaxConcurrent: 2})
	boom := errors.New("boom")

	_, err := iterator.Process(context.Background(), []int{1, 2, 3}, func(ctx context.Context, item int, index int, items []int) (int, error) {
		if index == 1 {
			return 0, boom
		}
		return item, nil
	})

	var actuatorErr *daedalusErrors.ActuatorError
	require.ErrorAs(t, err, &actuatorErr)
	assert.Equal(t, 1, actuatorErr.Index)
	assert.ErrorIs(t, err, boom)
}
