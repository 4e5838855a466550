package storage

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// BatchGetter reads many objects in parallel with bounded concurrency.
type BatchGetter struct {
	store       ObjectStore
	concurrency int
}

// BatchResult contains the outcome of a batch read.
type BatchResult struct {
	Objects map[string][]byte
	Errors  map[string]error
}

// NewBatchGetter creates a new batch getter.
// store: the ObjectStore implementation to read from
// concurrency: maximum number of parallel reads (minimum 1)
func NewBatchGetter(store ObjectStore, concurrency int) *BatchGetter {
	if concurrency < 1 {
		concurrency = 1
	}
	return &BatchGetter{
		store:       store,
		concurrency: concurrency,
	}
}

// Get reads every key. Per-key failures are reported in the result rather
// than aborting the batch; a cancelled context fails the remaining keys.
func (b *BatchGetter) Get(ctx context.Context, keys []string) *BatchResult {
	result := &BatchResult{
		Objects: make(map[string][]byte, len(keys)),
		Errors:  make(map[string]error),
	}
	if len(keys) == 0 {
		return result
	}

	sem := semaphore.NewWeighted(int64(b.concurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, key := range keys {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context cancelled
			mu.Lock()
			result.Errors[key] = fmt.Errorf("semaphore acquire failed: %w", err)
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(key string) {
			defer sem.Release(1)
			defer wg.Done()

			data, err := b.store.Get(ctx, key)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[key] = err
				return
			}
			result.Objects[key] = data
		}(key)
	}

	wg.Wait()
	return result
}
