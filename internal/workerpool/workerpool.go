// Package workerpool provides a single bounded-concurrency parallel-map
// helper reused at the tenant, table, and chunk fan-out tiers (spec.md
// §4.5-4.7), generalized from the teacher's pkg/queue.WorkerPool/Worker
// pair: one goroutine per item, at most concurrency of them running at
// once (a semaphore), each call receiving the caller's context.
package workerpool

import (
	"context"
	"sync"
)

// Map runs fn(item) for every item in items with at most concurrency
// goroutines in flight at once, and returns results in the same order as
// items. fn is expected to do its own error handling/aggregation into R;
// Map itself never returns an error — partial failure is a domain concept
// (§4.5-4.7 "partial" status), not a pool concept.
//
// Cancelling ctx does not stop Map from starting the remaining items: every
// item is still passed to fn, which observes ctx at its own suspension
// points (per spec.md §5). Map returns once every call has returned.
func Map[T any, R any](ctx context.Context, concurrency int, items []T, fn func(context.Context, T) R) []R {
	if concurrency <= 0 {
		concurrency = 1
	}
	if concurrency > len(items) {
		concurrency = max(len(items), 1)
	}

	results := make([]R, len(items))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, item := range items {
		i, item := i, item
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = fn(ctx, item)
		}()
	}

	wg.Wait()
	return results
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
