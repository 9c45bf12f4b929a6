// Package gated bounds the number of in-flight fetches across the whole
// process with a single weighted semaphore.
package gated

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/moditems-crawler/internal/crawler"
)

// Fetcher wraps another Fetcher and holds one permit per request. Callers
// that only wait on child work never hold a permit, so nested fan-out cannot
// starve the pool.
type Fetcher struct {
	next crawler.Fetcher
	sem  *semaphore.Weighted
}

// New wraps next with a semaphore of the given size.
func New(next crawler.Fetcher, size int) *Fetcher {
	if size <= 0 {
		size = 1
	}
	return &Fetcher{next: next, sem: semaphore.NewWeighted(int64(size))}
}

// Fetch acquires a permit, delegates, and releases the permit.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if err := f.sem.Acquire(ctx, 1); err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("acquire fetch permit: %w", err)
	}
	defer f.sem.Release(1)
	return f.next.Fetch(ctx, request)
}
