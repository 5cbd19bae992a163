package priceest

import (
	"context"
	"sync"
)

// sharedFuture is a handle to one in-flight fetch of a single query,
// fanned out to every awaiter (spec.md §9 "shared futures / future
// coalescing" maps to a per-key map from fingerprint to one handle).
type sharedFuture struct {
	done   chan struct{}
	result Result
	refs   int
}

// Buffered is the middle layer of the estimator stack (spec.md §4.C.2):
// coalesces concurrent identical queries into a single inner call and
// garbage-collects completed shared futures once every referencing
// batch has observed the result.
type Buffered struct {
	inner Estimator

	mu       sync.Mutex
	inFlight map[Query]*sharedFuture
}

func NewBuffered(inner Estimator) *Buffered {
	return &Buffered{inner: inner, inFlight: make(map[Query]*sharedFuture)}
}

func (b *Buffered) Estimate(ctx context.Context, queries []Query) []Result {
	results := make([]Result, len(queries))
	futures := make([]*sharedFuture, len(queries))
	var toFetch []Query
	fetchIdx := make(map[Query]int)

	b.mu.Lock()
	for i, q := range queries {
		if existing, ok := b.inFlight[q]; ok {
			existing.refs++
			futures[i] = existing
			continue
		}
		f := &sharedFuture{done: make(chan struct{})}
		b.inFlight[q] = f
		f.refs++
		futures[i] = f
		if _, already := fetchIdx[q]; !already {
			fetchIdx[q] = len(toFetch)
			toFetch = append(toFetch, q)
		}
	}
	b.mu.Unlock()

	if len(toFetch) > 0 {
		go func() {
			inner := b.inner.Estimate(ctx, toFetch)
			b.mu.Lock()
			for j, q := range toFetch {
				f, ok := b.inFlight[q]
				if !ok {
					continue
				}
				f.result = inner[j]
				close(f.done)
			}
			b.mu.Unlock()
		}()
	}

	for i, f := range futures {
		<-f.done
		results[i] = f.result
		b.release(queries[i], f)
	}
	return results
}

// release drops this caller's reference to f and evicts the shared
// entry once the cache itself is the only remaining holder (spec.md
// §4.C.2 "garbage-collects completed shared futures whose refcount has
// dropped to the cache alone"); with no separate cache reference kept
// here, the entry is evicted once refs reaches zero.
func (b *Buffered) release(q Query, f *sharedFuture) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f.refs--
	if f.refs <= 0 {
		if current, ok := b.inFlight[q]; ok && current == f {
			delete(b.inFlight, q)
		}
	}
}
