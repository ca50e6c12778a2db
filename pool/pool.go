// Package pool provides the fixed-size worker pool the assembly drivers
// fan work out to. The pool is an explicit object owned by the caller; it
// holds no global state and a zero worker count defaults to the number of
// CPUs.
package pool

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Range is a half-open chunk [Start,End) of a work index space.
type Range struct {
	Start, End int
}

// Len returns the number of indices in the range.
func (r Range) Len() int { return r.End - r.Start }

// Pool is a fixed-size worker pool.
type Pool struct {
	workers int
}

// New creates a pool with the given number of workers; workers <= 0 uses
// runtime.NumCPU().
func New(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{workers: workers}
}

// Workers returns the fixed worker count.
func (p *Pool) Workers() int { return p.workers }

// Chunks splits [0,n) into at most parts contiguous near-equal ranges.
// Empty ranges are never produced.
func Chunks(n, parts int) []Range {
	if n <= 0 {
		return nil
	}
	if parts < 1 {
		parts = 1
	}
	if parts > n {
		parts = n
	}
	out := make([]Range, 0, parts)
	lo := 0
	for c := 0; c < parts; c++ {
		hi := lo + (n-lo)/(parts-c)
		if hi > lo {
			out = append(out, Range{Start: lo, End: hi})
		}
		lo = hi
	}
	return out
}

// RunChunks dispatches one task per chunk across the pool and waits for all
// of them. The first error encountered is returned; every dispatched task
// runs to completion regardless.
func (p *Pool) RunChunks(chunks []Range, fn func(c Range) error) error {
	if len(chunks) == 0 {
		return nil
	}
	if len(chunks) == 1 || p.workers == 1 {
		for _, c := range chunks {
			if err := fn(c); err != nil {
				return err
			}
		}
		return nil
	}
	var g errgroup.Group
	g.SetLimit(p.workers)
	for _, c := range chunks {
		c := c
		g.Go(func() error {
			return fn(c)
		})
	}
	return g.Wait()
}

// Map splits [0,n) into one chunk per worker and dispatches them.
func (p *Pool) Map(n int, fn func(c Range) error) error {
	return p.RunChunks(Chunks(n, p.workers), fn)
}

// MapOversubscribed splits [0,n) into factor chunks per worker, which evens
// out load imbalance between chunks of unequal cost.
func (p *Pool) MapOversubscribed(n, factor int, fn func(c Range) error) error {
	if factor < 1 {
		return fmt.Errorf("pool: oversubscription factor %d < 1", factor)
	}
	return p.RunChunks(Chunks(n, factor*p.workers), fn)
}
