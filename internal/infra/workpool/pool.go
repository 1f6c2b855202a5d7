// Package workpool runs blocking work on a bounded set of goroutines.
package workpool

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of blocking jobs running at once.
type Pool struct {
	sem  *semaphore.Weighted
	size int
}

// New returns a pool running at most size jobs concurrently.
func New(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Size returns the configured concurrency.
func (p *Pool) Size() int {
	return p.size
}

// Do runs fn on a pool goroutine and waits for it or for ctx.
// A job that already started keeps running after ctx is done; its result is dropped.
func Do[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	var zero T
	if p == nil {
		return fn()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("work panicked: %v", r)}
			}
		}()
		value, err := fn()
		done <- result{value: value, err: err}
	}()

	select {
	case res := <-done:
		return res.value, res.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
