// Package worker runs blocking calls on a bounded set of goroutines so
// callers can keep honouring their context while the call is in flight.
package worker

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// DefaultSize is the number of concurrent slots used when New is given a
// non-positive size.
const DefaultSize = 4

// Pool bounds the number of blocking calls running at once.
type Pool struct {
	sem *semaphore.Weighted
}

// New creates a pool with size slots.
func New(size int64) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	return &Pool{sem: semaphore.NewWeighted(size)}
}

// Do runs fn on a pool goroutine and waits for it. If ctx ends first, Do
// returns ctx.Err(); fn keeps its slot until it actually returns.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	_, err := Run(ctx, p, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

type result[T any] struct {
	val T
	err error
}

// Run is Do for functions that return a value.
func Run[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	var zero T
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}

	done := make(chan result[T], 1)
	go func() {
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				done <- result[T]{err: fmt.Errorf("worker panic: %v", r)}
			}
		}()
		v, err := fn()
		done <- result[T]{val: v, err: err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
