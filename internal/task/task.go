// Package task wraps blocking and callback-style operations in a single
// future type so callers can await one, all, or the settled set the same way.
package task

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Task is the eventual result of an asynchronous operation.
type Task[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

func newTask[T any]() *Task[T] {
	return &Task[T]{done: make(chan struct{})}
}

func (t *Task[T]) resolve(value T, err error) {
	t.once.Do(func() {
		t.value = value
		t.err = err
		close(t.done)
	})
}

// Go runs fn in its own goroutine.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) *Task[T] {
	t := newTask[T]()
	go func() {
		value, err := fn(ctx)
		t.resolve(value, err)
	}()
	return t
}

// FromCallback adapts an API that reports its result through a callback.
// Only the first invocation of the callback settles the task.
func FromCallback[T any](start func(cb func(T, error))) *Task[T] {
	t := newTask[T]()
	start(t.resolve)
	return t
}

// Resolved returns an already settled task.
func Resolved[T any](value T, err error) *Task[T] {
	t := newTask[T]()
	t.resolve(value, err)
	return t
}

// Done is closed once the task settles.
func (t *Task[T]) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task settles or ctx is cancelled.
func (t *Task[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		return t.value, t.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// All waits for every task and returns their values in input order. The first
// error cancels the wait for the remaining tasks and is returned.
func All[T any](ctx context.Context, tasks []*Task[T]) ([]T, error) {
	results := make([]T, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range tasks {
		g.Go(func() error {
			value, err := t.Wait(gctx)
			if err != nil {
				return err
			}
			results[i] = value
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Outcome pairs a settled value with its error.
type Outcome[T any] struct {
	Value T
	Err   error
}

// Settle waits for every task regardless of individual failures and returns
// the outcomes in input order. Only ctx cancellation aborts the wait.
func Settle[T any](ctx context.Context, tasks []*Task[T]) ([]Outcome[T], error) {
	outcomes := make([]Outcome[T], len(tasks))
	for i, t := range tasks {
		select {
		case <-t.Done():
			outcomes[i] = Outcome[T]{Value: t.value, Err: t.err}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return outcomes, nil
}
