package race

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"
)

// Winner identifies which side settled a race.
type Winner int

const (
	Call Winner = iota
	Timer
	Context
)

func (w Winner) String() string {
	switch w {
	case Call:
		return "call"
	case Timer:
		return "timer"
	case Context:
		return "context"
	default:
		panic("invalid winner")
	}
}

type Result[T any] struct {
	Value  T
	Err    error
	Winner Winner
}

// Future delivers exactly one result. Futures are buffered so that a
// producer never blocks on a consumer that has stopped listening.
type Future[T any] <-chan Result[T]

// PanicError is the failure produced when a call panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Go runs fn on its own goroutine. A panic in fn settles the future with a
// *PanicError. The goroutine is never interrupted. If nobody reads the
// future it runs to completion and its result is dropped.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) Future[T] {
	ch := make(chan Result[T], 1)

	go func() {
		var res Result[T]
		defer func() {
			if r := recover(); r != nil {
				res = Result[T]{Err: &PanicError{Value: r, Stack: debug.Stack()}}
			}
			res.Winner = Call
			ch <- res
		}()

		res.Value, res.Err = fn(ctx)
	}()

	return ch
}

// After settles with a Timer result once d has elapsed. The returned stop
// function releases the timer early.
func After[T any](d time.Duration) (Future[T], func() bool) {
	ch := make(chan Result[T], 1)
	timer := time.AfterFunc(d, func() {
		ch <- Result[T]{Winner: Timer}
	})

	return ch, timer.Stop
}

// First returns whichever future settles first. If ctx is done before
// either, the result carries ctx.Err() and the Context winner. The losing
// future is abandoned, not cancelled.
func First[T any](ctx context.Context, a Future[T], b Future[T]) Result[T] {
	select {
	case res := <-a:
		return res
	case res := <-b:
		return res
	case <-ctx.Done():
		return Result[T]{Err: ctx.Err(), Winner: Context}
	}
}

// Timeout races fn against a timer of duration d.
func Timeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) Result[T] {
	timer, stop := After[T](d)
	defer stop()

	return First(ctx, Go(ctx, fn), timer)
}
