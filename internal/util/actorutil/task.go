package actorutil

import (
	"context"
	"errors"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/primetalk/goio/io"
)

var errNilResult = errors.New("result is nil")

// SafeBackgroundTask runs blocking work outside of the actor goroutine.
// The outcome is delivered back as a message, so actor state is never
// touched from the task.
type SafeBackgroundTask[T any] struct {
	system  *actor.ActorSystem
	fn      func(context.Context) (*T, error)
	timeout time.Duration
	onError func(error)
	recover func(error) T
}

func NewBackgroundTask[T any](ctx actor.Context, fn func(context.Context) (*T, error)) *SafeBackgroundTask[T] {
	return &SafeBackgroundTask[T]{
		system: ctx.ActorSystem(),
		fn:     fn,
	}
}

func NewBackgroundTaskNoError[T any](ctx actor.Context, fn func(context.Context) *T) *SafeBackgroundTask[T] {
	return NewBackgroundTask(ctx, func(c context.Context) (*T, error) {
		return fn(c), nil
	})
}

func (t *SafeBackgroundTask[T]) WithTimeout(timeout time.Duration) *SafeBackgroundTask[T] {
	t.timeout = timeout
	return t
}

func (t *SafeBackgroundTask[T]) OnError(fn func(error)) *SafeBackgroundTask[T] {
	t.onError = fn
	return t
}

// Recover maps a failure (error, panic or timeout) into a regular result.
func (t *SafeBackgroundTask[T]) Recover(fn func(error) T) *SafeBackgroundTask[T] {
	t.recover = fn
	return t
}

// PipeTo runs the task asynchronously and sends the result to pid.
func (t *SafeBackgroundTask[T]) PipeTo(pid *actor.PID) {
	go func() {
		value, err := t.RunSync()
		if err != nil {
			if t.onError != nil {
				t.onError(err)
			}
			return
		}
		t.system.Root.Send(pid, value)
	}()
}

// RunSync runs the task on the calling goroutine.
func (t *SafeBackgroundTask[T]) RunSync() (T, error) {
	ctx := context.Background()
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	bg := io.Map(io.Eval(func() (*T, error) {
		return t.fn(ctx)
	}), func(a *T) T {
		if a != nil {
			return *a
		}
		panic(errNilResult)
	})
	if t.timeout > 0 {
		bg = io.WithTimeout[T](t.timeout)(bg)
	}
	result := io.RunSync(bg)
	if result.Error != nil {
		if t.recover != nil {
			return t.recover(result.Error), nil
		}
		return result.Value, result.Error
	}
	return result.Value, nil
}
