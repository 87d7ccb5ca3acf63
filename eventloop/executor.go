//go:build linux || darwin

package eventloop

import (
	"context"

	"go.uber.org/multierr"
)

// RunInExecutor runs fn in a new goroutine, returning a future for its
// result. The future is resolved on the loop goroutine.
//
// It ensures:
//   - Goexit: if fn calls runtime.Goexit, the future fails with ErrGoexit, rather than hanging.
//   - Panics: a panic in fn fails the future with a PanicError.
//   - Context: fn receives ctx, and the future fails with ctx.Err() if ctx is done before fn starts.
//   - Closed loop: if the loop is closed before the result is delivered, the
//     future stays pending, and the outcome is reported to the exception
//     handler, with an error matching ErrLoopClosed.
func (l *Loop) RunInExecutor(ctx context.Context, fn func(ctx context.Context) (any, error)) *Future {
	f := l.NewFuture()

	if fn == nil {
		_ = f.SetError(&TypeError{Message: "eventloop: nil executor function"})
		return f
	}
	if l.state.IsClosed() {
		_ = f.SetError(ErrLoopClosed)
		return f
	}

	settle := func(result any, err error) {
		resolve := func() {
			if f.Done() {
				return
			}
			if err != nil {
				_ = f.SetError(err)
			} else {
				_ = f.SetResult(result)
			}
		}
		if _, submitErr := l.ScheduleSoonThreadsafe(resolve); submitErr != nil {
			l.CallExceptionHandler(ExceptionContext{
				Message: `eventloop: executor result dropped`,
				Err:     multierr.Append(submitErr, err),
				Future:  f,
			})
		}
	}

	go func() {
		// distinguishes a normal return from Goexit
		completed := false

		select {
		case <-ctx.Done():
			settle(nil, ctx.Err())
			return
		default:
		}

		defer func() {
			if r := recover(); r != nil {
				settle(nil, PanicError{Value: r})
			} else if !completed {
				settle(nil, ErrGoexit)
			}
		}()

		result, err := fn(ctx)
		completed = true
		settle(result, err)
	}()

	return f
}
