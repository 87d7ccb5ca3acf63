//go:build linux || darwin

package eventloop

// futureState is the lifecycle of a Future.
type futureState uint8

const (
	futurePending futureState = iota
	futureDone
	futureCancelled
)

// Future is the eventual result of an operation, resolved on its loop's
// goroutine. Done callbacks are scheduled with [Loop.ScheduleSoon], so never
// run synchronously.
//
// Futures are not safe for concurrent use: resolve them from the loop
// goroutine, e.g. via [Loop.ScheduleSoonThreadsafe], as
// [Loop.RunInExecutor] does.
type Future struct {
	loop      *Loop
	result    any
	err       error
	callbacks []func(*Future)
	state     futureState
}

// NewFuture creates a pending future bound to the loop.
func (l *Loop) NewFuture() *Future {
	return &Future{loop: l}
}

// Loop returns the loop the future is bound to.
func (f *Future) Loop() *Loop {
	return f.loop
}

// Done reports whether the future has a result, an error, or was cancelled.
func (f *Future) Done() bool {
	return f.state != futurePending
}

// Cancelled reports whether the future was cancelled.
func (f *Future) Cancelled() bool {
	return f.state == futureCancelled
}

// Result returns the result or error of a done future. A cancelled future
// fails with [ErrCancelled], and a pending one with [ErrInvalidState].
func (f *Future) Result() (any, error) {
	switch f.state {
	case futurePending:
		return nil, ErrInvalidState
	case futureCancelled:
		return nil, ErrCancelled
	default:
		return f.result, f.err
	}
}

// SetResult resolves the future. It fails with [ErrInvalidState] if the
// future is already done.
func (f *Future) SetResult(result any) error {
	if f.state != futurePending {
		return ErrInvalidState
	}
	f.result = result
	f.state = futureDone
	f.scheduleCallbacks()
	return nil
}

// SetError rejects the future. It fails with [ErrInvalidState] if the
// future is already done.
func (f *Future) SetError(err error) error {
	if f.state != futurePending {
		return ErrInvalidState
	}
	if err == nil {
		return &TypeError{Message: "eventloop: nil future error"}
	}
	f.err = err
	f.state = futureDone
	f.scheduleCallbacks()
	return nil
}

// Cancel cancels a pending future, returning false if it was already done.
func (f *Future) Cancel() bool {
	if f.state != futurePending {
		return false
	}
	f.state = futureCancelled
	f.scheduleCallbacks()
	return true
}

// AddDoneCallback schedules fn to be called once the future is done, or
// soon, if it already is.
func (f *Future) AddDoneCallback(fn func(*Future)) {
	if fn == nil {
		return
	}
	if f.state == futurePending {
		f.callbacks = append(f.callbacks, fn)
		return
	}
	f.schedule(fn)
}

func (f *Future) scheduleCallbacks() {
	callbacks := f.callbacks
	f.callbacks = nil
	for _, fn := range callbacks {
		f.schedule(fn)
	}
}

func (f *Future) schedule(fn func(*Future)) {
	if _, err := f.loop.ScheduleSoon(func() { fn(f) }); err != nil {
		f.loop.CallExceptionHandler(ExceptionContext{
			Message: `eventloop: failed to schedule future callback`,
			Err:     err,
			Future:  f,
		})
	}
}
