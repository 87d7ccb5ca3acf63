//go:build linux || darwin

package eventloop

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrLoopAlreadyRunning is returned when RunForever (or RunUntilComplete)
	// is called on a loop that is already running.
	ErrLoopAlreadyRunning = errors.New("eventloop: loop is already running")

	// ErrLoopClosed is returned when operations are attempted on a closed loop.
	ErrLoopClosed = errors.New("eventloop: loop is closed")

	// ErrLoopRunning is returned by Close, if the loop is running.
	ErrLoopRunning = errors.New("eventloop: cannot close a running loop")

	// ErrLoopStopped is returned by RunUntilComplete when the loop stopped
	// before the future completed.
	ErrLoopStopped = errors.New("eventloop: loop stopped before future completed")

	// ErrThreadHasContext is returned by Policy.SetEventLoop, if the calling
	// goroutine already has a thread-default main context.
	ErrThreadHasContext = errors.New("eventloop: goroutine already has a thread-default main context")

	// ErrNoMainContext is returned by Policy.GetEventLoop, if called from a
	// goroutine other than the main goroutine, without a thread-default main
	// context.
	ErrNoMainContext = errors.New("eventloop: no thread-default main context for goroutine")

	// ErrNotDispatching is returned by Selector.Select if the selector's
	// source is not being dispatched.
	ErrNotDispatching = errors.New("eventloop: selector source is not dispatching")

	// ErrNoLoopAttached is returned by ChildWatcher.AddChildHandler if no
	// loop has been attached.
	ErrNoLoopAttached = errors.New("eventloop: child watcher has no attached loop")

	// ErrChildWatcherClosed is returned when using a closed ChildWatcher.
	ErrChildWatcherClosed = errors.New("eventloop: child watcher is closed")

	// ErrInvalidState is returned when a Future is resolved twice, or its
	// result is requested before it is done.
	ErrInvalidState = errors.New("eventloop: invalid future state")

	// ErrCancelled is the error of a cancelled Future.
	ErrCancelled = errors.New("eventloop: future was cancelled")

	// ErrGoexit is the error of an executor Future whose function exited via
	// runtime.Goexit.
	ErrGoexit = errors.New("eventloop: executor goroutine exited via runtime.Goexit")
)

// ValueError indicates an argument with the right type but an invalid value,
// e.g. an empty or unknown event mask.
type ValueError struct {
	Cause   error
	Message string
}

// Error implements the error interface.
func (e *ValueError) Error() string {
	if e.Message == "" {
		return "value error"
	}
	return e.Message
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *ValueError) Unwrap() error {
	return e.Cause
}

// TypeError indicates an argument of the wrong type, e.g. an asynchronous
// signal handler.
type TypeError struct {
	Cause   error
	Message string
}

// Error implements the error interface.
func (e *TypeError) Error() string {
	if e.Message == "" {
		return "type error"
	}
	return e.Message
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *TypeError) Unwrap() error {
	return e.Cause
}

// PanicError wraps a recovered panic value.
type PanicError struct {
	Value any
}

func (e PanicError) Error() string {
	return fmt.Sprintf("eventloop: panic: %v", e.Value)
}

// Unwrap returns the underlying error if the panic value is an error type.
// If the panic Value is not an error, it returns nil.
//
// Example:
//
//	panicErr := PanicError{Value: io.EOF}
//	if errors.Is(panicErr, io.EOF) {
//	    // This will match
//	}
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
