// Package eventloop implements a cooperative event loop, driven by a
// [gmain.MainContext].
//
// # Architecture
//
// A conventional event loop polls file descriptors itself, then dispatches
// ready callbacks. A [Loop] inverts this: the blocking wait belongs to a
// [gmain.MainLoop], which iterates the loop's context, alongside any other
// sources attached to it. The loop attaches a single selector source:
//
//   - prepare reports the milliseconds until the next timer is due (0 if
//     callbacks are ready, -1 if nothing is scheduled)
//   - check stages the registered fds found ready by the context's poll
//   - dispatch runs one iteration of the loop: due timers, in due time
//     order, then the callbacks that were ready, in FIFO order
//
// # Nested runs
//
// Code sharing the context may run it recursively, e.g. a modal operation
// calling [gmain.MainLoop.Run] from within a callback. Every run on the
// context enters a new run level of the loop (see [Loop.Running]), and
// [Loop.Stop] stops only the innermost level. A context iterated directly,
// without any run, still dispatches the loop's callbacks, but logs a rate
// limited warning.
//
// # Goroutines
//
// A loop belongs to the goroutine running it, which is locked to its OS
// thread for the duration. Use [Loop.ScheduleSoonThreadsafe] from other
// goroutines. [Policy] maps goroutines to loops via their thread-default
// main contexts, see [gmain.MainContext.PushThreadDefault].
//
// # Signals
//
// [Loop.AddSignalHandler] delivers SIGHUP, SIGINT, SIGTERM, SIGUSR1, SIGUSR2
// and SIGWINCH via high priority gmain signal sources, and any other signal
// via os/signal. Callbacks never run in signal handler context.
//
// # Errors
//
// Invalid arguments fail synchronously with [*ValueError] or [*TypeError].
// Panics raised by callbacks are recovered and passed to the loop's
// [ExceptionHandler], which logs them by default.
//
// # Platforms
//
// Linux and Darwin only, like the gmain package it is built on. On any
// other platform the package is empty.
package eventloop
