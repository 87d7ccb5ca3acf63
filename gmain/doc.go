// Package gmain implements a GLib-style main context for Go.
//
// # Architecture
//
// A [MainContext] multiplexes any number of [Source] values. Each iteration
// ([MainContext.Iteration]) runs the classic prepare / query / poll / check /
// dispatch cycle:
//
//  1. Prepare: every attached source reports whether it is already ready,
//     and the maximum time (milliseconds) it is willing to wait.
//  2. Query: the unix file descriptors of all eligible sources are collected,
//     together with the context's own wakeup descriptor.
//  3. Poll: a single poll(2) call blocks, bounded by the smallest timeout.
//  4. Check: sources inspect the observed conditions ([Source.QueryUnixFD]).
//  5. Dispatch: ready sources are dispatched, highest priority first.
//
// The behavior of a source is supplied by a [SourceFuncs] implementation,
// which has exactly three operations: Prepare, Check and Dispatch.
//
// A [MainLoop] repeatedly iterates a context until [MainLoop.Quit] is called.
// Main loops may be run recursively, e.g. from inside a dispatch callback.
// A context-level run hook ([MainContext.SetRunHook]) observes every run,
// which is how an outer scheduler keeps track of nesting.
//
// # Thread (Goroutine) Defaults
//
// Each goroutine has a stack of "thread default" contexts, manipulated with
// [MainContext.PushThreadDefault] and [MainContext.PopThreadDefault].
// [Default] returns the process-wide default context.
//
// # Ownership
//
// A context may only be iterated by its owner. Ownership is recursive, and is
// acquired implicitly by [MainContext.Iteration] and [MainLoop.Run].
// Attaching or destroying sources, and [MainContext.Wakeup], are safe from any
// goroutine. Other [Source] methods must be called by the owner, or before
// the source is attached.
//
// # Signals
//
// [NewUnixSignalSource] delivers a restricted set of signals as ordinary
// source dispatches, never from within signal handler context.
//
// # Platforms
//
// Linux (eventfd wake-ups) and Darwin (pipe wake-ups) only. On any other
// platform the package is empty.
package gmain
