//go:build linux || darwin

package gmain

import (
	"sync/atomic"
)

// MainLoop repeatedly iterates a [MainContext], until quit.
type MainLoop struct {
	ctx     *MainContext
	running atomic.Bool
}

// NewMainLoop creates a main loop bound to ctx ([Default] if nil).
func NewMainLoop(ctx *MainContext, isRunning bool) *MainLoop {
	if ctx == nil {
		ctx = Default()
	}
	m := &MainLoop{ctx: ctx}
	m.running.Store(isRunning)
	return m
}

// Context returns the context the loop iterates.
func (m *MainLoop) Context() *MainContext {
	return m.ctx
}

// IsRunning reports whether the loop is running, i.e. Run has been called,
// and Quit has not.
func (m *MainLoop) IsRunning() bool {
	return m.running.Load()
}

// Run acquires the context and iterates it until [MainLoop.Quit] is called,
// or the context is closed. Runs may be nested, e.g. from a dispatch
// callback, in which case Quit only affects the loop it is called on.
//
// The context's run hook, if any, observes the run.
func (m *MainLoop) Run() error {
	c := m.ctx
	if c.IsClosed() {
		return ErrContextClosed
	}
	if !c.Acquire() {
		return ErrNotOwner
	}
	defer c.Release()

	m.running.Store(true)

	if hook := c.runHook.Load(); hook != nil {
		if exit := (*hook)(m); exit != nil {
			defer exit()
		}
	}

	for m.running.Load() && !c.IsClosed() {
		c.iterate(true)
	}

	m.running.Store(false)

	return nil
}

// Quit stops the loop. Safe to call from any goroutine. If called from a
// dispatch callback, the loop exits once that dispatch returns.
func (m *MainLoop) Quit() {
	m.running.Store(false)
	m.ctx.Wakeup()
}
