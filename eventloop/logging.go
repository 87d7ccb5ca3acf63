//go:build linux || darwin

package eventloop

import (
	"time"
)

// warn logs a runtime warning, rate limited per category. Runtime warnings
// indicate misuse, e.g. iterating the loop's context without running the
// loop, and do not interrupt the loop.
func (l *Loop) warn(category, msg string) {
	if _, ok := l.limiter.Allow(category); !ok {
		return
	}
	l.logger.Warning().
		Uint64(`loop`, l.id).
		Str(`category`, category).
		Log(msg)
}

// logSlowCallback is called in debug mode for callbacks that exceeded the
// slow callback duration.
func (l *Loop) logSlowCallback(h *Handle, took time.Duration) {
	l.logger.Warning().
		Uint64(`loop`, l.id).
		Dur(`took`, took).
		Dur(`threshold`, l.slowCallbackDuration).
		Bool(`timer`, h.timer).
		Log(`eventloop: slow callback`)
}

// logException is the logging half of [Loop.DefaultExceptionHandler].
func (l *Loop) logException(c ExceptionContext) {
	b := l.logger.Err()
	if !b.Enabled() {
		return
	}
	b = b.Uint64(`loop`, l.id)
	if c.Err != nil {
		b = b.Err(c.Err)
	}
	if c.Handle != nil {
		b = b.Bool(`timer`, c.Handle.timer)
	}
	if c.Future != nil {
		b = b.Bool(`future`, true)
	}
	msg := c.Message
	if msg == "" {
		msg = `eventloop: unhandled exception in event loop`
	}
	b.Log(msg)
}
