//go:build linux || darwin

package eventloop

import (
	"fmt"
	"maps"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/joeycumines/go-glibloop/gmain"
)

// maxSignal bounds valid signal numbers.
const maxSignal = 65

// signalHandler is an entry of the loop's signal table. Exactly one of
// source (a gmain unix signal source) or stop (the os/signal fallback) is
// set.
type signalHandler struct {
	source *gmain.Source
	stop   func()
}

func (x *signalHandler) close() {
	if x.source != nil {
		x.source.Destroy()
	}
	if x.stop != nil {
		x.stop()
	}
}

// AddSignalHandler calls callback whenever sig is received, replacing any
// handler already added for sig. The callback must be a plain func(): an
// asynchronous callback such as func() *Future is rejected with a
// [*TypeError], before any resource is allocated.
//
// SIGHUP, SIGINT, SIGTERM, SIGUSR1, SIGUSR2 and SIGWINCH are delivered by a
// high priority gmain signal source, which runs the callback directly, as
// part of the context's dispatch. Other signals are delivered via
// os/signal, and scheduled with [Loop.ScheduleSoonThreadsafe].
//
// Safe to call from any goroutine.
func (l *Loop) AddSignalHandler(sig syscall.Signal, callback any) error {
	fn, err := signalCallback(callback)
	if err != nil {
		return err
	}
	if err := validateSignal(sig); err != nil {
		return err
	}

	l.signalsMu.Lock()
	defer l.signalsMu.Unlock()

	if l.state.IsClosed() {
		return ErrLoopClosed
	}

	if sig == syscall.SIGINT {
		l.sigint.once.Do(func() {
			l.sigint.ignored = gmain.SignalIgnored(syscall.SIGINT)
		})
	}

	if old := l.signals[sig]; old != nil {
		delete(l.signals, sig)
		old.close()
	}

	var handler *signalHandler
	if gmain.SignalSupported(sig) {
		handler, err = l.newSignalSource(sig, fn)
	} else {
		handler = l.newSignalFallback(sig, fn)
	}
	if err != nil {
		return err
	}
	l.signals[sig] = handler

	return nil
}

// RemoveSignalHandler removes the handler for sig, returning false if
// there was none. If SIGINT was ignored before the loop first handled it,
// it is ignored again, via [gmain.IgnoreSignal]. Any other subscriber that
// claimed SIGINT in the meantime, e.g. with [signal.Notify], continues to
// receive it.
//
// Safe to call from any goroutine.
func (l *Loop) RemoveSignalHandler(sig syscall.Signal) bool {
	l.signalsMu.Lock()
	defer l.signalsMu.Unlock()
	return l.removeSignalHandlerLocked(sig)
}

func (l *Loop) removeSignalHandlerLocked(sig syscall.Signal) bool {
	handler := l.signals[sig]
	if handler == nil {
		return false
	}
	delete(l.signals, sig)
	handler.close()

	if sig == syscall.SIGINT && l.sigint.ignored {
		gmain.IgnoreSignal(syscall.SIGINT)
	}

	return true
}

func (l *Loop) removeAllSignalHandlers() {
	l.signalsMu.Lock()
	defer l.signalsMu.Unlock()
	for _, sig := range slices.Sorted(maps.Keys(l.signals)) {
		l.removeSignalHandlerLocked(sig)
	}
}

func (l *Loop) newSignalSource(sig syscall.Signal, fn func()) (*signalHandler, error) {
	source, err := gmain.NewUnixSignalSource(sig)
	if err != nil {
		return nil, err
	}
	h := &Handle{loop: l, callback: fn}
	source.SetPriority(gmain.PriorityHigh)
	source.SetCallback(func() bool {
		l.runHandle(h)
		return gmain.SourceContinue
	})
	if _, err := source.Attach(l.ctx); err != nil {
		source.Destroy()
		return nil, err
	}
	return &signalHandler{source: source}, nil
}

func (l *Loop) newSignalFallback(sig syscall.Signal, fn func()) *signalHandler {
	ch := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(ch, sig)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ch:
				if _, err := l.ScheduleSoonThreadsafe(fn); err != nil {
					l.logger.Warning().
						Uint64(`loop`, l.id).
						Stringer(`signal`, sig).
						Err(err).
						Log(`eventloop: dropped signal`)
				}
			}
		}
	}()
	return &signalHandler{stop: func() {
		signal.Stop(ch)
		close(done)
	}}
}

// signalCallback validates a signal handler callback.
func signalCallback(callback any) (func(), error) {
	switch fn := callback.(type) {
	case func():
		if fn == nil {
			return nil, &TypeError{Message: "eventloop: nil signal handler"}
		}
		return fn, nil
	case func() *Future:
		return nil, &TypeError{Message: "eventloop: asynchronous functions cannot be used as signal handlers"}
	default:
		return nil, &TypeError{Message: fmt.Sprintf("eventloop: signal handler must be a func(), got %T", callback)}
	}
}

func validateSignal(sig syscall.Signal) error {
	if sig <= 0 || sig >= maxSignal {
		return &ValueError{Message: fmt.Sprintf("eventloop: signal number %d out of range", int(sig))}
	}
	switch sig {
	case syscall.SIGKILL, syscall.SIGSTOP:
		return &ValueError{Message: fmt.Sprintf("eventloop: signal %s cannot be caught", sig)}
	}
	return nil
}
