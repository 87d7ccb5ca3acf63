//go:build linux || darwin

package gmain

import (
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
)

// SignalSupported reports whether sig may be watched by
// [NewUnixSignalSource].
func SignalSupported(sig syscall.Signal) bool {
	switch sig {
	case syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGWINCH:
		return true
	default:
		return false
	}
}

// UnixSignalFuncs implements [SourceFuncs] for a unix signal source.
type UnixSignalFuncs struct {
	source  *Source
	signal  syscall.Signal
	pending atomic.Bool
}

// signalWatch multiplexes one os/signal channel to every source watching a
// given signal.
type signalWatch struct {
	ch      chan os.Signal
	done    chan struct{}
	sources map[*UnixSignalFuncs]struct{}
}

var signalWatches struct {
	sync.Mutex
	m map[syscall.Signal]*signalWatch
}

// ignoredSignals holds the channels subscribed by IgnoreSignal. They are
// never read, and os/signal drops deliveries to a full channel.
var ignoredSignals struct {
	sync.Mutex
	m map[syscall.Signal]chan os.Signal
}

// NewUnixSignalSource creates a source that dispatches (with no arguments)
// whenever sig is received. Signals are watched from creation, so a signal
// received before the source is attached is dispatched once attached.
//
// Only SIGHUP, SIGINT, SIGTERM, SIGUSR1, SIGUSR2 and SIGWINCH are supported,
// see [SignalSupported].
func NewUnixSignalSource(sig syscall.Signal) (*Source, error) {
	if !SignalSupported(sig) {
		return nil, ErrUnsupportedSignal
	}
	funcs := &UnixSignalFuncs{signal: sig}
	source := NewSource(funcs)
	funcs.source = source
	source.SetName(`unix signal ` + sig.String())
	watchSignal(funcs)
	return source, nil
}

// Signal returns the watched signal.
func (x *UnixSignalFuncs) Signal() syscall.Signal {
	return x.signal
}

func (x *UnixSignalFuncs) Prepare(*Source) (bool, int) {
	return x.pending.Load(), -1
}

func (x *UnixSignalFuncs) Check(*Source) bool {
	return x.pending.Load()
}

func (x *UnixSignalFuncs) Dispatch(_ *Source, callback func() bool) bool {
	x.pending.Store(false)
	if callback == nil {
		return SourceRemove
	}
	return callback()
}

func (x *UnixSignalFuncs) Finalize(*Source) {
	unwatchSignal(x)
}

func (x *UnixSignalFuncs) deliver() {
	x.pending.Store(true)
	if ctx := x.source.Context(); ctx != nil {
		ctx.Wakeup()
	}
}

func watchSignal(funcs *UnixSignalFuncs) {
	signalWatches.Lock()
	defer signalWatches.Unlock()

	if signalWatches.m == nil {
		signalWatches.m = make(map[syscall.Signal]*signalWatch)
	}

	w := signalWatches.m[funcs.signal]
	if w == nil {
		w = &signalWatch{
			ch:      make(chan os.Signal, 1),
			done:    make(chan struct{}),
			sources: make(map[*UnixSignalFuncs]struct{}),
		}
		signalWatches.m[funcs.signal] = w
		signal.Notify(w.ch, funcs.signal)
		go w.run()
	}

	w.sources[funcs] = struct{}{}
}

func unwatchSignal(funcs *UnixSignalFuncs) {
	signalWatches.Lock()
	defer signalWatches.Unlock()

	w := signalWatches.m[funcs.signal]
	if w == nil {
		return
	}
	delete(w.sources, funcs)
	if len(w.sources) == 0 {
		signal.Stop(w.ch)
		close(w.done)
		delete(signalWatches.m, funcs.signal)
	}
}

func (w *signalWatch) run() {
	for {
		select {
		case <-w.done:
			return
		case <-w.ch:
			signalWatches.Lock()
			for funcs := range w.sources {
				funcs.deliver()
			}
			signalWatches.Unlock()
		}
	}
}

// IgnoreSignal discards sig, without disconnecting any other os/signal
// subscriber. Unlike [signal.Ignore], a channel registered with
// [signal.Notify], before or after the call, still receives sig. Repeated
// calls are no-ops.
func IgnoreSignal(sig syscall.Signal) {
	ignoredSignals.Lock()
	defer ignoredSignals.Unlock()
	if _, ok := ignoredSignals.m[sig]; ok {
		return
	}
	if ignoredSignals.m == nil {
		ignoredSignals.m = make(map[syscall.Signal]chan os.Signal)
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sig)
	ignoredSignals.m[sig] = ch
}

// UnignoreSignal reverses [IgnoreSignal], returning false if sig was not
// ignored that way.
func UnignoreSignal(sig syscall.Signal) bool {
	ignoredSignals.Lock()
	defer ignoredSignals.Unlock()
	ch, ok := ignoredSignals.m[sig]
	if !ok {
		return false
	}
	signal.Stop(ch)
	delete(ignoredSignals.m, sig)
	return true
}

// SignalIgnored reports whether sig is ignored, either via [signal.Ignore]
// (or inherited from the parent process), or via [IgnoreSignal].
func SignalIgnored(sig syscall.Signal) bool {
	if signal.Ignored(sig) {
		return true
	}
	ignoredSignals.Lock()
	defer ignoredSignals.Unlock()
	_, ok := ignoredSignals.m[sig]
	return ok
}
