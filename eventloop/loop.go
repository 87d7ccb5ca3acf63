//go:build linux || darwin

package eventloop

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/goroutineid"

	"github.com/joeycumines/go-glibloop/gmain"
	"github.com/joeycumines/go-glibloop/internal/logging"
)

// compactThreshold is the minimum number of cancelled timers before the
// timer heap is compacted, provided they are also at least half the heap.
const compactThreshold = 100

// ExceptionContext describes a failure reported to the exception handler.
type ExceptionContext struct {
	// Err is the failure, e.g. a PanicError for a callback that panicked.
	Err error
	// Handle is the callback that failed, if any.
	Handle *Handle
	// Future is the future involved, if any.
	Future *Future
	// Message is a human-readable description.
	Message string
}

// ExceptionHandler receives failures that cannot be returned to a caller,
// e.g. panics raised by scheduled callbacks.
type ExceptionHandler func(loop *Loop, c ExceptionContext)

// Loop is a cooperative event loop, whose blocking wait is delegated to a
// [gmain.MainLoop] iterating the loop's [gmain.MainContext].
//
// The loop registers a single selector source with its context. That
// source reports the time until the next timer, and the fds ready after the
// context's poll, then dispatches [Loop] iterations: due timers (in due time
// order), then the callbacks that were ready when the iteration began (in
// FIFO order). Callbacks scheduled during an iteration run in the next one.
//
// Unless noted otherwise, methods must be called from the goroutine running
// the loop, or while the loop is not running.
type Loop struct { // betteralign:ignore
	// Prevent copying
	_ [0]func()

	ctx      *gmain.MainContext
	mainLoop *gmain.MainLoop
	selector *Selector
	logger   *logging.Logger
	limiter  *catrate.Limiter
	metrics  *Metrics
	state    *FastState

	exceptionHandler atomic.Pointer[ExceptionHandler]

	// owned by the loop goroutine
	ready          []*Handle
	timers         timerHeap
	timerSeq       uint64
	timerCancelled int

	// quitMu guards quits, the quit function of each active run level
	quitMu   sync.Mutex
	quits    []func()
	stopping atomic.Bool

	// threadsafe holds callbacks from ScheduleSoonThreadsafe
	threadsafeMu      sync.Mutex
	threadsafe        []*Handle
	threadsafePending atomic.Bool

	signalsMu sync.Mutex
	signals   map[syscall.Signal]*signalHandler
	sigint    struct {
		once    sync.Once
		ignored bool
	}

	goroutineID atomic.Int64
	id          uint64

	slowCallbackDuration time.Duration
	debug                bool
	ownsContext          bool
}

var loopIDCounter atomic.Uint64

// New creates an event loop bound to ctx. If ctx is nil, a new context is
// created, and closed with the loop.
//
// Only one loop may be bound to a context at a time: the loop installs the
// context's run hook, so that every [gmain.MainLoop.Run] on the context,
// including nested runs by foreign code, enters the loop's run levels.
func New(ctx *gmain.MainContext, opts ...LoopOption) (*Loop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	limiter, err := newWarningLimiter(cfg.warningRates)
	if err != nil {
		return nil, err
	}

	var ownsContext bool
	if ctx == nil {
		ctx, err = gmain.NewMainContext(gmain.WithLogger(cfg.logger))
		if err != nil {
			return nil, err
		}
		ownsContext = true
	}

	l := &Loop{
		id:                   loopIDCounter.Add(1),
		ctx:                  ctx,
		mainLoop:             gmain.NewMainLoop(ctx, false),
		logger:               cfg.logger,
		limiter:              limiter,
		state:                NewFastState(),
		signals:              make(map[syscall.Signal]*signalHandler),
		slowCallbackDuration: cfg.slowCallbackDuration,
		debug:                cfg.debug,
		ownsContext:          ownsContext,
	}
	if cfg.metricsEnabled {
		l.metrics = &Metrics{}
	}
	if cfg.exceptionHandler != nil {
		l.SetExceptionHandler(cfg.exceptionHandler)
	}

	l.selector, err = newSelector(l)
	if err != nil {
		if ownsContext {
			_ = ctx.Close()
		}
		return nil, err
	}

	ctx.SetRunHook(l.runHook)

	return l, nil
}

func newWarningLimiter(rates map[time.Duration]int) (limiter *catrate.Limiter, err error) {
	defer func() {
		if r := recover(); r != nil {
			limiter = nil
			err = &ValueError{Message: fmt.Sprintf("eventloop: invalid warning rates: %v", r)}
		}
	}()
	return catrate.NewLimiter(rates), nil
}

// Context returns the loop's main context.
func (l *Loop) Context() *gmain.MainContext {
	return l.ctx
}

// Selector returns the loop's selector.
func (l *Loop) Selector() *Selector {
	return l.selector
}

// State returns the current loop state.
func (l *Loop) State() LoopState {
	return l.state.Load()
}

// IsRunning reports whether any main loop is running the loop's context.
// Safe to call from any goroutine.
func (l *Loop) IsRunning() bool {
	return l.state.IsRunning()
}

// IsClosed reports whether the loop has been closed. Safe to call from any
// goroutine.
func (l *Loop) IsClosed() bool {
	return l.state.IsClosed()
}

// IsLoopGoroutine reports whether the caller is the goroutine running the
// loop.
func (l *Loop) IsLoopGoroutine() bool {
	id := l.goroutineID.Load()
	return id != 0 && id == goroutineid.Get()
}

// Debug reports whether debug mode is enabled.
func (l *Loop) Debug() bool {
	return l.debug
}

// Time returns the loop's monotonic clock, in seconds. This is the
// context's clock, not the wall clock, and it is the clock timers use.
// Safe to call from any goroutine.
func (l *Loop) Time() float64 {
	return float64(l.ctx.Time()) / 1e6
}

// Metrics returns a snapshot of the loop's metrics, or false if metrics are
// disabled. Safe to call from any goroutine.
func (l *Loop) Metrics() (MetricsSnapshot, bool) {
	if l.metrics == nil {
		return MetricsSnapshot{}, false
	}
	return l.metrics.Snapshot(), true
}

// RunForever runs the loop until [Loop.Stop] is called. It fails with
// [ErrLoopAlreadyRunning] if the loop is already running, including when
// called from a callback, and with [ErrLoopClosed] if the loop is closed.
func (l *Loop) RunForever() error {
	switch l.state.Load() {
	case StateClosed:
		return ErrLoopClosed
	case StateRunning:
		return ErrLoopAlreadyRunning
	}
	if err := l.mainLoop.Run(); err != nil {
		switch {
		case errors.Is(err, gmain.ErrNotOwner):
			return fmt.Errorf("%w: %w", ErrLoopAlreadyRunning, err)
		case errors.Is(err, gmain.ErrContextClosed):
			return fmt.Errorf("%w: %w", ErrLoopClosed, err)
		}
		return err
	}
	return nil
}

// RunUntilComplete runs the loop until f is done, returning its result. If
// f is already done, the result is returned without iterating the loop.
func (l *Loop) RunUntilComplete(f *Future) (any, error) {
	if f == nil || f.loop != l {
		return nil, &ValueError{Message: "eventloop: future is not bound to this loop"}
	}
	if f.Done() {
		return f.Result()
	}

	active := true
	f.AddDoneCallback(func(*Future) {
		if active {
			l.Stop()
		}
	})

	err := l.RunForever()
	active = false
	if err != nil {
		return nil, err
	}
	if !f.Done() {
		return nil, ErrLoopStopped
	}
	return f.Result()
}

// Stop stops the innermost run level. Callbacks already running in the
// current iteration complete first. If the loop is not running, the next
// run performs one iteration, then returns. Safe to call from any
// goroutine.
func (l *Loop) Stop() {
	l.stopping.Store(true)
	if quit := l.innermostQuit(); quit != nil {
		quit()
	}
	l.ctx.Wakeup()
}

func (l *Loop) innermostQuit() func() {
	l.quitMu.Lock()
	defer l.quitMu.Unlock()
	if n := len(l.quits); n != 0 {
		return l.quits[n-1]
	}
	return nil
}

// Running enters a run level of the loop, on the calling goroutine, for
// the duration of a main loop run, which quit must stop. The returned exit
// function must be called, on the same goroutine, once the run ends.
//
// The outermost run level marks the loop as running, and locks the calling
// goroutine to its OS thread. Nested run levels, e.g. a foreign modal
// [gmain.MainLoop.Run] from within a callback, allow the selector source to
// be dispatched recursively, and [Loop.Stop] then stops only the nested
// level.
//
// Every [gmain.MainLoop.Run] on the loop's context calls Running
// automatically, via the context's run hook.
func (l *Loop) Running(quit func()) (exit func(), err error) {
	if quit == nil {
		return nil, &ValueError{Message: "eventloop: nil quit function"}
	}

	gid := goroutineid.Get()

	l.quitMu.Lock()
	defer l.quitMu.Unlock()

	switch {
	case len(l.quits) == 0:
		if !l.state.TryTransition(StateIdle, StateRunning) {
			if l.state.IsClosed() {
				return nil, ErrLoopClosed
			}
			return nil, ErrLoopAlreadyRunning
		}
		runtime.LockOSThread()
		l.goroutineID.Store(gid)
	case l.goroutineID.Load() != gid:
		return nil, ErrLoopAlreadyRunning
	case len(l.quits) == 1:
		l.selector.setCanRecurse(true)
	}

	l.quits = append(l.quits, quit)
	depth := len(l.quits)

	var once sync.Once
	return func() { once.Do(func() { l.exitRunLevel(depth) }) }, nil
}

func (l *Loop) exitRunLevel(depth int) {
	l.quitMu.Lock()
	defer l.quitMu.Unlock()

	if len(l.quits) != depth {
		l.logger.Err().
			Uint64(`loop`, l.id).
			Int(`depth`, depth).
			Int(`levels`, len(l.quits)).
			Log(`eventloop: run levels exited out of order`)
	}
	if depth > len(l.quits) {
		depth = len(l.quits)
	}
	clear(l.quits[depth-1:])
	l.quits = l.quits[:depth-1]

	// a pending stop targeted the level that just exited
	l.stopping.Store(false)

	switch len(l.quits) {
	case 0:
		l.goroutineID.Store(0)
		l.state.TryTransition(StateRunning, StateIdle)
		runtime.UnlockOSThread()
	case 1:
		l.selector.setCanRecurse(false)
	}
}

func (l *Loop) runHook(ml *gmain.MainLoop) func() {
	exit, err := l.Running(ml.Quit)
	if err != nil {
		l.logger.Err().
			Uint64(`loop`, l.id).
			Err(err).
			Log(`eventloop: main loop run could not enter the event loop`)
		return nil
	}
	return exit
}

// Close releases the loop's resources: every signal handler, the selector
// source, and pending callbacks. It fails with [ErrLoopRunning] if the loop
// is running, and is otherwise idempotent.
func (l *Loop) Close() error {
	for !l.state.TryTransition(StateIdle, StateClosed) {
		switch l.state.Load() {
		case StateClosed:
			return nil
		case StateRunning:
			return ErrLoopRunning
		}
	}

	l.ctx.SetRunHook(nil)

	l.removeAllSignalHandlers()

	l.selector.Close()

	clear(l.ready)
	l.ready = nil
	for _, t := range l.timers {
		t.index = -1
	}
	l.timers = nil
	l.timerCancelled = 0

	l.threadsafeMu.Lock()
	l.threadsafe = nil
	l.threadsafePending.Store(false)
	l.threadsafeMu.Unlock()

	if l.ownsContext {
		return l.ctx.Close()
	}

	return nil
}

func (l *Loop) checkSchedule(fn func()) error {
	if fn == nil {
		return &TypeError{Message: "eventloop: nil callback"}
	}
	if l.state.IsClosed() {
		return ErrLoopClosed
	}
	if l.debug && l.IsRunning() && !l.IsLoopGoroutine() {
		return &ValueError{Message: "eventloop: non-thread-safe operation invoked from a goroutine other than the loop's"}
	}
	return nil
}

// ScheduleSoon schedules fn to run in the next iteration, after every
// callback already scheduled. It never runs fn synchronously.
func (l *Loop) ScheduleSoon(fn func()) (*Handle, error) {
	if err := l.checkSchedule(fn); err != nil {
		return nil, err
	}
	h := &Handle{loop: l, callback: fn}
	l.ready = append(l.ready, h)
	return h, nil
}

// ScheduleSoonThreadsafe is [Loop.ScheduleSoon], but may be called from any
// goroutine. It wakes the loop's context.
func (l *Loop) ScheduleSoonThreadsafe(fn func()) (*Handle, error) {
	if fn == nil {
		return nil, &TypeError{Message: "eventloop: nil callback"}
	}
	h := &Handle{loop: l, callback: fn}

	l.threadsafeMu.Lock()
	if l.state.IsClosed() {
		l.threadsafeMu.Unlock()
		return nil, ErrLoopClosed
	}
	l.threadsafe = append(l.threadsafe, h)
	l.threadsafePending.Store(true)
	l.threadsafeMu.Unlock()

	l.ctx.Wakeup()
	return h, nil
}

// ScheduleAfter schedules fn to run once delay has elapsed, per the loop's
// clock (see [Loop.Time]). Timers due at the same time run in the order
// they were scheduled.
func (l *Loop) ScheduleAfter(delay time.Duration, fn func()) (*TimerHandle, error) {
	if err := l.checkSchedule(fn); err != nil {
		return nil, err
	}
	return l.scheduleAt(l.ctx.Time()+max(delay, 0).Microseconds(), fn), nil
}

// ScheduleAt schedules fn to run at when, in seconds of the loop's clock
// (see [Loop.Time]).
func (l *Loop) ScheduleAt(when float64, fn func()) (*TimerHandle, error) {
	if math.IsNaN(when) || math.IsInf(when, 0) {
		return nil, &ValueError{Message: fmt.Sprintf("eventloop: invalid time: %v", when)}
	}
	if err := l.checkSchedule(fn); err != nil {
		return nil, err
	}
	return l.scheduleAt(int64(math.Ceil(when*1e6)), fn), nil
}

func (l *Loop) scheduleAt(when int64, fn func()) *TimerHandle {
	l.timerSeq++
	t := &TimerHandle{
		Handle: Handle{loop: l, callback: fn, timer: true},
		when:   when,
		seq:    l.timerSeq,
	}
	heap.Push(&l.timers, t)
	return t
}

// timeoutMillis returns how long the context may block before the next
// iteration is due: 0 if callbacks are ready or the loop is stopping, the
// time until the earliest timer (rounded up), or -1.
func (l *Loop) timeoutMillis() int {
	if len(l.ready) != 0 || l.stopping.Load() || l.threadsafePending.Load() {
		return 0
	}
	l.dropCancelledTimers()
	if len(l.timers) == 0 {
		return -1
	}
	us := l.timers[0].when - l.ctx.Time()
	if us <= 0 {
		return 0
	}
	ms := (us + 999) / 1000
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(ms)
}

// dropCancelledTimers removes cancelled timers from the top of the heap,
// compacting it when mostly cancelled.
func (l *Loop) dropCancelledTimers() {
	if l.timerCancelled > compactThreshold && l.timerCancelled*2 > len(l.timers) {
		l.timers.compact()
		l.timerCancelled = 0
		return
	}
	for len(l.timers) != 0 && l.timers[0].cancelled.Load() {
		heap.Pop(&l.timers)
		l.timerCancelled--
	}
}

func (l *Loop) drainThreadsafe() {
	if !l.threadsafePending.Load() {
		return
	}
	l.threadsafeMu.Lock()
	l.ready = append(l.ready, l.threadsafe...)
	clear(l.threadsafe)
	l.threadsafe = l.threadsafe[:0]
	l.threadsafePending.Store(false)
	l.threadsafeMu.Unlock()
}

// runOnce runs one iteration: it consumes the selector's staged ready list,
// then runs due timers, then the callbacks ready at the start of the
// iteration. It is called by the selector source's dispatch.
func (l *Loop) runOnce() {
	if l.metrics != nil {
		l.metrics.iterations.Add(1)
	}

	l.drainThreadsafe()
	l.dropCancelledTimers()

	if events, err := l.selector.Select(); err != nil {
		l.logger.Err().
			Uint64(`loop`, l.id).
			Err(err).
			Log(`eventloop: select failed`)
	} else {
		l.processEvents(events)
	}

	var due []*TimerHandle
	for now := l.ctx.Time(); len(l.timers) != 0 && l.timers[0].when <= now; {
		t := heap.Pop(&l.timers).(*TimerHandle)
		if t.cancelled.Load() {
			l.timerCancelled--
			continue
		}
		due = append(due, t)
	}

	ntodo := len(l.ready)

	for _, t := range due {
		l.runHandle(&t.Handle)
	}

	for i := 0; i < ntodo && len(l.ready) != 0; i++ {
		h := l.ready[0]
		l.ready[0] = nil
		l.ready = l.ready[1:]
		l.runHandle(h)
	}
	if len(l.ready) == 0 {
		l.ready = nil
	}

	if l.stopping.Swap(false) {
		if quit := l.innermostQuit(); quit != nil {
			quit()
		}
	}
}

func (l *Loop) processEvents(events []ReadyEvent) {
	for _, ev := range events {
		switch data := ev.Key.data.(type) {
		case *ioHandlers:
			if ev.Events&EventRead != 0 && data.reader != nil && !data.reader.Cancelled() {
				l.ready = append(l.ready, data.reader)
			}
			if ev.Events&EventWrite != 0 && data.writer != nil && !data.writer.Cancelled() {
				l.ready = append(l.ready, data.writer)
			}
		case FDCallback:
			fd, events := ev.Key.fd, ev.Events
			l.ready = append(l.ready, &Handle{loop: l, callback: func() { data(fd, events) }})
		}
	}
}

// runHandle runs a callback, routing panics to the exception handler.
func (l *Loop) runHandle(h *Handle) {
	if h.cancelled.Load() {
		return
	}

	// timed by the context's clock, like timers
	var (
		clk   clock.Clock
		start time.Time
	)
	if l.debug || l.metrics != nil {
		clk = l.ctx.Clock()
		start = clk.Now()
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				l.CallExceptionHandler(ExceptionContext{
					Message: `eventloop: panic in callback`,
					Err:     PanicError{Value: r},
					Handle:  h,
				})
			}
		}()
		h.callback()
	}()

	if clk == nil {
		return
	}
	took := clk.Since(start)
	if l.metrics != nil {
		l.metrics.callbacks.Add(1)
		l.metrics.latency.Record(took)
	}
	if l.debug && took >= l.slowCallbackDuration {
		l.logSlowCallback(h, took)
	}
}

// SetExceptionHandler sets the handler for failures raised within the loop,
// such as callback panics. A nil handler restores
// [Loop.DefaultExceptionHandler]. Safe to call from any goroutine.
func (l *Loop) SetExceptionHandler(handler ExceptionHandler) {
	if handler == nil {
		l.exceptionHandler.Store(nil)
		return
	}
	l.exceptionHandler.Store(&handler)
}

// ExceptionHandler returns the handler set by [Loop.SetExceptionHandler],
// or nil.
func (l *Loop) ExceptionHandler() ExceptionHandler {
	if h := l.exceptionHandler.Load(); h != nil {
		return *h
	}
	return nil
}

// DefaultExceptionHandler logs the failure, at error level.
func (l *Loop) DefaultExceptionHandler(c ExceptionContext) {
	l.logException(c)
}

// CallExceptionHandler reports a failure to the current exception handler.
// A panicking handler is itself reported to [Loop.DefaultExceptionHandler].
func (l *Loop) CallExceptionHandler(c ExceptionContext) {
	if l.metrics != nil {
		l.metrics.exceptions.Add(1)
	}

	handler := l.ExceptionHandler()
	if handler == nil {
		l.DefaultExceptionHandler(c)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			l.DefaultExceptionHandler(ExceptionContext{
				Message: `eventloop: panic in exception handler`,
				Err:     PanicError{Value: r},
			})
			l.DefaultExceptionHandler(c)
		}
	}()
	handler(l, c)
}
