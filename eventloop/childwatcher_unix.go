//go:build linux || darwin

package eventloop

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/go-glibloop/internal/logging"
)

// unknownChildReturnCode is reported for a pid that is not a child of the
// process, or was reaped elsewhere.
const unknownChildReturnCode = 255

// ChildCallback receives the return code of a child process: its exit
// status, or the negated signal number if it was killed by a signal.
type ChildCallback func(pid, returnCode int)

// ChildWatcher reaps child processes, using one goroutine per child, each
// blocking in wait4(2). It deliberately does not use SIGCHLD, which would
// race with any other reaper in the process.
//
// Callbacks are scheduled on the attached loop, with
// [Loop.ScheduleSoonThreadsafe]. All methods are safe to call from any
// goroutine.
type ChildWatcher struct {
	logger   *logging.Logger
	loop     *Loop
	handlers map[int]*childHandler
	mu       sync.Mutex
	closed   bool
}

type childHandler struct {
	loop     *Loop
	callback ChildCallback
}

// NewChildWatcher creates a child watcher, with no attached loop.
func NewChildWatcher(logger *logging.Logger) *ChildWatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &ChildWatcher{
		logger:   logger,
		handlers: make(map[int]*childHandler),
	}
}

// AttachLoop sets the loop used by subsequent [ChildWatcher.AddChildHandler]
// calls. Handlers already added keep their loop.
func (w *ChildWatcher) AttachLoop(l *Loop) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.loop = l
}

// IsActive reports whether the watcher can accept handlers.
func (w *ChildWatcher) IsActive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.closed
}

// AddChildHandler calls callback, on the attached loop, once the child pid
// exits. Adding a handler for a pid that already has one replaces it.
func (w *ChildWatcher) AddChildHandler(pid int, callback ChildCallback) error {
	if callback == nil {
		return &TypeError{Message: "eventloop: nil child handler"}
	}
	if pid <= 0 {
		return &ValueError{Message: fmt.Sprintf("eventloop: invalid pid: %d", pid)}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrChildWatcherClosed
	}
	if w.loop == nil {
		return ErrNoLoopAttached
	}

	_, waiting := w.handlers[pid]
	w.handlers[pid] = &childHandler{loop: w.loop, callback: callback}
	if !waiting {
		go w.wait(pid)
	}

	return nil
}

// RemoveChildHandler removes the handler for pid, returning false if there
// was none. The child is still reaped.
func (w *ChildWatcher) RemoveChildHandler(pid int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.handlers[pid] == nil {
		return false
	}
	w.handlers[pid] = nil
	return true
}

// Close drops every handler. Waiting goroutines exit once their children
// do.
func (w *ChildWatcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	for pid := range w.handlers {
		w.handlers[pid] = nil
	}
	w.loop = nil
	return nil
}

func (w *ChildWatcher) wait(pid int) {
	returnCode, err := waitChild(pid)
	if err != nil {
		w.logger.Warning().
			Int(`pid`, pid).
			Err(err).
			Int(`returncode`, returnCode).
			Log(`eventloop: unknown child process`)
	}

	w.mu.Lock()
	handler := w.handlers[pid]
	delete(w.handlers, pid)
	w.mu.Unlock()

	if handler == nil {
		return
	}

	if _, err := handler.loop.ScheduleSoonThreadsafe(func() {
		handler.callback(pid, returnCode)
	}); err != nil {
		w.logger.Warning().
			Int(`pid`, pid).
			Int(`returncode`, returnCode).
			Err(err).
			Log(`eventloop: loop closed before child exit was delivered`)
	}
}

// waitChild blocks until pid exits, returning its return code.
func waitChild(pid int) (int, error) {
	var status unix.WaitStatus
	for {
		_, err := unix.Wait4(pid, &status, 0, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return unknownChildReturnCode, err
		}
		break
	}
	switch {
	case status.Exited():
		return status.ExitStatus(), nil
	case status.Signaled():
		return -int(status.Signal()), nil
	default:
		return int(status), nil
	}
}
