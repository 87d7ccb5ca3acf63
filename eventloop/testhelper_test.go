//go:build linux || darwin

package eventloop

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"golang.org/x/sys/unix"

	"github.com/joeycumines/go-glibloop/gmain"
	"github.com/joeycumines/go-glibloop/internal/logging"
)

// newTestLoop creates a loop with its own context, and a discarding logger,
// closed when the test ends.
func newTestLoop(t *testing.T, opts ...LoopOption) *Loop {
	t.Helper()
	l, err := New(nil, append([]LoopOption{WithLogger(logging.Discard())}, opts...)...)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

// newTestContext creates a context, closed when the test ends.
func newTestContext(t *testing.T) *gmain.MainContext {
	t.Helper()
	ctx, err := gmain.NewMainContext(gmain.WithLogger(logging.Discard()))
	if err != nil {
		t.Fatalf("NewMainContext() failed: %v", err)
	}
	t.Cleanup(func() { _ = ctx.Close() })
	return ctx
}

// runLoop runs the loop on the calling goroutine, failing the test (and
// stopping the loop) if it is still running after timeout.
func runLoop(t *testing.T, l *Loop, timeout time.Duration) {
	t.Helper()
	timer := time.AfterFunc(timeout, func() {
		t.Errorf("loop still running after %s", timeout)
		l.Stop()
	})
	defer timer.Stop()
	if err := l.RunForever(); err != nil {
		t.Fatalf("RunForever() failed: %v", err)
	}
}

// waitLoopState waits for a loop to reach a specific state within a timeout.
func waitLoopState(t *testing.T, loop *Loop, expected LoopState, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for loop.State() != expected && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if state := loop.State(); state != expected {
		t.Fatalf("Loop failed to reach %v state (got %v)", expected, state)
	}
}

func newPipe(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		t.Fatalf("pipe failed: %v", err)
	}
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

// syncBuffer is a bytes.Buffer safe for concurrent use, for capturing logs.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (x *syncBuffer) Write(p []byte) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.buf.Write(p)
}

func (x *syncBuffer) String() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.buf.String()
}

// newCapturingLogger returns a debug level logger writing to the returned
// buffer.
func newCapturingLogger() (*logging.Logger, *syncBuffer) {
	var buf syncBuffer
	return logging.New(&buf, logiface.LevelDebug), &buf
}
