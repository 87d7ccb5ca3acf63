//go:build linux || darwin

package eventloop

import (
	"os"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-glibloop/internal/logging"
)

// startChild starts sh -c script, without waiting for it.
func startChild(t *testing.T, script string) int {
	t.Helper()
	cmd := exec.Command("/bin/sh", "-c", script)
	require.NoError(t, cmd.Start())
	return cmd.Process.Pid
}

func TestChildWatcher_exitStatus(t *testing.T) {
	l := newTestLoop(t)
	w := NewChildWatcher(logging.Discard())
	t.Cleanup(func() { _ = w.Close() })
	w.AttachLoop(l)
	require.True(t, w.IsActive())

	type exit struct{ pid, code int }
	var exits []exit
	record := func(pid, code int) {
		assert.True(t, l.IsLoopGoroutine(), "child handlers run on the loop goroutine")
		exits = append(exits, exit{pid, code})
		if len(exits) == 2 {
			l.Stop()
		}
	}

	exited := startChild(t, "exit 3")
	killed := startChild(t, "kill -TERM $$")
	require.NoError(t, w.AddChildHandler(exited, record))
	require.NoError(t, w.AddChildHandler(killed, record))

	runLoop(t, l, 10*time.Second)

	assert.ElementsMatch(t, []exit{
		{exited, 3},
		{killed, -int(syscall.SIGTERM)},
	}, exits)
}

func TestChildWatcher_unknownPid(t *testing.T) {
	logger, buf := newCapturingLogger()
	l := newTestLoop(t)
	w := NewChildWatcher(logger)
	t.Cleanup(func() { _ = w.Close() })
	w.AttachLoop(l)

	// not a child of this process
	pid := os.Getpid()
	var code int
	require.NoError(t, w.AddChildHandler(pid, func(p, c int) {
		assert.Equal(t, pid, p)
		code = c
		l.Stop()
	}))

	runLoop(t, l, 10*time.Second)

	assert.Equal(t, unknownChildReturnCode, code)
	assert.Contains(t, buf.String(), "unknown child process")
}

func TestChildWatcher_replaceAndRemove(t *testing.T) {
	l := newTestLoop(t)
	w := NewChildWatcher(logging.Discard())
	t.Cleanup(func() { _ = w.Close() })
	w.AttachLoop(l)

	slow := startChild(t, "sleep 0.1; exit 1")
	removed := startChild(t, "sleep 0.1; exit 2")

	var codes []int
	require.NoError(t, w.AddChildHandler(slow, func(int, int) { t.Error("replaced handler ran") }))
	require.NoError(t, w.AddChildHandler(slow, func(_, code int) {
		codes = append(codes, code)
		// give the removed child time to be reaped
		_, _ = l.ScheduleAfter(200*time.Millisecond, l.Stop)
	}))
	require.NoError(t, w.AddChildHandler(removed, func(int, int) { t.Error("removed handler ran") }))
	assert.True(t, w.RemoveChildHandler(removed))
	assert.False(t, w.RemoveChildHandler(removed))
	assert.False(t, w.RemoveChildHandler(1<<30))

	runLoop(t, l, 10*time.Second)

	assert.Equal(t, []int{1}, codes)
}

func TestChildWatcher_errors(t *testing.T) {
	w := NewChildWatcher(nil)

	err := w.AddChildHandler(1, func(int, int) {})
	assert.ErrorIs(t, err, ErrNoLoopAttached)

	var te *TypeError
	assert.ErrorAs(t, w.AddChildHandler(1, nil), &te)
	var ve *ValueError
	assert.ErrorAs(t, w.AddChildHandler(0, func(int, int) {}), &ve)

	w.AttachLoop(newTestLoop(t))
	require.NoError(t, w.Close())
	assert.False(t, w.IsActive())
	assert.ErrorIs(t, w.AddChildHandler(1, func(int, int) {}), ErrChildWatcherClosed)
}
