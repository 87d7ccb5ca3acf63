//go:build linux || darwin

package gmain

import (
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalSupported(t *testing.T) {
	for _, tc := range []struct {
		sig  syscall.Signal
		want bool
	}{
		{syscall.SIGHUP, true},
		{syscall.SIGINT, true},
		{syscall.SIGTERM, true},
		{syscall.SIGUSR1, true},
		{syscall.SIGUSR2, true},
		{syscall.SIGWINCH, true},
		{syscall.SIGCHLD, false},
		{syscall.SIGKILL, false},
		{syscall.SIGPIPE, false},
	} {
		assert.Equal(t, tc.want, SignalSupported(tc.sig), tc.sig.String())
	}

	_, err := NewUnixSignalSource(syscall.SIGCHLD)
	assert.ErrorIs(t, err, ErrUnsupportedSignal)
}

func TestUnixSignalSource_dispatch(t *testing.T) {
	ctx := newTestContext(t)
	ml := NewMainLoop(ctx, false)

	s, err := NewUnixSignalSource(syscall.SIGUSR1)
	require.NoError(t, err)
	defer s.Destroy()
	assert.Equal(t, syscall.SIGUSR1, s.Funcs().(*UnixSignalFuncs).Signal())

	var calls int
	s.SetCallback(func() bool {
		calls++
		ml.Quit()
		return SourceContinue
	})
	_, err = s.Attach(ctx)
	require.NoError(t, err)

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))

	timer := time.AfterFunc(5*time.Second, ml.Quit)
	defer timer.Stop()
	require.NoError(t, ml.Run())
	assert.Equal(t, 1, calls)
}

func TestUnixSignalSource_multipleWatchers(t *testing.T) {
	ctx := newTestContext(t)

	a, err := NewUnixSignalSource(syscall.SIGUSR2)
	require.NoError(t, err)
	b, err := NewUnixSignalSource(syscall.SIGUSR2)
	require.NoError(t, err)

	var got []string
	a.SetCallback(func() bool { got = append(got, "a"); return SourceContinue })
	b.SetCallback(func() bool { got = append(got, "b"); return SourceRemove })
	_, err = a.Attach(ctx)
	require.NoError(t, err)
	_, err = b.Attach(ctx)
	require.NoError(t, err)

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR2))

	deadline := time.Now().Add(5 * time.Second)
	for len(got) < 2 && time.Now().Before(deadline) {
		ctx.Iteration(true)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, got)
	assert.True(t, b.IsDestroyed())

	signalWatches.Lock()
	w := signalWatches.m[syscall.SIGUSR2]
	n := len(w.sources)
	signalWatches.Unlock()
	assert.Equal(t, 1, n)

	a.Destroy()
	signalWatches.Lock()
	_, ok := signalWatches.m[syscall.SIGUSR2]
	signalWatches.Unlock()
	assert.False(t, ok)
}

func TestIgnoreSignal(t *testing.T) {
	t.Cleanup(func() { UnignoreSignal(syscall.SIGUSR2) })

	assert.False(t, SignalIgnored(syscall.SIGUSR2))
	IgnoreSignal(syscall.SIGUSR2)
	IgnoreSignal(syscall.SIGUSR2)
	assert.True(t, SignalIgnored(syscall.SIGUSR2))

	// other subscribers still receive the signal
	other := make(chan os.Signal, 1)
	signal.Notify(other, syscall.SIGUSR2)
	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR2))
	select {
	case sig := <-other:
		assert.Equal(t, syscall.SIGUSR2, sig)
	case <-time.After(5 * time.Second):
		t.Fatal("signal not delivered")
	}
	signal.Stop(other)

	// with no other subscriber, the signal is discarded
	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR2))
	time.Sleep(50 * time.Millisecond)

	assert.True(t, UnignoreSignal(syscall.SIGUSR2))
	assert.False(t, UnignoreSignal(syscall.SIGUSR2))
	assert.False(t, SignalIgnored(syscall.SIGUSR2))
}
