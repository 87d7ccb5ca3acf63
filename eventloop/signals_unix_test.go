//go:build linux || darwin

package eventloop

import (
	"errors"
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"github.com/joeycumines/go-glibloop/gmain"
)

func TestAddSignalHandler_validation(t *testing.T) {
	l := newTestLoop(t)

	var te *TypeError
	for _, callback := range []any{
		nil,
		(func())(nil),
		func() *Future { return nil },
		func(int) {},
		"not a func",
	} {
		if err := l.AddSignalHandler(syscall.SIGUSR1, callback); !errors.As(err, &te) {
			t.Errorf("%T: expected TypeError, got %v", callback, err)
		}
	}

	var ve *ValueError
	for _, sig := range []syscall.Signal{0, -1, 65, 1000, syscall.SIGKILL, syscall.SIGSTOP} {
		if err := l.AddSignalHandler(sig, func() {}); !errors.As(err, &ve) {
			t.Errorf("%d: expected ValueError, got %v", int(sig), err)
		}
	}

	// asynchronous callbacks are rejected before the signal is validated
	if err := l.AddSignalHandler(syscall.SIGKILL, func() *Future { return nil }); !errors.As(err, &te) {
		t.Errorf("expected TypeError, got %v", err)
	}

	if len(l.signals) != 0 {
		t.Errorf("expected no handlers, got %d", len(l.signals))
	}
	if l.RemoveSignalHandler(syscall.SIGUSR1) {
		t.Error("expected no handler to remove")
	}
}

func TestAddSignalHandler_closedLoop(t *testing.T) {
	l := newTestLoop(t)
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if err := l.AddSignalHandler(syscall.SIGUSR1, func() {}); !errors.Is(err, ErrLoopClosed) {
		t.Errorf("expected ErrLoopClosed, got %v", err)
	}
}

func TestAddSignalHandler_delivered(t *testing.T) {
	l := newTestLoop(t)

	var calls int
	if err := l.AddSignalHandler(syscall.SIGUSR1, func() { t.Error("replaced handler ran") }); err != nil {
		t.Fatal(err)
	}
	if err := l.AddSignalHandler(syscall.SIGUSR1, func() {
		calls++
		if !l.IsLoopGoroutine() {
			t.Error("signal handler must run on the loop goroutine")
		}
		l.Stop()
	}); err != nil {
		t.Fatal(err)
	}
	handler := l.signals[syscall.SIGUSR1]
	if handler == nil || handler.source == nil {
		t.Fatal("expected a gmain signal source")
	}
	if handler.source.Context() != l.Context() {
		t.Error("expected the source to be attached to the loop's context")
	}

	_, _ = l.ScheduleSoon(func() {
		if err := syscall.Kill(os.Getpid(), syscall.SIGUSR1); err != nil {
			t.Error(err)
		}
	})

	runLoop(t, l, 5*time.Second)

	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if !l.RemoveSignalHandler(syscall.SIGUSR1) {
		t.Error("expected a handler to remove")
	}
	if !handler.source.IsDestroyed() {
		t.Error("expected the source to be destroyed")
	}
}

func TestAddSignalHandler_fallback(t *testing.T) {
	l := newTestLoop(t)

	// SIGCONT is harmless, and not supported by gmain signal sources
	var calls int
	if err := l.AddSignalHandler(syscall.SIGCONT, func() {
		calls++
		l.Stop()
	}); err != nil {
		t.Fatal(err)
	}
	if handler := l.signals[syscall.SIGCONT]; handler == nil || handler.stop == nil {
		t.Fatal("expected an os/signal fallback")
	}

	_, _ = l.ScheduleSoon(func() {
		if err := syscall.Kill(os.Getpid(), syscall.SIGCONT); err != nil {
			t.Error(err)
		}
	})

	runLoop(t, l, 5*time.Second)

	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

// resetSIGINT restores the default SIGINT disposition after a test.
func resetSIGINT(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		gmain.UnignoreSignal(syscall.SIGINT)
		signal.Reset(syscall.SIGINT)
	})
}

func TestRemoveSignalHandler_restoresIgnoredSIGINT(t *testing.T) {
	resetSIGINT(t)

	signal.Ignore(syscall.SIGINT)
	if !gmain.SignalIgnored(syscall.SIGINT) {
		t.Fatal("expected SIGINT to be ignored")
	}

	l := newTestLoop(t)
	if err := l.AddSignalHandler(syscall.SIGINT, func() {}); err != nil {
		t.Fatal(err)
	}
	if gmain.SignalIgnored(syscall.SIGINT) {
		t.Error("expected SIGINT to be handled")
	}

	if !l.RemoveSignalHandler(syscall.SIGINT) {
		t.Fatal("expected a handler to remove")
	}
	if !gmain.SignalIgnored(syscall.SIGINT) {
		t.Error("expected SIGINT to be ignored again")
	}

	// the disposition is captured once, so re-adding restores it too
	if err := l.AddSignalHandler(syscall.SIGINT, func() {}); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if !gmain.SignalIgnored(syscall.SIGINT) {
		t.Error("expected Close to ignore SIGINT again")
	}

	// still ignored: delivery must not terminate the process
	if err := syscall.Kill(os.Getpid(), syscall.SIGINT); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
}

func TestRemoveSignalHandler_keepsOtherSIGINTSubscribers(t *testing.T) {
	resetSIGINT(t)

	signal.Ignore(syscall.SIGINT)

	l := newTestLoop(t)
	if err := l.AddSignalHandler(syscall.SIGINT, func() {}); err != nil {
		t.Fatal(err)
	}

	// claimed by someone else, while the loop's handler is installed
	other := make(chan os.Signal, 1)
	signal.Notify(other, syscall.SIGINT)
	defer signal.Stop(other)

	if !l.RemoveSignalHandler(syscall.SIGINT) {
		t.Fatal("expected a handler to remove")
	}

	if err := syscall.Kill(os.Getpid(), syscall.SIGINT); err != nil {
		t.Fatal(err)
	}
	select {
	case sig := <-other:
		if sig != syscall.SIGINT {
			t.Errorf("unexpected signal: %v", sig)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("SIGINT was not delivered to the other subscriber")
	}
}

func TestRemoveSignalHandler_defaultSIGINT(t *testing.T) {
	resetSIGINT(t)

	signal.Reset(syscall.SIGINT)

	l := newTestLoop(t)
	if err := l.AddSignalHandler(syscall.SIGINT, func() {}); err != nil {
		t.Fatal(err)
	}
	if !l.RemoveSignalHandler(syscall.SIGINT) {
		t.Fatal("expected a handler to remove")
	}
	if gmain.SignalIgnored(syscall.SIGINT) {
		t.Error("SIGINT was not ignored before, so must not be ignored after")
	}
}

func TestClose_removesSignalHandlers(t *testing.T) {
	l := newTestLoop(t)
	for _, sig := range []syscall.Signal{syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGCONT} {
		if err := l.AddSignalHandler(sig, func() {}); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if len(l.signals) != 0 {
		t.Errorf("expected no handlers after Close, got %d", len(l.signals))
	}
}
