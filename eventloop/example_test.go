//go:build linux || darwin

package eventloop_test

import (
	"context"
	"fmt"
	"time"

	"github.com/joeycumines/go-glibloop/eventloop"
	"github.com/joeycumines/go-glibloop/gmain"
)

// Example_basicUsage demonstrates creating an event loop and scheduling
// callbacks.
//
// This shows the fundamental pattern of:
// 1. Creating a loop with New(nil)
// 2. Scheduling callbacks with ScheduleSoon
// 3. Running the loop until Stop
// 4. Closing the loop
func Example_basicUsage() {
	loop, err := eventloop.New(nil)
	if err != nil {
		fmt.Printf("Failed to create loop: %v\n", err)
		return
	}
	defer loop.Close()

	_, _ = loop.ScheduleSoon(func() {
		fmt.Println("Callback 1 executed")
		_, _ = loop.ScheduleSoon(func() {
			fmt.Println("Callback 3 executed")
			loop.Stop()
		})
	})
	_, _ = loop.ScheduleSoon(func() {
		fmt.Println("Callback 2 executed")
	})

	if err := loop.RunForever(); err != nil {
		fmt.Printf("Run failed: %v\n", err)
	}
	fmt.Println("Loop stopped")

	// Output:
	// Callback 1 executed
	// Callback 2 executed
	// Callback 3 executed
	// Loop stopped
}

// Example_timers demonstrates that timers run in due time order, with ties
// broken by scheduling order.
func Example_timers() {
	loop, err := eventloop.New(nil)
	if err != nil {
		fmt.Printf("Failed to create loop: %v\n", err)
		return
	}
	defer loop.Close()

	_, _ = loop.ScheduleAfter(30*time.Millisecond, func() { fmt.Println("30ms") })
	_, _ = loop.ScheduleAfter(10*time.Millisecond, func() { fmt.Println("10ms (first)") })
	_, _ = loop.ScheduleAfter(10*time.Millisecond, func() { fmt.Println("10ms (second)") })
	cancelled, _ := loop.ScheduleAfter(20*time.Millisecond, func() { fmt.Println("cancelled") })
	cancelled.Cancel()
	_, _ = loop.ScheduleAfter(40*time.Millisecond, loop.Stop)

	if err := loop.RunForever(); err != nil {
		fmt.Printf("Run failed: %v\n", err)
	}

	// Output:
	// 10ms (first)
	// 10ms (second)
	// 30ms
}

// Example_runUntilComplete demonstrates running blocking work in another
// goroutine, and waiting for its result.
func Example_runUntilComplete() {
	loop, err := eventloop.New(nil)
	if err != nil {
		fmt.Printf("Failed to create loop: %v\n", err)
		return
	}
	defer loop.Close()

	f := loop.RunInExecutor(context.Background(), func(ctx context.Context) (any, error) {
		return 6 * 7, nil
	})

	result, err := loop.RunUntilComplete(f)
	fmt.Println(result, err)

	// Output:
	// 42 <nil>
}

// Example_nestedRun demonstrates a foreign main loop, run on the loop's
// context from within a callback. Stop only stops the innermost run.
func Example_nestedRun() {
	ctx, err := gmain.NewMainContext()
	if err != nil {
		fmt.Printf("Failed to create context: %v\n", err)
		return
	}
	defer ctx.Close()

	loop, err := eventloop.New(ctx)
	if err != nil {
		fmt.Printf("Failed to create loop: %v\n", err)
		return
	}
	defer loop.Close()

	_, _ = loop.ScheduleSoon(func() {
		fmt.Println("outer callback")
		_, _ = loop.ScheduleSoon(func() {
			fmt.Println("inner callback")
			loop.Stop()
		})
		_ = gmain.NewMainLoop(ctx, false).Run()
		fmt.Println("nested run returned, running:", loop.IsRunning())
		_, _ = loop.ScheduleSoon(loop.Stop)
	})

	_ = loop.RunForever()
	fmt.Println("running:", loop.IsRunning())

	// Output:
	// outer callback
	// inner callback
	// nested run returned, running: true
	// running: false
}
