//go:build linux || darwin

// Example: Basic Event Loop Usage
//
// This example demonstrates the fundamental usage of the event loop:
// - Creating a loop, with its own main context
// - Scheduling callbacks, from the loop and from other goroutines
// - Running the loop until a future is done
//
// Run with: go run ./eventloop/examples/01_basic_usage/
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/joeycumines/go-glibloop/eventloop"
)

func main() {
	loop, err := eventloop.New(nil)
	if err != nil {
		panic(err)
	}
	defer loop.Close()

	// Method 1: schedule a callback for the next iteration
	_, _ = loop.ScheduleSoon(func() {
		fmt.Println("Callback 1: runs in the first iteration")
	})

	// Method 2: schedule a timer
	_, _ = loop.ScheduleAfter(100*time.Millisecond, func() {
		fmt.Println("Timer: fires after 100ms")
	})

	// Method 3: schedule from another goroutine
	go func() {
		_, _ = loop.ScheduleSoonThreadsafe(func() {
			fmt.Println("Callback 2: scheduled from another goroutine")
		})
	}()

	// Method 4: run blocking work off the loop, resolving a future
	f := loop.RunInExecutor(context.Background(), func(ctx context.Context) (any, error) {
		time.Sleep(200 * time.Millisecond)
		return "executor result", nil
	})

	result, err := loop.RunUntilComplete(f)
	if err != nil {
		panic(err)
	}
	fmt.Printf("Future: %v\n", result)
}
