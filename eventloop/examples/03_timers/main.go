//go:build linux || darwin

// Example: Timer Patterns
//
// This example demonstrates timer usage patterns:
// - Timers firing in due time order
// - Timer cancellation
// - Absolute timers, using the loop's clock
// - Debouncing
//
// Run with: go run ./eventloop/examples/03_timers/
package main

import (
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

	basicTimerExample(loop)
	cancellationExample(loop)
	absoluteTimerExample(loop)
	debounceExample(loop)

	_, _ = loop.ScheduleAfter(time.Second, loop.Stop)

	if err := loop.RunForever(); err != nil {
		panic(err)
	}
}

func basicTimerExample(loop *eventloop.Loop) {
	fmt.Println("\n=== Basic Timers ===")

	start := time.Now()

	// Order: B (50ms), A (100ms), C (150ms)
	_, _ = loop.ScheduleAfter(100*time.Millisecond, func() {
		fmt.Printf("Timer A: fired at %v\n", time.Since(start).Round(10*time.Millisecond))
	})
	_, _ = loop.ScheduleAfter(50*time.Millisecond, func() {
		fmt.Printf("Timer B: fired at %v\n", time.Since(start).Round(10*time.Millisecond))
	})
	_, _ = loop.ScheduleAfter(150*time.Millisecond, func() {
		fmt.Printf("Timer C: fired at %v\n", time.Since(start).Round(10*time.Millisecond))
	})
}

func cancellationExample(loop *eventloop.Loop) {
	fmt.Println("\n=== Timer Cancellation ===")

	timer, _ := loop.ScheduleAfter(300*time.Millisecond, func() {
		fmt.Println("This should NOT print")
	})

	_, _ = loop.ScheduleAfter(200*time.Millisecond, func() {
		timer.Cancel()
		fmt.Println("Cancelled the 300ms timer")
	})
}

func absoluteTimerExample(loop *eventloop.Loop) {
	fmt.Println("\n=== Absolute Timers ===")

	when := loop.Time() + 0.4
	_, _ = loop.ScheduleAt(when, func() {
		fmt.Printf("Absolute timer: due at %.3f, fired at %.3f\n", when, loop.Time())
	})
}

func debounceExample(loop *eventloop.Loop) {
	fmt.Println("\n=== Debounce ===")

	var pending *eventloop.TimerHandle
	debounced := func(value int) {
		if pending != nil {
			pending.Cancel()
		}
		pending, _ = loop.ScheduleAfter(100*time.Millisecond, func() {
			fmt.Printf("Debounced: %d\n", value)
		})
	}

	// only the last of a burst of calls fires
	for i := range 5 {
		_, _ = loop.ScheduleAfter(time.Duration(500+i*20)*time.Millisecond, func() {
			debounced(i)
		})
	}
}
