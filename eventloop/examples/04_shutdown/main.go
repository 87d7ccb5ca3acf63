//go:build linux || darwin

// Example: Shutdown Handling
//
// This example demonstrates proper shutdown patterns:
// - Stopping the loop on SIGINT or SIGTERM, via signal handlers
// - Stopping the loop from another goroutine
// - Closing the loop, once it has stopped
//
// Run with: go run ./eventloop/examples/04_shutdown/
// Then press Ctrl+C, or wait 5 seconds.
package main

import (
	"fmt"
	"syscall"
	"time"

	"github.com/joeycumines/go-glibloop/eventloop"
)

func main() {
	policy := eventloop.DefaultPolicy()
	defer policy.Close()

	loop, err := policy.GetEventLoop()
	if err != nil {
		panic(err)
	}

	for _, sig := range []syscall.Signal{syscall.SIGINT, syscall.SIGTERM} {
		if err := loop.AddSignalHandler(sig, func() {
			fmt.Printf("\nReceived %s, stopping\n", sig)
			loop.Stop()
		}); err != nil {
			panic(err)
		}
	}

	var ticks int
	var tick func()
	tick = func() {
		ticks++
		fmt.Printf("Tick %d\n", ticks)
		_, _ = loop.ScheduleAfter(time.Second, tick)
	}
	_, _ = loop.ScheduleSoon(tick)

	go func() {
		time.Sleep(5 * time.Second)
		fmt.Println("Timed out, stopping")
		loop.Stop()
	}()

	if err := loop.RunForever(); err != nil {
		panic(err)
	}

	for _, sig := range []syscall.Signal{syscall.SIGINT, syscall.SIGTERM} {
		loop.RemoveSignalHandler(sig)
	}
	fmt.Println("All done")
}
