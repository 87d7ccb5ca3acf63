//go:build linux || darwin

// Example: Nested Main Loops
//
// This example demonstrates sharing a main context between the event loop
// and other code driving it directly, e.g. a toolkit running a modal
// dialog:
// - A foreign gmain.MainLoop, run from within a callback
// - Callbacks continuing to run during the nested run
// - Stop, affecting only the innermost run
//
// Run with: go run ./eventloop/examples/02_nested/
package main

import (
	"fmt"
	"time"

	"github.com/joeycumines/go-glibloop/eventloop"
	"github.com/joeycumines/go-glibloop/gmain"
)

func main() {
	ctx, err := gmain.NewMainContext()
	if err != nil {
		panic(err)
	}
	defer ctx.Close()

	loop, err := eventloop.New(ctx)
	if err != nil {
		panic(err)
	}
	defer loop.Close()

	_, _ = loop.ScheduleSoon(func() {
		fmt.Println("Outer: opening the modal")

		modal := gmain.NewMainLoop(ctx, false)

		_, _ = loop.ScheduleAfter(50*time.Millisecond, func() {
			fmt.Println("Inner: timers still fire during the modal")
		})
		_, _ = loop.ScheduleAfter(100*time.Millisecond, func() {
			fmt.Println("Inner: closing the modal")
			loop.Stop()
		})

		if err := modal.Run(); err != nil {
			panic(err)
		}

		fmt.Println("Outer: modal closed, loop still running")
		_, _ = loop.ScheduleSoon(loop.Stop)
	})

	if err := loop.RunForever(); err != nil {
		panic(err)
	}
	fmt.Println("Done")
}
