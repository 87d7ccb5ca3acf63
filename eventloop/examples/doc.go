// Package examples contains runnable example programs demonstrating
// the eventloop package functionality.
//
// # Examples
//
// The examples directory contains the following subdirectories:
//
//   - 01_basic_usage: Scheduling callbacks, and running until a future is done
//   - 02_nested: Sharing the main context with a nested (modal) main loop
//   - 03_timers: Timer ordering and cancellation
//   - 04_shutdown: Stopping on SIGINT or SIGTERM
//
// # Running Examples
//
// Each example can be run from the module root:
//
//	go run ./eventloop/examples/01_basic_usage/
//	go run ./eventloop/examples/02_nested/
//	go run ./eventloop/examples/03_timers/
//	go run ./eventloop/examples/04_shutdown/
package examples
