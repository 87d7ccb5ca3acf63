//go:build linux || darwin

package gmain

import (
	"errors"
)

// Standard errors.
var (
	// ErrContextClosed is returned when operating on a closed context.
	ErrContextClosed = errors.New("gmain: main context is closed")

	// ErrNotOwner is returned when a context is owned by another goroutine.
	ErrNotOwner = errors.New("gmain: main context is owned by another goroutine")

	// ErrNotThreadDefault is returned by PopThreadDefault when the context is
	// not the calling goroutine's current thread default.
	ErrNotThreadDefault = errors.New("gmain: main context is not the thread default")

	// ErrUnsupportedSignal is returned for signals that cannot be watched
	// using a unix signal source.
	ErrUnsupportedSignal = errors.New("gmain: unsupported signal")

	// ErrSourceDestroyed is returned when attaching a destroyed source.
	ErrSourceDestroyed = errors.New("gmain: source has been destroyed")

	// ErrSourceAttached is returned when attaching a source twice.
	ErrSourceAttached = errors.New("gmain: source is already attached")
)
