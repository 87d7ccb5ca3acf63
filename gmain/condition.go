//go:build linux || darwin

package gmain

import (
	"strings"

	"golang.org/x/sys/unix"
)

// IOCondition is a set of poll conditions, using the same bit values as
// GLib's GIOCondition.
type IOCondition uint32

const (
	// IOIn indicates there is data to read.
	IOIn IOCondition = 1 << iota
	// IOPri indicates there is urgent data to read.
	IOPri
	// IOOut indicates data can be written without blocking.
	IOOut
	// IOErr indicates an error condition.
	IOErr
	// IOHup indicates a hung up connection.
	IOHup
	// IONval indicates an invalid request (the fd is not open).
	IONval
)

// Source priorities. Lower values are dispatched first.
const (
	PriorityHigh        = -100
	PriorityDefault     = 0
	PriorityHighIdle    = 100
	PriorityDefaultIdle = 200
	PriorityLow         = 300
)

// Return values for [SourceFuncs.Dispatch] and source callbacks.
const (
	// SourceContinue keeps the source attached.
	SourceContinue = true
	// SourceRemove destroys the source.
	SourceRemove = false
)

func (x IOCondition) String() string {
	if x == 0 {
		return "0"
	}
	var parts []string
	for _, v := range [...]struct {
		c IOCondition
		s string
	}{
		{IOIn, "IN"},
		{IOPri, "PRI"},
		{IOOut, "OUT"},
		{IOErr, "ERR"},
		{IOHup, "HUP"},
		{IONval, "NVAL"},
	} {
		if x&v.c != 0 {
			parts = append(parts, v.s)
		}
	}
	return strings.Join(parts, "|")
}

func conditionToPoll(c IOCondition) int16 {
	var events int16
	if c&IOIn != 0 {
		events |= unix.POLLIN
	}
	if c&IOPri != 0 {
		events |= unix.POLLPRI
	}
	if c&IOOut != 0 {
		events |= unix.POLLOUT
	}
	return events
}

func pollToCondition(events int16) IOCondition {
	var c IOCondition
	if events&unix.POLLIN != 0 {
		c |= IOIn
	}
	if events&unix.POLLPRI != 0 {
		c |= IOPri
	}
	if events&unix.POLLOUT != 0 {
		c |= IOOut
	}
	if events&unix.POLLERR != 0 {
		c |= IOErr
	}
	if events&unix.POLLHUP != 0 {
		c |= IOHup
	}
	if events&unix.POLLNVAL != 0 {
		c |= IONval
	}
	return c
}
