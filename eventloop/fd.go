//go:build linux || darwin

package eventloop

import (
	"fmt"
)

// FDCallback may be used as the data of [Loop.RegisterFD], in which case it
// is scheduled (as a callback) each iteration the fd is ready.
type FDCallback func(fd int, events Events)

// ioHandlers is the registration data used by the reader and writer API.
type ioHandlers struct {
	reader *Handle
	writer *Handle
}

// RegisterFD watches fd for events, readable mapping to the IN and HUP
// conditions, and writable to OUT. It fails with a [*ValueError] if events
// is empty or contains bits other than [EventRead] and [EventWrite].
//
// Readiness is level triggered: the fd stays registered, and is reported
// each iteration it is ready. If data is an [FDCallback], it is scheduled
// each time.
func (l *Loop) RegisterFD(fd int, events Events, data any) (*SelectorKey, error) {
	if l.state.IsClosed() {
		return nil, ErrLoopClosed
	}
	return l.selector.Register(fd, events, data)
}

// UnregisterFD stops watching fd, returning false if it was not registered.
func (l *Loop) UnregisterFD(fd int) bool {
	_, ok := l.selector.Unregister(fd)
	return ok
}

// ModifyFD changes the events and data of a registered fd.
func (l *Loop) ModifyFD(fd int, events Events, data any) (*SelectorKey, error) {
	if l.state.IsClosed() {
		return nil, ErrLoopClosed
	}
	return l.selector.Modify(fd, events, data)
}

// AddReader calls fn each iteration fd is readable, replacing any reader
// already added for fd.
func (l *Loop) AddReader(fd int, fn func()) (*Handle, error) {
	return l.addHandler(fd, EventRead, fn)
}

// RemoveReader removes the reader for fd, returning false if there was none.
func (l *Loop) RemoveReader(fd int) bool {
	return l.removeHandler(fd, EventRead)
}

// AddWriter calls fn each iteration fd is writable, replacing any writer
// already added for fd.
func (l *Loop) AddWriter(fd int, fn func()) (*Handle, error) {
	return l.addHandler(fd, EventWrite, fn)
}

// RemoveWriter removes the writer for fd, returning false if there was none.
func (l *Loop) RemoveWriter(fd int) bool {
	return l.removeHandler(fd, EventWrite)
}

func (l *Loop) addHandler(fd int, event Events, fn func()) (*Handle, error) {
	if err := l.checkSchedule(fn); err != nil {
		return nil, err
	}

	h := &Handle{loop: l, callback: fn}

	key, ok := l.selector.GetKey(fd)
	if !ok {
		data := &ioHandlers{}
		data.set(event, h)
		if _, err := l.selector.Register(fd, event, data); err != nil {
			return nil, err
		}
		return h, nil
	}

	data, ok := key.data.(*ioHandlers)
	if !ok {
		return nil, &ValueError{Message: fmt.Sprintf("eventloop: fd %d is registered with foreign data", fd)}
	}
	if _, err := l.selector.Modify(fd, key.events|event, data); err != nil {
		return nil, err
	}
	if old := data.set(event, h); old != nil {
		old.Cancel()
	}
	return h, nil
}

func (l *Loop) removeHandler(fd int, event Events) bool {
	key, ok := l.selector.GetKey(fd)
	if !ok {
		return false
	}
	data, ok := key.data.(*ioHandlers)
	if !ok {
		return false
	}

	old := data.set(event, nil)

	if events := key.events &^ event; events == 0 {
		l.selector.Unregister(fd)
	} else if _, err := l.selector.Modify(fd, events, data); err != nil {
		l.logger.Err().
			Uint64(`loop`, l.id).
			Int(`fd`, fd).
			Err(err).
			Log(`eventloop: failed to modify fd registration`)
	}

	if old == nil {
		return false
	}
	old.Cancel()
	return true
}

// set replaces the handler for event, returning the previous one.
func (x *ioHandlers) set(event Events, h *Handle) (old *Handle) {
	if event == EventRead {
		old, x.reader = x.reader, h
	} else {
		old, x.writer = x.writer, h
	}
	return old
}
