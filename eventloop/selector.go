//go:build linux || darwin

package eventloop

import (
	"fmt"
	"maps"
	"slices"

	"github.com/joeycumines/go-glibloop/gmain"
)

// Events is a set of fd readiness interests.
type Events uint8

const (
	// EventRead indicates the fd is readable (or hung up).
	EventRead Events = 1 << iota
	// EventWrite indicates the fd is writable.
	EventWrite

	eventsMask = EventRead | EventWrite
)

func (e Events) String() string {
	switch e {
	case 0:
		return "0"
	case EventRead:
		return "READ"
	case EventWrite:
		return "WRITE"
	case EventRead | EventWrite:
		return "READ|WRITE"
	default:
		return fmt.Sprintf("Events(%d)", uint8(e))
	}
}

func (e Events) condition() gmain.IOCondition {
	var c gmain.IOCondition
	if e&EventRead != 0 {
		c |= gmain.IOIn | gmain.IOHup
	}
	if e&EventWrite != 0 {
		c |= gmain.IOOut
	}
	return c
}

func conditionEvents(c gmain.IOCondition) Events {
	var e Events
	if c&(gmain.IOIn|gmain.IOHup) != 0 {
		e |= EventRead
	}
	if c&gmain.IOOut != 0 {
		e |= EventWrite
	}
	return e
}

func validateEvents(events Events) error {
	if events == 0 || events&^eventsMask != 0 {
		return &ValueError{Message: fmt.Sprintf("eventloop: invalid events: %s", events)}
	}
	return nil
}

// SelectorKey is an fd registration. Keys stay valid across
// [Selector.Detach] and [Selector.Attach].
type SelectorKey struct {
	data   any
	tag    *gmain.FDTag
	fd     int
	events Events
}

// FD returns the registered file descriptor.
func (k *SelectorKey) FD() int { return k.fd }

// Events returns the registered interests.
func (k *SelectorKey) Events() Events { return k.events }

// Data returns the data associated with the registration.
func (k *SelectorKey) Data() any { return k.data }

// ReadyEvent pairs a key with the interests it was found ready for.
type ReadyEvent struct {
	Key    *SelectorKey
	Events Events
}

// Selector maps fd readiness onto unix fd subscriptions of a single gmain
// source. It never waits itself: the context's own poll has already
// happened by the time the source is checked. Owned by the loop goroutine.
type Selector struct {
	loop   *Loop
	source *gmain.Source
	keys   map[int]*SelectorKey
	ready  []ReadyEvent

	dispatching bool
	canRecurse  bool
}

// selectorSource implements gmain.SourceFuncs for a Selector.
type selectorSource struct {
	selector *Selector
}

func newSelector(loop *Loop) (*Selector, error) {
	s := &Selector{
		loop: loop,
		keys: make(map[int]*SelectorKey),
	}
	if err := s.Attach(); err != nil {
		return nil, err
	}
	return s, nil
}

func (x *selectorSource) Prepare(*gmain.Source) (bool, int) {
	// always false: fds are only queried in check
	return false, x.selector.loop.timeoutMillis()
}

func (x *selectorSource) Check(source *gmain.Source) bool {
	s := x.selector
	var ready []ReadyEvent
	for _, key := range s.sortedKeys() {
		if key.tag == nil {
			continue
		}
		if events := conditionEvents(source.QueryUnixFD(key.tag)) & key.events; events != 0 {
			ready = append(ready, ReadyEvent{Key: key, Events: events})
		}
	}
	s.ready = ready
	return len(ready) != 0 || s.loop.timeoutMillis() == 0
}

func (x *selectorSource) Dispatch(*gmain.Source, func() bool) bool {
	s := x.selector
	prev := s.dispatching
	s.dispatching = true
	defer func() { s.dispatching = prev }()
	s.loop.runOnce()
	return gmain.SourceContinue
}

// Register starts watching fd, returning the new key. It fails with a
// [*ValueError] if events is empty or contains unknown bits, or if fd is
// invalid or already registered.
func (s *Selector) Register(fd int, events Events, data any) (*SelectorKey, error) {
	if err := validateEvents(events); err != nil {
		return nil, err
	}
	if fd < 0 {
		return nil, &ValueError{Message: fmt.Sprintf("eventloop: invalid fd: %d", fd)}
	}
	if _, ok := s.keys[fd]; ok {
		return nil, &ValueError{Message: fmt.Sprintf("eventloop: fd %d is already registered", fd)}
	}
	key := &SelectorKey{fd: fd, events: events, data: data}
	if s.source != nil {
		key.tag = s.source.AddUnixFD(fd, events.condition())
	}
	s.keys[fd] = key
	return key, nil
}

// Unregister stops watching fd, returning the removed key, or false if fd
// was not registered.
func (s *Selector) Unregister(fd int) (*SelectorKey, bool) {
	key, ok := s.keys[fd]
	if !ok {
		return nil, false
	}
	delete(s.keys, fd)
	if key.tag != nil && s.source != nil {
		s.source.RemoveUnixFD(key.tag)
	}
	key.tag = nil
	return key, true
}

// Modify changes the interests and data of a registered fd.
func (s *Selector) Modify(fd int, events Events, data any) (*SelectorKey, error) {
	if err := validateEvents(events); err != nil {
		return nil, err
	}
	key, ok := s.keys[fd]
	if !ok {
		return nil, &ValueError{Message: fmt.Sprintf("eventloop: fd %d is not registered", fd)}
	}
	if key.events != events && key.tag != nil && s.source != nil {
		s.source.ModifyUnixFD(key.tag, events.condition())
	}
	key.events = events
	key.data = data
	return key, nil
}

// GetKey returns the key registered for fd.
func (s *Selector) GetKey(fd int) (*SelectorKey, bool) {
	key, ok := s.keys[fd]
	return key, ok
}

// Keys returns every registered key, ordered by fd.
func (s *Selector) Keys() []*SelectorKey {
	return s.sortedKeys()
}

func (s *Selector) sortedKeys() []*SelectorKey {
	return slices.SortedFunc(maps.Values(s.keys), func(a, b *SelectorKey) int {
		return a.fd - b.fd
	})
}

// Select returns the ready list staged by the most recent check of the
// selector's source. It may only be called while the source is being
// dispatched. Being dispatched while the loop is not running means the
// context was iterated outside of the nested-iteration protocol, which is
// logged as a (rate limited) warning.
func (s *Selector) Select() ([]ReadyEvent, error) {
	if !s.dispatching {
		return nil, ErrNotDispatching
	}
	if !s.loop.IsRunning() {
		s.loop.warn(`select-not-running`, `eventloop: main context iterated while the event loop is not running`)
	}
	ready := s.ready
	s.ready = nil
	return ready, nil
}

// IsDispatching reports whether the selector's source is being dispatched.
func (s *Selector) IsDispatching() bool {
	return s.dispatching
}

// Source returns the current gmain source, or nil if detached.
func (s *Selector) Source() *gmain.Source {
	return s.source
}

// Detach destroys the underlying source. Registrations are kept, and are
// resubscribed by [Selector.Attach].
func (s *Selector) Detach() {
	if s.source == nil {
		return
	}
	s.source.Destroy()
	s.source = nil
	s.ready = nil
	for _, key := range s.keys {
		key.tag = nil
	}
}

// Attach creates a fresh source, subscribes every registered fd, updating
// keys in place, and attaches it to the loop's context. It is a no-op if
// already attached.
func (s *Selector) Attach() error {
	if s.source != nil {
		return nil
	}
	source := gmain.NewSource(&selectorSource{selector: s})
	source.SetName(`eventloop selector`)
	source.SetCanRecurse(s.canRecurse)
	for _, key := range s.sortedKeys() {
		key.tag = source.AddUnixFD(key.fd, key.events.condition())
	}
	if _, err := source.Attach(s.loop.ctx); err != nil {
		for _, key := range s.keys {
			key.tag = nil
		}
		return err
	}
	s.source = source
	return nil
}

// Close detaches the selector, and drops every registration.
func (s *Selector) Close() {
	s.Detach()
	clear(s.keys)
}

func (s *Selector) setCanRecurse(canRecurse bool) {
	s.canRecurse = canRecurse
	if s.source != nil {
		s.source.SetCanRecurse(canRecurse)
	}
}
