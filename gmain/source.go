//go:build linux || darwin

package gmain

import (
	"slices"
	"sync"
	"sync/atomic"
)

// SourceFuncs implements the behavior of a [Source].
//
// All three methods are called by the goroutine iterating the source's
// context, and never concurrently with each other.
type SourceFuncs interface {
	// Prepare is called before polling. It returns true if the source is
	// already ready to dispatch, otherwise the maximum number of milliseconds
	// to wait (negative means no limit).
	Prepare(source *Source) (ready bool, timeoutMs int)

	// Check is called after polling, and returns true if the source should
	// be dispatched. Observed fd conditions are available via
	// [Source.QueryUnixFD].
	Check(source *Source) bool

	// Dispatch handles the ready source. The callback is whatever was set via
	// [Source.SetCallback] (possibly nil). The return value is
	// [SourceContinue] or [SourceRemove].
	Dispatch(source *Source, callback func() bool) bool
}

// SourceFinalizer may be implemented by a [SourceFuncs] implementation, to
// release resources once the source is destroyed.
type SourceFinalizer interface {
	Finalize(source *Source)
}

// FDTag is a unix file descriptor subscription, added to a source using
// [Source.AddUnixFD].
type FDTag struct {
	fd      int
	events  IOCondition
	revents IOCondition
}

// FD returns the subscribed file descriptor.
func (x *FDTag) FD() int { return x.fd }

// Events returns the requested conditions.
func (x *FDTag) Events() IOCondition { return x.events }

// Source is a pluggable unit of event readiness, attached to at most one
// [MainContext].
type Source struct { // betteralign:ignore
	// Prevent copying
	_ [0]func()

	funcs    SourceFuncs
	ctx      atomic.Pointer[MainContext]
	callback func() bool
	name     string
	fds      []*FDTag

	id         uint
	priority   int
	inCall     int
	canRecurse bool
	ready      bool

	readyTime   atomic.Int64
	destroyOnce sync.Once
	destroyed   atomic.Bool
}

// NewSource creates a new, unattached source, with [PriorityDefault] and no
// ready time.
func NewSource(funcs SourceFuncs) *Source {
	if funcs == nil {
		panic("gmain: nil source funcs")
	}
	s := &Source{
		funcs:    funcs,
		priority: PriorityDefault,
	}
	s.readyTime.Store(-1)
	return s
}

// Attach adds the source to a context, returning its ID (unique within the
// context).
func (s *Source) Attach(ctx *MainContext) (uint, error) {
	if s.destroyed.Load() {
		return 0, ErrSourceDestroyed
	}
	if !s.ctx.CompareAndSwap(nil, ctx) {
		return 0, ErrSourceAttached
	}
	id, err := ctx.attach(s)
	if err != nil {
		s.ctx.Store(nil)
		return 0, err
	}
	return id, nil
}

// Destroy removes the source from its context, and finalizes it. Destroying
// a source is idempotent, and safe from any goroutine.
func (s *Source) Destroy() {
	s.destroyOnce.Do(func() {
		s.destroyed.Store(true)
		if ctx := s.ctx.Load(); ctx != nil {
			ctx.remove(s)
		}
		if f, ok := s.funcs.(SourceFinalizer); ok {
			f.Finalize(s)
		}
	})
}

// IsDestroyed reports whether [Source.Destroy] has been called.
func (s *Source) IsDestroyed() bool {
	return s.destroyed.Load()
}

// Context returns the context the source is attached to, or nil.
func (s *Source) Context() *MainContext {
	return s.ctx.Load()
}

// ID returns the ID assigned by [Source.Attach], or 0.
func (s *Source) ID() uint {
	if s.ctx.Load() == nil {
		return 0
	}
	return s.id
}

// Funcs returns the source's behavior.
func (s *Source) Funcs() SourceFuncs {
	return s.funcs
}

// SetName sets a name, for debugging.
func (s *Source) SetName(name string) { s.name = name }

// Name returns the name set by [Source.SetName].
func (s *Source) Name() string { return s.name }

// Priority returns the source's priority.
func (s *Source) Priority() int {
	if ctx := s.ctx.Load(); ctx != nil {
		ctx.mu.Lock()
		defer ctx.mu.Unlock()
	}
	return s.priority
}

// SetPriority changes the source's priority. Lower values are dispatched
// first.
func (s *Source) SetPriority(priority int) {
	if ctx := s.ctx.Load(); ctx != nil {
		ctx.reprioritize(s, priority)
		return
	}
	s.priority = priority
}

// SetCallback sets the callback passed to [SourceFuncs.Dispatch].
func (s *Source) SetCallback(callback func() bool) {
	s.callback = callback
}

// SetCanRecurse controls whether the source may be prepared, checked and
// dispatched by a nested iteration of its context while it is already being
// dispatched. It defaults to false.
func (s *Source) SetCanRecurse(canRecurse bool) {
	s.canRecurse = canRecurse
}

// CanRecurse returns the value set by [Source.SetCanRecurse].
func (s *Source) CanRecurse() bool {
	return s.canRecurse
}

// IsDispatching reports whether the source is currently being dispatched,
// i.e. whether the calling code is (transitively) inside its Dispatch.
func (s *Source) IsDispatching() bool {
	return s.inCall > 0
}

// SetReadyTime sets the monotonic time (see [MainContext.Time]) at which
// the source becomes ready, regardless of its funcs. Negative disables.
// Safe to call from any goroutine.
func (s *Source) SetReadyTime(readyTime int64) {
	if readyTime < 0 {
		readyTime = -1
	}
	if s.readyTime.Swap(readyTime) == readyTime {
		return
	}
	if ctx := s.ctx.Load(); ctx != nil && !ctx.IsOwner() {
		ctx.Wakeup()
	}
}

// ReadyTime returns the value set by [Source.SetReadyTime].
func (s *Source) ReadyTime() int64 {
	return s.readyTime.Load()
}

// Time returns the monotonic time of the source's context, or 0 if it is
// not attached.
func (s *Source) Time() int64 {
	if ctx := s.ctx.Load(); ctx != nil {
		return ctx.Time()
	}
	return 0
}

// AddUnixFD subscribes the source to the given conditions on fd. The
// returned tag identifies the subscription.
func (s *Source) AddUnixFD(fd int, events IOCondition) *FDTag {
	tag := &FDTag{fd: fd, events: events}
	s.fds = append(s.fds, tag)
	if ctx := s.ctx.Load(); ctx != nil && !ctx.IsOwner() {
		ctx.Wakeup()
	}
	return tag
}

// ModifyUnixFD changes the conditions of an existing subscription.
func (s *Source) ModifyUnixFD(tag *FDTag, events IOCondition) {
	tag.events = events
	if ctx := s.ctx.Load(); ctx != nil && !ctx.IsOwner() {
		ctx.Wakeup()
	}
}

// RemoveUnixFD removes a subscription. Unknown tags are ignored.
func (s *Source) RemoveUnixFD(tag *FDTag) {
	if i := slices.Index(s.fds, tag); i >= 0 {
		s.fds = slices.Delete(s.fds, i, i+1)
		tag.revents = 0
	}
}

// QueryUnixFD returns the conditions observed for the subscription, by the
// most recent poll. It is only meaningful within Check or Dispatch.
func (s *Source) QueryUnixFD(tag *FDTag) IOCondition {
	return tag.revents
}

// UnixFDs returns the source's current subscriptions.
func (s *Source) UnixFDs() []*FDTag {
	return slices.Clone(s.fds)
}

func (s *Source) usable() bool {
	return !s.destroyed.Load() && (s.inCall == 0 || s.canRecurse)
}
