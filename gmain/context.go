//go:build linux || darwin

package gmain

import (
	"errors"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/benbjohnson/clock"
	"github.com/joeycumines/goroutineid"
	"golang.org/x/sys/unix"

	"github.com/joeycumines/go-glibloop/internal/logging"
)

// RunHook observes [MainLoop.Run] calls for a context. It is called on the
// running goroutine, after the context has been acquired, and before the
// first iteration. The returned exit function (if non-nil) is called once the
// run finishes, in LIFO order with respect to nested runs.
type RunHook func(loop *MainLoop) (exit func())

// MainContext is the event demultiplexer that sources attach to.
//
// Identity is [MainContext.ID], which is unique for the life of the process.
type MainContext struct { // betteralign:ignore
	// Prevent copying
	_ [0]func()

	clock  clock.Clock
	anchor time.Time
	logger *logging.Logger

	runHook atomic.Pointer[RunHook]

	// mu guards sources and nextSourceID
	mu           sync.Mutex
	sources      []*Source // sorted by priority, then ID
	nextSourceID uint

	id uint64

	// owner is the goroutine ID of the current owner, 0 if none
	owner      atomic.Int64
	ownerCount int // only touched by the owner

	// Wake-up mechanism. wakeMu is held (shared) by writers of
	// wakePipeWrite, and exclusively while closing the descriptors.
	wakeMu        sync.RWMutex
	wakePipe      int
	wakePipeWrite int
	wakeBuf       [8]byte
	wakePending   atomic.Uint32

	closed atomic.Bool
}

var (
	contextIDCounter atomic.Uint64

	// processAnchor is the shared origin for contexts using the system clock,
	// so that their times are comparable.
	processAnchor = time.Now()

	defaultContext struct {
		once sync.Once
		ctx  *MainContext
	}

	// threadDefaults maps goroutine ID to a stack of pushed contexts
	threadDefaults struct {
		sync.Mutex
		stacks map[int64][]*MainContext
	}
)

// NewMainContext creates a new main context.
func NewMainContext(opts ...Option) (*MainContext, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	wakeFd, wakeWriteFd, err := createWakeFd()
	if err != nil {
		return nil, err
	}

	c := &MainContext{
		id:            contextIDCounter.Add(1),
		clock:         cfg.clock,
		logger:        cfg.logger,
		wakePipe:      wakeFd,
		wakePipeWrite: wakeWriteFd,
		nextSourceID:  1,
	}

	if _, ok := cfg.clock.(*clock.Mock); ok {
		c.anchor = cfg.clock.Now()
	} else {
		c.anchor = processAnchor
	}

	return c, nil
}

// Default returns the process-wide default context, creating it on first
// use. It panics if the context cannot be created, which only happens when
// the process has run out of file descriptors.
func Default() *MainContext {
	defaultContext.once.Do(func() {
		c, err := NewMainContext()
		if err != nil {
			panic(errors.Join(errors.New("gmain: failed to create default main context"), err))
		}
		defaultContext.ctx = c
	})
	return defaultContext.ctx
}

// ThreadDefault returns the calling goroutine's current thread-default
// context, or nil if none has been pushed. A nil result implies the use of
// [Default], for callers that want the "implicit" context.
func ThreadDefault() *MainContext {
	gid := goroutineid.Get()
	threadDefaults.Lock()
	defer threadDefaults.Unlock()
	if stack := threadDefaults.stacks[gid]; len(stack) != 0 {
		return stack[len(stack)-1]
	}
	return nil
}

// RefThreadDefault returns [ThreadDefault], falling back to [Default].
func RefThreadDefault() *MainContext {
	if c := ThreadDefault(); c != nil {
		return c
	}
	return Default()
}

// PushThreadDefault makes c the thread-default context of the calling
// goroutine, until a matching [MainContext.PopThreadDefault].
func (c *MainContext) PushThreadDefault() {
	gid := goroutineid.Get()
	threadDefaults.Lock()
	defer threadDefaults.Unlock()
	if threadDefaults.stacks == nil {
		threadDefaults.stacks = make(map[int64][]*MainContext)
	}
	threadDefaults.stacks[gid] = append(threadDefaults.stacks[gid], c)
}

// PopThreadDefault reverses a [MainContext.PushThreadDefault]. The context
// must be the calling goroutine's current thread default.
func (c *MainContext) PopThreadDefault() error {
	gid := goroutineid.Get()
	threadDefaults.Lock()
	defer threadDefaults.Unlock()
	stack := threadDefaults.stacks[gid]
	if len(stack) == 0 || stack[len(stack)-1] != c {
		return ErrNotThreadDefault
	}
	stack[len(stack)-1] = nil
	stack = stack[:len(stack)-1]
	if len(stack) == 0 {
		delete(threadDefaults.stacks, gid)
	} else {
		threadDefaults.stacks[gid] = stack
	}
	return nil
}

// ID returns the unique identity of the context.
func (c *MainContext) ID() uint64 {
	return c.id
}

// Time returns the context's monotonic time, in microseconds.
func (c *MainContext) Time() int64 {
	return c.clock.Now().Sub(c.anchor).Microseconds()
}

// Clock returns the clock backing [MainContext.Time].
func (c *MainContext) Clock() clock.Clock {
	return c.clock
}

// Logger returns the context's structured logger.
func (c *MainContext) Logger() *logging.Logger {
	return c.logger
}

// SetRunHook installs (or, with nil, removes) the hook invoked by every
// [MainLoop.Run] bound to this context.
func (c *MainContext) SetRunHook(hook RunHook) {
	if hook == nil {
		c.runHook.Store(nil)
		return
	}
	c.runHook.Store(&hook)
}

// Acquire attempts to become the owner of the context. Ownership is
// recursive. It returns false if another goroutine owns the context.
func (c *MainContext) Acquire() bool {
	gid := goroutineid.Get()
	for {
		current := c.owner.Load()
		if current == gid {
			c.ownerCount++
			return true
		}
		if current != 0 {
			return false
		}
		if c.owner.CompareAndSwap(0, gid) {
			c.ownerCount = 1
			return true
		}
	}
}

// Release undoes one [MainContext.Acquire]. It is a no-op if the calling
// goroutine is not the owner.
func (c *MainContext) Release() {
	if c.owner.Load() != goroutineid.Get() {
		return
	}
	c.ownerCount--
	if c.ownerCount <= 0 {
		c.ownerCount = 0
		c.owner.Store(0)
	}
}

// IsOwner reports whether the calling goroutine owns the context.
func (c *MainContext) IsOwner() bool {
	return c.owner.Load() == goroutineid.Get()
}

// IsClosed reports whether [MainContext.Close] has been called.
func (c *MainContext) IsClosed() bool {
	return c.closed.Load()
}

// Wakeup interrupts a blocking poll, if any. Safe to call from any
// goroutine, including after Close (in which case it is a no-op).
func (c *MainContext) Wakeup() {
	c.wakeMu.RLock()
	defer c.wakeMu.RUnlock()
	if c.closed.Load() {
		return
	}
	if !c.wakePending.CompareAndSwap(0, 1) {
		return
	}
	var one uint64 = 1
	buf := (*[8]byte)(unsafe.Pointer(&one))[:]
	if _, err := unix.Write(c.wakePipeWrite, buf); err != nil && err != unix.EAGAIN {
		c.wakePending.Store(0)
	}
}

func (c *MainContext) drainWakeUpPipe() {
	for {
		_, err := unix.Read(c.wakePipe, c.wakeBuf[:])
		if err != nil {
			break
		}
	}
	c.wakePending.Store(0)
}

// FindSourceByID returns the attached source with the given ID, or nil.
func (c *MainContext) FindSourceByID(id uint) *Source {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.sources {
		if s.id == id {
			return s
		}
	}
	return nil
}

// Pending reports whether any source is ready, without blocking or
// dispatching. It requires (and implicitly takes) ownership.
func (c *MainContext) Pending() bool {
	if !c.Acquire() {
		return false
	}
	defer c.Release()
	return len(c.collect(false)) != 0
}

// Iteration runs a single iteration of the context. If mayBlock is true, and
// no source is ready, it blocks until one becomes ready. It returns true if
// any source was dispatched. It returns false without doing anything if the
// context is owned by another goroutine, or is closed.
func (c *MainContext) Iteration(mayBlock bool) bool {
	if !c.Acquire() {
		return false
	}
	defer c.Release()
	return c.iterate(mayBlock)
}

// Close destroys every attached source and releases the wake-up descriptor.
// Closing is idempotent.
func (c *MainContext) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	sources := slices.Clone(c.sources)
	c.mu.Unlock()
	for _, s := range sources {
		s.Destroy()
	}

	c.SetRunHook(nil)

	c.wakeMu.Lock()
	defer c.wakeMu.Unlock()
	err := unix.Close(c.wakePipe)
	if c.wakePipeWrite != c.wakePipe {
		if e := unix.Close(c.wakePipeWrite); err == nil {
			err = e
		}
	}
	return err
}

func (c *MainContext) iterate(block bool) bool {
	ready := c.collect(block)
	for _, s := range ready {
		c.dispatchSource(s)
	}
	return len(ready) != 0
}

// collect runs prepare, query, poll and check, returning the sources that
// must be dispatched, in priority order.
func (c *MainContext) collect(block bool) []*Source {
	if c.closed.Load() {
		return nil
	}

	sources := c.snapshot()

	// prepare
	var (
		now         = c.Time()
		maxPriority = math.MaxInt
		timeout     = -1
		nready      int
	)
	for _, s := range sources {
		if !s.usable() {
			continue
		}
		if nready > 0 && s.priority > maxPriority {
			break
		}

		var (
			ready bool
			t     = -1
		)
		if rt := s.readyTime.Load(); rt >= 0 && rt <= now {
			ready = true
		} else {
			ready, t = s.funcs.Prepare(s)
			if !ready && rt >= 0 {
				t = minTimeout(t, ceilMillis(rt-now))
			}
		}

		if ready {
			s.ready = true
			nready++
			maxPriority = s.priority
			timeout = 0
		} else {
			timeout = minTimeout(timeout, t)
		}
	}

	// query
	fds := []unix.PollFd{{Fd: int32(c.wakePipe), Events: unix.POLLIN}}
	var tags []*FDTag
	for _, s := range sources {
		if s.priority > maxPriority {
			break
		}
		if !s.usable() {
			continue
		}
		for _, tag := range s.fds {
			tag.revents = 0
			fds = append(fds, unix.PollFd{Fd: int32(tag.fd), Events: conditionToPoll(tag.events)})
			tags = append(tags, tag)
		}
	}

	if !block || nready > 0 {
		timeout = 0
	}

	// poll
	if err := poll(fds, timeout); err != nil {
		c.logger.Err().
			Err(err).
			Uint64(`context`, c.id).
			Log(`gmain: poll failed`)
	}
	if fds[0].Revents != 0 {
		c.drainWakeUpPipe()
	}
	for i, tag := range tags {
		tag.revents = pollToCondition(fds[i+1].Revents)
	}

	// check
	now = c.Time()
	for _, s := range sources {
		if nready > 0 && s.priority > maxPriority {
			break
		}
		if !s.usable() || s.ready {
			continue
		}

		result := s.funcs.Check(s)
		if !result {
			for _, tag := range s.fds {
				if tag.revents != 0 {
					result = true
					break
				}
			}
		}
		if rt := s.readyTime.Load(); !result && rt >= 0 && rt <= now {
			result = true
		}

		if result {
			s.ready = true
			nready++
			if s.priority < maxPriority {
				maxPriority = s.priority
			}
		}
	}

	var ready []*Source
	for _, s := range sources {
		if !s.ready {
			continue
		}
		s.ready = false
		if s.priority <= maxPriority && !s.destroyed.Load() {
			ready = append(ready, s)
		}
	}
	return ready
}

func (c *MainContext) dispatchSource(s *Source) {
	if s.destroyed.Load() || !s.usable() {
		return
	}
	keep := func() bool {
		s.inCall++
		defer func() { s.inCall-- }()
		return s.funcs.Dispatch(s, s.callback)
	}()
	if !keep {
		s.Destroy()
	}
}

func (c *MainContext) snapshot() []*Source {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.sources)
}

func (c *MainContext) attach(s *Source) (uint, error) {
	if c.closed.Load() {
		return 0, ErrContextClosed
	}
	c.mu.Lock()
	id := c.nextSourceID
	c.nextSourceID++
	s.id = id
	c.insertLocked(s)
	c.mu.Unlock()
	c.Wakeup()
	return id, nil
}

func (c *MainContext) insertLocked(s *Source) {
	i, _ := slices.BinarySearchFunc(c.sources, s, compareSources)
	c.sources = slices.Insert(c.sources, i, s)
}

func (c *MainContext) remove(s *Source) {
	c.mu.Lock()
	if i := slices.Index(c.sources, s); i >= 0 {
		c.sources = slices.Delete(c.sources, i, i+1)
	}
	c.mu.Unlock()
	c.Wakeup()
}

func (c *MainContext) reprioritize(s *Source, priority int) {
	c.mu.Lock()
	if i := slices.Index(c.sources, s); i >= 0 {
		c.sources = slices.Delete(c.sources, i, i+1)
		s.priority = priority
		c.insertLocked(s)
	} else {
		s.priority = priority
	}
	c.mu.Unlock()
	c.Wakeup()
}

func compareSources(a, b *Source) int {
	switch {
	case a.priority < b.priority:
		return -1
	case a.priority > b.priority:
		return 1
	case a.id < b.id:
		return -1
	case a.id > b.id:
		return 1
	default:
		return 0
	}
}

// minTimeout combines poll timeouts, where negative means infinite.
func minTimeout(a, b int) int {
	switch {
	case a < 0:
		return b
	case b < 0:
		return a
	default:
		return min(a, b)
	}
}

// ceilMillis converts microseconds to milliseconds, rounding up.
func ceilMillis(us int64) int {
	if us <= 0 {
		return 0
	}
	ms := (us + 999) / 1000
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(ms)
}
