//go:build linux || darwin

package eventloop

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/joeycumines/goroutineid"
	"go.uber.org/multierr"

	"github.com/joeycumines/go-glibloop/gmain"
	"github.com/joeycumines/go-glibloop/internal/logging"
)

// Policy maps main contexts to event loops, one loop per context, keyed on
// the context's identity ([gmain.MainContext.ID]).
//
// The loop for a goroutine is the loop of its thread-default main context.
// Only the main goroutine falls back to the process-wide default context.
//
// All methods are safe to call from any goroutine.
type Policy struct {
	logger        *logging.Logger
	loops         map[uint64]*Loop
	pushed        map[int64]*gmain.MainContext // goroutine ID to context pushed by SetEventLoop
	watcher       *ChildWatcher
	loopOptions   []LoopOption
	mainGoroutine int64
	mu            sync.Mutex
}

var defaultPolicy struct {
	sync.Mutex
	policy *Policy
}

// NewPolicy creates a policy. Unless [WithMainGoroutine] is given, the
// calling goroutine is the main goroutine.
func NewPolicy(opts ...PolicyOption) (*Policy, error) {
	cfg, err := resolvePolicyOptions(opts)
	if err != nil {
		return nil, err
	}
	if cfg.mainGoroutine == 0 {
		cfg.mainGoroutine = goroutineid.Get()
	}
	return &Policy{
		logger:        cfg.logger,
		loops:         make(map[uint64]*Loop),
		pushed:        make(map[int64]*gmain.MainContext),
		loopOptions:   cfg.loopOptions,
		mainGoroutine: cfg.mainGoroutine,
	}, nil
}

// DefaultPolicy returns the process-wide policy, creating it on first use,
// with the calling goroutine as the main goroutine. Programs should call it
// (or [SetDefaultPolicy]) early, from main.
func DefaultPolicy() *Policy {
	defaultPolicy.Lock()
	defer defaultPolicy.Unlock()
	if defaultPolicy.policy == nil {
		p, err := NewPolicy()
		if err != nil {
			panic(err) // unreachable without options
		}
		defaultPolicy.policy = p
	}
	return defaultPolicy.policy
}

// SetDefaultPolicy replaces the process-wide policy. A nil policy means a
// new one is created by the next [DefaultPolicy] call. The previous policy
// is not closed.
func SetDefaultPolicy(p *Policy) {
	defaultPolicy.Lock()
	defer defaultPolicy.Unlock()
	defaultPolicy.policy = p
}

// MainGoroutine returns the ID of the policy's main goroutine.
func (p *Policy) MainGoroutine() int64 {
	return p.mainGoroutine
}

// GetEventLoop returns the loop for the calling goroutine's thread-default
// main context, creating it if necessary. Without a thread-default context,
// the main goroutine uses [gmain.Default], and any other goroutine fails
// with [ErrNoMainContext].
func (p *Policy) GetEventLoop() (*Loop, error) {
	ctx := gmain.ThreadDefault()
	if ctx == nil {
		if goroutineid.Get() != p.mainGoroutine {
			return nil, ErrNoMainContext
		}
		ctx = gmain.Default()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loopForContextLocked(ctx)
}

func (p *Policy) loopForContextLocked(ctx *gmain.MainContext) (*Loop, error) {
	if l := p.loops[ctx.ID()]; l != nil && !l.IsClosed() {
		return l, nil
	}
	l, err := New(ctx, p.loopOptions...)
	if err != nil {
		return nil, err
	}
	p.loops[ctx.ID()] = l
	return l, nil
}

// SetEventLoop makes l the calling goroutine's loop, by pushing its context
// as the goroutine's thread-default context. It fails with
// [ErrThreadHasContext] if the goroutine already has one.
//
// SetEventLoop(nil) reverses a previous SetEventLoop on the same goroutine:
// it pops the pushed context, and forgets its loop. If the goroutine's
// thread-default context is not the one pushed, something else changed it,
// which is logged as a warning.
func (p *Policy) SetEventLoop(l *Loop) error {
	gid := goroutineid.Get()

	p.mu.Lock()
	defer p.mu.Unlock()

	if l == nil {
		ctx := p.pushed[gid]
		if ctx == nil {
			return nil
		}
		delete(p.pushed, gid)
		delete(p.loops, ctx.ID())
		if current := gmain.ThreadDefault(); current != ctx {
			p.logger.Warning().
				Int64(`goroutine`, gid).
				Uint64(`expected`, ctx.ID()).
				Uint64(`actual`, contextID(current)).
				Log(`eventloop: thread-default main context changed underneath the policy`)
		}
		if err := ctx.PopThreadDefault(); err != nil {
			p.logger.Warning().
				Int64(`goroutine`, gid).
				Uint64(`context`, ctx.ID()).
				Err(err).
				Log(`eventloop: failed to pop thread-default main context`)
		}
		return nil
	}

	if l.IsClosed() {
		return ErrLoopClosed
	}
	if gmain.ThreadDefault() != nil {
		return ErrThreadHasContext
	}

	ctx := l.Context()
	if existing := p.loops[ctx.ID()]; existing != nil && existing != l && !existing.IsClosed() {
		return &ValueError{Message: fmt.Sprintf("eventloop: main context %d already has an event loop", ctx.ID())}
	}

	ctx.PushThreadDefault()
	p.pushed[gid] = ctx
	p.loops[ctx.ID()] = l

	return nil
}

func contextID(ctx *gmain.MainContext) uint64 {
	if ctx == nil {
		return 0
	}
	return ctx.ID()
}

// NewEventLoop creates a loop with a new main context, without registering
// it.
func (p *Policy) NewEventLoop() (*Loop, error) {
	return New(nil, p.loopOptions...)
}

// GetChildWatcher returns the policy's child watcher, creating it on first
// use. When called from the main goroutine, the watcher is attached to the
// main goroutine's loop.
func (p *Policy) GetChildWatcher() (*ChildWatcher, error) {
	p.mu.Lock()
	if p.watcher == nil {
		p.watcher = NewChildWatcher(p.logger)
	}
	watcher := p.watcher
	p.mu.Unlock()

	if goroutineid.Get() == p.mainGoroutine {
		l, err := p.GetEventLoop()
		if err != nil {
			return nil, err
		}
		watcher.AttachLoop(l)
	}

	return watcher, nil
}

// SetChildWatcher replaces the policy's child watcher, closing the previous
// one.
func (p *Policy) SetChildWatcher(watcher *ChildWatcher) error {
	p.mu.Lock()
	old := p.watcher
	p.watcher = watcher
	p.mu.Unlock()
	if old != nil && old != watcher {
		return old.Close()
	}
	return nil
}

// Close closes the child watcher, and every registered loop that is not
// running, then empties the registry. Running loops are left to their
// runners, and reported as errors.
func (p *Policy) Close() error {
	p.mu.Lock()
	loops := slices.Collect(maps.Values(p.loops))
	clear(p.loops)
	watcher := p.watcher
	p.watcher = nil
	p.mu.Unlock()

	var err error
	if watcher != nil {
		err = multierr.Append(err, watcher.Close())
	}
	for _, l := range loops {
		err = multierr.Append(err, l.Close())
	}
	return err
}
