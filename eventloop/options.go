//go:build linux || darwin

// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"fmt"
	"time"

	"github.com/joeycumines/go-glibloop/internal/logging"
)

// DefaultSlowCallbackDuration is the threshold above which, in debug mode,
// a callback is logged as slow.
const DefaultSlowCallbackDuration = 100 * time.Millisecond

// loopOptions holds configuration options for Loop creation.
type loopOptions struct {
	logger               *logging.Logger
	exceptionHandler     ExceptionHandler
	warningRates         map[time.Duration]int
	slowCallbackDuration time.Duration
	debug                bool
	metricsEnabled       bool
}

// --- Loop Options ---

// LoopOption configures a Loop instance.
type LoopOption interface {
	applyLoop(*loopOptions) error
}

// loopOptionImpl implements LoopOption.
type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) error {
	return l.applyLoopFunc(opts)
}

// WithLogger sets the structured logger used by the loop. The default writes
// JSON to os.Stderr, at warning level.
func WithLogger(logger *logging.Logger) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithExceptionHandler sets the initial exception handler, see
// [Loop.SetExceptionHandler].
func WithExceptionHandler(handler ExceptionHandler) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.exceptionHandler = handler
		return nil
	}}
}

// WithDebug enables debug mode, which logs callbacks that take longer than
// the slow callback duration, see [WithSlowCallbackDuration].
func WithDebug(enabled bool) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.debug = enabled
		return nil
	}}
}

// WithSlowCallbackDuration sets the debug mode slow callback threshold.
// Defaults to [DefaultSlowCallbackDuration].
func WithSlowCallbackDuration(d time.Duration) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if d <= 0 {
			return &ValueError{Message: fmt.Sprintf("eventloop: invalid slow callback duration: %s", d)}
		}
		opts.slowCallbackDuration = d
		return nil
	}}
}

// WithMetrics enables runtime metrics collection on the Loop.
// When enabled, metrics can be accessed via Loop.Metrics().
// This adds minimal overhead (e.g., record latency after each callback).
func WithMetrics(enabled bool) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// WithWarningRates configures the per-category rate limits applied to
// runtime warnings, e.g. the warning logged when the loop's context is
// iterated without the loop running. See catrate.NewLimiter for the
// semantics. Invalid rates are rejected with a [*ValueError].
func WithWarningRates(rates map[time.Duration]int) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if len(rates) == 0 {
			return &ValueError{Message: "eventloop: empty warning rates"}
		}
		opts.warningRates = rates
		return nil
	}}
}

// resolveLoopOptions applies LoopOption instances to loopOptions.
func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	cfg := &loopOptions{
		slowCallbackDuration: DefaultSlowCallbackDuration,
	}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.logger == nil {
		cfg.logger = logging.Default()
	}
	if cfg.warningRates == nil {
		cfg.warningRates = defaultWarningRates()
	}
	return cfg, nil
}

func defaultWarningRates() map[time.Duration]int {
	return map[time.Duration]int{
		time.Second: 1,
		time.Minute: 10,
	}
}

// --- Policy Options ---

// policyOptions holds configuration options for Policy creation.
type policyOptions struct {
	logger        *logging.Logger
	loopOptions   []LoopOption
	mainGoroutine int64
}

// PolicyOption configures a Policy instance.
type PolicyOption interface {
	applyPolicy(*policyOptions) error
}

// policyOptionImpl implements PolicyOption.
type policyOptionImpl struct {
	applyPolicyFunc func(*policyOptions) error
}

func (p *policyOptionImpl) applyPolicy(opts *policyOptions) error {
	return p.applyPolicyFunc(opts)
}

// WithPolicyLogger sets the structured logger used by the policy, and its
// child watcher.
func WithPolicyLogger(logger *logging.Logger) PolicyOption {
	return &policyOptionImpl{func(opts *policyOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithLoopOptions sets the options used for every loop the policy creates.
func WithLoopOptions(options ...LoopOption) PolicyOption {
	return &policyOptionImpl{func(opts *policyOptions) error {
		opts.loopOptions = append(opts.loopOptions, options...)
		return nil
	}}
}

// WithMainGoroutine designates the main goroutine, by ID (see
// [github.com/joeycumines/goroutineid.Get]). Only the main goroutine falls back to the default
// main context. Defaults to the goroutine calling NewPolicy.
func WithMainGoroutine(id int64) PolicyOption {
	return &policyOptionImpl{func(opts *policyOptions) error {
		if id <= 0 {
			return &ValueError{Message: fmt.Sprintf("eventloop: invalid main goroutine id: %d", id)}
		}
		opts.mainGoroutine = id
		return nil
	}}
}

// resolvePolicyOptions applies PolicyOption instances to policyOptions.
func resolvePolicyOptions(opts []PolicyOption) (*policyOptions, error) {
	cfg := &policyOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyPolicy(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.logger == nil {
		cfg.logger = logging.Default()
	}
	return cfg, nil
}
