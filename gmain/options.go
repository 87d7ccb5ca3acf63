//go:build linux || darwin

package gmain

import (
	"github.com/benbjohnson/clock"

	"github.com/joeycumines/go-glibloop/internal/logging"
)

// contextOptions holds configuration options for MainContext creation.
type contextOptions struct {
	clock  clock.Clock
	logger *logging.Logger
}

// Option configures a MainContext instance.
type Option interface {
	applyContext(*contextOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyContextFunc func(*contextOptions) error
}

func (o *optionImpl) applyContext(opts *contextOptions) error {
	return o.applyContextFunc(opts)
}

// WithClock sets the clock used by [MainContext.Time], and therefore by
// ready times and every timeout derived from them. The default is the
// system's monotonic clock. Mock clocks are primarily useful for tests.
func WithClock(c clock.Clock) Option {
	return &optionImpl{func(opts *contextOptions) error {
		opts.clock = c
		return nil
	}}
}

// WithLogger sets the structured logger, used to report poll failures and
// misbehaving sources. A nil logger restores the default.
func WithLogger(logger *logging.Logger) Option {
	return &optionImpl{func(opts *contextOptions) error {
		opts.logger = logger
		return nil
	}}
}

// resolveOptions applies Option instances to contextOptions.
func resolveOptions(opts []Option) (*contextOptions, error) {
	cfg := &contextOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyContext(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.clock == nil {
		cfg.clock = clock.New()
	}
	if cfg.logger == nil {
		cfg.logger = logging.Default()
	}
	return cfg, nil
}
