package handles

import (
	"io"
	"log/slog"
)

// Option configures a GlobalHandles or EternalHandles table.
type Option func(*config)

type config struct {
	logger         *slog.Logger
	debug          bool
	retainDeferred bool
	observer       GroupObserver
}

func newConfig(opts []Option) config {
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return cfg
}

// WithLogger sets the structured logger. Tables log at debug level only.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithDebugChecks turns on state-transition assertions, use-after-destroy
// detection and block verification after every full collection. Violations
// panic.
func WithDebugChecks() Option {
	return func(c *config) {
		c.debug = true
	}
}

// WithRetainDeferredGroups keeps fully skippable object groups, and implicit
// reference groups whose parent is not yet reachable, for the next call in the
// same trace. EndTrace still clears everything. Collectors that iterate groups
// to a marking fixed point need this; without it every iteration consumes the
// whole registry.
func WithRetainDeferredGroups() Option {
	return func(c *config) {
		c.retainDeferred = true
	}
}

// WithGroupObserver registers an observer notified of every retained group.
func WithGroupObserver(o GroupObserver) Option {
	return func(c *config) {
		c.observer = o
	}
}
