package isolate

import (
	"io"
	"log/slog"

	"github.com/dankurka/v8/pkg/handles"
)

// Option configures an Isolate.
type Option func(*config)

type config struct {
	logger   *slog.Logger
	debug    bool
	observer handles.GroupObserver
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

// WithLogger sets the logger shared by the isolate's heap and handle tables.
// Records carry an "isolate" attribute.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithDebugChecks enables handle table assertions.
func WithDebugChecks() Option {
	return func(c *config) {
		c.debug = true
	}
}

// WithGroupObserver reports every object group retained by a full
// collection, for example to a profile.RetainerProfile.
func WithGroupObserver(o handles.GroupObserver) Option {
	return func(c *config) {
		c.observer = o
	}
}
