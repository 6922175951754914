package heap

import (
	"io"
	"log/slog"
)

// Option configures a Heap.
type Option func(*config)

type config struct {
	logger *slog.Logger
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

// WithLogger sets the structured logger used for collection summaries.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}
