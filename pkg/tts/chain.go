package tts

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
)

// Chain is a Provider that falls back through providers in order.
//
// Chain is sticky: after a fallback succeeds, later calls start at that
// provider, so a dead primary costs one failed request instead of one per
// sentence. Health resets the chain to the first healthy provider.
type Chain struct {
	providers []Provider
	current   atomic.Int32
	logger    *slog.Logger
}

// NewChain creates a chain over providers. At least one is required.
func NewChain(providers ...Provider) (*Chain, error) {
	return NewChainWithLogger(nil, providers...)
}

// NewChainWithLogger is NewChain with a logger. A nil logger means slog.Default.
func NewChainWithLogger(logger *slog.Logger, providers ...Provider) (*Chain, error) {
	if len(providers) == 0 {
		return nil, ErrProviderUnavailable
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		providers: providers,
		logger:    logger.With("component", "tts.chain"),
	}, nil
}

// Name returns "chain".
func (c *Chain) Name() string { return "chain" }

// Current returns the provider the next Synthesize starts with.
func (c *Chain) Current() Provider {
	return c.providers[c.current.Load()]
}

// Synthesize tries providers starting at the current one and wrapping around.
func (c *Chain) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	start := int(c.current.Load())
	n := len(c.providers)
	errs := make([]error, 0, n)

	for k := 0; k < n; k++ {
		i := (start + k) % n
		p := c.providers[i]
		result, err := p.Synthesize(ctx, text)
		if err == nil {
			if i != start {
				c.current.Store(int32(i))
				c.logger.Info("switched provider", "provider", p.Name(), "provider_index", i)
			}
			return result, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		errs = append(errs, err)
		c.logger.Warn("provider failed", "provider", p.Name(), "provider_index", i, "error", err)
	}
	return nil, &ChainError{Errors: errs}
}

// Health checks providers in order and makes the first healthy one current.
// It fails only when every provider is unhealthy.
func (c *Chain) Health(ctx context.Context) error {
	errs := make([]error, 0, len(c.providers))
	for i, p := range c.providers {
		err := p.Health(ctx)
		if err == nil {
			c.current.Store(int32(i))
			return nil
		}
		errs = append(errs, err)
	}
	return &ChainError{Errors: errs}
}

// Close closes every provider.
func (c *Chain) Close() error {
	var errs []error
	for _, p := range c.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Providers returns the chain's providers in priority order.
func (c *Chain) Providers() []Provider {
	return c.providers
}

var _ Provider = (*Chain)(nil)
