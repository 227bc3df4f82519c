package inference

import (
	"context"
	"log/slog"
)

// Chain tries multiple providers in order until one succeeds.
type Chain struct {
	providers []Provider
	logger    *slog.Logger
}

// NewChain creates a provider chain.
// At least one provider is required.
func NewChain(providers ...Provider) (*Chain, error) {
	return NewChainWithLogger(slog.Default(), providers...)
}

// NewChainWithLogger creates a provider chain with a custom logger.
func NewChainWithLogger(logger *slog.Logger, providers ...Provider) (*Chain, error) {
	if len(providers) == 0 {
		return nil, ErrProviderUnavailable
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		providers: providers,
		logger:    logger.With("component", "inference.chain"),
	}, nil
}

// Name returns "chain".
func (c *Chain) Name() string { return "chain" }

// Chat tries each provider until one succeeds.
func (c *Chain) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return first(ctx, c, "chat", func(p Provider) (*ChatResponse, error) {
		return p.Chat(ctx, req)
	})
}

// Stream tries each provider until one opens a stream. Failures after the
// stream is open are not retried on another provider, since fragments may
// already have been delivered.
func (c *Chain) Stream(ctx context.Context, req *ChatRequest) (Stream, error) {
	return first(ctx, c, "stream", func(p Provider) (Stream, error) {
		return p.Stream(ctx, req)
	})
}

func first[T any](ctx context.Context, c *Chain, op string, call func(Provider) (T, error)) (T, error) {
	var (
		zero T
		errs []error
	)
	for i, p := range c.providers {
		out, err := call(p)
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback provider succeeded", "op", op, "provider", p.Name(), "provider_index", i)
			}
			return out, nil
		}

		errs = append(errs, err)
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		c.logger.Warn("provider failed, trying next", "op", op, "provider", p.Name(), "provider_index", i, "error", err)
	}
	return zero, &ChainError{Errors: errs}
}

// Health checks all providers and returns error if all are unhealthy.
func (c *Chain) Health(ctx context.Context) error {
	var healthy int
	var lastErr error

	for _, p := range c.providers {
		if err := p.Health(ctx); err != nil {
			lastErr = err
		} else {
			healthy++
		}
	}

	if healthy == 0 {
		return WrapError("chain", lastErr)
	}

	c.logger.Debug("health check complete",
		"healthy", healthy,
		"total", len(c.providers),
	)

	return nil
}

// Close closes all providers.
func (c *Chain) Close() error {
	var lastErr error
	for _, p := range c.providers {
		if err := p.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Providers returns the list of providers in the chain.
func (c *Chain) Providers() []Provider {
	return c.providers
}

// Verify Chain implements Provider at compile time.
var _ Provider = (*Chain)(nil)
