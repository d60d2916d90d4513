package generate

import (
	"context"
	"log/slog"
	"strings"
)

// Chain tries multiple generators in order until one succeeds.
type Chain struct {
	generators []Generator
	logger     *slog.Logger
}

// NewChain creates a generator chain.
// At least one generator is required.
func NewChain(logger *slog.Logger, generators ...Generator) (*Chain, error) {
	if len(generators) == 0 {
		return nil, ErrUnavailable
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		generators: generators,
		logger:     logger.With("component", "generate.chain"),
	}, nil
}

// Generate tries each generator until one succeeds.
func (c *Chain) Generate(ctx context.Context, req *Request) (*Response, error) {
	var errs []error

	for i, g := range c.generators {
		resp, err := g.Generate(ctx, req)
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback generator succeeded",
					"index", i,
					"backend", g.Name(),
				)
			}
			return resp, nil
		}

		errs = append(errs, err)
		c.logger.Warn("generator failed, trying next",
			"index", i,
			"backend", g.Name(),
			"error", err,
		)

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, &ChainError{Errors: errs}
}

// Name lists the chained backends.
func (c *Chain) Name() string {
	names := make([]string, len(c.generators))
	for i, g := range c.generators {
		names[i] = g.Name()
	}
	return "chain(" + strings.Join(names, ",") + ")"
}

// Verify Chain implements Generator at compile time.
var _ Generator = (*Chain)(nil)
