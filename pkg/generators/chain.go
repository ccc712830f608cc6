package generators

import (
	"context"
	"fmt"
	"time"

	"github.com/taskmesh/taskmesh/pkg/interfaces"
	"github.com/taskmesh/taskmesh/pkg/logger"
)

const retryBackoff = 2 * time.Second

// Chain tries a sequence of generators in order, retrying each up to a
// bounded attempt count before moving to the next. The first success
// wins.
type Chain struct {
	generators  []interfaces.Generator
	maxAttempts int
	logger      logger.Logger
}

// NewChain creates a fallback chain
func NewChain(generators []interfaces.Generator, maxAttempts int, log logger.Logger) *Chain {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Chain{
		generators:  generators,
		maxAttempts: maxAttempts,
		logger:      log,
	}
}

// Name returns the backend name
func (c *Chain) Name() string { return "chain" }

// IsAvailable reports whether any chained generator is available
func (c *Chain) IsAvailable() bool {
	for _, g := range c.generators {
		if g.IsAvailable() {
			return true
		}
	}
	return false
}

// Generate tries the chained generators in order
func (c *Chain) Generate(ctx context.Context, req *interfaces.GenerateRequest) (*interfaces.GenerateResult, error) {
	var lastErr error

	for _, g := range c.generators {
		if !g.IsAvailable() {
			continue
		}

		for attempt := 1; attempt <= c.maxAttempts; attempt++ {
			result, err := g.Generate(ctx, req)
			if err == nil {
				return result, nil
			}
			lastErr = err

			if c.logger != nil {
				c.logger.Warn(fmt.Sprintf("Generation attempt %d/%d on %s failed",
					attempt, c.maxAttempts, g.Name()),
					logger.WithField("error", err))
			}

			if attempt < c.maxAttempts {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(retryBackoff):
				}
			}
		}
	}

	if lastErr == nil {
		return nil, fmt.Errorf("no generation backend available")
	}
	return nil, fmt.Errorf("all generation backends failed: %w", lastErr)
}
