package composer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Chain tries providers in order and returns the first success.
type Chain struct {
	composers []Composer
	logger    *slog.Logger
}

var _ Composer = (*Chain)(nil)

// NewChain creates a fallback chain. The first composer is the primary.
func NewChain(logger *slog.Logger, composers ...Composer) *Chain {
	return &Chain{
		composers: composers,
		logger:    logger.With("component", "composer.chain"),
	}
}

// Compose implements Composer. When every provider fails the errors are joined.
func (c *Chain) Compose(ctx context.Context, in Input) (*Output, error) {
	if len(c.composers) == 0 {
		return nil, errors.New("no composers configured")
	}

	var errs []error
	for i, comp := range c.composers {
		out, err := comp.Compose(ctx, in)
		if err == nil {
			if i > 0 {
				c.logger.Info("composer_fallback_succeeded", "attempt", i+1, "provider", out.Provider)
			}
			return out, nil
		}
		errs = append(errs, err)

		// A spent stage budget or a gone client will fail every provider.
		if ctxErr := ctx.Err(); ctxErr != nil {
			errs = append(errs, ctxErr)
			break
		}
		c.logger.Warn("composer_failed",
			"attempt", i+1,
			"category", in.Category,
			"error", err,
		)
	}
	return nil, fmt.Errorf("all composers failed: %w", errors.Join(errs...))
}
