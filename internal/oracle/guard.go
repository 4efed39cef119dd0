package oracle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultRequestTimeout bounds a single oracle round-trip.
const DefaultRequestTimeout = 60 * time.Second

// Guard wraps a Client with a per-request timeout and a token-bucket rate limit.
type Guard struct {
	next    Client
	timeout time.Duration
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewGuard wraps next. A non-positive ratePerSec disables rate limiting.
func NewGuard(next Client, timeout time.Duration, ratePerSec float64, logger *zap.Logger) *Guard {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
	}
	return &Guard{
		next:    next,
		timeout: timeout,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

func (g *Guard) Complete(ctx context.Context, req Request) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("oracle rate limit: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	out, err := g.next.Complete(ctx, req)
	g.logger.Debug("oracle round-trip",
		zap.Duration("took", time.Since(start)),
		zap.Int("prompt_bytes", len(req.System)+len(req.User)),
		zap.Int("response_bytes", len(out)),
		zap.Error(err),
	)
	return out, err
}
