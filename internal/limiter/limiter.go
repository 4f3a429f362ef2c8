// Package limiter provides the shared token-bucket rate limiter and the
// per-provider/model circuit breaker the VisionExtractor stage honors, per
// spec.md §5's "the engine MUST honor a shared token-bucket limiter".
package limiter

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter wraps golang.org/x/time/rate behind the shared-across-worker-
// pool contract spec.md §5 names explicitly: a configurable capacity and
// refill rate, default 20 requests/minute/worker pool.
type RateLimiter struct {
	lim *rate.Limiter
}

// NewRateLimiter builds a limiter refilling perMinute tokens per minute with
// a burst capacity equal to perMinute (allows a full minute's budget to be
// spent immediately after an idle period, then throttles).
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 20
	}
	ratePerSec := rate.Limit(float64(perMinute) / 60.0)
	return &RateLimiter{lim: rate.NewLimiter(ratePerSec, perMinute)}
}

// Wait blocks until a token is available or ctx is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.lim.Wait(ctx)
}

// Allow reports whether a token is available right now, without blocking.
func (r *RateLimiter) Allow() bool {
	return r.lim.Allow()
}
