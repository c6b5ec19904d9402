// Package governor bounds outbound download pressure with a token bucket
// and a concurrency semaphore.
package governor

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Governor gates document downloads: callers must hold both a rate token
// and a concurrency slot before opening a connection to the source.
type Governor struct {
	limiter *rate.Limiter
	slots   *semaphore.Weighted
}

// Config holds governor configuration.
type Config struct {
	RateLimitRPM  int
	MaxConcurrent int
}

// New creates a Governor. Zero values fall back to 60 RPM and 5 slots.
func New(cfg Config) *Governor {
	rpm := cfg.RateLimitRPM
	if rpm <= 0 {
		rpm = 60
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	return &Governor{
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
		slots:   semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// AcquireDownload blocks until both a rate token and a concurrency slot are
// available, or the context is canceled. The returned release func frees the
// slot and must be called exactly once.
func (g *Governor) AcquireDownload(ctx context.Context) (func(), error) {
	if err := g.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire download slot: %w", err)
	}
	if err := g.limiter.Wait(ctx); err != nil {
		g.slots.Release(1)
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return func() { g.slots.Release(1) }, nil
}

// Reserve reports when the next rate token becomes available without
// consuming a concurrency slot. Used by the stats endpoint.
func (g *Governor) Reserve() time.Duration {
	r := g.limiter.Reserve()
	d := r.Delay()
	r.Cancel()
	return d
}
