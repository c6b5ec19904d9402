package pipeline

import (
	"context"
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// RetryPolicy implements jittered exponential backoff for transient errors.
type RetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewRetryPolicy builds a policy granting maxRetries retries after the
// initial attempt, so a budget of 3 allows four attempts in total. Zero
// values fall back to maxRetries=3, base=500ms, cap=30s.
func NewRetryPolicy(maxRetries int, baseDelay, maxDelay time.Duration) *RetryPolicy {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	return &RetryPolicy{
		maxAttempts: maxRetries + 1,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
	}
}

// MaxAttempts returns the total attempts allowed, the initial attempt plus
// the retry budget.
func (p *RetryPolicy) MaxAttempts() int { return p.maxAttempts }

// ShouldRetry decides whether another attempt is allowed given the failure
// class and the number of attempts already made.
func (p *RetryPolicy) ShouldRetry(class FailureClass, attempts int) bool {
	if attempts >= p.maxAttempts {
		return false
	}
	return class.Retryable()
}

// Backoff returns the wait duration before the next attempt: half the
// capped exponential delay plus random jitter up to the other half.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// Store writes get a short inline retry before the failure reaches the
// queue, so a momentary store blip does not consume document retry budget.
const (
	storeWriteAttempts  = 3
	storeWriteBaseDelay = 50 * time.Millisecond
)

// RetryStoreWrite runs op up to three times with a doubling delay and
// returns the last error if every attempt fails. Context cancellation
// aborts between attempts.
func RetryStoreWrite(ctx context.Context, op func() error) error {
	var lastErr error
	delay := storeWriteBaseDelay
	for attempt := 1; attempt <= storeWriteAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if attempt == storeWriteAttempts {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
	return lastErr
}
