// Package retry wraps a single-attempt Fetcher with a bounded retry budget.
package retry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/mofcom-crawler/internal/crawler"
	"github.com/JakeFAU/mofcom-crawler/internal/metrics"
)

// Fetcher retries transport failures of the wrapped Fetcher. HTTP statuses
// are returned untouched; the caller decides what a 404 or 500 means.
type Fetcher struct {
	next   crawler.Fetcher
	policy crawler.RetryPolicy
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New wraps next with policy.
func New(next crawler.Fetcher, policy crawler.RetryPolicy, logger *zap.Logger) *Fetcher {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		next:   next,
		policy: policy,
		logger: logger,
		sleep:  sleepContext,
	}
}

// Policy returns the retry policy in force.
func (f *Fetcher) Policy() crawler.RetryPolicy {
	return f.policy
}

// Fetch returns the first response obtained within the budget, or a
// *crawler.FetchError once every attempt has failed.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	var lastErr error
	attempt := 1
	for ; attempt <= f.policy.MaxAttempts; attempt++ {
		resp, err := f.attempt(ctx, request)
		if err == nil {
			resp.Attempts = attempt
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, ctx.Err())
		}
		if !f.policy.ShouldRetry(err, attempt) {
			break
		}
		f.logger.Warn("fetch attempt failed, retrying",
			zap.String("url", request.URL),
			zap.String("kind", string(request.Kind)),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", f.policy.MaxAttempts),
			zap.Error(err),
		)
		if err := f.sleep(ctx, f.policy.Jitter()); err != nil {
			return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, err)
		}
	}
	if attempt > f.policy.MaxAttempts {
		attempt = f.policy.MaxAttempts
	}
	f.logger.Error("fetch gave up",
		zap.String("url", request.URL),
		zap.String("kind", string(request.Kind)),
		zap.Int("attempts", attempt),
		zap.Error(lastErr),
	)
	return crawler.FetchResponse{}, &crawler.FetchError{
		Kind:     crawler.FetchUnavailable,
		URL:      request.URL,
		Attempts: attempt,
		Err:      lastErr,
	}
}

func (f *Fetcher) attempt(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	attemptCtx := ctx
	if f.policy.PerAttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, f.policy.PerAttemptTimeout)
		defer cancel()
	}
	start := time.Now()
	resp, err := f.next.Fetch(attemptCtx, request)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.ObserveFetchAttempt(string(request.Kind), result, time.Since(start))
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("fetch attempt: %w", err)
	}
	return resp, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
