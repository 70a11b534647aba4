package search

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// LimitedProvider throttles upstream searches with a token bucket
type LimitedProvider struct {
	inner   Provider
	limiter *rate.Limiter
}

// NewLimitedProvider allows rps searches per second with the given burst.
// A non-positive rps returns inner unchanged.
func NewLimitedProvider(inner Provider, rps float64, burst int) Provider {
	if rps <= 0 {
		return inner
	}
	if burst < 1 {
		burst = 1
	}
	return &LimitedProvider{inner: inner, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (p *LimitedProvider) Name() string {
	return p.inner.Name()
}

// Search waits for a token, honouring ctx cancellation, then delegates
func (p *LimitedProvider) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("search rate limit: %w", err)
	}
	return p.inner.Search(ctx, query, maxResults)
}
