package sink

import (
	"context"

	"golang.org/x/time/rate"

	protov1 "github.com/marko911/pulse-geyser/pkg/proto/v1"
)

// RateLimited drops records beyond a token-bucket budget. It never waits
// for a token.
type RateLimited struct {
	inner   Sink
	limiter *rate.Limiter
}

func NewRateLimited(inner Sink, perSecond float64, burst int) *RateLimited {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (r *RateLimited) Name() string { return r.inner.Name() }

func (r *RateLimited) Observe(ctx context.Context, rec protov1.Record) error {
	if !r.limiter.Allow() {
		return ErrRateLimited
	}
	return r.inner.Observe(ctx, rec)
}

func (r *RateLimited) Provision(ctx context.Context) error { return Provision(ctx, r.inner) }

func (r *RateLimited) Close(ctx context.Context) error { return r.inner.Close(ctx) }
