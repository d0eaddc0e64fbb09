package llm

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimited spaces out calls to the wrapped provider.
type RateLimited struct {
	inner   Provider
	limiter *rate.Limiter
}

// NewRateLimited wraps p so that at most rps calls per second are made.
// A non-positive rps returns p unchanged.
func NewRateLimited(p Provider, rps float64) Provider {
	if rps <= 0 {
		return p
	}
	return &RateLimited{
		inner:   p,
		limiter: rate.NewLimiter(rate.Every(time.Duration(float64(time.Second)/rps)), 1),
	}
}

func (r *RateLimited) IsConfigured() bool {
	return r.inner.IsConfigured()
}

func (r *RateLimited) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return r.inner.Generate(ctx, prompt, maxTokens)
}

func (r *RateLimited) GenerateJSON(ctx context.Context, prompt string, schema Schema, maxTokens int) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return GenerateJSON(ctx, r.inner, prompt, schema, maxTokens)
}
