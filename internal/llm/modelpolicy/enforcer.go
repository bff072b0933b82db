// Package modelpolicy gates outbound model calls with a per-model rate
// limit, the trimmed-down descendant of the teacher's budget/rate-limit
// enforcer: VoxCortex has exactly one call site (the reasoner gateway) and
// one concern worth enforcing at that boundary — don't hammer the
// upstream provider — so the richer budget/quality/fallback policy
// surface the teacher carries isn't reproduced here.
package modelpolicy

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Enforcer rate-limits calls per model name.
type Enforcer struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

// NewEnforcer builds an Enforcer allowing rps requests/sec per model, with
// the given burst allowance.
func NewEnforcer(rps float64, burst int) *Enforcer {
	return &Enforcer{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

// Allow blocks until model's limiter admits one call, or returns an error
// if ctx expires first.
func (e *Enforcer) Allow(ctx context.Context, model string) error {
	limiter := e.limiterFor(model)
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("modelpolicy: rate limit wait for %s: %w", model, err)
	}
	return nil
}

func (e *Enforcer) limiterFor(model string) *rate.Limiter {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.limiters[model]
	if !ok {
		l = rate.NewLimiter(rate.Limit(e.rps), e.burst)
		e.limiters[model] = l
	}
	return l
}
