package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/portarium/core/pkg/primitives"
)

// Smoother spreads a tenant's traffic inside the fixed window using a
// token bucket. It protects downstream dependencies from a tenant spending
// its whole window quota in one burst; the fixed-window Limiter remains
// the authority on the quota itself.
type Smoother struct {
	mu      sync.Mutex
	buckets map[primitives.TenantID]*tenantBucket
	rps     rate.Limit
	burst   int
}

type tenantBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewSmoother creates a per-tenant smoother allowing rps sustained
// requests per second with the given burst.
func NewSmoother(rps float64, burst int) *Smoother {
	return &Smoother{
		buckets: make(map[primitives.TenantID]*tenantBucket),
		rps:     rate.Limit(rps),
		burst:   burst,
	}
}

// Allow reports whether the tenant may proceed right now.
func (s *Smoother) Allow(tenant primitives.TenantID) bool {
	s.mu.Lock()
	b, ok := s.buckets[tenant]
	if !ok {
		b = &tenantBucket{limiter: rate.NewLimiter(s.rps, s.burst)}
		s.buckets[tenant] = b
	}
	b.lastSeen = time.Now()
	s.mu.Unlock()
	return b.limiter.Allow()
}

// Sweep drops buckets idle longer than maxIdle; call it periodically so
// one-off tenants do not accumulate forever.
func (s *Smoother) Sweep(maxIdle time.Duration) {
	cutoff := time.Now().Add(-maxIdle)
	s.mu.Lock()
	defer s.mu.Unlock()
	for tenant, b := range s.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(s.buckets, tenant)
		}
	}
}
