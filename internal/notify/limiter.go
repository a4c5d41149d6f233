package notify

import (
	"sync"

	"golang.org/x/time/rate"
)

// TenantLimiter keeps one token bucket per tenant so a single tenant's alert storm
// cannot starve the others.
type TenantLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	b        int
}

// NewTenantLimiter allows r notifications per second per tenant with burst b.
// A non-positive rate disables throttling.
func NewTenantLimiter(r float64, b int) *TenantLimiter {
	limit := rate.Limit(r)
	if r <= 0 {
		limit = rate.Inf
	}
	if b <= 0 {
		b = 1
	}
	return &TenantLimiter{limiters: make(map[string]*rate.Limiter), r: limit, b: b}
}

// Allow reports whether the tenant may send one more notification now.
func (l *TenantLimiter) Allow(tenantID string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[tenantID]
	if !ok {
		limiter = rate.NewLimiter(l.r, l.b)
		l.limiters[tenantID] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}
