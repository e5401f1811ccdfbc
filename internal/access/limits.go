package access

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/core-coin/x402/internal/models"
)

// limiters holds one token bucket per service and subscriber.
type limiters struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	now     func() time.Time
}

func newLimiters() *limiters {
	return &limiters{buckets: make(map[string]*rate.Limiter), now: time.Now}
}

func (l *limiters) allow(service, subscriber string, limits *models.RateLimits) bool {
	if limits.RequestsPerMinute <= 0 {
		return true
	}
	burst := limits.Burst
	if burst <= 0 {
		burst = limits.RequestsPerMinute
	}

	key := service + "|" + subscriber
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(rate.Limit(float64(limits.RequestsPerMinute)/60), burst)
		l.buckets[key] = b
	}
	l.mu.Unlock()
	return b.AllowN(l.now(), 1)
}
