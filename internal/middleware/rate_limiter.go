package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles requests per key: the target host for outgoing calls,
// the caller's address for the companion API.
type RateLimiter interface {
	Wait(ctx context.Context, key string) error
	Allow(key string) bool
}

// hostRateLimiter tracks request rates per key with expiration of idle entries.
type hostRateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	now     func() time.Time
}

// NewHostRateLimiter constructs a per-key limiter that allows up to `requests` events per
// `window` with an additional burst capacity. Entries expire after ttl without use.
func NewHostRateLimiter(requests int, window time.Duration, burst int, ttl time.Duration) RateLimiter {
	if requests <= 0 {
		requests = 1
	}
	if window <= 0 {
		window = time.Second
	}
	if burst <= 0 {
		burst = 1
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &hostRateLimiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Every(window / time.Duration(requests)),
		burst:   burst,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Wait blocks until the key's bucket admits one more request or ctx ends.
func (l *hostRateLimiter) Wait(ctx context.Context, key string) error {
	if key == "" {
		key = "unknown"
	}

	now := l.now()

	l.mu.Lock()
	b := l.bucketLocked(key, now)
	l.gcLocked(now)
	l.mu.Unlock()

	return b.limiter.Wait(ctx)
}

// Allow reports whether the key's bucket admits a request right now.
func (l *hostRateLimiter) Allow(key string) bool {
	if key == "" {
		key = "unknown"
	}

	now := l.now()

	l.mu.Lock()
	b := l.bucketLocked(key, now)
	l.gcLocked(now)
	l.mu.Unlock()

	return b.limiter.AllowN(now, 1)
}

func (l *hostRateLimiter) bucketLocked(key string, now time.Time) *bucket {
	if b, ok := l.buckets[key]; ok {
		b.lastSeen = now
		return b
	}

	b := &bucket{limiter: rate.NewLimiter(l.limit, l.burst), lastSeen: now}
	l.buckets[key] = b
	return b
}

func (l *hostRateLimiter) gcLocked(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.ttl {
			delete(l.buckets, key)
		}
	}
}

// WithNowFunc allows tests to override the time source.
func (l *hostRateLimiter) WithNowFunc(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// RateLimit wraps next so every request first waits for its host's bucket.
func RateLimit(limiter RateLimiter) func(http.RoundTripper) http.RoundTripper {
	return func(next http.RoundTripper) http.RoundTripper {
		if limiter == nil {
			return next
		}
		return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			if err := limiter.Wait(req.Context(), req.URL.Host); err != nil {
				return nil, err
			}
			return next.RoundTrip(req)
		})
	}
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Chain applies decorators to base so that the first decorator is the outermost.
func Chain(base http.RoundTripper, decorators ...func(http.RoundTripper) http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	for i := len(decorators) - 1; i >= 0; i-- {
		base = decorators[i](base)
	}
	return base
}
