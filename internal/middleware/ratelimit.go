package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/bryanwahyu/designlens/internal/application"
)

// TokenBucket implements token bucket rate limiting.
// Tokens refill continuously at rate per second up to capacity.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	rate       float64
	lastRefill time.Time
}

func NewTokenBucket(capacity int, rate float64, now time.Time) *TokenBucket {
	return &TokenBucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		rate:       rate,
		lastRefill: now,
	}
}

func (tb *TokenBucket) Allow(now time.Time) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if elapsed := now.Sub(tb.lastRefill).Seconds(); elapsed > 0 {
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastRefill = now
	}

	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// RetryAfter is how long until the next token is available.
func (tb *TokenBucket) RetryAfter() time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if tb.rate <= 0 || tb.tokens >= 1 {
		return 0
	}
	return time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
}

func (tb *TokenBucket) idleSince(now time.Time) time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return now.Sub(tb.lastRefill)
}

// RateLimiter manages rate limits per tenant
type RateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*TokenBucket
	capacity int
	rate     float64
	clock    application.Clock
}

// NewRateLimiter allows requestsPerMinute sustained with bursts up to burst.
func NewRateLimiter(requestsPerMinute, burst int, clock application.Clock) *RateLimiter {
	if clock == nil {
		clock = application.SystemClock{}
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		buckets:  make(map[string]*TokenBucket),
		capacity: burst,
		rate:     float64(requestsPerMinute) / 60,
		clock:    clock,
	}
}

func (rl *RateLimiter) bucket(key string) *TokenBucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.buckets[key]
	if !ok {
		b = NewTokenBucket(rl.capacity, rl.rate, rl.clock.Now())
		rl.buckets[key] = b
	}
	return b
}

// Allow consumes a token for key. When denied it returns the wait time.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	b := rl.bucket(key)
	if b.Allow(rl.clock.Now()) {
		return true, 0
	}
	return false, b.RetryAfter()
}

// Prune drops buckets idle longer than maxIdle.
func (rl *RateLimiter) Prune(maxIdle time.Duration) int {
	now := rl.clock.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	n := 0
	for key, b := range rl.buckets {
		if b.idleSince(now) > maxIdle {
			delete(rl.buckets, key)
			n++
		}
	}
	return n
}

// RateLimitMiddleware limits requests per authenticated tenant, falling back
// to the remote address for unauthenticated routes.
func RateLimitMiddleware(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			key := GetTenantFromContext(r.Context())
			if key == "" {
				key = "ip:" + r.RemoteAddr
			}

			ok, wait := limiter.Allow(key)
			if !ok {
				secs := int(wait.Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				http.Error(w, "rate limit exceeded, please try again later", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
