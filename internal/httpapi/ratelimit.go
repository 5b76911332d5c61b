package httpapi

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Per-client token bucket rate limiting. The batch cap (100 operations)
// bounds work per request; this bounds requests per client. Keyed on the
// remote IP since endpoints are unauthenticated. In-memory only; a
// multi-instance deployment needs a shared limiter in front.

// RateLimitConfig describes the limiter policy.
type RateLimitConfig struct {
	WindowSeconds int // refill window
	MaxRequests   int // requests per window
	Burst         int // bucket capacity
	Disabled      bool
}

// DefaultRateLimitConfig allows 600 requests/minute with a 120 burst.
var DefaultRateLimitConfig = RateLimitConfig{
	WindowSeconds: 60,
	MaxRequests:   600,
	Burst:         120,
}

// tokenBucket is a classic token bucket: refill at a constant rate up to
// capacity, spend one token per request.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newTokenBucket(capacity int, refillRate float64) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(capacity),
		capacity:   float64(capacity),
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// allow consumes a token if available. On denial it returns the wait
// until the next token, for Retry-After.
func (tb *tokenBucket) allow() (bool, time.Duration) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	tb.tokens += now.Sub(tb.lastRefill).Seconds() * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now

	if tb.tokens >= 1 {
		tb.tokens--
		return true, 0
	}
	wait := time.Duration((1 - tb.tokens) / tb.refillRate * float64(time.Second))
	return false, wait
}

// RateLimitMiddleware returns a per-client limiter using the configured
// policy.
func (s *Server) RateLimitMiddleware() func(http.Handler) http.Handler {
	cfg := s.RateLimitConfig
	if cfg.Disabled || cfg.MaxRequests <= 0 || cfg.WindowSeconds <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	refillRate := float64(cfg.MaxRequests) / float64(cfg.WindowSeconds)
	var mu sync.Mutex
	buckets := make(map[string]*tokenBucket)

	bucketFor := func(key string) *tokenBucket {
		mu.Lock()
		defer mu.Unlock()
		b, ok := buckets[key]
		if !ok {
			b = newTokenBucket(cfg.Burst, refillRate)
			buckets[key] = b
		}
		return b
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)
			ok, wait := bucketFor(key).allow()
			if !ok {
				retryAfter := int(wait.Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				log.Ctx(r.Context()).Warn().
					Str("client", key).
					Int("retry_after", retryAfter).
					Msg("rate limit exceeded")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientKey derives the limiter key from the remote address. RealIP
// middleware has already folded proxy headers into RemoteAddr.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
