package httpapi

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Admission limits are keyed per caller IP and are orthogonal to the
// per-key credit budgets enforced further down the middleware chain.

// maxTrackedClients bounds the limiter map; past it the map is reset
// wholesale, which briefly re-grants every client its full burst.
const maxTrackedClients = 10000

// RateLimitInfo configures one per-key rate limiter: MaxRequests per
// WindowSeconds, with Burst immediately available.
type RateLimitInfo struct {
	WindowSeconds int
	MaxRequests   int
	Burst         int
}

// GlobalRateLimit is the default global admission limit: 100 requests per
// 15 minutes per IP.
var GlobalRateLimit = RateLimitInfo{WindowSeconds: 900, MaxRequests: 100, Burst: 100}

// ExecuteRateLimit is the additional execute-endpoint limit: 30 requests
// per 15 minutes per IP.
var ExecuteRateLimit = RateLimitInfo{WindowSeconds: 900, MaxRequests: 30, Burst: 30}

// RateLimiter hands out one rate.Limiter per key (caller IP), each
// refilling independently at MaxRequests per window.
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	config   RateLimitInfo
}

// NewRateLimiter creates a rate limiter pool with the given configuration.
func NewRateLimiter(config RateLimitInfo) *RateLimiter {
	window := config.WindowSeconds
	if window <= 0 {
		window = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(float64(config.MaxRequests) / float64(window)),
		burst:    config.Burst,
		config:   config,
	}
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if len(rl.limiters) > maxTrackedClients {
		rl.limiters = make(map[string]*rate.Limiter)
	}

	limiter, exists := rl.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = limiter
	}
	return limiter
}

// Allow consumes one token for key if available. It returns whether the
// request may proceed, the whole tokens remaining, the wait until the
// next token when rejected, and the time at which the bucket is full
// again.
func (rl *RateLimiter) Allow(key string) (bool, int, time.Duration, time.Time) {
	limiter := rl.getLimiter(key)
	now := time.Now()

	res := limiter.ReserveN(now, 1)
	allowed := res.OK() && res.Delay() == 0
	var wait time.Duration
	if !allowed {
		wait = res.Delay()
		res.Cancel()
	}

	tokens := limiter.Tokens()
	remaining := int(tokens)
	if remaining < 0 {
		remaining = 0
	}

	reset := now
	if deficit := float64(rl.burst) - tokens; deficit > 0 && rl.rate > 0 {
		reset = now.Add(time.Duration(deficit / float64(rl.rate) * float64(time.Second)))
	}

	return allowed, remaining, wait, reset
}

// clientKey extracts the rate-limit key (caller IP) from a request. chi's
// middleware.RealIP must run upstream for this to reflect X-Forwarded-For.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitMiddleware enforces rate limiting per caller IP. Each instance
// owns its own limiter pool, so distinct routes can carry distinct limits.
func RateLimitMiddleware(config RateLimitInfo) func(http.Handler) http.Handler {
	limiter := NewRateLimiter(config)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)
			allowed, remaining, wait, reset := limiter.Allow(key)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(config.MaxRequests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

			if !allowed {
				retryAfter := int(math.Ceil(wait.Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

				log.Warn().
					Str("client", key).
					Str("path", r.URL.Path).
					Int("retryAfter", retryAfter).
					Msg("rate limit exceeded")

				writeError(w, r, http.StatusTooManyRequests,
					"Rate limit exceeded. Please retry after "+strconv.Itoa(retryAfter)+" seconds.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
