package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/tutorlink/identity/internal/api/response"
)

// RateLimitConfig bounds requests per client IP.
type RateLimitConfig struct {
	PerMinute int
	Burst     int
	// MaxClients caps how many per-IP limiters are kept; the least recently
	// seen client is evicted first.
	MaxClients int
}

type ipLimiter struct {
	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
}

func (l *ipLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lim, ok := l.limiters.Get(ip); ok {
		return lim
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	l.limiters.Add(ip, lim)
	return lim
}

// RateLimit returns middleware that applies a token bucket per client IP.
// Rejected requests get 429 with Retry-After. A non-positive PerMinute
// disables limiting.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.PerMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.PerMinute
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = 10000
	}

	cache, err := lru.New[string, *rate.Limiter](cfg.MaxClients)
	if err != nil {
		// only fails for a non-positive size, excluded above
		panic(err)
	}
	limiter := &ipLimiter{
		limiters: cache,
		limit:    rate.Limit(float64(cfg.PerMinute) / 60.0),
		burst:    cfg.Burst,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lim := limiter.get(clientIP(r))

			reservation := lim.Reserve()
			delay := reservation.Delay()
			if !reservation.OK() || delay > 0 {
				reservation.Cancel()
				retryAfter := int(delay.Seconds()) + 1
				if !reservation.OK() || retryAfter > 60 {
					retryAfter = 60
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.PerMinute))
				w.Header().Set("X-RateLimit-Remaining", "0")
				response.Err(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests, retry later", GetRequestID(r.Context()))
				return
			}

			remaining := int(lim.TokensAt(time.Now()))
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.PerMinute))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// connection's remote address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
