package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/zhouzirui/xiaohao/backend/pkg/utils"
)

// KeyFunc selects the bucket identity for a request.
type KeyFunc func(*http.Request) string

// KeyByUserOrIP prefers the authenticated user and falls back to the client IP.
func KeyByUserOrIP(r *http.Request) string {
	if id, ok := IdentityFrom(r.Context()); ok {
		return "user:" + id.UserID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-key token bucket limiter. Idle buckets are evicted
// after ttl during lookups.
type RateLimiter struct {
	rps      rate.Limit
	burst    int
	keyFn    KeyFunc
	ttl      time.Duration
	mu       sync.Mutex
	visitors map[string]*visitor
	lookups  uint64
}

// NewRateLimiter builds a limiter; burst values below one are raised to one.
func NewRateLimiter(rps float64, burst int, keyFn KeyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if keyFn == nil {
		keyFn = KeyByUserOrIP
	}
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		keyFn:    keyFn,
		ttl:      10 * time.Minute,
		visitors: make(map[string]*visitor),
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Evict before touching key so a stale bucket is not refreshed.
	rl.lookups++
	if rl.lookups >= 5000 {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) >= rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.lookups = 0
	}

	if v, ok := rl.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}

	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// Handler enforces the limit and answers 429 when a bucket is empty.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.limiter(rl.keyFn(r)).Allow() {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Retry-After", "1")
		utils.RespondError(w, http.StatusTooManyRequests, "请求过于频繁，请稍后再试")
	})
}
