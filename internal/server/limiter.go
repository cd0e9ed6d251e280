package server

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/snowgoose/snowgoose/internal/identity"
)

// anonymousKey buckets requests that carry no user id.
const anonymousKey = "anonymous"

const tooManyRequests = "Too many requests. Please slow down."

// userLimiter hands out one token bucket per user. Buckets idle for longer
// than ttl are dropped on the next sweep.
type userLimiter struct {
	limit rate.Limit
	burst int
	ttl   time.Duration

	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	lastSeen  map[string]time.Time
	lastSweep time.Time
}

func newUserLimiter(perMinute, burst int) *userLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &userLimiter{
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    burst,
		ttl:      30 * time.Minute,
		limiters: make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
	}
}

func (u *userLimiter) get(key string, now time.Time) *rate.Limiter {
	u.mu.Lock()
	defer u.mu.Unlock()

	if now.Sub(u.lastSweep) > u.ttl {
		for k, seen := range u.lastSeen {
			if now.Sub(seen) > u.ttl {
				delete(u.limiters, k)
				delete(u.lastSeen, k)
			}
		}
		u.lastSweep = now
	}

	l, ok := u.limiters[key]
	if !ok {
		l = rate.NewLimiter(u.limit, u.burst)
		u.limiters[key] = l
	}
	u.lastSeen[key] = now
	return l
}

// Allow reports whether key may make a request now.
func (u *userLimiter) Allow(key string) bool {
	now := time.Now()
	return u.get(key, now).AllowN(now, 1)
}

// AllowRequest charges the user bound to r.
func (u *userLimiter) AllowRequest(r *http.Request) bool {
	key, ok := identity.UserIDFrom(r.Context())
	if !ok {
		key = anonymousKey
	}
	return u.Allow(key)
}

// middleware rejects chat requests over the user's budget with 429.
func (u *userLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !u.AllowRequest(r) {
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": tooManyRequests})
			return
		}
		next.ServeHTTP(w, r)
	})
}
