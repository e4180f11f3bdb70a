package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const rateLimitWindow = time.Minute

// RateLimiter — скользящее окно по ключу (IP или пользователь).
type RateLimiter struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	times  map[string][]time.Time
	max    int
	window time.Duration
}

func NewRateLimiter(clock clockwork.Clock, max int, window time.Duration) *RateLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RateLimiter{clock: clock, times: make(map[string][]time.Time), max: max, window: window}
}

// Allow записывает попытку и сообщает, укладывается ли ключ в лимит.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.clock.Now()
	cutoff := now.Add(-rl.window)
	slice := rl.times[key]
	i := 0
	for _, t := range slice {
		if t.After(cutoff) {
			slice[i] = t
			i++
		}
	}
	slice = slice[:i]
	if len(slice) >= rl.max {
		rl.times[key] = slice
		return false
	}
	rl.times[key] = append(slice, now)
	return true
}

// RateLimit ограничивает запросы к /api/* по IP и по user_id (если он уже в контексте). 429 при превышении.
func RateLimit(byIP, byUser *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if byIP != nil && !byIP.Allow(clientIP(r)) {
				http.Error(w, `{"error":"too many requests"}`, http.StatusTooManyRequests)
				return
			}
			if userID := GetUserID(r.Context()); byUser != nil && userID != "" {
				if !byUser.Allow("u:" + userID) {
					http.Error(w, `{"error":"too many requests"}`, http.StatusTooManyRequests)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// DefaultRateLimit: 200 запросов в минуту с IP, 100 от пользователя.
func DefaultRateLimit() func(http.Handler) http.Handler {
	return RateLimit(NewRateLimiter(nil, 200, rateLimitWindow), NewRateLimiter(nil, 100, rateLimitWindow))
}
