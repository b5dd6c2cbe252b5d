package worker

import (
	"net/http"
	"sync"
	"time"
)

// tokenBucket is a single client's request allowance.
type tokenBucket struct {
	lastSeen time.Time
	tokens   float64
}

// ClientLimiter applies a token bucket per client address.
type ClientLimiter struct {
	now         func() time.Time
	lastCleanup time.Time
	buckets     map[string]*tokenBucket
	rate        float64
	burst       float64
	maxIdle     time.Duration
	requests    int64
	rejected    int64
	mu          sync.Mutex
}

// NewClientLimiter allows rate requests per second per client with the
// given burst.
func NewClientLimiter(rate float64, burst int) *ClientLimiter {
	return &ClientLimiter{
		now:     time.Now,
		buckets: make(map[string]*tokenBucket),
		rate:    rate,
		burst:   float64(max(burst, 1)),
		maxIdle: 10 * time.Minute,
	}
}

// Allow consumes one token for client and reports whether the request may
// proceed.
func (l *ClientLimiter) Allow(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastCleanup) > l.maxIdle/2 {
		for key, b := range l.buckets {
			if now.Sub(b.lastSeen) > l.maxIdle {
				delete(l.buckets, key)
			}
		}
		l.lastCleanup = now
	}

	l.requests++
	b, ok := l.buckets[client]
	if !ok {
		b = &tokenBucket{tokens: l.burst, lastSeen: now}
		l.buckets[client] = b
	}
	b.tokens = min(l.burst, b.tokens+now.Sub(b.lastSeen).Seconds()*l.rate)
	b.lastSeen = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	l.rejected++
	return false
}

// LimiterStats summarizes limiter activity.
type LimiterStats struct {
	Rate          float64 `json:"rate"`
	Burst         int     `json:"burst"`
	ActiveClients int     `json:"active_clients"`
	Requests      int64   `json:"total_requests"`
	Rejected      int64   `json:"total_rejected"`
}

// Stats returns limiter statistics.
func (l *ClientLimiter) Stats() LimiterStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LimiterStats{
		Rate:          l.rate,
		Burst:         int(l.burst),
		ActiveClients: len(l.buckets),
		Requests:      l.requests,
		Rejected:      l.rejected,
	}
}

// Middleware rejects requests over the client's allowance with 429.
// Clients are keyed by X-Real-IP when present, RemoteAddr otherwise.
func (l *ClientLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if ip := r.Header.Get("X-Real-IP"); ip != "" {
			key = ip
		}
		if !l.Allow(key) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
