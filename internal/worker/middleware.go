package worker

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// requestIDKey is the context key for request IDs.
type requestIDKey struct{}

// allowedOrigins is the whitelist of origins allowed for CORS.
// Exact matching only, so "evil-localhost.com" never passes.
var allowedOrigins = map[string]bool{
	"http://localhost":       true,
	"http://localhost:3000":  true,
	"http://localhost:5173":  true,
	"http://localhost:38080": true,
	"http://127.0.0.1":       true,
	"http://127.0.0.1:3000":  true,
	"http://127.0.0.1:5173":  true,
	"http://127.0.0.1:38080": true,
}

// SecurityHeaders middleware adds security headers and the CORS whitelist.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'self'")

		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Auth-Token, Authorization, X-Request-ID")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// MaxBodySize middleware limits the size of incoming request bodies.
func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// TokenAuth enforces a shared API token on mutating and expensive
// endpoints. An empty token disables it.
type TokenAuth struct {
	ExemptPaths map[string]bool
	token       string
	mu          sync.RWMutex
}

// NewTokenAuth creates a TokenAuth for token.
func NewTokenAuth(token string) *TokenAuth {
	return &TokenAuth{
		token: token,
		ExemptPaths: map[string]bool{
			"/health":     true,
			"/api/health": true,
			"/api/ready":  true,
			"/metrics":    true,
		},
	}
}

// GenerateToken returns a random 32-byte hex token.
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// IsEnabled returns whether token authentication is enabled.
func (ta *TokenAuth) IsEnabled() bool {
	ta.mu.RLock()
	defer ta.mu.RUnlock()
	return ta.token != ""
}

// Middleware returns HTTP middleware that enforces token authentication.
func (ta *TokenAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ta.mu.RLock()
		token := ta.token
		exempt := ta.ExemptPaths[r.URL.Path]
		ta.mu.RUnlock()

		if token == "" || exempt || r.Method == http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}

		provided := r.Header.Get("X-Auth-Token")
		if provided == "" {
			if bearer, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); found {
				provided = bearer
			}
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequestID middleware adds a unique request ID to each request.
// The ID is added to the context and response headers for tracing.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			idBytes := make([]byte, 8)
			if _, err := rand.Read(idBytes); err == nil {
				requestID = hex.EncodeToString(idBytes)
			} else {
				requestID = fmt.Sprintf("%d", time.Now().UnixNano())
			}
		}

		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// RequireJSONContentType middleware validates that POST/PUT/PATCH requests
// have an application/json Content-Type header.
func RequireJSONContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct != "" && !strings.HasPrefix(ct, "application/json") {
				http.Error(w, "Content-Type must be application/json", http.StatusUnsupportedMediaType)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// CooldownLimiter spaces out expensive operations such as cross-validation
// runs.
type CooldownLimiter struct {
	now      func() time.Time
	last     time.Time
	cooldown time.Duration
	mu       sync.Mutex
}

// NewCooldownLimiter creates a limiter allowing one operation per cooldown.
func NewCooldownLimiter(cooldown time.Duration) *CooldownLimiter {
	return &CooldownLimiter{cooldown: cooldown, now: time.Now}
}

// CanExecute reports whether an operation may run now and, if so,
// starts a new cooldown period.
func (l *CooldownLimiter) CanExecute() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if !l.last.IsZero() && now.Sub(l.last) < l.cooldown {
		return false
	}
	l.last = now
	return true
}

// Remaining returns the time left in the current cooldown period.
func (l *CooldownLimiter) Remaining() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.last.IsZero() {
		return 0
	}
	return max(l.cooldown-l.now().Sub(l.last), 0)
}
