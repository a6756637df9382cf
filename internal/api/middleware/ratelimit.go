package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"Huddle/internal/core/identity"
)

// RateLimiter implements an in-memory token-bucket rate limiter per client
type RateLimiter struct {
	clients map[string]*clientLimit
	stop    chan struct{}
	limit   rate.Limit
	window  time.Duration
	burst   int
	mu      sync.Mutex
	once    sync.Once
}

type clientLimit struct {
	lastSeen time.Time
	limiter  *rate.Limiter
}

// NewRateLimiter creates a new rate limiter
// requests: maximum number of requests allowed per window (also the burst size)
// window: time window duration (e.g., 1 minute)
func NewRateLimiter(requests int, window time.Duration) *RateLimiter {
	if requests <= 0 {
		requests = 1
	}
	rl := &RateLimiter{
		clients: make(map[string]*clientLimit),
		stop:    make(chan struct{}),
		limit:   rate.Every(window / time.Duration(requests)),
		burst:   requests,
		window:  window,
	}

	go rl.cleanup()

	return rl
}

// Middleware returns a rate limiting middleware.
// Authenticated requests are keyed by user ID, anonymous ones by client IP.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := getClientIP(r)
		if u := identity.UserFromContext(r.Context()); u != nil && u.ID != "" {
			clientID = "user:" + u.ID
		}

		if !rl.allow(clientID) {
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// allow checks if a client is allowed to make a request
func (rl *RateLimiter) allow(clientID string) bool {
	rl.mu.Lock()
	client, exists := rl.clients[clientID]
	if !exists {
		client = &clientLimit{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[clientID] = client
	}
	client.lastSeen = time.Now()
	rl.mu.Unlock()

	return client.limiter.Allow()
}

// Close stops the background cleanup
func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}

// cleanup removes clients idle for a full window; their bucket would be full again anyway
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.mu.Lock()
			cutoff := time.Now().Add(-rl.window)
			for clientID, client := range rl.clients {
				if client.lastSeen.Before(cutoff) {
					delete(rl.clients, clientID)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header (if behind proxy); the first entry is the client
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
