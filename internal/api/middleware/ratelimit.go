package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientIdleTTL is how long an idle client keeps its token bucket.
const clientIdleTTL = 3 * time.Minute

// ClientLimiter hands out one token bucket per client key.
type ClientLimiter struct {
	mu      sync.Mutex
	clients map[string]*client
	rate    rate.Limit
	burst   int
	stop    chan struct{}
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewClientLimiter creates a limiter allowing perSecond requests with
// the given burst per client.
func NewClientLimiter(perSecond float64, burst int) *ClientLimiter {
	cl := &ClientLimiter{
		clients: make(map[string]*client),
		rate:    rate.Limit(perSecond),
		burst:   burst,
		stop:    make(chan struct{}),
	}

	go cl.cleanupLoop()

	return cl
}

// Close stops the background cleanup goroutine. Safe to call once.
func (cl *ClientLimiter) Close() {
	close(cl.stop)
}

// Allow checks if a request is allowed for the given key.
func (cl *ClientLimiter) Allow(key string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	c, ok := cl.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(cl.rate, cl.burst)}
		cl.clients[key] = c
	}
	c.lastSeen = time.Now()

	return c.limiter.Allow()
}

// cleanupLoop periodically drops buckets for clients gone quiet.
func (cl *ClientLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-cl.stop:
			return
		case <-ticker.C:
			cl.cleanup()
		}
	}
}

func (cl *ClientLimiter) cleanup() {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	cutoff := time.Now().Add(-clientIdleTTL)
	for key, c := range cl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(cl.clients, key)
		}
	}
}

// jsonRateLimited writes a rate limited error response.
func jsonRateLimited(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    "RATE_LIMITED",
			"message": "too many requests",
		},
	})
}

// RateLimitByClient returns middleware that rate limits by client IP.
func RateLimitByClient(limiter *ClientLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := getClientIP(r)

			if !limiter.Allow(ip) {
				jsonRateLimited(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// getClientIP extracts the client IP from the request.
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header (for proxies)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip, _, err := net.SplitHostPort(xff); err == nil {
			return ip
		}
		return xff
	}

	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	// Fall back to RemoteAddr
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
