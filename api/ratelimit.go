package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/tinfoilsh/reasoning-search/pipeline"
)

const (
	// maxTrackedClients bounds memory; new clients beyond it are rejected
	maxTrackedClients = 10000
	clientIdleTimeout = 10 * time.Minute
)

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a token bucket per client IP
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*client
	rps     rate.Limit
	burst   int
	now     func() time.Time
}

// NewRateLimiter returns nil when rps is not positive, which disables limiting
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		clients: make(map[string]*client),
		rps:     rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
	}
}

// SetLimit changes the rate for every tracked and future client.
// Non-positive rps is ignored; limiting cannot be switched off at runtime.
func (rl *RateLimiter) SetLimit(rps float64, burst int) {
	if rps <= 0 {
		return
	}
	if burst < 1 {
		burst = 1
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.rps = rate.Limit(rps)
	rl.burst = burst
	for _, c := range rl.clients {
		c.limiter.SetLimitAt(now, rl.rps)
		c.limiter.SetBurstAt(now, burst)
	}
}

// Allow reports whether a request from ip may proceed
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	c, ok := rl.clients[ip]
	if !ok {
		if len(rl.clients) >= maxTrackedClients {
			return false
		}
		c = &client{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.clients[ip] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// Cleanup forgets clients idle for longer than clientIdleTimeout
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-clientIdleTimeout)
	for ip, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

// Tracked returns the number of clients currently tracked
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Run calls Cleanup periodically until stop is closed
func (rl *RateLimiter) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.Cleanup()
		case <-stop:
			return
		}
	}
}

// Middleware rejects requests over the limit with 429
func (rl *RateLimiter) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !rl.Allow(ip) {
			log.WithField("ip", ip).Debug("rate limit exceeded")
			jsonError(w, pipeline.MsgRateLimited, http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

// clientIP prefers proxy headers over the connection address
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
