// Package middleware implements per-client-IP rate limiting for the HTTP
// read surface, adapted from the teacher's own internal/middleware
// rate limiter: same token-bucket-per-IP shape and cleanup goroutine,
// trimmed of the unused key-based variant since every route here is
// reached anonymously (by IP) rather than by an authenticated account id.
package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig holds configuration for rate limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	CleanupInterval   time.Duration
	ClientTimeout     time.Duration
}

// DefaultRateLimitConfig returns the default used by cmd/server: generous
// enough for dashboard polling, tight enough to blunt a runaway client.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 20,
		BurstSize:         40,
		CleanupInterval:   5 * time.Minute,
		ClientTimeout:     10 * time.Minute,
	}
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter implements per-client-IP rate limiting.
type RateLimiter struct {
	config   RateLimitConfig
	limiters map[string]*clientLimiter
	mu       sync.RWMutex
	stopCh   chan struct{}
	once     sync.Once
}

// NewRateLimiter creates a RateLimiter and starts its cleanup goroutine.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		config:   config,
		limiters: make(map[string]*clientLimiter),
		stopCh:   make(chan struct{}),
	}
	go rl.cleanupInactiveClients()
	return rl
}

// Middleware wraps next with per-IP rate limiting.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := rl.getClientIP(r)
		allowed, remaining, resetTime := rl.Allow(clientIP)

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%.0f", rl.config.RequestsPerSecond))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))

		if !allowed {
			w.Header().Set("Retry-After", strconv.FormatInt(int64(time.Until(resetTime).Seconds()), 10))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Allow checks whether a request from clientIP is permitted right now.
func (rl *RateLimiter) Allow(clientIP string) (allowed bool, remaining int64, resetTime time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cl, exists := rl.limiters[clientIP]
	if !exists {
		cl = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.BurstSize)}
		rl.limiters[clientIP] = cl
	}
	cl.lastSeen = time.Now()

	allowed = cl.limiter.Allow()
	remaining = int64(cl.limiter.Tokens())
	if remaining < 0 {
		remaining = 0
	}
	return allowed, remaining, time.Now().Add(time.Second)
}

// Stop ends the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) cleanupInactiveClients() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.performCleanup()
		}
	}
}

func (rl *RateLimiter) performCleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	for ip, cl := range rl.limiters {
		if now.Sub(cl.lastSeen) > rl.config.ClientTimeout {
			delete(rl.limiters, ip)
		}
	}
}

func (rl *RateLimiter) getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip, _, err := net.SplitHostPort(xff); err == nil {
			return ip
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}
