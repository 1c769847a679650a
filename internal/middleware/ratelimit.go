package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/thenexusengine/tne_dooh/internal/config"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond int
	BurstSize         int
	CleanupInterval   time.Duration // how often idle clients are forgotten
	IdleTimeout       time.Duration
	TrustedProxies    []*net.IPNet
}

// DefaultRateLimitConfig returns the default per-client limits
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: config.DefaultRPS,
		BurstSize:         config.DefaultBurstSize,
		CleanupInterval:   time.Minute,
		IdleTimeout:       time.Minute,
	}
}

// ParseTrustedProxies parses a comma-separated list of CIDRs or bare IPs.
// Invalid entries are skipped.
func ParseTrustedProxies(list string) []*net.IPNet {
	var nets []*net.IPNet
	for _, cidr := range strings.Split(list, ",") {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		if !strings.Contains(cidr, "/") {
			if strings.Contains(cidr, ":") {
				cidr += "/128"
			} else {
				cidr += "/32"
			}
		}
		if _, network, err := net.ParseCIDR(cidr); err == nil {
			nets = append(nets, network)
		}
	}
	return nets
}

// RateLimitMetrics defines the metrics interface for rate limiter
type RateLimitMetrics interface {
	IncRateLimitRejected()
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a token bucket per client address
type RateLimiter struct {
	config  *RateLimitConfig
	clients map[string]*client
	mu      sync.Mutex
	stopCh  chan struct{}
	stop    sync.Once
	metrics RateLimitMetrics
}

// NewRateLimiter creates a new rate limiter. A nil config uses the defaults.
func NewRateLimiter(cfg *RateLimitConfig, metrics RateLimitMetrics) *RateLimiter {
	if cfg == nil {
		cfg = DefaultRateLimitConfig()
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = cfg.RequestsPerSecond
	}

	rl := &RateLimiter{
		config:  cfg,
		clients: make(map[string]*client),
		stopCh:  make(chan struct{}),
		metrics: metrics,
	}
	if cfg.CleanupInterval > 0 {
		go rl.cleanup()
	}
	return rl
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictIdle(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) evictIdle(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, c := range rl.clients {
		if now.Sub(c.lastSeen) > rl.config.IdleTimeout {
			delete(rl.clients, key)
		}
	}
}

// Stop stops the cleanup goroutine
func (rl *RateLimiter) Stop() {
	rl.stop.Do(func() { close(rl.stopCh) })
}

// Middleware returns the rate limiting middleware handler
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.config.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		limit := strconv.Itoa(rl.config.RequestsPerSecond)
		if !rl.allow(rl.clientIP(r)) {
			if rl.metrics != nil {
				rl.metrics.IncRateLimitRejected()
			}
			w.Header().Set("Retry-After", "1")
			w.Header().Set("X-RateLimit-Limit", limit)
			w.Header().Set("X-RateLimit-Remaining", "0")
			http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}

		w.Header().Set("X-RateLimit-Limit", limit)
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	c, ok := rl.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.BurstSize)}
		rl.clients[key] = c
	}
	c.lastSeen = time.Now()
	rl.mu.Unlock()

	return c.limiter.Allow()
}

// clientIP trusts X-Forwarded-For only when the peer is a trusted proxy.
// The rightmost untrusted hop is the client.
func (rl *RateLimiter) clientIP(r *http.Request) string {
	remote := extractIP(r.RemoteAddr)
	if !rl.isTrustedProxy(remote) {
		return remote
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			ip := strings.TrimSpace(hops[i])
			if ip != "" && !rl.isTrustedProxy(ip) {
				return ip
			}
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return remote
}

func (rl *RateLimiter) isTrustedProxy(ipStr string) bool {
	if len(rl.config.TrustedProxies) == 0 {
		return false
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, network := range rl.config.TrustedProxies {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// extractIP strips the port from a host:port address
func extractIP(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
