package middleware

import (
	"net/http"
	"sync"

	"github.com/thenexusengine/tne_dooh/internal/config"
)

// SizeLimitConfig configures request size limiting
type SizeLimitConfig struct {
	Enabled      bool
	MaxBodySize  int64
	MaxURLLength int
}

// DefaultSizeLimitConfig returns the limits used for SSP traffic
func DefaultSizeLimitConfig() *SizeLimitConfig {
	return &SizeLimitConfig{
		Enabled:      true,
		MaxBodySize:  config.DefaultMaxBodySize,
		MaxURLLength: config.DefaultMaxURLLength,
	}
}

// SizeLimiter rejects oversized URLs and bodies before they reach a handler
type SizeLimiter struct {
	config *SizeLimitConfig
	mu     sync.RWMutex
}

// NewSizeLimiter creates a size limiter. A nil config uses the defaults.
func NewSizeLimiter(cfg *SizeLimitConfig) *SizeLimiter {
	if cfg == nil {
		cfg = DefaultSizeLimitConfig()
	}
	return &SizeLimiter{config: cfg}
}

// Middleware returns the size limiting handler
func (s *SizeLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		cfg := *s.config
		s.mu.RUnlock()

		if !cfg.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		if cfg.MaxURLLength > 0 && len(r.URL.String()) > cfg.MaxURLLength {
			http.Error(w, `{"error":"URL too long"}`, http.StatusRequestURITooLong)
			return
		}

		if cfg.MaxBodySize > 0 {
			if r.ContentLength > cfg.MaxBodySize {
				http.Error(w, `{"error":"request body too large"}`, http.StatusRequestEntityTooLarge)
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxBodySize)
			}
		}

		next.ServeHTTP(w, r)
	})
}

// SetMaxBodySize changes the body limit at runtime
func (s *SizeLimiter) SetMaxBodySize(size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.MaxBodySize = size
}

// GetConfig returns a copy of the current configuration
func (s *SizeLimiter) GetConfig() SizeLimitConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.config
}
