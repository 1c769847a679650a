// Package config provides shared configuration constants for the DOOH proxy
package config

import "time"

// Server timeout defaults
const (
	// ServerReadTimeout is the maximum duration for reading the entire request
	ServerReadTimeout = 5 * time.Second

	// ServerWriteTimeout is the maximum duration before timing out writes of the response
	ServerWriteTimeout = 10 * time.Second

	// ServerIdleTimeout is the maximum time to wait for the next request when keep-alives are enabled
	ServerIdleTimeout = 120 * time.Second

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout = 30 * time.Second
)

// Bid routing defaults
const (
	// DefaultBidTimeout bounds one partner round trip including creative registration
	DefaultBidTimeout = 2 * time.Second

	// DefaultPartnerTimeout bounds a single outbound partner HTTP call
	DefaultPartnerTimeout = 1500 * time.Millisecond

	// DefaultBidPrice is used when BID_PRICE is not configured
	DefaultBidPrice = "1.00"
)

// Token defaults
const (
	// DefaultTokenAttempts caps credential exchanges per refresh
	DefaultTokenAttempts = 3

	// TokenRetryBackoff is the pause between failed credential exchanges
	TokenRetryBackoff = 200 * time.Millisecond

	// RegistrationBudget bounds one shared creative registration, token refresh included
	RegistrationBudget = 10 * time.Second
)

// Background sweep defaults
const (
	// SweepInterval is the period of creative discovery and identity rebuilds
	SweepInterval = time.Hour

	// SweepInitialDelay is the wait after startup before the first sweep
	SweepInitialDelay = 10 * time.Second

	// SweepConcurrency caps outbound calls in flight during a sweep
	SweepConcurrency = 8

	// SweepRPS paces sweep calls so partners are not flooded
	SweepRPS = 20
)

// VAST document cache defaults
const (
	// VastCacheSize is the in-process cache size in bytes (256MB). freecache
	// rejects entries above 1/1024 of its size, so this admits documents up
	// to 256KB; larger ones only reach the Redis tier.
	VastCacheSize = 256 * 1024 * 1024

	// VastDocumentTTL is how long an assembled document stays retrievable
	VastDocumentTTL = 6 * time.Hour
)

// Size limiting defaults
const (
	// DefaultMaxBodySize is the default maximum request body size (1MB)
	DefaultMaxBodySize = 1024 * 1024

	// DefaultMaxURLLength is the default maximum URL length (8KB)
	DefaultMaxURLLength = 8192

	// MaxPartnerResponseSize caps partner response bodies (1MB)
	MaxPartnerResponseSize = 1024 * 1024
)

// Rate limiting defaults
const (
	// DefaultRPS is the default inbound requests per second limit
	DefaultRPS = 1000

	// DefaultBurstSize is the default burst size for rate limiting
	DefaultBurstSize = 200
)

// Loss notification defaults
const (
	// LossNotifyWorkers is the number of loss relay workers
	LossNotifyWorkers = 4

	// LossNotifyQueueSize is the max pending loss relays before dropping
	LossNotifyQueueSize = 256

	// LossNotifyTimeout bounds a single relay call
	LossNotifyTimeout = 5 * time.Second
)

// Redis defaults
const (
	// RedisPoolSize is the default connection pool size
	RedisPoolSize = 50
)
