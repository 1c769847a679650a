// Package logger provides structured logging for the DOOH proxy on top of zerolog
package logger

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Log is the process-wide logger. Init replaces it.
var Log zerolog.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

type contextKey string

const (
	// RequestIDKey holds the inbound request id in a context
	RequestIDKey contextKey = "request_id"
	// AuctionIDKey holds the bid request id in a context
	AuctionIDKey contextKey = "auction_id"
)

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	TimeFormat string
}

// DefaultConfig returns configuration from LOG_LEVEL and LOG_FORMAT
func DefaultConfig() Config {
	return Config{
		Level:      getEnv("LOG_LEVEL", "info"),
		Format:     getEnv("LOG_FORMAT", "json"),
		TimeFormat: time.RFC3339,
	}
}

// Init configures the global logger. Unknown levels fall back to info.
func Init(cfg Config) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	out := zerolog.New(os.Stdout)
	if cfg.Format == "console" {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: cfg.TimeFormat})
	}

	Log = out.Level(level).With().
		Timestamp().
		Str("service", "dooh-proxy").
		Logger()
}

// WithRequestID stores the request id in ctx
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithAuctionID stores the bid request id in ctx
func WithAuctionID(ctx context.Context, auctionID string) context.Context {
	return context.WithValue(ctx, AuctionIDKey, auctionID)
}

// FromContext returns a logger carrying whatever ids ctx holds
func FromContext(ctx context.Context) zerolog.Logger {
	lc := Log.With()
	if id, ok := ctx.Value(RequestIDKey).(string); ok && id != "" {
		lc = lc.Str("request_id", id)
	}
	if id, ok := ctx.Value(AuctionIDKey).(string); ok && id != "" {
		lc = lc.Str("auction_id", id)
	}
	return lc.Logger()
}

// Auction returns a logger scoped to one bid request
func Auction(auctionID string) zerolog.Logger {
	return Log.With().Str("auction_id", auctionID).Logger()
}

// Partner returns a logger scoped to one upstream partner
func Partner(name string) zerolog.Logger {
	return Log.With().Str("partner", name).Logger()
}

// HTTP returns a logger for the HTTP layer
func HTTP() zerolog.Logger {
	return Log.With().Str("component", "http").Logger()
}

// Sweep returns a logger for a background job
func Sweep(job string) zerolog.Logger {
	return Log.With().Str("component", "sweep").Str("job", job).Logger()
}

// RequestLogger accumulates fields for a single inbound request
type RequestLogger struct {
	logger zerolog.Logger
	start  time.Time
}

// NewRequestLogger starts a request-scoped logger
func NewRequestLogger(requestID string) *RequestLogger {
	return &RequestLogger{
		logger: Log.With().Str("request_id", requestID).Logger(),
		start:  time.Now(),
	}
}

// WithField adds a field and returns the same logger for chaining
func (r *RequestLogger) WithField(key string, value interface{}) *RequestLogger {
	r.logger = r.logger.With().Interface(key, value).Logger()
	return r
}

// Info logs at info level
func (r *RequestLogger) Info(msg string) {
	r.logger.Info().Msg(msg)
}

// Error logs err at error level
func (r *RequestLogger) Error(msg string, err error) {
	r.logger.Error().Err(err).Msg(msg)
}

// Duration is the time since the logger was created
func (r *RequestLogger) Duration() time.Duration {
	return time.Since(r.start)
}

// LogComplete writes the request completion line
func (r *RequestLogger) LogComplete(status int) {
	r.logger.Info().
		Int("status", status).
		Float64("duration_ms", float64(r.Duration().Microseconds())/1000.0).
		Msg("request completed")
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
