// Package token caches per-partner bearer tokens for the creative platform
package token

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/buger/jsonparser"
	"golang.org/x/sync/singleflight"

	"github.com/thenexusengine/tne_dooh/internal/config"
	"github.com/thenexusengine/tne_dooh/internal/partner"
	"github.com/thenexusengine/tne_dooh/internal/transport"
	"github.com/thenexusengine/tne_dooh/pkg/logger"
)

// ErrRefreshFailed is returned once every credential exchange attempt failed
var ErrRefreshFailed = errors.New("token refresh failed")

// Credentials are the account used for one partner
type Credentials struct {
	Username string
	Password string
}

// Config holds token endpoint configuration
type Config struct {
	BaseURL     string
	TokenPath   string
	Credentials map[partner.Partner]Credentials
	MaxAttempts int
	Backoff     time.Duration
	Timeout     time.Duration
}

// MetricsRecorder records credential exchanges
type MetricsRecorder interface {
	RecordTokenRefresh(partner string, success bool)
}

// Source hands out bearer tokens
type Source interface {
	Token(ctx context.Context, p partner.Partner) (string, error)
}

type entry struct {
	bearer string
	expiry time.Time
}

// Cache reuses tokens until expiry and serializes refreshes per partner
type Cache struct {
	config  Config
	client  transport.Doer
	metrics MetricsRecorder
	now     func() time.Time
	group   singleflight.Group

	mu     sync.RWMutex
	tokens map[partner.Partner]entry
}

// NewCache creates a token cache. metrics may be nil.
func NewCache(cfg Config, client transport.Doer, metrics MetricsRecorder) *Cache {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = config.DefaultTokenAttempts
	}
	if cfg.Backoff < 0 {
		cfg.Backoff = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultPartnerTimeout
	}
	return &Cache{
		config:  cfg,
		client:  client,
		metrics: metrics,
		now:     time.Now,
		tokens:  make(map[partner.Partner]entry),
	}
}

// Token returns a valid bearer string ("Bearer <access_token>") for p,
// exchanging credentials when none is cached or the cached one expired
func (c *Cache) Token(ctx context.Context, p partner.Partner) (string, error) {
	if bearer, ok := c.cached(p); ok {
		return bearer, nil
	}

	// The shared refresh must not inherit the deadline of whichever caller
	// started it; each caller stops waiting on its own context instead.
	ch := c.group.DoChan(p.String(), func() (interface{}, error) {
		// another caller may have refreshed while we waited
		if bearer, ok := c.cached(p); ok {
			return bearer, nil
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshBudget())
		defer cancel()
		return c.refresh(rctx, p)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", ErrRefreshFailed, ctx.Err())
	}
}

// refreshBudget bounds one shared refresh: every attempt plus the pauses between them
func (c *Cache) refreshBudget() time.Duration {
	n := time.Duration(c.config.MaxAttempts)
	return n*c.config.Timeout + (n-1)*c.config.Backoff
}

// Warm refreshes tokens for the given partners ahead of a sweep. Failures
// are logged and otherwise ignored.
func (c *Cache) Warm(ctx context.Context, partners ...partner.Partner) {
	for _, p := range partners {
		if _, err := c.Token(ctx, p); err != nil {
			logger.Log.Warn().Err(err).Str("partner", p.String()).Msg("Token warm-up failed")
		}
	}
}

// Invalidate drops the cached token for p
func (c *Cache) Invalidate(p partner.Partner) {
	c.mu.Lock()
	delete(c.tokens, p)
	c.mu.Unlock()
}

func (c *Cache) cached(p partner.Partner) (string, bool) {
	c.mu.RLock()
	e, ok := c.tokens[p]
	c.mu.RUnlock()
	if !ok || !e.expiry.After(c.now()) {
		return "", false
	}
	return e.bearer, true
}

func (c *Cache) refresh(ctx context.Context, p partner.Partner) (string, error) {
	creds, ok := c.config.Credentials[p]
	if !ok {
		return "", fmt.Errorf("%w: no credentials for %s", ErrRefreshFailed, p)
	}

	var lastErr error
	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		e, err := c.exchange(ctx, p, creds)
		if err == nil {
			c.mu.Lock()
			c.tokens[p] = e
			c.mu.Unlock()
			c.record(p, true)
			logger.Log.Debug().
				Str("partner", p.String()).
				Time("expiry", e.expiry).
				Msg("Bearer token refreshed")
			return e.bearer, nil
		}

		lastErr = err
		c.record(p, false)
		logger.Log.Warn().
			Err(err).
			Str("partner", p.String()).
			Int("attempt", attempt).
			Msg("Credential exchange failed")

		if attempt == c.config.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", ErrRefreshFailed, ctx.Err())
		case <-time.After(c.config.Backoff):
		}
	}

	return "", fmt.Errorf("%w after %d attempts: %v", ErrRefreshFailed, c.config.MaxAttempts, lastErr)
}

func (c *Cache) exchange(ctx context.Context, p partner.Partner, creds Credentials) (entry, error) {
	form := url.Values{}
	form.Set("username", creds.Username)
	form.Set("password", creds.Password)

	resp, err := c.client.Do(ctx, transport.FormRequest(c.config.BaseURL+c.config.TokenPath, form), c.config.Timeout)
	if err != nil {
		return entry{}, transport.NewCallError(p.String(), err)
	}
	if !resp.IsSuccess() {
		return entry{}, transport.NewBadStatusError(p.String(), resp.StatusCode, resp.Body)
	}

	accessToken, err := jsonparser.GetString(resp.Body, "access_token")
	if err != nil || accessToken == "" {
		return entry{}, transport.NewParseError(p.String(), fmt.Errorf("access_token: %w", errOrMissing(err)))
	}
	expiresIn, err := jsonparser.GetInt(resp.Body, "expires_in")
	if err != nil {
		return entry{}, transport.NewParseError(p.String(), fmt.Errorf("expires_in: %w", err))
	}

	return entry{
		bearer: "Bearer " + accessToken,
		expiry: c.now().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}

func (c *Cache) record(p partner.Partner, success bool) {
	if c.metrics != nil {
		c.metrics.RecordTokenRefresh(p.String(), success)
	}
}

func errOrMissing(err error) error {
	if err != nil {
		return err
	}
	return errors.New("empty value")
}
