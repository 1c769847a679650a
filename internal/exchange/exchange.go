// Package exchange routes a bid request to one partner and assembles the response
package exchange

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/thenexusengine/tne_dooh/internal/adapters"
	"github.com/thenexusengine/tne_dooh/internal/config"
	"github.com/thenexusengine/tne_dooh/internal/openrtb"
	"github.com/thenexusengine/tne_dooh/internal/partner"
	"github.com/thenexusengine/tne_dooh/pkg/logger"
)

// ErrPartnerDisabled is returned when the partner is switched off
var ErrPartnerDisabled = errors.New("partner disabled")

// maxAllowedTMax caps the SSP-supplied budget (10 seconds)
const maxAllowedTMax = 10000

// Fetcher turns an opportunity into a single outcome
type Fetcher interface {
	FetchAd(ctx context.Context, opp *adapters.Opportunity) adapters.Outcome
}

// IdentityResolver maps a device to its partner-side screen id
type IdentityResolver interface {
	Lookup(deviceID string, p partner.Partner) (string, bool)
}

// MetricsRecorder records routed bids
type MetricsRecorder interface {
	RecordBid(partner, outcome string, duration time.Duration)
}

// Config holds router configuration
type Config struct {
	// Timeout is the latency budget of one opportunity. A smaller tmax wins.
	Timeout time.Duration
	Enabled map[partner.Partner]bool
}

// DefaultConfig returns default configuration with every partner enabled
func DefaultConfig() *Config {
	return &Config{
		Timeout: config.DefaultBidTimeout,
		Enabled: map[partner.Partner]bool{
			partner.Vistar:       true,
			partner.VistarFrench: true,
			partner.Hivestack:    true,
		},
	}
}

// validateConfig applies defaults for invalid values
func validateConfig(cfg *Config) *Config {
	defaults := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.Enabled == nil {
		cfg.Enabled = defaults.Enabled
	}
	return cfg
}

// Router validates a request, resolves the device and waits for exactly
// one partner outcome
type Router struct {
	fetcher  Fetcher
	identity IdentityResolver
	config   *Config
	metrics  MetricsRecorder
}

// New creates a router. metrics may be nil.
func New(fetcher Fetcher, identity IdentityResolver, cfg *Config, metrics MetricsRecorder) *Router {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Router{
		fetcher:  fetcher,
		identity: identity,
		config:   validateConfig(cfg),
		metrics:  metrics,
	}
}

// Enabled reports whether p accepts bids
func (r *Router) Enabled(p partner.Partner) bool {
	return r.config.Enabled[p]
}

// Result is the assembled response plus the outcome that produced it
type Result struct {
	Response *openrtb.BidResponse
	Outcome  adapters.Outcome
}

// RouteBid answers req through partner p. A disabled partner returns
// ErrPartnerDisabled; every other failure is a no-fill result.
func (r *Router) RouteBid(ctx context.Context, req *openrtb.BidRequest, p partner.Partner) (*Result, error) {
	if !r.Enabled(p) {
		return nil, ErrPartnerDisabled
	}

	start := time.Now()
	resp := skeleton(req)
	log := logger.Auction(req.ID).With().Str("partner", p.String()).Logger()

	outcome := r.route(ctx, req, p, log)
	if !outcome.IsNoFill() {
		resp.SeatBid[0].Bid = []openrtb.Bid{*outcome.Bid}
	}

	duration := time.Since(start)
	if r.metrics != nil {
		result := "bid"
		if outcome.IsNoFill() {
			result = string(outcome.Reason)
		}
		r.metrics.RecordBid(p.String(), result, duration)
	}

	log.Info().
		Str("device", req.DeviceID()).
		Bool("no_fill", outcome.IsNoFill()).
		Str("reason", string(outcome.Reason)).
		Dur("duration", duration).
		Msg("Bid routed")

	return &Result{Response: resp, Outcome: outcome}, nil
}

func (r *Router) route(ctx context.Context, req *openrtb.BidRequest, p partner.Partner, log zerolog.Logger) adapters.Outcome {
	if len(req.Imp) == 0 || req.Imp[0].ID == "" {
		log.Warn().Msg("Request has no usable impression")
		return adapters.NoFill(adapters.NoFillInvalidRequest)
	}

	deviceID := req.DeviceID()
	key, ok := r.identity.Lookup(deviceID, p)
	if !ok {
		log.Warn().Str("device", deviceID).Msg("No partner identity for device")
		return adapters.NoFill(adapters.NoFillIdentity)
	}

	opp := &adapters.Opportunity{
		Partner:    p,
		RequestID:  req.ID,
		Imp:        &req.Imp[0],
		Device:     req.Device,
		DeviceID:   deviceID,
		PartnerKey: key,
	}
	return r.await(ctx, opp, r.budget(req))
}

// budget is the configured timeout, narrowed by tmax when the SSP sends one
func (r *Router) budget(req *openrtb.BidRequest) time.Duration {
	timeout := r.config.Timeout
	if req.TMax > 0 {
		tmax := req.TMax
		if tmax > maxAllowedTMax {
			tmax = maxAllowedTMax
		}
		if d := time.Duration(tmax) * time.Millisecond; d < timeout {
			timeout = d
		}
	}
	return timeout
}

// await runs the fetch and returns the first terminal outcome. The fetch
// goroutine never blocks on an abandoned request.
func (r *Router) await(ctx context.Context, opp *adapters.Opportunity, timeout time.Duration) adapters.Outcome {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := newCompletion()
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Log.Error().
					Interface("panic", rec).
					Str("partner", opp.Partner.String()).
					Str("request_id", opp.RequestID).
					Msg("Partner fetch panicked")
				done.complete(adapters.NoFill(adapters.NoFillPartnerError))
			}
		}()
		done.complete(r.fetcher.FetchAd(ctx, opp))
	}()

	select {
	case outcome := <-done.ch:
		return outcome
	case <-ctx.Done():
		done.complete(adapters.NoFill(adapters.NoFillTimeout))
		return <-done.ch
	}
}

// completion accepts exactly one outcome. Later completions are dropped.
type completion struct {
	once sync.Once
	ch   chan adapters.Outcome
}

func newCompletion() *completion {
	return &completion{ch: make(chan adapters.Outcome, 1)}
}

func (c *completion) complete(o adapters.Outcome) bool {
	won := false
	c.once.Do(func() {
		c.ch <- o
		won = true
	})
	return won
}

// skeleton echoes the request id and takes currency and seat from the first deal
func skeleton(req *openrtb.BidRequest) *openrtb.BidResponse {
	resp := &openrtb.BidResponse{
		ID:      req.ID,
		SeatBid: []openrtb.SeatBid{{Bid: []openrtb.Bid{}}},
	}
	if len(req.Imp) == 0 {
		return resp
	}
	if deal := req.Imp[0].FirstDeal(); deal != nil {
		resp.Cur = deal.BidFloorCur
		if len(deal.WSeat) > 0 {
			resp.SeatBid[0].Seat = deal.WSeat[0]
		}
	}
	return resp
}
