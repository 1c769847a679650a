package sweep

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/thenexusengine/tne_dooh/internal/adapters"
	"github.com/thenexusengine/tne_dooh/internal/config"
	"github.com/thenexusengine/tne_dooh/internal/creative"
	"github.com/thenexusengine/tne_dooh/internal/identity"
	"github.com/thenexusengine/tne_dooh/internal/partner"
	"github.com/thenexusengine/tne_dooh/internal/storage"
	"github.com/thenexusengine/tne_dooh/internal/transport"
	"github.com/thenexusengine/tne_dooh/pkg/logger"
)

// TokenWarmer refreshes partner tokens ahead of a sweep
type TokenWarmer interface {
	Warm(ctx context.Context, partners ...partner.Partner)
}

// Source is one partner's discovery endpoint
type Source struct {
	Partner    partner.Partner
	Discoverer adapters.Discoverer
	Client     transport.Doer
}

// DiscoveryConfig bounds the outbound fan-out of one sweep
type DiscoveryConfig struct {
	Concurrency int
	RPS         float64
}

// Stats summarizes one discovery run
type Stats struct {
	Devices        int
	Requests       int64
	RequestErrors  int64
	Assets         int64
	Created        int64
	AlreadyPresent int64
	Failed         int64
}

// Discovery registers upcoming creatives before they are first bid on
type Discovery struct {
	registry  identity.Registry
	tokens    TokenWarmer
	sources   []Source
	builder   *creative.Builder
	registrar adapters.Registrar
	limiter   *rate.Limiter
	limit     int
}

// NewDiscovery creates the discovery job. tokens may be nil.
func NewDiscovery(cfg DiscoveryConfig, registry identity.Registry, tokens TokenWarmer, builder *creative.Builder, registrar adapters.Registrar, sources ...Source) *Discovery {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = config.SweepConcurrency
	}
	if cfg.RPS <= 0 {
		cfg.RPS = config.SweepRPS
	}
	return &Discovery{
		registry:  registry,
		tokens:    tokens,
		sources:   sources,
		builder:   builder,
		registrar: registrar,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Concurrency),
		limit:     cfg.Concurrency,
	}
}

// Run is the Job form of Sweep
func (d *Discovery) Run(ctx context.Context) error {
	_, err := d.Sweep(ctx)
	return err
}

// Sweep asks every source for each eligible device's upcoming creatives and
// registers the ones not yet known. Per-device failures are logged and
// counted; only a registry or context failure aborts the run.
func (d *Discovery) Sweep(ctx context.Context) (*Stats, error) {
	if d.tokens != nil {
		partners := make([]partner.Partner, 0, len(d.sources))
		for _, s := range d.sources {
			partners = append(partners, s.Partner)
		}
		d.tokens.Warm(ctx, partners...)
	}

	playlogs, err := d.registry.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load device registry: %w", err)
	}

	stats := &Stats{Devices: len(playlogs)}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.limit)

	for _, src := range d.sources {
		for _, pl := range playlogs {
			req, ok, err := src.Discoverer.DiscoveryRequest(pl)
			if err != nil {
				logger.Log.Warn().Err(err).Str("partner", src.Partner.String()).Str("device", pl.ReachDeviceIFA).Msg("Cannot build discovery request")
				continue
			}
			if !ok {
				continue
			}
			g.Go(func() error {
				if err := d.limiter.Wait(gctx); err != nil {
					return err
				}
				d.discover(gctx, src, pl, req, stats)
				return nil
			})
		}
	}

	err = g.Wait()
	log := logger.Sweep("creative_discovery")
	log.Info().
		Int("devices", stats.Devices).
		Int64("requests", stats.Requests).
		Int64("request_errors", stats.RequestErrors).
		Int64("assets", stats.Assets).
		Int64("created", stats.Created).
		Int64("already_present", stats.AlreadyPresent).
		Int64("failed", stats.Failed).
		Msg("Creative discovery finished")
	if err != nil {
		return stats, fmt.Errorf("creative discovery interrupted: %w", err)
	}
	return stats, nil
}

func (d *Discovery) discover(ctx context.Context, src Source, pl *storage.Playlog, req *transport.Request, stats *Stats) {
	display := displayOf(src.Partner, pl)
	log := logger.Partner(src.Partner.String()).With().Str("display", display).Logger()

	atomic.AddInt64(&stats.Requests, 1)
	resp, err := src.Client.Do(ctx, req, config.DefaultPartnerTimeout)
	if err != nil {
		atomic.AddInt64(&stats.RequestErrors, 1)
		log.Warn().Err(transport.NewCallError(src.Partner.String(), err)).Msg("Discovery call failed")
		return
	}
	if !resp.IsSuccess() {
		atomic.AddInt64(&stats.RequestErrors, 1)
		log.Warn().Err(transport.NewBadStatusError(src.Partner.String(), resp.StatusCode, resp.Body)).Msg("Discovery call rejected")
		return
	}

	assets, err := src.Discoverer.ParseDiscovery(pl, resp.Body)
	if err != nil {
		atomic.AddInt64(&stats.RequestErrors, 1)
		log.Warn().Err(transport.NewParseError(src.Partner.String(), err)).Msg("Malformed discovery response")
		return
	}

	for _, a := range assets {
		atomic.AddInt64(&stats.Assets, 1)
		if d.registrar.Known(ctx, a.URL) {
			continue
		}
		creq, err := d.builder.Build(src.Partner, a)
		if err != nil {
			log.Debug().Err(err).Str("url", a.URL).Msg("Asset not registrable")
			continue
		}
		switch d.registrar.RegisterIfAbsent(ctx, creq, src.Partner, display) {
		case creative.Created:
			atomic.AddInt64(&stats.Created, 1)
		case creative.AlreadyPresent:
			atomic.AddInt64(&stats.AlreadyPresent, 1)
		case creative.Failed:
			atomic.AddInt64(&stats.Failed, 1)
		}
	}
}

// displayOf is the partner-side screen id a device is discovered under
func displayOf(p partner.Partner, pl *storage.Playlog) string {
	switch p {
	case partner.Hivestack:
		return pl.HivestackDisplayUUID
	case partner.Vistar, partner.VistarFrench:
		return pl.PanelID()
	}
	return ""
}

// IdentityRebuild returns the job that republishes the device mapping
func IdentityRebuild(store *identity.Store) Job {
	return store.Rebuild
}
