package adapters

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/thenexusengine/tne_dooh/internal/config"
	"github.com/thenexusengine/tne_dooh/internal/creative"
	"github.com/thenexusengine/tne_dooh/internal/openrtb"
	"github.com/thenexusengine/tne_dooh/internal/partner"
	"github.com/thenexusengine/tne_dooh/internal/transport"
	"github.com/thenexusengine/tne_dooh/internal/vast"
	"github.com/thenexusengine/tne_dooh/pkg/logger"
)

// BidderConfig holds the values shared by every partner bid
type BidderConfig struct {
	Price              decimal.Decimal
	VastServerBase     string
	ContextPath        string
	CachedDocumentPath string
	NURLTemplate       string // URL-encoded, decoded once at construction
	LURLTemplate       string
	Timeout            time.Duration
}

// Registrar is the creative registration dependency
type Registrar interface {
	Known(ctx context.Context, url string) bool
	RegisterIfAbsent(ctx context.Context, req *creative.Request, p partner.Partner, display string) creative.Result
}

// MetricsRecorder records partner calls
type MetricsRecorder interface {
	RecordPartnerRequest(partner string, latency time.Duration, errCode string)
}

type registered struct {
	adapter Adapter
	client  transport.Doer
}

// Bidder runs the shared pipeline around partner adapters: call, parse,
// mime mapping, creative registration and document caching
type Bidder struct {
	config    BidderConfig
	nurl      string
	lurl      string
	adapters  map[partner.Partner]registered
	registrar Registrar
	builder   *creative.Builder
	documents vast.Store
	metrics   MetricsRecorder
}

// NewBidder creates a bidder. metrics may be nil.
func NewBidder(cfg BidderConfig, registrar Registrar, builder *creative.Builder, documents vast.Store, metrics MetricsRecorder) *Bidder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultPartnerTimeout
	}
	return &Bidder{
		config:    cfg,
		nurl:      decodeTemplate(cfg.NURLTemplate),
		lurl:      decodeTemplate(cfg.LURLTemplate),
		adapters:  make(map[partner.Partner]registered),
		registrar: registrar,
		builder:   builder,
		documents: documents,
		metrics:   metrics,
	}
}

// Register binds an adapter and its outbound client to p
func (b *Bidder) Register(p partner.Partner, adapter Adapter, client transport.Doer) {
	b.adapters[p] = registered{adapter: adapter, client: client}
}

// FetchAd asks the partner for an ad and turns it into a bid. Every error
// path ends in a no-fill; nothing is retried.
func (b *Bidder) FetchAd(ctx context.Context, opp *Opportunity) Outcome {
	reg, ok := b.adapters[opp.Partner]
	if !ok || opp.Imp == nil {
		return NoFill(NoFillInvalidRequest)
	}

	log := logger.Log.With().
		Str("partner", opp.Partner.String()).
		Str("request_id", opp.RequestID).
		Str("imp_id", opp.Imp.ID).
		Str("device", opp.DeviceID).
		Str("partner_key", opp.PartnerKey).
		Logger()

	req, err := reg.adapter.MakeRequest(opp)
	if err != nil {
		log.Error().Err(transport.NewMarshalError(opp.Partner.String(), err)).Msg("Failed to build partner request")
		return NoFill(NoFillInvalidRequest)
	}

	start := time.Now()
	resp, err := reg.client.Do(ctx, req, b.config.Timeout)
	latency := time.Since(start)

	if err != nil {
		if errors.Is(err, transport.ErrCircuitOpen) {
			b.record(opp.Partner, latency, "CIRCUIT_OPEN")
			log.Warn().Msg("Partner circuit open, skipping call")
			return NoFill(NoFillCircuitOpen)
		}
		perr := transport.NewCallError(opp.Partner.String(), err)
		b.record(opp.Partner, latency, string(perr.Code))
		log.Error().Err(perr).Dur("latency", latency).Msg("Partner call failed")
		if perr.Code == transport.ErrorCodeTimeout {
			return NoFill(NoFillTimeout)
		}
		return NoFill(NoFillPartnerError)
	}

	if !resp.IsSuccess() {
		perr := transport.NewBadStatusError(opp.Partner.String(), resp.StatusCode, resp.Body)
		b.record(opp.Partner, latency, string(perr.Code))
		log.Error().Err(perr).Msg("Partner returned error status")
		return NoFill(NoFillPartnerError)
	}
	b.record(opp.Partner, latency, "")

	ad, err := reg.adapter.ParseAd(opp, resp)
	if errors.Is(err, ErrNoAd) {
		log.Info().Msg("Nothing scheduled")
		return NoFill(NoFillNoAd)
	}
	if err != nil {
		log.Error().Err(transport.NewParseError(opp.Partner.String(), err)).Msg("Malformed partner response")
		return NoFill(NoFillMalformed)
	}

	return b.complete(ctx, opp, ad, log)
}

// complete maps the ad to a bid once its creative is known downstream
func (b *Bidder) complete(ctx context.Context, opp *Opportunity, ad *Ad, log zerolog.Logger) Outcome {
	kind := kindOf(ad.MimeType)
	if kind == mediaUnsupported {
		log.Error().Str("mime_type", ad.MimeType).Msg("Unknown mime type, no bid")
		return NoFill(NoFillUnsupportedMime)
	}
	if ad.MediaURL == "" || ad.BidID == "" {
		log.Error().Msg("Partner ad lacks media url or id")
		return NoFill(NoFillMalformed)
	}

	adID, err := b.builder.IDs().FromURL(ad.MediaURL)
	if err != nil {
		log.Error().Err(err).Str("url", ad.MediaURL).Msg("Cannot derive creative id")
		return NoFill(NoFillMalformed)
	}

	bid := &openrtb.Bid{
		ID:    ad.BidID,
		Price: b.config.Price.Round(4).InexactFloat64(),
		AdID:  adID,
		NURL:  b.notifyURL(b.nurl, opp, ""),
		LURL:  b.notifyURL(b.lurl, opp, ad.LossURL),
		UUID:  uuid.NewString(),
	}
	if deal := opp.Imp.FirstDeal(); deal != nil {
		bid.DealID = deal.ID
	}

	switch kind {
	case mediaImage:
		bid.IURL = ad.ImpressionURL
		bid.ImpID = imageImpID
	case mediaVideo:
		bid.ImpID = videoImpID
		bid.Ext = &openrtb.BidExt{VastURL: b.documentURL(opp)}
	}

	if !b.registrar.Known(ctx, ad.MediaURL) {
		req, err := b.builder.Build(opp.Partner, creative.Asset{
			URL:      ad.MediaURL,
			MimeType: ad.MimeType,
			Name:     ad.CreativeName,
		})
		if err != nil {
			log.Error().Err(err).Msg("Cannot build creative registration")
			return NoFill(NoFillRegistration)
		}
		result := b.registrar.RegisterIfAbsent(ctx, req, opp.Partner, opp.PartnerKey)
		if !result.Usable() {
			log.Warn().Str("url", ad.MediaURL).Msg("Creative registration failed, bid withheld")
			return NoFill(NoFillRegistration)
		}
	}

	if ad.VastDocument != "" {
		key := vast.DocumentKey(opp.PartnerKey, opp.Imp.ID)
		if err := b.documents.Put(ctx, key, ad.VastDocument); err != nil {
			log.Error().Err(err).Str("key", key).Msg("Failed to cache VAST document")
			if kind == mediaVideo {
				return NoFill(NoFillPartnerError)
			}
		}
	}

	log.Debug().
		Str("bid_id", bid.ID).
		Str("uuid", bid.UUID).
		Str("impid", bid.ImpID).
		Str("adid", bid.AdID).
		Msg("Bid ready")
	return Fill(bid)
}

// notifyURL appends the partner tag and device. lossURL, when set, is
// embedded so the loss handler can relay it.
func (b *Bidder) notifyURL(template string, opp *Opportunity, lossURL string) string {
	u := b.config.VastServerBase + b.config.ContextPath + template
	if lossURL != "" {
		u += "&lossurl=" + url.QueryEscape(lossURL)
	}
	return u + "&partner=" + opp.Partner.Tag() + "&device=" + opp.DeviceID
}

// documentURL is where the screen fetches the cached document
func (b *Bidder) documentURL(opp *Opportunity) string {
	return fmt.Sprintf("%s%s%s%s/%s",
		b.config.VastServerBase, b.config.ContextPath, b.config.CachedDocumentPath,
		opp.PartnerKey, opp.Imp.ID)
}

func (b *Bidder) record(p partner.Partner, latency time.Duration, errCode string) {
	if b.metrics != nil {
		b.metrics.RecordPartnerRequest(p.String(), latency, errCode)
	}
}

// decodeTemplate URL-decodes a notify template, keeping it as-is when it is not encoded
func decodeTemplate(t string) string {
	if d, err := url.QueryUnescape(t); err == nil {
		return d
	}
	return t
}
