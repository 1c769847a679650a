// Package vistar implements the Vistar ad-serving adapter for both
// language variants
package vistar

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/thenexusengine/tne_dooh/internal/adapters"
	"github.com/thenexusengine/tne_dooh/internal/creative"
	"github.com/thenexusengine/tne_dooh/internal/partner"
	"github.com/thenexusengine/tne_dooh/internal/storage"
	"github.com/thenexusengine/tne_dooh/internal/transport"
	"github.com/thenexusengine/tne_dooh/internal/vast"
)

// DefaultSupportedMedia is advertised when the impression names no mimes
var DefaultSupportedMedia = []string{"image/jpeg", "video/mp4", "image/png", "video/mpeg"}

// Config holds the endpoints and account of one language variant
type Config struct {
	AdServingURL       string
	CreativeCachingURL string
	NetworkID          string
	APIKey             string
}

// Request is the Vistar ad request document
type Request struct {
	DeviceID         string        `json:"device_id"`
	DirectConnection bool          `json:"direct_connection"`
	DisplayArea      []DisplayArea `json:"display_area"`
	DisplayTime      int64         `json:"display_time"`
	VenueID          string        `json:"venue_id"`
	NetworkID        string        `json:"network_id"`
	Longitude        float64       `json:"longitude,omitempty"`
	Latitude         float64       `json:"latitude,omitempty"`
	APIKey           string        `json:"api_key"`
	MinDuration      int           `json:"min_duration,omitempty"`
	MaxDuration      int           `json:"max_duration,omitempty"`
}

// DisplayArea is one drawable region of the screen
type DisplayArea struct {
	ID             string   `json:"id"`
	Width          int      `json:"width"`
	Height         int      `json:"height"`
	AllowAudio     bool     `json:"allow_audio"`
	SupportedMedia []string `json:"supported_media"`
}

// Advertisement is one entry of the ad-serving answer
type Advertisement struct {
	ID                   string  `json:"id"`
	ProofOfPlayURL       string  `json:"proof_of_play_url"`
	ExpirationURL        string  `json:"expiration_url"`
	AssetURL             string  `json:"asset_url"`
	Width                int     `json:"width"`
	Height               int     `json:"height"`
	MimeType             string  `json:"mime_type"`
	LengthInMilliseconds float64 `json:"length_in_milliseconds"`
	Advertiser           string  `json:"advertiser"`
}

type adResponse struct {
	Advertisement []Advertisement `json:"advertisement"`
}

type cachingAsset struct {
	AssetURL     string `json:"asset_url"`
	MimeType     string `json:"mime_type"`
	CreativeName string `json:"creative_name"`
}

type cachingResponse struct {
	Asset []cachingAsset `json:"asset"`
}

// Adapter implements adapters.Adapter and adapters.Discoverer for one variant
type Adapter struct {
	partner partner.Partner
	config  Config
	now     func() time.Time
}

// New creates an adapter for p, which must be a Vistar variant
func New(p partner.Partner, cfg Config) (*Adapter, error) {
	if !p.IsVistar() {
		return nil, fmt.Errorf("%s is not a vistar variant", p)
	}
	return &Adapter{partner: p, config: cfg, now: time.Now}, nil
}

// baseRequest returns the fields shared by ad and caching requests
func (a *Adapter) baseRequest(venueID string) *Request {
	media := make([]string, len(DefaultSupportedMedia))
	copy(media, DefaultSupportedMedia)
	return &Request{
		DeviceID:         "",
		DirectConnection: false,
		DisplayArea: []DisplayArea{{
			ID:             "1",
			AllowAudio:     false,
			SupportedMedia: media,
		}},
		DisplayTime: a.now().Unix(),
		VenueID:     venueID,
		NetworkID:   a.config.NetworkID,
		APIKey:      a.config.APIKey,
	}
}

// BuildRequest maps the opportunity to the ad request document
func (a *Adapter) BuildRequest(opp *adapters.Opportunity) *Request {
	req := a.baseRequest(opp.PartnerKey)
	area := &req.DisplayArea[0]
	imp := opp.Imp

	if imp.Ext != nil && imp.Ext.DisplayTime > 0 {
		req.DisplayTime = imp.Ext.DisplayTime
	}

	switch {
	case imp.Banner != nil:
		area.Width, area.Height = imp.Banner.W, imp.Banner.H
		if len(imp.Banner.Mimes) > 0 {
			area.SupportedMedia = imp.Banner.Mimes
		}
	case imp.Video != nil:
		area.Width, area.Height = imp.Video.W, imp.Video.H
		req.MinDuration = imp.Video.MinDuration
		req.MaxDuration = imp.Video.MaxDuration
		if len(imp.Video.Mimes) > 0 {
			area.SupportedMedia = imp.Video.Mimes
		}
	}

	if opp.Device != nil && opp.Device.Geo != nil {
		req.Latitude = opp.Device.Geo.Lat
		req.Longitude = opp.Device.Geo.Lon
	}
	return req
}

// MakeRequest implements adapters.Adapter
func (a *Adapter) MakeRequest(opp *adapters.Opportunity) (*transport.Request, error) {
	if opp.PartnerKey == "" {
		return nil, errors.New("missing venue id")
	}
	body, err := json.Marshal(a.BuildRequest(opp))
	if err != nil {
		return nil, err
	}
	return transport.JSONRequest(http.MethodPost, a.config.AdServingURL, body), nil
}

// ParseAd implements adapters.Adapter. The first advertisement drives the bid.
func (a *Adapter) ParseAd(opp *adapters.Opportunity, resp *transport.Response) (*adapters.Ad, error) {
	var parsed adResponse
	if len(resp.Body) == 0 {
		return nil, adapters.ErrNoAd
	}
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Advertisement) == 0 {
		return nil, adapters.ErrNoAd
	}

	ad := parsed.Advertisement[0]
	if ad.ID == "" || ad.AssetURL == "" {
		return nil, errors.New("advertisement lacks id or asset_url")
	}

	doc, err := vast.Build(vast.Linear{
		ImpressionURL: ad.ProofOfPlayURL,
		Duration:      time.Duration(int64(ad.LengthInMilliseconds)) * time.Millisecond,
		Width:         ad.Width,
		Height:        ad.Height,
		MimeType:      ad.MimeType,
		MediaURL:      ad.AssetURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build VAST: %w", err)
	}

	return &adapters.Ad{
		BidID:         ad.ID,
		ImpressionURL: ad.ProofOfPlayURL,
		MediaURL:      ad.AssetURL,
		MimeType:      ad.MimeType,
		VastDocument:  doc,
		LossURL:       ad.ExpirationURL,
		CreativeName:  ad.Advertiser,
	}, nil
}

// DiscoveryRequest asks the creative-caching endpoint which assets may
// play on the device's panel, sized to the screen
func (a *Adapter) DiscoveryRequest(pl *storage.Playlog) (*transport.Request, bool, error) {
	if !pl.VistarEligible() || pl.VistarLanguage != a.partner.Language() {
		return nil, false, nil
	}
	req := a.baseRequest(pl.PanelID())
	req.DisplayArea[0].Width = pl.RottAdWidth
	req.DisplayArea[0].Height = pl.RottAdHeight

	body, err := json.Marshal(req)
	if err != nil {
		return nil, true, err
	}
	return transport.JSONRequest(http.MethodPost, a.config.CreativeCachingURL, body), true, nil
}

// ParseDiscovery implements adapters.Discoverer
func (a *Adapter) ParseDiscovery(pl *storage.Playlog, body []byte) ([]creative.Asset, error) {
	if len(body) == 0 {
		return nil, nil
	}
	var parsed cachingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse creative caching response: %w", err)
	}

	assets := make([]creative.Asset, 0, len(parsed.Asset))
	for _, c := range parsed.Asset {
		if c.AssetURL == "" {
			continue
		}
		assets = append(assets, creative.Asset{URL: c.AssetURL, MimeType: c.MimeType, Name: c.CreativeName})
	}
	return assets, nil
}
