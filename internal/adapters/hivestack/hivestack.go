// Package hivestack implements the Hivestack schedule-VAST adapter
package hivestack

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/thenexusengine/tne_dooh/internal/adapters"
	"github.com/thenexusengine/tne_dooh/internal/creative"
	"github.com/thenexusengine/tne_dooh/internal/storage"
	"github.com/thenexusengine/tne_dooh/internal/transport"
	"github.com/thenexusengine/tne_dooh/internal/vast"
)

// displayPlaceholder is replaced by the display uuid in endpoint paths
const displayPlaceholder = "{display}"

// Config holds Hivestack endpoints
type Config struct {
	BaseURL           string
	ScheduleVASTPath  string // contains {display}
	UpcomingCreatives string // contains {display}
}

// Adapter implements adapters.Adapter and adapters.Discoverer
type Adapter struct {
	config Config
}

// New creates a Hivestack adapter
func New(cfg Config) *Adapter {
	return &Adapter{config: cfg}
}

// MakeRequest builds the schedule-VAST GET for the display
func (a *Adapter) MakeRequest(opp *adapters.Opportunity) (*transport.Request, error) {
	if opp.PartnerKey == "" {
		return nil, errors.New("missing display id")
	}
	h := http.Header{}
	h.Set("Accept", "application/xml")
	return &transport.Request{
		Method:  http.MethodGet,
		URI:     a.endpoint(a.config.ScheduleVASTPath, opp.PartnerKey),
		Headers: h,
	}, nil
}

// ParseAd reads the scheduled ad. The bid carries the request id and the
// schedule document is served as-is to video screens.
func (a *Adapter) ParseAd(opp *adapters.Opportunity, resp *transport.Response) (*adapters.Ad, error) {
	s, err := vast.ParseSchedule(resp.Body)
	if errors.Is(err, vast.ErrNoAd) {
		return nil, adapters.ErrNoAd
	}
	if err != nil {
		return nil, err
	}

	return &adapters.Ad{
		BidID:         opp.RequestID,
		ImpressionURL: s.ImpressionURL,
		MediaURL:      s.MediaURL,
		MimeType:      s.MimeType,
		VastDocument:  string(resp.Body),
	}, nil
}

// DiscoveryRequest lists upcoming creatives for devices with a display uuid
func (a *Adapter) DiscoveryRequest(pl *storage.Playlog) (*transport.Request, bool, error) {
	if pl.HivestackDisplayUUID == "" {
		return nil, false, nil
	}
	return transport.JSONRequest(http.MethodGet, a.endpoint(a.config.UpcomingCreatives, pl.HivestackDisplayUUID), nil), true, nil
}

type upcomingCreative struct {
	URL            string `json:"url"`
	MimeType       string `json:"mime_type"`
	AdvertiserName string `json:"advertiser_name"`
}

// ParseDiscovery reads the upcoming creative list
func (a *Adapter) ParseDiscovery(pl *storage.Playlog, body []byte) ([]creative.Asset, error) {
	var list []upcomingCreative
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("failed to parse upcoming creatives: %w", err)
	}

	assets := make([]creative.Asset, 0, len(list))
	for _, c := range list {
		if c.URL == "" {
			continue
		}
		asset := creative.Asset{URL: c.URL, MimeType: c.MimeType}
		if c.AdvertiserName != "" {
			asset.Name = c.AdvertiserName + " - " + pl.HivestackDisplayUUID
		}
		assets = append(assets, asset)
	}
	return assets, nil
}

func (a *Adapter) endpoint(path, display string) string {
	return a.config.BaseURL + strings.ReplaceAll(path, displayPlaceholder, url.PathEscape(display))
}
