package vistar

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/thenexusengine/tne_dooh/internal/adapters"
	"github.com/thenexusengine/tne_dooh/internal/creative"
	"github.com/thenexusengine/tne_dooh/internal/openrtb"
	"github.com/thenexusengine/tne_dooh/internal/partner"
	"github.com/thenexusengine/tne_dooh/internal/storage"
	"github.com/thenexusengine/tne_dooh/internal/transport"
	"github.com/thenexusengine/tne_dooh/internal/vast"
)

const adResponseBody = `{
  "advertisement": [{
    "id": "vistar-ad-1",
    "proof_of_play_url": "https://pop.vistarmedia.com/p?x=1",
    "expiration_url": "https://pop.vistarmedia.com/e?x=1",
    "asset_url": "https://cdn.vistarmedia.com/spot.mp4",
    "width": 1920,
    "height": 1080,
    "mime_type": "video/mp4",
    "length_in_milliseconds": 15000,
    "advertiser": "Acme"
  }]
}`

func newTestAdapter(t *testing.T, p partner.Partner, cfg Config) *Adapter {
	t.Helper()
	a, err := New(p, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.now = func() time.Time { return time.Unix(1700000000, 0) }
	return a
}

func TestNew_RejectsHivestack(t *testing.T) {
	if _, err := New(partner.Hivestack, Config{}); err == nil {
		t.Error("expected error for non-vistar partner")
	}
}

func TestBuildRequest_Banner(t *testing.T) {
	a := newTestAdapter(t, partner.Vistar, Config{NetworkID: "net", APIKey: "key"})
	req := a.BuildRequest(&adapters.Opportunity{
		PartnerKey: "123",
		Imp:        &openrtb.Imp{ID: "1", Banner: &openrtb.Banner{W: 300, H: 250}},
		Device:     &openrtb.Device{Geo: &openrtb.Geo{Lat: 45.5, Lon: -73.6}},
	})

	if len(req.DisplayArea) != 1 {
		t.Fatalf("expected one display area, got %d", len(req.DisplayArea))
	}
	area := req.DisplayArea[0]
	if area.ID != "1" || area.Width != 300 || area.Height != 250 || area.AllowAudio {
		t.Errorf("unexpected display area %+v", area)
	}
	if strings.Join(area.SupportedMedia, ",") != strings.Join(DefaultSupportedMedia, ",") {
		t.Errorf("expected default media, got %v", area.SupportedMedia)
	}
	if req.VenueID != "123" || req.NetworkID != "net" || req.APIKey != "key" {
		t.Errorf("unexpected identity fields %+v", req)
	}
	if req.DisplayTime != 1700000000 {
		t.Errorf("expected now as display time, got %d", req.DisplayTime)
	}
	if req.Latitude != 45.5 || req.Longitude != -73.6 {
		t.Errorf("unexpected geo %v %v", req.Latitude, req.Longitude)
	}
}

func TestBuildRequest_Video(t *testing.T) {
	a := newTestAdapter(t, partner.VistarFrench, Config{})
	req := a.BuildRequest(&adapters.Opportunity{
		PartnerKey: "v",
		Imp: &openrtb.Imp{
			ID:    "1",
			Video: &openrtb.Video{W: 1920, H: 1080, MinDuration: 5, MaxDuration: 30, Mimes: []string{"video/mp4"}},
			Ext:   &openrtb.ImpExt{DisplayTime: 1800000000},
		},
	})

	area := req.DisplayArea[0]
	if area.Width != 1920 || area.Height != 1080 {
		t.Errorf("unexpected size %dx%d", area.Width, area.Height)
	}
	if len(area.SupportedMedia) != 1 || area.SupportedMedia[0] != "video/mp4" {
		t.Errorf("expected impression mimes, got %v", area.SupportedMedia)
	}
	if req.MinDuration != 5 || req.MaxDuration != 30 {
		t.Errorf("unexpected durations %d %d", req.MinDuration, req.MaxDuration)
	}
	if req.DisplayTime != 1800000000 {
		t.Errorf("expected display time from imp ext, got %d", req.DisplayTime)
	}
}

func TestBuildRequest_DoesNotShareDefaultMedia(t *testing.T) {
	a := newTestAdapter(t, partner.Vistar, Config{})
	req := a.BuildRequest(&adapters.Opportunity{PartnerKey: "v", Imp: &openrtb.Imp{ID: "1"}})
	req.DisplayArea[0].SupportedMedia[0] = "changed"
	if DefaultSupportedMedia[0] != "image/jpeg" {
		t.Error("request mutated the default media list")
	}
}

func TestMakeRequest(t *testing.T) {
	a := newTestAdapter(t, partner.Vistar, Config{AdServingURL: "https://staging.example.com/api/v1/get_ad/json"})

	if _, err := a.MakeRequest(&adapters.Opportunity{Imp: &openrtb.Imp{ID: "1"}}); err == nil {
		t.Error("expected error without venue id")
	}

	req, err := a.MakeRequest(&adapters.Opportunity{PartnerKey: "123", Imp: &openrtb.Imp{ID: "1"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Method != http.MethodPost || req.URI != "https://staging.example.com/api/v1/get_ad/json" {
		t.Errorf("unexpected request %s %s", req.Method, req.URI)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		t.Fatalf("body is not json: %v", err)
	}
	for _, key := range []string{"device_id", "direct_connection", "display_area", "display_time", "venue_id", "network_id", "api_key"} {
		if _, ok := body[key]; !ok {
			t.Errorf("body missing %s", key)
		}
	}
}

func TestParseAd(t *testing.T) {
	a := newTestAdapter(t, partner.Vistar, Config{})
	ad, err := a.ParseAd(&adapters.Opportunity{}, &transport.Response{StatusCode: 200, Body: []byte(adResponseBody)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ad.BidID != "vistar-ad-1" || ad.MediaURL != "https://cdn.vistarmedia.com/spot.mp4" || ad.MimeType != "video/mp4" {
		t.Errorf("unexpected ad %+v", ad)
	}
	if ad.ImpressionURL != "https://pop.vistarmedia.com/p?x=1" || ad.LossURL != "https://pop.vistarmedia.com/e?x=1" {
		t.Errorf("unexpected urls %+v", ad)
	}
	if ad.CreativeName != "Acme" {
		t.Errorf("expected advertiser as creative name, got %s", ad.CreativeName)
	}

	s, err := vast.ParseSchedule([]byte(ad.VastDocument))
	if err != nil {
		t.Fatalf("generated document does not parse: %v", err)
	}
	if s.MediaURL != ad.MediaURL || s.ImpressionURL != ad.ImpressionURL {
		t.Errorf("unexpected document %+v", s)
	}
	if !strings.Contains(ad.VastDocument, "<Duration>00:00:15</Duration>") {
		t.Errorf("expected 15s duration:\n%s", ad.VastDocument)
	}
}

func TestParseAd_FractionalLength(t *testing.T) {
	a := newTestAdapter(t, partner.Vistar, Config{})
	body := strings.Replace(adResponseBody, `"length_in_milliseconds": 15000`, `"length_in_milliseconds": 10999.75`, 1)
	ad, err := a.ParseAd(&adapters.Opportunity{}, &transport.Response{StatusCode: 200, Body: []byte(body)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(ad.VastDocument, "<Duration>00:00:10</Duration>") {
		t.Errorf("expected truncated 10s duration:\n%s", ad.VastDocument)
	}
}

func TestParseAd_NoAd(t *testing.T) {
	a := newTestAdapter(t, partner.Vistar, Config{})
	for _, body := range []string{"", `{}`, `{"advertisement":[]}`} {
		if _, err := a.ParseAd(&adapters.Opportunity{}, &transport.Response{Body: []byte(body)}); !errors.Is(err, adapters.ErrNoAd) {
			t.Errorf("body %q: expected ErrNoAd, got %v", body, err)
		}
	}
	if _, err := a.ParseAd(&adapters.Opportunity{}, &transport.Response{Body: []byte(`{"advertisement":`)}); err == nil || errors.Is(err, adapters.ErrNoAd) {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestDiscoveryRequest(t *testing.T) {
	en := newTestAdapter(t, partner.Vistar, Config{CreativeCachingURL: "https://prod.example.com/cache"})
	fr := newTestAdapter(t, partner.VistarFrench, Config{CreativeCachingURL: "https://prod.example.com/cache"})

	pl := &storage.Playlog{
		ReachDeviceIFA: "screen-1",
		GeneratorID:    "gen:panel-7",
		VistarEnabled:  "Y",
		VistarLanguage: "EN",
		RottAdWidth:    1080,
		RottAdHeight:   1920,
	}

	req, ok, err := en.DiscoveryRequest(pl)
	if err != nil || !ok {
		t.Fatalf("expected EN discovery, got %v %v", ok, err)
	}
	var body Request
	if err := json.Unmarshal(req.Body, &body); err != nil {
		t.Fatalf("body is not json: %v", err)
	}
	if body.VenueID != "panel-7" || body.DisplayArea[0].Width != 1080 || body.DisplayArea[0].Height != 1920 {
		t.Errorf("unexpected discovery body %+v", body)
	}

	if _, ok, _ := fr.DiscoveryRequest(pl); ok {
		t.Error("expected FR adapter to skip an EN device")
	}
	pl.VistarEnabled = "N"
	if _, ok, _ := en.DiscoveryRequest(pl); ok {
		t.Error("expected disabled device to be skipped")
	}
}

func TestParseDiscovery(t *testing.T) {
	a := newTestAdapter(t, partner.Vistar, Config{})
	assets, err := a.ParseDiscovery(&storage.Playlog{}, []byte(`{"asset":[
		{"asset_url":"https://cdn.example.com/a.jpg","mime_type":"image/jpeg","creative_name":"A"},
		{"asset_url":"","mime_type":"image/jpeg"}
	]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(assets) != 1 || assets[0].Name != "A" || assets[0].MimeType != "image/jpeg" {
		t.Errorf("unexpected assets %+v", assets)
	}
	if _, err := a.ParseDiscovery(&storage.Playlog{}, []byte("nope")); err == nil {
		t.Error("expected parse error")
	}
}

type knownRegistrar struct{}

func (knownRegistrar) Known(ctx context.Context, url string) bool { return true }
func (knownRegistrar) RegisterIfAbsent(ctx context.Context, req *creative.Request, p partner.Partner, display string) creative.Result {
	return creative.AlreadyPresent
}

// Full path from the opportunity to the partner wire format and back.
func TestBidder_EndToEnd(t *testing.T) {
	var got Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("partner received invalid json: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(adResponseBody))
	}))
	defer server.Close()

	a := newTestAdapter(t, partner.Vistar, Config{AdServingURL: server.URL})
	ids, _ := creative.NewIDGenerator("")
	documents := vast.NewLocalStore(1024*1024, time.Hour)
	bidder := adapters.NewBidder(adapters.BidderConfig{
		Price:              decimal.RequireFromString("1.00"),
		VastServerBase:     "https://dooh.example.com",
		CachedDocumentPath: "/cachedDocuments/",
	}, knownRegistrar{}, creative.NewBuilder(creative.Metadata{}, ids, nil), documents, nil)
	bidder.Register(partner.Vistar, a, transport.NewClient(time.Second))

	out := bidder.FetchAd(context.Background(), &adapters.Opportunity{
		Partner:    partner.Vistar,
		RequestID:  "req-1",
		DeviceID:   "screen-1",
		PartnerKey: "123",
		Imp:        &openrtb.Imp{ID: "imp-1", Banner: &openrtb.Banner{W: 300, H: 250}},
	})

	if got.DisplayArea[0].Width != 300 || got.DisplayArea[0].Height != 250 || got.VenueID != "123" {
		t.Errorf("unexpected partner request %+v", got)
	}
	if out.IsNoFill() {
		t.Fatalf("expected bid, got %s", out.Reason)
	}
	if out.Bid.ID != "vistar-ad-1" || out.Bid.ImpID != "2" || out.Bid.Price != 1.0 {
		t.Errorf("unexpected bid %+v", out.Bid)
	}
	if out.Bid.Ext == nil || out.Bid.Ext.VastURL != "https://dooh.example.com/cachedDocuments/123/imp-1" {
		t.Errorf("unexpected ext %+v", out.Bid.Ext)
	}
	if _, ok, _ := documents.Get(context.Background(), "123imp-1"); !ok {
		t.Error("expected cached VAST document")
	}
}
