// Package adapters provides the partner adapter framework
package adapters

import (
	"errors"

	"github.com/thenexusengine/tne_dooh/internal/creative"
	"github.com/thenexusengine/tne_dooh/internal/openrtb"
	"github.com/thenexusengine/tne_dooh/internal/partner"
	"github.com/thenexusengine/tne_dooh/internal/storage"
	"github.com/thenexusengine/tne_dooh/internal/transport"
)

// ErrNoAd is returned by ParseAd when the partner has nothing to play
var ErrNoAd = errors.New("partner returned no ad")

// Adapter translates one partner's native protocol
type Adapter interface {
	// MakeRequest builds the ad request for an opportunity
	MakeRequest(opp *Opportunity) (*transport.Request, error)

	// ParseAd reads the partner answer. ErrNoAd means an empty schedule.
	ParseAd(opp *Opportunity, resp *transport.Response) (*Ad, error)
}

// Discoverer lists upcoming creatives for a device so they can be
// registered ahead of the first bid
type Discoverer interface {
	// DiscoveryRequest returns false when the device is not served by this partner
	DiscoveryRequest(pl *storage.Playlog) (*transport.Request, bool, error)

	// ParseDiscovery reads the listed assets
	ParseDiscovery(pl *storage.Playlog, body []byte) ([]creative.Asset, error)
}

// Opportunity is one resolved impression opportunity
type Opportunity struct {
	Partner    partner.Partner
	RequestID  string
	Imp        *openrtb.Imp
	Device     *openrtb.Device
	DeviceID   string // SSP-side screen id
	PartnerKey string // partner-side screen id (display uuid or venue id)
}

// Ad is a partner answer in partner-neutral form
type Ad struct {
	BidID         string
	ImpressionURL string // played-confirmation URL, used as iurl for images
	MediaURL      string
	MimeType      string
	VastDocument  string // document served for video creatives
	LossURL       string // partner expiration URL relayed on loss
	CreativeName  string
}

// NoFillReason explains a no-fill
type NoFillReason string

const (
	NoFillNoAd            NoFillReason = "no_ad"
	NoFillPartnerError    NoFillReason = "partner_error"
	NoFillMalformed       NoFillReason = "malformed_response"
	NoFillUnsupportedMime NoFillReason = "unsupported_mime"
	NoFillRegistration    NoFillReason = "registration_failed"
	NoFillIdentity        NoFillReason = "identity_not_found"
	NoFillTimeout         NoFillReason = "timeout"
	NoFillCircuitOpen     NoFillReason = "circuit_open"
	NoFillInvalidRequest  NoFillReason = "invalid_request"
)

// Outcome is the single terminal result of an opportunity
type Outcome struct {
	Bid    *openrtb.Bid
	Reason NoFillReason
}

// Fill wraps a bid. A bid without an id is still a no-fill.
func Fill(bid *openrtb.Bid) Outcome {
	if bid.IsNoFill() {
		return Outcome{Reason: NoFillMalformed}
	}
	return Outcome{Bid: bid}
}

// NoFill builds a no-fill outcome
func NoFill(reason NoFillReason) Outcome {
	return Outcome{Reason: reason}
}

// IsNoFill reports whether o carries no bid
func (o Outcome) IsNoFill() bool {
	return o.Bid.IsNoFill()
}

// Creative kind by mime type
type mediaKind int

const (
	mediaUnsupported mediaKind = iota
	mediaImage
	mediaVideo
)

func kindOf(mime string) mediaKind {
	switch mime {
	case "image/jpeg", "image/png":
		return mediaImage
	case "video/mp4", "video/mpeg":
		return mediaVideo
	}
	return mediaUnsupported
}

// Impression ids the SSP expects per creative kind
const (
	imageImpID = "1"
	videoImpID = "2"
)
