package creative

import (
	"errors"
	"fmt"

	"github.com/thenexusengine/tne_dooh/internal/partner"
)

// ErrUnsupportedMime is returned for assets that cannot be registered
var ErrUnsupportedMime = errors.New("unsupported mime type")

// Type is the downstream creative kind
type Type string

const (
	TypeImageURL Type = "ImageUrlCreative"
	TypeVideo    Type = "VideoCreative"
)

// Advertiser references a downstream advertiser
type Advertiser struct {
	ID int `json:"id"`
}

// Publisher references a downstream publisher
type Publisher struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// IABCategory references an IAB content category
type IABCategory struct {
	ID int `json:"id"`
}

// Request is the creative registration document
type Request struct {
	Advertiser    Advertiser    `json:"advertiser"`
	Publishers    []Publisher   `json:"publishers"`
	OriginalURL   string        `json:"original_url"`
	IABCategories []IABCategory `json:"iab_categories"`
	Type          Type          `json:"type"`
	Name          string        `json:"name,omitempty"`
	ExternalID    string        `json:"external_id"`

	// ContentURL is the partner asset URL and the dedup key. OriginalURL
	// differs from it when the asset is transcoded.
	ContentURL string `json:"-"`
}

// Asset is a partner creative as discovered in a bid or a sweep
type Asset struct {
	URL      string
	MimeType string
	Name     string
}

// Metadata is the static part of every registration
type Metadata struct {
	AdvertiserIDs map[partner.Partner]int
	PublisherID   int
	PublisherName string
	IABCategoryID int
	HivestackName string
}

// Builder turns partner assets into registration documents
type Builder struct {
	meta    Metadata
	ids     *IDGenerator
	thumbor *Thumbor
}

// NewBuilder creates a builder. thumbor may be nil to register PNGs as-is.
func NewBuilder(meta Metadata, ids *IDGenerator, thumbor *Thumbor) *Builder {
	return &Builder{meta: meta, ids: ids, thumbor: thumbor}
}

// IDs exposes the external id generator
func (b *Builder) IDs() *IDGenerator {
	return b.ids
}

// Build maps a to a registration document for p
func (b *Builder) Build(p partner.Partner, a Asset) (*Request, error) {
	if a.URL == "" {
		return nil, fmt.Errorf("asset url is empty")
	}

	req := &Request{
		Advertiser:    Advertiser{ID: b.meta.AdvertiserIDs[p]},
		Publishers:    []Publisher{{ID: b.meta.PublisherID, Name: b.meta.PublisherName}},
		OriginalURL:   a.URL,
		IABCategories: []IABCategory{{ID: b.meta.IABCategoryID}},
		Name:          a.Name,
		ContentURL:    a.URL,
	}

	switch a.MimeType {
	case "image/jpeg":
		req.Type = TypeImageURL
	case "image/png":
		req.Type = TypeImageURL
		if b.thumbor != nil {
			req.OriginalURL = b.thumbor.JPEGURL(a.URL)
		}
	case "video/mp4", "video/mpeg":
		req.Type = TypeVideo
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMime, a.MimeType)
	}

	if req.Name == "" && p == partner.Hivestack {
		req.Name = b.meta.HivestackName
	}

	id, err := b.ids.FromURL(a.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to derive external id: %w", err)
	}
	req.ExternalID = id

	return req, nil
}
