package vast

import (
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// ErrNoAd is returned when a schedule document carries no playable ad
var ErrNoAd = errors.New("no ad scheduled")

const (
	inlinePath    = "/VAST[@version='2.0']/Ad[@id='1']/InLine"
	impressionRel = "Impression"
	mediaFileRel  = "Creatives/Creative/Linear/MediaFiles/MediaFile"
)

// Scheduled is the ad extracted from a partner schedule document
type Scheduled struct {
	ImpressionURL string
	MediaURL      string
	MimeType      string
}

// ParseSchedule extracts the first inline ad of a VAST 2.0 document
func ParseSchedule(body []byte) (*Scheduled, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, fmt.Errorf("failed to parse VAST: %w", err)
	}

	if doc.FindElement("/VAST[@version='2.0']") == nil {
		return nil, ErrNoAd
	}
	inline := doc.FindElement(inlinePath)
	if inline == nil {
		return nil, ErrNoAd
	}

	s := &Scheduled{}
	if imp := inline.FindElement(impressionRel); imp != nil {
		s.ImpressionURL = charData(imp)
	}
	if mf := inline.FindElement(mediaFileRel); mf != nil {
		s.MediaURL = charData(mf)
		s.MimeType = strings.TrimSpace(mf.SelectAttrValue("type", ""))
	}
	if s.MediaURL == "" && s.ImpressionURL == "" {
		return nil, ErrNoAd
	}
	return s, nil
}

// charData joins the text and CDATA children of e, trimmed
func charData(e *etree.Element) string {
	var b strings.Builder
	for _, t := range e.Child {
		if cd, ok := t.(*etree.CharData); ok {
			b.WriteString(cd.Data)
		}
	}
	return strings.TrimSpace(b.String())
}
