package vast

import (
	"fmt"
	"strconv"
	"time"

	"github.com/beevik/etree"
)

// Linear describes a single linear creative
type Linear struct {
	ImpressionURL string
	Duration      time.Duration
	Width         int
	Height        int
	MimeType      string
	MediaURL      string
}

// Build renders l as a VAST 2.0 inline ad
func Build(l Linear) (string, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0"`)

	root := doc.CreateElement("VAST")
	root.CreateAttr("version", "2.0")

	ad := root.CreateElement("Ad")
	ad.CreateAttr("id", "1")
	ad.CreateAttr("sequence", "1")

	inline := ad.CreateElement("InLine")
	inline.CreateElement("Impression").CreateCData(l.ImpressionURL)

	linear := inline.CreateElement("Creatives").CreateElement("Creative").CreateElement("Linear")
	linear.CreateElement("Duration").SetText(FormatDuration(l.Duration))
	linear.CreateElement("TrackingEvents")

	media := linear.CreateElement("MediaFiles").CreateElement("MediaFile")
	media.CreateAttr("width", strconv.Itoa(l.Width))
	media.CreateAttr("height", strconv.Itoa(l.Height))
	media.CreateAttr("type", l.MimeType)
	media.CreateAttr("delivery", "progressive")
	media.CreateCData(l.MediaURL)

	doc.Indent(4)
	return doc.WriteToString()
}

// FormatDuration renders d as HH:MM:SS, truncating sub-second precision
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total/60)%60, total%60)
}
