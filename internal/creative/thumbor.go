package creative

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"strings"
)

const jpegFilters = "filters:format(jpeg):quality(95)/"

// Thumbor builds signed thumbor URLs that transcode PNG assets to JPEG
type Thumbor struct {
	server string
	key    []byte
}

// NewThumbor creates a URL builder. An empty key produces unsigned URLs.
func NewThumbor(server, key string) *Thumbor {
	return &Thumbor{server: strings.TrimSuffix(server, "/"), key: []byte(key)}
}

// JPEGURL returns the thumbor URL serving src as a quality 95 JPEG
func (t *Thumbor) JPEGURL(src string) string {
	path := jpegFilters + url.QueryEscape(src)
	if len(t.key) == 0 {
		return t.server + "/unsafe/" + path
	}

	mac := hmac.New(sha1.New, t.key)
	mac.Write([]byte(path))
	sig := base64.URLEncoding.EncodeToString(mac.Sum(nil))

	return t.server + "/" + sig + "/" + path
}
