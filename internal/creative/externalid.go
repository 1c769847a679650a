// Package creative registers partner creatives with the downstream creative
// platform and tracks which content URLs are already known
package creative

import (
	"fmt"
	"net/url"

	"github.com/google/uuid"
)

// IDGenerator derives stable external ids from content URLs
type IDGenerator struct {
	namespace uuid.UUID
}

// NewIDGenerator parses namespace. An empty namespace selects the RFC 4122 URL namespace.
func NewIDGenerator(namespace string) (*IDGenerator, error) {
	if namespace == "" {
		return &IDGenerator{namespace: uuid.NameSpaceURL}, nil
	}
	ns, err := uuid.Parse(namespace)
	if err != nil {
		return nil, fmt.Errorf("invalid creative id namespace: %w", err)
	}
	return &IDGenerator{namespace: ns}, nil
}

// FromURL returns the version 5 UUID of the URL's scheme, host and path.
// Query and fragment do not take part, so signed or cache-busted variants
// of one asset share an id.
func (g *IDGenerator) FromURL(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("empty url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", raw)
	}
	name := u.Scheme + "://" + u.Host + u.EscapedPath()
	return uuid.NewSHA1(g.namespace, []byte(name)).String(), nil
}
