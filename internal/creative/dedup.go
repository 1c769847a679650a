package creative

import (
	"context"
	"fmt"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/thenexusengine/tne_dooh/pkg/logger"
)

// sharedSetKey holds known content URLs in Redis across instances
const sharedSetKey = "creatives:known"

// Ledger is the durable record of registered creatives
type Ledger interface {
	Exists(ctx context.Context, url string) (bool, error)
	Save(ctx context.Context, reachID *string, url string) error
}

// URLLister is implemented by ledgers that can enumerate known URLs
type URLLister interface {
	ListURLs(ctx context.Context) ([]string, error)
}

// SharedSet is a set visible to every instance
type SharedSet interface {
	SAdd(ctx context.Context, key string, members ...string) error
	SIsMember(ctx context.Context, key, member string) (bool, error)
}

// DedupCache answers "is this content URL already registered". Positive
// answers are memoized; negatives always fall through to the ledger.
type DedupCache struct {
	known  *xsync.Map[string, struct{}]
	ledger Ledger
	shared SharedSet
}

// NewDedupCache creates a cache over ledger. shared may be nil.
func NewDedupCache(ledger Ledger, shared SharedSet) *DedupCache {
	return &DedupCache{
		known:  xsync.NewMap[string, struct{}](),
		ledger: ledger,
		shared: shared,
	}
}

// Exists reports whether url is known
func (d *DedupCache) Exists(ctx context.Context, url string) (bool, error) {
	if _, ok := d.known.Load(url); ok {
		return true, nil
	}

	if d.shared != nil {
		ok, err := d.shared.SIsMember(ctx, sharedSetKey, url)
		if err != nil {
			logger.Log.Debug().Err(err).Str("url", url).Msg("Shared creative set unavailable")
		} else if ok {
			d.known.Store(url, struct{}{})
			return true, nil
		}
	}

	ok, err := d.ledger.Exists(ctx, url)
	if err != nil {
		return false, fmt.Errorf("failed to check creative ledger: %w", err)
	}
	if ok {
		d.remember(ctx, url)
	}
	return ok, nil
}

// Record persists url with its downstream id. The URL is remembered in
// memory even when the ledger write fails so this instance does not
// register it again.
func (d *DedupCache) Record(ctx context.Context, reachID *string, url string) error {
	d.remember(ctx, url)
	if err := d.ledger.Save(ctx, reachID, url); err != nil {
		return fmt.Errorf("failed to record creative: %w", err)
	}
	return nil
}

// Preload loads every URL from the ledger, if it can enumerate them
func (d *DedupCache) Preload(ctx context.Context) (int, error) {
	lister, ok := d.ledger.(URLLister)
	if !ok {
		return 0, nil
	}
	urls, err := lister.ListURLs(ctx)
	if err != nil {
		return 0, err
	}
	for _, u := range urls {
		d.known.Store(u, struct{}{})
	}
	return len(urls), nil
}

// Size returns the number of URLs known in memory
func (d *DedupCache) Size() int {
	return d.known.Size()
}

func (d *DedupCache) remember(ctx context.Context, url string) {
	d.known.Store(url, struct{}{})
	if d.shared == nil {
		return
	}
	if err := d.shared.SAdd(ctx, sharedSetKey, url); err != nil {
		logger.Log.Debug().Err(err).Str("url", url).Msg("Failed to publish creative to shared set")
	}
}
