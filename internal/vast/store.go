// Package vast assembles, parses and caches the VAST documents served to
// screens out of band
package vast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coocood/freecache"

	"github.com/thenexusengine/tne_dooh/pkg/logger"
)

// redisKeyPrefix namespaces documents inside the shared Redis keyspace
const redisKeyPrefix = "vast:"

// Store maps a per-impression key to an assembled document
type Store interface {
	Put(ctx context.Context, key, doc string) error
	Get(ctx context.Context, key string) (string, bool, error)
}

// DocumentKey is the storage key of the document for one impression on one screen
func DocumentKey(partnerKey, impressionID string) string {
	return partnerKey + impressionID
}

// ErrDocumentTooLarge is returned by LocalStore.Put for entries the cache cannot hold
var ErrDocumentTooLarge = errors.New("vast document too large for local cache")

// freecache sizing: 256 segments, entries capped at a quarter segment minus
// the entry header, and a 512KB floor on the total size
const (
	freecacheEntryDivisor = 1024
	freecacheEntryHeader  = 24
	freecacheMinSize      = 512 * 1024
)

// LocalStore keeps documents in an in-process freecache segment
type LocalStore struct {
	cache    *freecache.Cache
	ttl      int
	maxEntry int
}

// NewLocalStore creates a store of sizeBytes. Entries expire after ttl.
func NewLocalStore(sizeBytes int, ttl time.Duration) *LocalStore {
	if sizeBytes < freecacheMinSize {
		sizeBytes = freecacheMinSize
	}
	return &LocalStore{
		cache:    freecache.NewCache(sizeBytes),
		ttl:      int(ttl.Seconds()),
		maxEntry: sizeBytes/freecacheEntryDivisor - freecacheEntryHeader,
	}
}

// MaxEntrySize is the largest key plus document the store accepts
func (s *LocalStore) MaxEntrySize() int {
	return s.maxEntry
}

// Put implements Store
func (s *LocalStore) Put(ctx context.Context, key, doc string) error {
	err := s.cache.Set([]byte(key), []byte(doc), s.ttl)
	if errors.Is(err, freecache.ErrLargeEntry) {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrDocumentTooLarge, len(key)+len(doc), s.maxEntry)
	}
	return err
}

// Get implements Store
func (s *LocalStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.cache.Get([]byte(key))
	if errors.Is(err, freecache.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(v), true, nil
}

// Len returns the number of live entries
func (s *LocalStore) Len() int64 {
	return s.cache.EntryCount()
}

// KV is the subset of the Redis client used for documents
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// RedisStore shares documents between instances behind a load balancer
type RedisStore struct {
	kv  KV
	ttl time.Duration
}

// NewRedisStore creates a Redis-backed store
func NewRedisStore(kv KV, ttl time.Duration) *RedisStore {
	return &RedisStore{kv: kv, ttl: ttl}
}

// Put implements Store
func (s *RedisStore) Put(ctx context.Context, key, doc string) error {
	return s.kv.Set(ctx, redisKeyPrefix+key, doc, s.ttl)
}

// Get implements Store
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	return s.kv.Get(ctx, redisKeyPrefix+key)
}

// MetricsRecorder records document lookups
type MetricsRecorder interface {
	RecordVastLookup(hit bool)
}

// TieredStore writes through to every tier and reads the first hit,
// backfilling the faster tiers
type TieredStore struct {
	tiers   []Store
	metrics MetricsRecorder
}

// NewTieredStore creates a store over tiers, fastest first. metrics may be nil.
func NewTieredStore(metrics MetricsRecorder, tiers ...Store) *TieredStore {
	return &TieredStore{tiers: tiers, metrics: metrics}
}

// Put implements Store. It fails only when no tier accepted the document.
func (s *TieredStore) Put(ctx context.Context, key, doc string) error {
	var firstErr error
	stored := 0
	for _, t := range s.tiers {
		if err := t.Put(ctx, key, doc); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			logger.Log.Warn().Err(err).Str("key", key).Msg("VAST document tier write failed")
			continue
		}
		stored++
	}
	if stored == 0 && firstErr != nil {
		return firstErr
	}
	return nil
}

// Get implements Store
func (s *TieredStore) Get(ctx context.Context, key string) (string, bool, error) {
	for i, t := range s.tiers {
		doc, ok, err := t.Get(ctx, key)
		if err != nil {
			logger.Log.Warn().Err(err).Str("key", key).Msg("VAST document tier read failed")
			continue
		}
		if !ok {
			continue
		}
		for j := 0; j < i; j++ {
			s.tiers[j].Put(ctx, key, doc)
		}
		s.record(true)
		return doc, true, nil
	}
	s.record(false)
	return "", false, nil
}

func (s *TieredStore) record(hit bool) {
	if s.metrics != nil {
		s.metrics.RecordVastLookup(hit)
	}
}
