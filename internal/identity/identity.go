// Package identity maps SSP device identifiers to the partner-side identity
// used to address a screen
package identity

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/thenexusengine/tne_dooh/internal/partner"
	"github.com/thenexusengine/tne_dooh/internal/storage"
	"github.com/thenexusengine/tne_dooh/pkg/logger"
)

// Registry is the source of device rows
type Registry interface {
	ListDevices(ctx context.Context) ([]*storage.Playlog, error)
}

// snapshot is immutable once published
type snapshot struct {
	hivestack map[string]string
	vistarEN  map[string]string
	vistarFR  map[string]string
	builtAt   time.Time
}

func emptySnapshot() *snapshot {
	return &snapshot{
		hivestack: map[string]string{},
		vistarEN:  map[string]string{},
		vistarFR:  map[string]string{},
	}
}

// Store resolves device ids against the last published snapshot. Readers
// never block and never observe a partially built mapping.
type Store struct {
	registry Registry
	current  atomic.Pointer[snapshot]
}

// NewStore creates a store with an empty mapping
func NewStore(registry Registry) *Store {
	s := &Store{registry: registry}
	s.current.Store(emptySnapshot())
	return s
}

// Rebuild reads the registry and publishes a fresh mapping. On error the
// previous mapping stays in place.
func (s *Store) Rebuild(ctx context.Context) error {
	playlogs, err := s.registry.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("failed to load device registry: %w", err)
	}

	next := emptySnapshot()
	for _, p := range playlogs {
		if p.HivestackEligible() {
			next.hivestack[p.ReachDeviceIFA] = p.HivestackDisplayUUID
		}
		if p.VistarEligible() {
			switch p.VistarLanguage {
			case partner.Vistar.Language():
				next.vistarEN[p.ReachDeviceIFA] = p.PanelID()
			case partner.VistarFrench.Language():
				next.vistarFR[p.ReachDeviceIFA] = p.PanelID()
			}
		}
	}
	next.builtAt = time.Now()
	s.current.Store(next)

	logger.Log.Info().
		Int("devices", len(playlogs)).
		Int("hivestack", len(next.hivestack)).
		Int("vistar_en", len(next.vistarEN)).
		Int("vistar_fr", len(next.vistarFR)).
		Msg("Device identity mapping rebuilt")

	return nil
}

// Lookup returns the partner-side identity of deviceID
func (s *Store) Lookup(deviceID string, p partner.Partner) (string, bool) {
	if deviceID == "" {
		return "", false
	}
	snap := s.current.Load()

	var m map[string]string
	switch p {
	case partner.Hivestack:
		m = snap.hivestack
	case partner.Vistar:
		m = snap.vistarEN
	case partner.VistarFrench:
		m = snap.vistarFR
	default:
		return "", false
	}

	id, ok := m[deviceID]
	return id, ok
}

// Size returns the number of mapped devices for p
func (s *Store) Size(p partner.Partner) int {
	snap := s.current.Load()
	switch p {
	case partner.Hivestack:
		return len(snap.hivestack)
	case partner.Vistar:
		return len(snap.vistarEN)
	case partner.VistarFrench:
		return len(snap.vistarFR)
	}
	return 0
}

// BuiltAt returns when the current mapping was published, zero before the first rebuild
func (s *Store) BuiltAt() time.Time {
	return s.current.Load().builtAt
}
