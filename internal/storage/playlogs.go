package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Playlog is one row of the device registry
type Playlog struct {
	ReachDeviceIFA       string
	HivestackDisplayUUID string // empty when NULL
	HivestackEnabled     string
	GeneratorID          string // empty when NULL
	VistarEnabled        string
	VistarLanguage       string
	RottAdWidth          int
	RottAdHeight         int
}

// PanelID is the trimmed text after the last ':' of the generator id
func (p *Playlog) PanelID() string {
	id := p.GeneratorID
	if i := strings.LastIndexByte(id, ':'); i >= 0 {
		id = id[i+1:]
	}
	return strings.TrimSpace(id)
}

// HivestackEligible reports whether the device can be addressed on Hivestack
func (p *Playlog) HivestackEligible() bool {
	return p.HivestackDisplayUUID != "" && p.HivestackEnabled == "Y"
}

// VistarEligible reports whether the device can be addressed on Vistar
func (p *Playlog) VistarEligible() bool {
	return p.GeneratorID != "" && p.VistarEnabled == "Y" && p.PanelID() != ""
}

// PlaylogStore reads the device registry
type PlaylogStore struct {
	db *sql.DB
}

// NewPlaylogStore creates a new playlog store
func NewPlaylogStore(db *sql.DB) *PlaylogStore {
	return &PlaylogStore{db: db}
}

// ListDevices returns every playlog that carries a device identifier
func (s *PlaylogStore) ListDevices(ctx context.Context) ([]*Playlog, error) {
	query := `
		SELECT reach_device_ifa, hivestack_display_uuid, COALESCE(hivestack_enabled, ''),
		       generator_id, COALESCE(vistar_enabled, ''), COALESCE(vistar_language, ''),
		       COALESCE(rott_ad_width, 0), COALESCE(rott_ad_height, 0)
		FROM playlogs
		WHERE reach_device_ifa IS NOT NULL
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlogs: %w", err)
	}
	defer rows.Close()

	playlogs := make([]*Playlog, 0, 256)
	for rows.Next() {
		var p Playlog
		var displayUUID, generatorID sql.NullString

		err := rows.Scan(
			&p.ReachDeviceIFA,
			&displayUUID,
			&p.HivestackEnabled,
			&generatorID,
			&p.VistarEnabled,
			&p.VistarLanguage,
			&p.RottAdWidth,
			&p.RottAdHeight,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan playlog row: %w", err)
		}
		p.HivestackDisplayUUID = displayUUID.String
		p.GeneratorID = generatorID.String
		playlogs = append(playlogs, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating playlogs: %w", err)
	}

	return playlogs, nil
}
