package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// CreativeStore is the ledger of creatives already registered downstream,
// keyed by content URL
type CreativeStore struct {
	db *sql.DB
}

// NewCreativeStore creates a new creative store
func NewCreativeStore(db *sql.DB) *CreativeStore {
	return &CreativeStore{db: db}
}

// Exists reports whether url has been recorded
func (s *CreativeStore) Exists(ctx context.Context, url string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM creatives WHERE hivestack_url = $1)`

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, url).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to query creative: %w", err)
	}
	return exists, nil
}

// Save records url with its downstream id. reachID is nil when the creative
// was already present downstream and no id was returned.
func (s *CreativeStore) Save(ctx context.Context, reachID *string, url string) error {
	query := `INSERT INTO creatives (reach_id, hivestack_url) VALUES ($1, $2)`

	var id sql.NullString
	if reachID != nil {
		id = sql.NullString{String: *reachID, Valid: true}
	}

	if _, err := s.db.ExecContext(ctx, query, id, url); err != nil {
		return fmt.Errorf("failed to save creative: %w", err)
	}
	return nil
}

// ListURLs returns every recorded content URL, used to warm the dedup set
func (s *CreativeStore) ListURLs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT hivestack_url FROM creatives WHERE hivestack_url IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to query creatives: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("failed to scan creative row: %w", err)
		}
		urls = append(urls, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating creatives: %w", err)
	}
	return urls, nil
}
