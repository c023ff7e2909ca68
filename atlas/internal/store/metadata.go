package store

import (
	"context"
	"database/sql"
	"fmt"
)

// GetMetadata returns the corpus metadata singleton, or nil when the mirror
// has never been populated.
func (s *Store) GetMetadata(ctx context.Context) (*Metadata, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT corpus_id, name, version, last_refreshed, source_url
		FROM corpus_metadata WHERE id = 1`)

	var m Metadata
	err := row.Scan(&m.CorpusID, &m.Name, &m.Version, &m.LastRefreshed, &m.SourceURL)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan metadata: %w", err)
	}
	return &m, nil
}
