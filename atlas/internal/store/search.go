package store

import (
	"context"
	"fmt"
)

// RebuildSearchIndex rebuilds both derived FTS tables wholesale from the
// committed corpus rows. Owned by the ingestion engine: it runs after the
// replace transaction commits and always reflects exactly the committed data.
func (s *Store) RebuildSearchIndex(ctx context.Context) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	steps := []string{
		`DELETE FROM techniques_fts`,
		`INSERT INTO techniques_fts (id, name, description)
			SELECT id, name, description FROM techniques`,
		`DELETE FROM case_studies_fts`,
		`INSERT INTO case_studies_fts (id, name, summary)
			SELECT id, name, summary FROM case_studies`,
	}
	for _, stmt := range steps {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("rebuild search index: %w", err)
		}
	}
	return tx.Commit()
}

// Search runs a full-text query against both indexes and returns merged
// hits ordered by FTS rank (best first).
func (s *Store) Search(ctx context.Context, query string, limit int) ([]*SearchHit, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT kind, id, name, text, rank FROM (
			SELECT 'technique' AS kind, id, name, description AS text, rank
			FROM techniques_fts WHERE techniques_fts MATCH ?
			UNION ALL
			SELECT 'case_study' AS kind, id, name, summary AS text, rank
			FROM case_studies_fts WHERE case_studies_fts MATCH ?
		) ORDER BY rank LIMIT ?`, query, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []*SearchHit
	for rows.Next() {
		var h SearchHit
		if err := rows.Scan(&h.Kind, &h.ID, &h.Name, &h.Text, &h.Rank); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		hits = append(hits, &h)
	}
	return hits, rows.Err()
}
