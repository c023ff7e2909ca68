package store

import (
	"context"
	"fmt"
)

// CacheEntries returns the cached enrichment items for one
// (technique, source) key, in persisted order. An empty slice means no
// current entry exists.
func (s *Store) CacheEntries(ctx context.Context, techniqueID, source string) ([]*CacheItem, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT technique_id, source, title, url, summary, relevance_score, fetched_at, expires_at
		FROM enrichment_cache
		WHERE technique_id = ? AND source = ?
		ORDER BY position ASC`, techniqueID, source)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*CacheItem
	for rows.Next() {
		var it CacheItem
		err := rows.Scan(&it.TechniqueID, &it.Source, &it.Title, &it.URL,
			&it.Summary, &it.Score, &it.FetchedAt, &it.ExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("scan cache item: %w", err)
		}
		items = append(items, &it)
	}
	return items, rows.Err()
}

// ReplaceCacheEntries atomically replaces all cached items for one
// (technique, source) key: delete-then-insert in a single transaction,
// never merge. Item order is preserved via the position column.
func (s *Store) ReplaceCacheEntries(ctx context.Context, techniqueID, source string, items []*CacheItem) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM enrichment_cache WHERE technique_id = ? AND source = ?`,
		techniqueID, source,
	); err != nil {
		return fmt.Errorf("clear cache key: %w", err)
	}

	for pos, it := range items {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO enrichment_cache
			(technique_id, source, title, url, summary, relevance_score, position, fetched_at, expires_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			techniqueID, source, it.Title, it.URL, it.Summary, it.Score, pos, it.FetchedAt, it.ExpiresAt,
		)
		if err != nil {
			return fmt.Errorf("insert cache item: %w", err)
		}
	}

	return tx.Commit()
}

// ClearCache removes all cached enrichment for one technique across every
// source. Used by force-refresh.
func (s *Store) ClearCache(ctx context.Context, techniqueID string) error {
	_, err := s.DB.ExecContext(ctx,
		`DELETE FROM enrichment_cache WHERE technique_id = ?`, techniqueID)
	return err
}

// Stats summarizes enrichment coverage across the mirror.
func (s *Store) Stats(ctx context.Context) (*EnrichmentStats, error) {
	st := &EnrichmentStats{ItemsBySource: map[string]int{}}

	if err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM techniques`).Scan(&st.TotalTechniques); err != nil {
		return nil, err
	}
	if err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT technique_id) FROM enrichment_cache`).Scan(&st.EnrichedTechniques); err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT source, COUNT(*) FROM enrichment_cache GROUP BY source`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var source string
		var n int
		if err := rows.Scan(&source, &n); err != nil {
			return nil, err
		}
		st.ItemsBySource[source] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var last *int64
	if err := s.DB.QueryRowContext(ctx,
		`SELECT MAX(fetched_at) FROM enrichment_cache`).Scan(&last); err != nil {
		return nil, err
	}
	if last != nil {
		st.LastFetchedAt = *last
	}
	return st, nil
}
