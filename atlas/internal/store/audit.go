package store

import (
	"context"
	"database/sql"
	"fmt"
)

// execer is satisfied by both *sql.DB and *sql.Tx, so the audit insert can
// run inside the replace transaction or standalone for pre-transaction
// failures.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertAudit(ctx context.Context, q execer, rec *AuditRecord) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO ingestion_log
		(run_id, version, checksum, ingested_at,
		tactics_count, techniques_count, subtechniques_count,
		mitigations_count, case_studies_count, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Version, rec.Checksum, rec.IngestedAt,
		rec.Counts.Tactics, rec.Counts.Techniques, rec.Counts.Subtechniques,
		rec.Counts.Mitigations, rec.Counts.CaseStudies, rec.Status,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// AppendAudit writes an audit record outside any transaction. Used for
// ingestion attempts that fail before the replace transaction starts, so the
// operational history stays complete.
func (s *Store) AppendAudit(ctx context.Context, rec *AuditRecord) error {
	return insertAudit(ctx, s.DB, rec)
}

// ListAudit returns the most recent audit records, newest first.
func (s *Store) ListAudit(ctx context.Context, limit int) ([]*AuditRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT run_id, version, checksum, ingested_at,
		tactics_count, techniques_count, subtechniques_count,
		mitigations_count, case_studies_count, status
		FROM ingestion_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*AuditRecord
	for rows.Next() {
		var rec AuditRecord
		err := rows.Scan(&rec.RunID, &rec.Version, &rec.Checksum, &rec.IngestedAt,
			&rec.Counts.Tactics, &rec.Counts.Techniques, &rec.Counts.Subtechniques,
			&rec.Counts.Mitigations, &rec.Counts.CaseStudies, &rec.Status)
		if err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}
