package store

import (
	"context"
	"database/sql"
	"fmt"
)

// corpusTables lists every corpus-derived table in child-first delete order.
var corpusTables = []string{
	"case_study_procedures",
	"corpus_references",
	"mitigation_techniques",
	"mitigation_lifecycle",
	"technique_tactics",
	"case_studies",
	"mitigations",
	"techniques",
	"tactics",
}

// ReplaceCorpus applies one full corpus replacement as a single transaction:
// delete all corpus rows, insert the new set, write the metadata singleton,
// and append the audit record. Any failure rolls the whole thing back,
// leaving the previously committed corpus untouched.
func (s *Store) ReplaceCorpus(ctx context.Context, data *CorpusData, meta *Metadata, rec *AuditRecord) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, table := range corpusTables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	if err := insertTactics(ctx, tx, data.Tactics); err != nil {
		return err
	}
	if err := insertTechniques(ctx, tx, data.Techniques); err != nil {
		return err
	}
	if err := insertMitigations(ctx, tx, data.Mitigations); err != nil {
		return err
	}
	if err := insertCaseStudies(ctx, tx, data.CaseStudies); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM corpus_metadata`); err != nil {
		return fmt.Errorf("clear metadata: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO corpus_metadata (id, corpus_id, name, version, last_refreshed, source_url)
		VALUES (1, ?, ?, ?, ?, ?)`,
		meta.CorpusID, meta.Name, meta.Version, meta.LastRefreshed, meta.SourceURL,
	); err != nil {
		return fmt.Errorf("insert metadata: %w", err)
	}

	if err := insertAudit(ctx, tx, rec); err != nil {
		return err
	}

	return tx.Commit()
}

func insertTactics(ctx context.Context, tx *sql.Tx, tactics []*Tactic) error {
	for _, t := range tactics {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO tactics (id, name, description, matrix_order,
			attck_id, attck_url, created_date, modified_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.Name, t.Description, t.MatrixOrder,
			t.AttckID, t.AttckURL, t.CreatedDate, t.ModifiedDate,
		)
		if err != nil {
			return fmt.Errorf("insert tactic %s: %w", t.ID, err)
		}
	}
	return nil
}

func insertTechniques(ctx context.Context, tx *sql.Tx, techniques []*Technique) error {
	for _, t := range techniques {
		var parent any
		if t.ParentID != "" {
			parent = t.ParentID
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO techniques (id, name, description, is_subtechnique,
			parent_technique_id, maturity, attck_id, attck_url, created_date, modified_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.Name, t.Description, t.IsSubtechnique,
			parent, t.Maturity, t.AttckID, t.AttckURL, t.CreatedDate, t.ModifiedDate,
		)
		if err != nil {
			return fmt.Errorf("insert technique %s: %w", t.ID, err)
		}
		for _, tacticID := range t.TacticIDs {
			if tacticID == "" {
				continue
			}
			_, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO technique_tactics (technique_id, tactic_id) VALUES (?, ?)`,
				t.ID, tacticID,
			)
			if err != nil {
				return fmt.Errorf("map technique %s to tactic %s: %w", t.ID, tacticID, err)
			}
		}
	}
	return nil
}

func insertMitigations(ctx context.Context, tx *sql.Tx, mitigations []*Mitigation) error {
	for _, m := range mitigations {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO mitigations (id, name, description, category,
			attck_id, attck_url, created_date, modified_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.Name, m.Description, m.Category,
			m.AttckID, m.AttckURL, m.CreatedDate, m.ModifiedDate,
		)
		if err != nil {
			return fmt.Errorf("insert mitigation %s: %w", m.ID, err)
		}
		for _, tu := range m.Techniques {
			if tu.TechniqueID == "" {
				continue
			}
			_, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO mitigation_techniques (mitigation_id, technique_id, use)
				VALUES (?, ?, ?)`,
				m.ID, tu.TechniqueID, tu.Use,
			)
			if err != nil {
				return fmt.Errorf("map mitigation %s to technique %s: %w", m.ID, tu.TechniqueID, err)
			}
		}
		for _, stage := range m.Lifecycle {
			_, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO mitigation_lifecycle (mitigation_id, lifecycle_stage)
				VALUES (?, ?)`,
				m.ID, stage,
			)
			if err != nil {
				return fmt.Errorf("insert lifecycle for %s: %w", m.ID, err)
			}
		}
	}
	return nil
}

func insertCaseStudies(ctx context.Context, tx *sql.Tx, studies []*CaseStudy) error {
	for _, cs := range studies {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO case_studies (id, name, summary, incident_date,
			incident_date_granularity, reporter, target, actor, case_study_type)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			cs.ID, cs.Name, cs.Summary, cs.IncidentDate,
			cs.DateGranularity, cs.Reporter, cs.Target, cs.Actor, cs.Type,
		)
		if err != nil {
			return fmt.Errorf("insert case study %s: %w", cs.ID, err)
		}
		for _, step := range cs.Procedure {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO case_study_procedures (case_study_id, step_order, tactic_id, technique_id, description)
				VALUES (?, ?, ?, ?, ?)`,
				cs.ID, step.StepOrder, step.TacticID, step.TechniqueID, step.Description,
			)
			if err != nil {
				return fmt.Errorf("insert procedure step for %s: %w", cs.ID, err)
			}
		}
		for _, ref := range cs.References {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO corpus_references (entity_type, entity_id, title, url)
				VALUES ('case_study', ?, ?, ?)`,
				cs.ID, ref.Title, ref.URL,
			)
			if err != nil {
				return fmt.Errorf("insert reference for %s: %w", cs.ID, err)
			}
		}
	}
	return nil
}

// CorpusCounts returns current per-kind row counts.
func (s *Store) CorpusCounts(ctx context.Context) (*KindCounts, error) {
	var c KindCounts
	queries := []struct {
		sql  string
		dest *int
	}{
		{`SELECT COUNT(*) FROM tactics`, &c.Tactics},
		{`SELECT COUNT(*) FROM techniques WHERE is_subtechnique = 0`, &c.Techniques},
		{`SELECT COUNT(*) FROM techniques WHERE is_subtechnique = 1`, &c.Subtechniques},
		{`SELECT COUNT(*) FROM mitigations`, &c.Mitigations},
		{`SELECT COUNT(*) FROM case_studies`, &c.CaseStudies},
	}
	for _, q := range queries {
		if err := s.DB.QueryRowContext(ctx, q.sql).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("corpus counts: %w", err)
		}
	}
	return &c, nil
}

// GetTechnique returns a technique by its upstream identifier, or nil when
// the mirror has no such row.
func (s *Store) GetTechnique(ctx context.Context, id string) (*Technique, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, name, description, is_subtechnique, parent_technique_id,
		maturity, attck_id, attck_url, created_date, modified_date
		FROM techniques WHERE id = ?`, id)

	var t Technique
	var isSub int
	var parent sql.NullString
	err := row.Scan(&t.ID, &t.Name, &t.Description, &isSub, &parent,
		&t.Maturity, &t.AttckID, &t.AttckURL, &t.CreatedDate, &t.ModifiedDate)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan technique: %w", err)
	}
	t.IsSubtechnique = isSub != 0
	t.ParentID = parent.String
	return &t, nil
}
