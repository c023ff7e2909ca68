package store

import "database/sql"

// Schema is the complete relational layout of the mirror. Corpus tables are
// replaced wholesale by the ingestion engine; enrichment_cache and
// ingestion_log live outside the replace cycle.
const Schema = `
-- Corpus release metadata (singleton)
CREATE TABLE IF NOT EXISTS corpus_metadata (
    id             INTEGER PRIMARY KEY CHECK (id = 1),
    corpus_id      TEXT NOT NULL,
    name           TEXT NOT NULL,
    version        TEXT NOT NULL,
    last_refreshed TEXT NOT NULL,
    source_url     TEXT NOT NULL
);

-- Append-only ingestion audit trail
CREATE TABLE IF NOT EXISTS ingestion_log (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id              TEXT NOT NULL,
    version             TEXT NOT NULL,
    checksum            TEXT NOT NULL,
    ingested_at         TEXT NOT NULL,
    tactics_count       INTEGER NOT NULL DEFAULT 0,
    techniques_count    INTEGER NOT NULL DEFAULT 0,
    subtechniques_count INTEGER NOT NULL DEFAULT 0,
    mitigations_count   INTEGER NOT NULL DEFAULT 0,
    case_studies_count  INTEGER NOT NULL DEFAULT 0,
    status              TEXT NOT NULL DEFAULT 'success'
);

-- Core corpus entities
CREATE TABLE IF NOT EXISTS tactics (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL,
    description   TEXT NOT NULL DEFAULT '',
    matrix_order  INTEGER NOT NULL,
    attck_id      TEXT NOT NULL DEFAULT '',
    attck_url     TEXT NOT NULL DEFAULT '',
    created_date  TEXT NOT NULL DEFAULT '',
    modified_date TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS techniques (
    id                  TEXT PRIMARY KEY,
    name                TEXT NOT NULL,
    description         TEXT NOT NULL DEFAULT '',
    is_subtechnique     INTEGER NOT NULL DEFAULT 0,
    parent_technique_id TEXT REFERENCES techniques(id),
    maturity            TEXT NOT NULL DEFAULT '',
    attck_id            TEXT NOT NULL DEFAULT '',
    attck_url           TEXT NOT NULL DEFAULT '',
    created_date        TEXT NOT NULL DEFAULT '',
    modified_date       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_techniques_parent ON techniques(parent_technique_id);

CREATE TABLE IF NOT EXISTS mitigations (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL,
    description   TEXT NOT NULL DEFAULT '',
    category      TEXT NOT NULL DEFAULT '',
    attck_id      TEXT NOT NULL DEFAULT '',
    attck_url     TEXT NOT NULL DEFAULT '',
    created_date  TEXT NOT NULL DEFAULT '',
    modified_date TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS case_studies (
    id                        TEXT PRIMARY KEY,
    name                      TEXT NOT NULL,
    summary                   TEXT NOT NULL DEFAULT '',
    incident_date             TEXT NOT NULL DEFAULT '',
    incident_date_granularity TEXT NOT NULL DEFAULT '',
    reporter                  TEXT NOT NULL DEFAULT '',
    target                    TEXT NOT NULL DEFAULT '',
    actor                     TEXT NOT NULL DEFAULT '',
    case_study_type           TEXT NOT NULL DEFAULT ''
);

-- Junctions
CREATE TABLE IF NOT EXISTS technique_tactics (
    technique_id TEXT NOT NULL REFERENCES techniques(id),
    tactic_id    TEXT NOT NULL REFERENCES tactics(id),
    PRIMARY KEY (technique_id, tactic_id)
);
CREATE INDEX IF NOT EXISTS idx_technique_tactics_tactic ON technique_tactics(tactic_id);

CREATE TABLE IF NOT EXISTS mitigation_techniques (
    mitigation_id TEXT NOT NULL REFERENCES mitigations(id),
    technique_id  TEXT NOT NULL,
    use           TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (mitigation_id, technique_id)
);
CREATE INDEX IF NOT EXISTS idx_mitigation_techniques_technique ON mitigation_techniques(technique_id);

CREATE TABLE IF NOT EXISTS mitigation_lifecycle (
    mitigation_id   TEXT NOT NULL REFERENCES mitigations(id),
    lifecycle_stage TEXT NOT NULL,
    PRIMARY KEY (mitigation_id, lifecycle_stage)
);

CREATE TABLE IF NOT EXISTS case_study_procedures (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    case_study_id TEXT NOT NULL REFERENCES case_studies(id),
    step_order    INTEGER NOT NULL,
    tactic_id     TEXT NOT NULL DEFAULT '',
    technique_id  TEXT NOT NULL DEFAULT '',
    description   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_case_study_procedures_case ON case_study_procedures(case_study_id);

CREATE TABLE IF NOT EXISTS corpus_references (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    entity_type TEXT NOT NULL,
    entity_id   TEXT NOT NULL,
    title       TEXT NOT NULL DEFAULT '',
    url         TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_corpus_references_entity ON corpus_references(entity_type, entity_id);

-- Enrichment cache, keyed by (technique_id, source).
-- No FK to techniques: entries are keyed by stable upstream IDs and must
-- survive a corpus replace; they are cleared explicitly instead.
CREATE TABLE IF NOT EXISTS enrichment_cache (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    technique_id    TEXT NOT NULL,
    source          TEXT NOT NULL,
    title           TEXT NOT NULL,
    url             TEXT NOT NULL,
    summary         TEXT NOT NULL DEFAULT '',
    relevance_score REAL NOT NULL DEFAULT 0,
    position        INTEGER NOT NULL DEFAULT 0,
    fetched_at      INTEGER NOT NULL,
    expires_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_enrichment_cache_key ON enrichment_cache(technique_id, source);

-- Derived full-text indexes, rebuilt wholesale after each ingestion.
CREATE VIRTUAL TABLE IF NOT EXISTS techniques_fts USING fts5(
    id, name, description, tokenize='unicode61 remove_diacritics 2'
);
CREATE VIRTUAL TABLE IF NOT EXISTS case_studies_fts USING fts5(
    id, name, summary, tokenize='unicode61 remove_diacritics 2'
);
`

// ApplySchema creates all tables, indexes, and FTS virtual tables.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
