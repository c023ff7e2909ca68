package store

// Tactic is one adversarial tactic column of the matrix.
type Tactic struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	MatrixOrder  int    `json:"matrix_order"`
	AttckID      string `json:"attck_id,omitempty"`
	AttckURL     string `json:"attck_url,omitempty"`
	CreatedDate  string `json:"created_date,omitempty"`
	ModifiedDate string `json:"modified_date,omitempty"`
}

// Technique is an adversarial technique or subtechnique.
type Technique struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	IsSubtechnique bool     `json:"is_subtechnique"`
	ParentID       string   `json:"parent_technique_id,omitempty"`
	Maturity       string   `json:"maturity,omitempty"`
	AttckID        string   `json:"attck_id,omitempty"`
	AttckURL       string   `json:"attck_url,omitempty"`
	CreatedDate    string   `json:"created_date,omitempty"`
	ModifiedDate   string   `json:"modified_date,omitempty"`
	TacticIDs      []string `json:"tactic_ids,omitempty"`
}

// Mitigation is a defensive measure mapped to techniques.
type Mitigation struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Category     string         `json:"category,omitempty"`
	AttckID      string         `json:"attck_id,omitempty"`
	AttckURL     string         `json:"attck_url,omitempty"`
	CreatedDate  string         `json:"created_date,omitempty"`
	ModifiedDate string         `json:"modified_date,omitempty"`
	Techniques   []TechniqueUse `json:"techniques,omitempty"`
	Lifecycle    []string       `json:"lifecycle,omitempty"`
}

// TechniqueUse maps a mitigation to one technique with its usage text.
type TechniqueUse struct {
	TechniqueID string `json:"technique_id"`
	Use         string `json:"use,omitempty"`
}

// CaseStudy is a documented real-world incident.
type CaseStudy struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Summary         string          `json:"summary"`
	IncidentDate    string          `json:"incident_date,omitempty"`
	DateGranularity string          `json:"incident_date_granularity,omitempty"`
	Reporter        string          `json:"reporter,omitempty"`
	Target          string          `json:"target,omitempty"`
	Actor           string          `json:"actor,omitempty"`
	Type            string          `json:"case_study_type,omitempty"`
	Procedure       []ProcedureStep `json:"procedure,omitempty"`
	References      []Reference     `json:"references,omitempty"`
}

// ProcedureStep is one ordered step of a case study procedure.
type ProcedureStep struct {
	StepOrder   int    `json:"step_order"`
	TacticID    string `json:"tactic_id"`
	TechniqueID string `json:"technique_id"`
	Description string `json:"description"`
}

// Reference is an external citation attached to a corpus entity.
type Reference struct {
	Title string `json:"title,omitempty"`
	URL   string `json:"url,omitempty"`
}

// CorpusData is one fully parsed corpus snapshot ready for a replace.
type CorpusData struct {
	Tactics     []*Tactic
	Techniques  []*Technique
	Mitigations []*Mitigation
	CaseStudies []*CaseStudy
}

// Metadata is the singleton row describing the mirrored corpus release.
// It is the sole source of truth for staleness decisions.
type Metadata struct {
	CorpusID      string `json:"corpus_id"`
	Name          string `json:"name"`
	Version       string `json:"version"`
	LastRefreshed string `json:"last_refreshed"` // RFC 3339, UTC
	SourceURL     string `json:"source_url"`
}

// KindCounts holds per-kind row counts from one ingestion.
type KindCounts struct {
	Tactics       int `json:"tactics"`
	Techniques    int `json:"techniques"`
	Subtechniques int `json:"subtechniques"`
	Mitigations   int `json:"mitigations"`
	CaseStudies   int `json:"case_studies"`
}

// AuditRecord is one append-only ingestion_log row. Written for every
// attempt that produced a durable outcome, success or failure.
type AuditRecord struct {
	RunID      string     `json:"run_id"`
	Version    string     `json:"version"`
	Checksum   string     `json:"checksum"`
	IngestedAt string     `json:"ingested_at"` // RFC 3339, UTC
	Counts     KindCounts `json:"counts"`
	Status     string     `json:"status"` // "success" | "failed:fetch" | "failed:parse" | "failed:load"
}

// CacheItem is one normalized enrichment hit cached for a
// (technique, source) key.
type CacheItem struct {
	TechniqueID string  `json:"technique_id"`
	Source      string  `json:"source"`
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	Summary     string  `json:"summary,omitempty"`
	Score       float64 `json:"relevance_score"`
	FetchedAt   int64   `json:"fetched_at"` // unix ms
	ExpiresAt   int64   `json:"expires_at"` // unix ms
}

// SearchHit is a full-text search match on techniques or case studies.
type SearchHit struct {
	Kind string  `json:"kind"` // "technique" | "case_study"
	ID   string  `json:"id"`
	Name string  `json:"name"`
	Text string  `json:"text"`
	Rank float64 `json:"rank"`
}

// EnrichmentStats summarizes cache coverage across all techniques.
type EnrichmentStats struct {
	TotalTechniques    int            `json:"total_techniques"`
	EnrichedTechniques int            `json:"enriched_techniques"`
	ItemsBySource      map[string]int `json:"items_by_source"`
	LastFetchedAt      int64          `json:"last_fetched_at,omitempty"` // unix ms
}
