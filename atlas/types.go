package atlas

import "github.com/hazyhaar/atlasmirror/atlas/internal/store"

// Re-exported storage types so callers never import internal packages.
type (
	Tactic          = store.Tactic
	Technique       = store.Technique
	Mitigation      = store.Mitigation
	TechniqueUse    = store.TechniqueUse
	CaseStudy       = store.CaseStudy
	ProcedureStep   = store.ProcedureStep
	Reference       = store.Reference
	Metadata        = store.Metadata
	KindCounts      = store.KindCounts
	AuditRecord     = store.AuditRecord
	CacheItem       = store.CacheItem
	SearchHit       = store.SearchHit
	EnrichmentStats = store.EnrichmentStats
)

// SyncStatus describes the freshness of the mirrored corpus.
type SyncStatus struct {
	Metadata *Metadata  `json:"metadata"`
	Counts   KindCounts `json:"counts"`
	Stale    bool       `json:"stale"`
	// History lists recent ingestion attempts, newest first.
	History []*AuditRecord `json:"history,omitempty"`
}

// SourceItems is the enrichment outcome for one source.
type SourceItems struct {
	Items     []*CacheItem `json:"items"`
	Cached    bool         `json:"cached"`
	FetchedAt int64        `json:"fetched_at,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// Enrichment is the full per-source enrichment answer for a technique.
type Enrichment struct {
	TechniqueID string                  `json:"technique_id"`
	Name        string                  `json:"name"`
	Sources     map[string]*SourceItems `json:"sources"`
}
