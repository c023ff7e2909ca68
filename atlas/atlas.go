// Package atlas mirrors a threat-technique corpus into SQLite and enriches
// its techniques with open-source intelligence from public indexes.
//
// The mirror refreshes atomically: each sync replaces the whole corpus in
// one transaction and appends an audit record, so readers always see a
// complete release. Enrichment results are cached per technique and source
// with source-specific TTLs.
package atlas

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/atlasmirror/atlas/internal/enrich"
	"github.com/hazyhaar/atlasmirror/atlas/internal/ingest"
	"github.com/hazyhaar/atlasmirror/atlas/internal/store"
)

// Service is the public entry point. Construct with New; methods are safe
// for concurrent use.
type Service struct {
	cfg    Config
	store  *store.Store
	engine *ingest.Engine
	orch   *enrich.Orchestrator
	logger *slog.Logger
	now    func() time.Time

	syncing atomic.Bool

	httpClient *http.Client
	adapters   []enrich.Adapter
}

// Option customizes a Service.
type Option func(*Service)

// WithHTTPClient replaces the client used for snapshot downloads and
// enrichment fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.httpClient = c }
}

// WithAdapters replaces the enrichment sources. Test seam.
func WithAdapters(adapters ...enrich.Adapter) Option {
	return func(s *Service) { s.adapters = adapters }
}

// WithClock replaces the time source. Test seam.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New builds a Service over an open database, applying the schema if
// needed. A nil logger falls back to slog.Default.
func New(db *sql.DB, cfg Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Normalize()

	s := &Service{
		cfg:    cfg,
		store:  store.NewStore(db),
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := store.ApplySchema(db); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if s.adapters == nil {
		s.adapters = []enrich.Adapter{
			enrich.NewGitHub(cfg.GitHubToken, s.httpClient),
			enrich.NewArXiv(s.httpClient),
			enrich.NewNVD(cfg.NVDAPIKey, s.httpClient),
		}
	}

	orch, err := enrich.New(s.store, s.adapters, logger)
	if err != nil {
		return nil, err
	}
	s.orch = orch

	s.engine = ingest.New(s.store, ingest.Config{
		SnapshotURL: cfg.SnapshotURL,
		Timeout:     cfg.FetchTimeout,
	}, logger, s.httpClient)

	return s, nil
}

// SyncResult reports one completed corpus refresh.
type SyncResult struct {
	RunID    string     `json:"run_id"`
	Version  string     `json:"version"`
	Checksum string     `json:"checksum"`
	Counts   KindCounts `json:"counts"`
}

// Refresh fetches the upstream snapshot and replaces the mirror. Only one
// refresh runs at a time; a second caller gets ErrSyncRunning.
func (s *Service) Refresh(ctx context.Context) (*SyncResult, error) {
	if !s.syncing.CompareAndSwap(false, true) {
		return nil, ErrSyncRunning
	}
	defer s.syncing.Store(false)

	res, err := s.engine.Run(ctx)
	if err != nil {
		return nil, err
	}
	return &SyncResult{
		RunID:    res.RunID,
		Version:  res.Version,
		Checksum: res.Checksum,
		Counts:   res.Counts,
	}, nil
}

// Status reports corpus metadata, entity counts, staleness, and recent
// ingestion history.
func (s *Service) Status(ctx context.Context) (*SyncStatus, error) {
	meta, err := s.store.GetMetadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	counts, err := s.store.CorpusCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("counts: %w", err)
	}
	history, err := s.store.ListAudit(ctx, 10)
	if err != nil {
		return nil, fmt.Errorf("audit history: %w", err)
	}

	total := counts.Tactics + counts.Techniques + counts.Subtechniques +
		counts.Mitigations + counts.CaseStudies
	var lastRefreshed string
	if meta != nil {
		lastRefreshed = meta.LastRefreshed
	}
	return &SyncStatus{
		Metadata: meta,
		Counts:   *counts,
		Stale:    NeedsSync(total, lastRefreshed, s.now()),
		History:  history,
	}, nil
}

// SyncIfStale refreshes only when the mirror is empty or past its
// freshness window. Returns the refresh result, or nil when fresh.
func (s *Service) SyncIfStale(ctx context.Context) (*SyncResult, error) {
	st, err := s.Status(ctx)
	if err != nil {
		return nil, err
	}
	if !st.Stale {
		return nil, nil
	}
	return s.Refresh(ctx)
}

// Enrich returns intelligence for a technique, fetching sources whose
// cache has expired and serving the rest from cache.
func (s *Service) Enrich(ctx context.Context, techniqueID string) (*Enrichment, error) {
	return s.enrichWith(ctx, techniqueID, s.orch.Enrich)
}

// ForceRefreshEnrichment discards cached intelligence for a technique and
// fetches every source live.
func (s *Service) ForceRefreshEnrichment(ctx context.Context, techniqueID string) (*Enrichment, error) {
	return s.enrichWith(ctx, techniqueID, s.orch.ForceRefresh)
}

// CachedEnrichment returns what the cache holds for a technique without
// touching the network, expired entries included. A nil result with a nil
// error means nothing is cached for any source.
func (s *Service) CachedEnrichment(ctx context.Context, techniqueID string) (*Enrichment, error) {
	return s.enrichWith(ctx, techniqueID, func(ctx context.Context, id, _ string) (enrich.Result, error) {
		return s.orch.Cached(ctx, id)
	})
}

func (s *Service) enrichWith(ctx context.Context, techniqueID string, fn func(context.Context, string, string) (enrich.Result, error)) (*Enrichment, error) {
	tech, err := s.store.GetTechnique(ctx, techniqueID)
	if err != nil {
		return nil, fmt.Errorf("technique lookup: %w", err)
	}
	if tech == nil {
		return nil, fmt.Errorf("%w: %s", ErrTechniqueNotFound, techniqueID)
	}

	res, err := fn(ctx, techniqueID, tech.Name)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}

	out := &Enrichment{
		TechniqueID: techniqueID,
		Name:        tech.Name,
		Sources:     make(map[string]*SourceItems, len(res)),
	}
	for source, sr := range res {
		si := &SourceItems{
			Items:     sr.Items,
			Cached:    sr.Cached,
			FetchedAt: sr.FetchedAt,
		}
		if si.Items == nil {
			si.Items = []*CacheItem{}
		}
		if sr.Err != nil {
			si.Error = sr.Err.Error()
		}
		out.Sources[source] = si
	}
	return out, nil
}

// EnrichmentStats summarizes cache coverage across all techniques.
func (s *Service) EnrichmentStats(ctx context.Context) (*EnrichmentStats, error) {
	return s.store.Stats(ctx)
}

// Search runs a full-text query over technique and case study text.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]*SearchHit, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	return s.store.Search(ctx, query, limit)
}
