// Package ingest implements the corpus ingestion engine: fetch the published
// snapshot, fingerprint it, parse it into normalized relations, replace the
// mirror atomically, rebuild the derived search index, and leave an audit
// trail for every attempt.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/atlasmirror/atlas/internal/store"
)

// Failure stages, in pipeline order.
const (
	StageFetch = "fetch"
	StageParse = "parse"
	StageLoad  = "load"
	StageIndex = "index"
)

// Error is a typed ingestion failure carrying the stage it occurred in.
// Transport failures surface as StageFetch, malformed snapshots as
// StageParse, transaction/constraint failures as StageLoad.
type Error struct {
	Stage string
	RunID string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ingest %s (run %s): %v", e.Stage, e.RunID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Result reports one successful ingestion.
type Result struct {
	RunID    string           `json:"run_id"`
	Version  string           `json:"version"`
	Checksum string           `json:"checksum"`
	Counts   store.KindCounts `json:"counts"`
}

// Config configures the Engine.
type Config struct {
	// SnapshotURL is the published corpus location.
	SnapshotURL string
	// Timeout bounds the snapshot download. Default: 60s.
	Timeout time.Duration
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
}

// Engine is the corpus ingestion engine.
type Engine struct {
	store  *store.Store
	client *http.Client
	config Config
	logger *slog.Logger
	newID  func() string
	now    func() time.Time
}

// New creates an Engine. A nil client gets a default one bound to the
// configured timeout.
func New(st *store.Store, cfg Config, logger *slog.Logger, client *http.Client) *Engine {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Engine{
		store:  st,
		client: client,
		config: cfg,
		logger: logger,
		newID:  func() string { return uuid.NewString() },
		now:    time.Now,
	}
}

// SetClock overrides the engine clock. Test seam.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Run performs one full ingestion. Re-running against an unchanged snapshot
// reproduces identical per-kind counts and an identical checksum.
//
// Every attempt leaves an audit trail: the replace transaction commits a
// success row; failures before or inside the transaction write a standalone
// failed:<stage> row instead, and an index rebuild failure appends a
// failed:index row after the already-committed success.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	runID := e.newID()
	started := e.now().UTC()
	e.logger.Info("ingest: fetching snapshot", "run_id", runID, "url", e.config.SnapshotURL)

	raw, checksum, err := fetchSnapshot(ctx, e.client, e.config.SnapshotURL)
	if err != nil {
		e.auditFailure(runID, "", "", StageFetch)
		return nil, &Error{Stage: StageFetch, RunID: runID, Err: err}
	}
	e.logger.Info("ingest: snapshot fetched", "run_id", runID, "bytes", len(raw), "checksum", checksum)

	data, snap, err := Parse(raw)
	if err != nil {
		e.auditFailure(runID, "", checksum, StageParse)
		return nil, &Error{Stage: StageParse, RunID: runID, Err: err}
	}
	version := string(snap.Version)

	counts := store.KindCounts{
		Tactics:     len(data.Tactics),
		Mitigations: len(data.Mitigations),
		CaseStudies: len(data.CaseStudies),
	}
	for _, t := range data.Techniques {
		if t.IsSubtechnique {
			counts.Subtechniques++
		} else {
			counts.Techniques++
		}
	}

	now := e.now().UTC().Format(time.RFC3339)
	meta := &store.Metadata{
		CorpusID:      snap.ID,
		Name:          snap.Name,
		Version:       version,
		LastRefreshed: now,
		SourceURL:     e.config.SnapshotURL,
	}
	rec := &store.AuditRecord{
		RunID:      runID,
		Version:    version,
		Checksum:   checksum,
		IngestedAt: now,
		Counts:     counts,
		Status:     "success",
	}

	if err := e.store.ReplaceCorpus(ctx, data, meta, rec); err != nil {
		e.auditFailure(runID, version, checksum, StageLoad)
		return nil, &Error{Stage: StageLoad, RunID: runID, Err: err}
	}

	// The index rebuild is deliberately outside the replace transaction but
	// must complete before Run returns success, reflecting only the
	// just-committed rows. If it fails, the committed success row already
	// exists, so a failed:index row is appended to keep the trail honest.
	if err := e.store.RebuildSearchIndex(ctx); err != nil {
		e.auditFailure(runID, version, checksum, StageIndex)
		return nil, &Error{Stage: StageIndex, RunID: runID, Err: err}
	}

	e.logger.Info("ingest: complete",
		"run_id", runID,
		"version", version,
		"tactics", counts.Tactics,
		"techniques", counts.Techniques,
		"subtechniques", counts.Subtechniques,
		"mitigations", counts.Mitigations,
		"case_studies", counts.CaseStudies,
		"elapsed", e.now().UTC().Sub(started).String(),
	)

	return &Result{
		RunID:    runID,
		Version:  version,
		Checksum: checksum,
		Counts:   counts,
	}, nil
}

// auditFailure best-effort records a pre-commit failure so the audit trail
// covers every attempt. Errors here are logged, never propagated: keeping
// the original failure visible matters more.
func (e *Engine) auditFailure(runID, version, checksum, stage string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec := &store.AuditRecord{
		RunID:      runID,
		Version:    version,
		Checksum:   checksum,
		IngestedAt: e.now().UTC().Format(time.RFC3339),
		Status:     "failed:" + stage,
	}
	if err := e.store.AppendAudit(ctx, rec); err != nil {
		e.logger.Error("ingest: audit write failed", "run_id", runID, "stage", stage, "error", err)
	}
}

// IsStage reports whether err is an ingestion Error for the given stage.
func IsStage(err error, stage string) bool {
	var ie *Error
	return errors.As(err, &ie) && ie.Stage == stage
}
