package store

import (
	"context"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/atlasmirror/dbopen"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(dbopen.OpenMemory(t, dbopen.WithSchema(Schema)))
}

func sampleCorpus() *CorpusData {
	return &CorpusData{
		Tactics: []*Tactic{
			{ID: "AML.TA0000", Name: "ML Model Access", Description: "Gain access to a model.", MatrixOrder: 0},
			{ID: "AML.TA0001", Name: "Reconnaissance", Description: "Survey the victim.", MatrixOrder: 1},
		},
		Techniques: []*Technique{
			{ID: "AML.T0040", Name: "ML Model Inference API Access", Description: "Use the inference API.", TacticIDs: []string{"AML.TA0000"}},
			{ID: "AML.T0040.000", Name: "Free Tier Abuse", Description: "Abuse free quota.", IsSubtechnique: true, ParentID: "AML.T0040", TacticIDs: []string{"AML.TA0000"}},
		},
		Mitigations: []*Mitigation{
			{ID: "AML.M0004", Name: "Restrict Queries", Description: "Rate limit the API.",
				Techniques: []TechniqueUse{{TechniqueID: "AML.T0040", Use: "Limits probing."}},
				Lifecycle:  []string{"deployment"}},
		},
		CaseStudies: []*CaseStudy{
			{ID: "AML.CS0000", Name: "Evasion Incident", Summary: "A model was evaded in production.",
				Procedure:  []ProcedureStep{{StepOrder: 0, TacticID: "AML.TA0000", TechniqueID: "AML.T0040", Description: "Queried the API."}},
				References: []Reference{{Title: "Writeup", URL: "https://example.com/writeup"}}},
		},
	}
}

func sampleMeta() *Metadata {
	return &Metadata{
		CorpusID:      "ATLAS",
		Name:          "Adversarial Threat Landscape",
		Version:       "4.9.0",
		LastRefreshed: "2026-08-20T00:00:00Z",
		SourceURL:     "https://example.com/ATLAS.yaml",
	}
}

func sampleAudit(runID string) *AuditRecord {
	return &AuditRecord{
		RunID:      runID,
		Version:    "4.9.0",
		Checksum:   "abc123",
		IngestedAt: "2026-08-20T00:00:00Z",
		Counts:     KindCounts{Tactics: 2, Techniques: 1, Subtechniques: 1, Mitigations: 1, CaseStudies: 1},
		Status:     "success",
	}
}

func TestReplaceCorpus_RoundTrip(t *testing.T) {
	// WHAT: Load a full corpus and read back counts, metadata, and audit.
	// WHY: The replace transaction is the core write path of the mirror.
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.ReplaceCorpus(ctx, sampleCorpus(), sampleMeta(), sampleAudit("run-1")); err != nil {
		t.Fatalf("replace corpus: %v", err)
	}

	counts, err := st.CorpusCounts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	want := KindCounts{Tactics: 2, Techniques: 1, Subtechniques: 1, Mitigations: 1, CaseStudies: 1}
	if *counts != want {
		t.Errorf("counts: got %+v, want %+v", *counts, want)
	}

	meta, err := st.GetMetadata(ctx)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if meta == nil || meta.Version != "4.9.0" {
		t.Errorf("metadata: got %+v", meta)
	}

	audits, err := st.ListAudit(ctx, 10)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(audits) != 1 || audits[0].RunID != "run-1" || audits[0].Status != "success" {
		t.Errorf("audit: got %+v", audits)
	}
}

func TestReplaceCorpus_SecondLoadReplacesFirst(t *testing.T) {
	// WHAT: A second replace leaves only the second corpus, but both audit rows.
	// WHY: Readers must see exactly one complete release; the log is append-only.
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.ReplaceCorpus(ctx, sampleCorpus(), sampleMeta(), sampleAudit("run-1")); err != nil {
		t.Fatalf("first replace: %v", err)
	}

	second := &CorpusData{
		Tactics:    []*Tactic{{ID: "AML.TA0009", Name: "Impact", Description: "Cause harm."}},
		Techniques: []*Technique{{ID: "AML.T0031", Name: "Erode Integrity", Description: "Degrade outputs.", TacticIDs: []string{"AML.TA0009"}}},
	}
	meta2 := sampleMeta()
	meta2.Version = "5.0.0"
	rec2 := sampleAudit("run-2")
	rec2.Version = "5.0.0"
	if err := st.ReplaceCorpus(ctx, second, meta2, rec2); err != nil {
		t.Fatalf("second replace: %v", err)
	}

	counts, err := st.CorpusCounts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts.Tactics != 1 || counts.Techniques != 1 || counts.CaseStudies != 0 {
		t.Errorf("counts after second load: got %+v", *counts)
	}

	meta, err := st.GetMetadata(ctx)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if meta.Version != "5.0.0" {
		t.Errorf("metadata version: got %q, want 5.0.0", meta.Version)
	}

	audits, err := st.ListAudit(ctx, 10)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(audits) != 2 {
		t.Fatalf("audit rows: got %d, want 2", len(audits))
	}
	if audits[0].RunID != "run-2" {
		t.Errorf("newest first: got %q", audits[0].RunID)
	}
}

func TestReplaceCorpus_FailureRollsBack(t *testing.T) {
	// WHAT: A constraint violation mid-replace leaves the prior corpus intact.
	// WHY: A broken upstream release must never destroy the mirror.
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.ReplaceCorpus(ctx, sampleCorpus(), sampleMeta(), sampleAudit("run-1")); err != nil {
		t.Fatalf("first replace: %v", err)
	}

	// Duplicate primary key forces the insert to fail inside the transaction.
	bad := &CorpusData{
		Tactics: []*Tactic{
			{ID: "AML.TA0000", Name: "One"},
			{ID: "AML.TA0000", Name: "Dup"},
		},
		Techniques: []*Technique{{ID: "AML.T0000", Name: "T"}},
	}
	if err := st.ReplaceCorpus(ctx, bad, sampleMeta(), sampleAudit("run-2")); err == nil {
		t.Fatal("expected constraint error")
	}

	counts, err := st.CorpusCounts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts.Tactics != 2 || counts.Techniques != 1 {
		t.Errorf("prior corpus lost: got %+v", *counts)
	}
	meta, err := st.GetMetadata(ctx)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if meta == nil || meta.Version != "4.9.0" {
		t.Errorf("prior metadata lost: got %+v", meta)
	}
}

func TestGetTechnique(t *testing.T) {
	// WHAT: Lookup by ID returns the row; unknown IDs return nil, nil.
	st := openTestStore(t)
	ctx := context.Background()
	if err := st.ReplaceCorpus(ctx, sampleCorpus(), sampleMeta(), sampleAudit("run-1")); err != nil {
		t.Fatalf("replace: %v", err)
	}

	tech, err := st.GetTechnique(ctx, "AML.T0040.000")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if tech == nil || !tech.IsSubtechnique || tech.ParentID != "AML.T0040" {
		t.Errorf("subtechnique: got %+v", tech)
	}

	missing, err := st.GetTechnique(ctx, "AML.T9999")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Errorf("missing technique: got %+v, want nil", missing)
	}
}

func TestGetMetadata_EmptyMirror(t *testing.T) {
	// WHAT: No ingestion yet means nil metadata, not an error.
	st := openTestStore(t)
	meta, err := st.GetMetadata(context.Background())
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if meta != nil {
		t.Errorf("got %+v, want nil", meta)
	}
}

func TestSearch_RankedAcrossKinds(t *testing.T) {
	// WHAT: One query hits both techniques and case studies, merged by rank.
	st := openTestStore(t)
	ctx := context.Background()
	if err := st.ReplaceCorpus(ctx, sampleCorpus(), sampleMeta(), sampleAudit("run-1")); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if err := st.RebuildSearchIndex(ctx); err != nil {
		t.Fatalf("rebuild index: %v", err)
	}

	hits, err := st.Search(ctx, "model", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("no hits for 'model'")
	}
	kinds := map[string]bool{}
	for _, h := range hits {
		kinds[h.Kind] = true
	}
	if !kinds["technique"] || !kinds["case_study"] {
		t.Errorf("expected both kinds, got %v", kinds)
	}
}

func TestSearch_IndexReflectsRebuildOnly(t *testing.T) {
	// WHAT: Search sees nothing until the index is rebuilt after a replace.
	// WHY: The index is derived state owned by the ingestion engine.
	st := openTestStore(t)
	ctx := context.Background()
	if err := st.ReplaceCorpus(ctx, sampleCorpus(), sampleMeta(), sampleAudit("run-1")); err != nil {
		t.Fatalf("replace: %v", err)
	}

	hits, err := st.Search(ctx, "model", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("index populated before rebuild: %d hits", len(hits))
	}

	if err := st.RebuildSearchIndex(ctx); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	hits, err = st.Search(ctx, "model", 10)
	if err != nil {
		t.Fatalf("search after rebuild: %v", err)
	}
	if len(hits) == 0 {
		t.Error("no hits after rebuild")
	}
}

func TestAppendAudit_Standalone(t *testing.T) {
	// WHAT: Failure audits are written outside any corpus transaction.
	st := openTestStore(t)
	ctx := context.Background()

	rec := sampleAudit("run-fail")
	rec.Status = "failed:fetch"
	rec.Counts = KindCounts{}
	if err := st.AppendAudit(ctx, rec); err != nil {
		t.Fatalf("append: %v", err)
	}

	audits, err := st.ListAudit(ctx, 5)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(audits) != 1 || audits[0].Status != "failed:fetch" {
		t.Errorf("got %+v", audits)
	}
}
