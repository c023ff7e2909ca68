package enrich

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/atlasmirror/atlas/internal/store"
	"github.com/hazyhaar/atlasmirror/dbopen"
)

type fakeAdapter struct {
	name  string
	ttl   time.Duration
	items []Item
	err   error
	calls atomic.Int32
	gate  chan struct{}
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) TTL() time.Duration {
	if f.ttl == 0 {
		return time.Hour
	}
	return f.ttl
}

func (f *fakeAdapter) Search(ctx context.Context, terms []string) ([]Item, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	return f.items, f.err
}

func testOrchestrator(t *testing.T, adapters ...Adapter) (*Orchestrator, *store.Store) {
	t.Helper()
	st := store.NewStore(dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema)))
	orch, err := New(st, adapters, nil)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return orch, st
}

func TestEnrich_FetchesAndCaches(t *testing.T) {
	// WHAT: A cache miss fetches live, persists, and a second call serves
	// from cache without touching the adapter again.
	fa := &fakeAdapter{name: "github", items: []Item{
		{Title: "repo-a", URL: "https://example.com/a", Score: 0.9},
		{Title: "repo-b", URL: "https://example.com/b", Score: 0.5},
	}}
	orch, _ := testOrchestrator(t, fa)
	ctx := context.Background()

	res, err := orch.Enrich(ctx, "AML.T0051", "Prompt Injection")
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	sr := res["github"]
	if sr.Cached {
		t.Error("first call should not be cached")
	}
	if len(sr.Items) != 2 || sr.Items[0].URL != "https://example.com/a" {
		t.Errorf("items: got %+v", sr.Items)
	}

	res2, err := orch.Enrich(ctx, "AML.T0051", "Prompt Injection")
	if err != nil {
		t.Fatalf("second enrich: %v", err)
	}
	if !res2["github"].Cached {
		t.Error("second call should be served from cache")
	}
	if got := fa.calls.Load(); got != 1 {
		t.Errorf("adapter calls: got %d, want 1", got)
	}
}

func TestEnrich_ExpiredCacheRefetches(t *testing.T) {
	// WHAT: Entries past their TTL are treated as a miss.
	fa := &fakeAdapter{name: "github", ttl: time.Hour, items: []Item{
		{Title: "repo", URL: "https://example.com/r", Score: 0.9},
	}}
	orch, _ := testOrchestrator(t, fa)
	ctx := context.Background()

	base := time.Now()
	orch.SetClock(func() time.Time { return base })
	if _, err := orch.Enrich(ctx, "AML.T0051", "Prompt Injection"); err != nil {
		t.Fatalf("first enrich: %v", err)
	}

	orch.SetClock(func() time.Time { return base.Add(2 * time.Hour) })
	res, err := orch.Enrich(ctx, "AML.T0051", "Prompt Injection")
	if err != nil {
		t.Fatalf("second enrich: %v", err)
	}
	if res["github"].Cached {
		t.Error("expired entry served as fresh")
	}
	if got := fa.calls.Load(); got != 2 {
		t.Errorf("adapter calls: got %d, want 2", got)
	}
}

func TestForceRefresh_BypassesFreshCache(t *testing.T) {
	// WHAT: Force refresh discards a fresh cache and fetches live.
	fa := &fakeAdapter{name: "github", items: []Item{
		{Title: "repo", URL: "https://example.com/r", Score: 0.9},
	}}
	orch, _ := testOrchestrator(t, fa)
	ctx := context.Background()

	if _, err := orch.Enrich(ctx, "AML.T0051", "Prompt Injection"); err != nil {
		t.Fatalf("enrich: %v", err)
	}
	res, err := orch.ForceRefresh(ctx, "AML.T0051", "Prompt Injection")
	if err != nil {
		t.Fatalf("force refresh: %v", err)
	}
	if res["github"].Cached {
		t.Error("force refresh reported cached result")
	}
	if got := fa.calls.Load(); got != 2 {
		t.Errorf("adapter calls: got %d, want 2", got)
	}
}

func TestEnrich_SourceFailureIsolated(t *testing.T) {
	// WHAT: One source failing leaves the others' results intact; the
	// failure surfaces per-source, not as a pass-level error.
	good := &fakeAdapter{name: "github", items: []Item{{Title: "r", URL: "https://example.com/r", Score: 0.9}}}
	bad := &fakeAdapter{name: "nvd", err: errors.New("boom")}
	orch, _ := testOrchestrator(t, good, bad)

	res, err := orch.Enrich(context.Background(), "AML.T0051", "Prompt Injection")
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if res["nvd"].Err == nil {
		t.Error("nvd failure not reported")
	}
	if len(res["github"].Items) != 1 {
		t.Errorf("github items lost: %+v", res["github"])
	}
}

func TestEnrich_EmptyResultsNotCached(t *testing.T) {
	// WHAT: A source returning nothing is retried on the next request
	// instead of caching emptiness for a full TTL.
	fa := &fakeAdapter{name: "github"}
	orch, st := testOrchestrator(t, fa)
	ctx := context.Background()

	if _, err := orch.Enrich(ctx, "AML.T0051", "Prompt Injection"); err != nil {
		t.Fatalf("first enrich: %v", err)
	}
	if _, err := orch.Enrich(ctx, "AML.T0051", "Prompt Injection"); err != nil {
		t.Fatalf("second enrich: %v", err)
	}
	if got := fa.calls.Load(); got != 2 {
		t.Errorf("adapter calls: got %d, want 2", got)
	}
	entries, err := st.CacheEntries(ctx, "AML.T0051", "github")
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("empty result cached: %+v", entries)
	}
}

func TestEnrich_RateLimitedKeepsPartials(t *testing.T) {
	// WHAT: A rate-limited source still caches and returns the items it
	// gathered before the refusal.
	fa := &fakeAdapter{
		name:  "github",
		items: []Item{{Title: "partial", URL: "https://example.com/p", Score: 0.9}},
		err:   ErrRateLimited,
	}
	orch, st := testOrchestrator(t, fa)
	ctx := context.Background()

	res, err := orch.Enrich(ctx, "AML.T0051", "Prompt Injection")
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if res["github"].Err != nil {
		t.Errorf("rate limit surfaced as failure: %v", res["github"].Err)
	}
	if len(res["github"].Items) != 1 {
		t.Errorf("partials lost: %+v", res["github"])
	}
	entries, err := st.CacheEntries(ctx, "AML.T0051", "github")
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("partials not cached: %+v", entries)
	}
}

func TestEnrich_ConcurrentRequestsShareOneFetch(t *testing.T) {
	// WHAT: Overlapping requests for the same technique and source collapse
	// into a single upstream fetch.
	fa := &fakeAdapter{
		name:  "github",
		items: []Item{{Title: "repo", URL: "https://example.com/r", Score: 0.9}},
		gate:  make(chan struct{}),
	}
	orch, _ := testOrchestrator(t, fa)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := orch.Enrich(ctx, "AML.T0051", "Prompt Injection"); err != nil {
				t.Errorf("enrich: %v", err)
			}
		}()
	}
	// Let every goroutine reach the in-flight fetch before releasing it.
	time.Sleep(100 * time.Millisecond)
	close(fa.gate)
	wg.Wait()

	if got := fa.calls.Load(); got != 1 {
		t.Errorf("adapter calls: got %d, want 1", got)
	}
}

func TestEnrich_CanceledCallerDoesNotFailSharedFetch(t *testing.T) {
	// WHAT: When two callers share one in-flight fetch and the first one
	// cancels, the survivor still gets the fetched items.
	// WHY: The shared flight must not run on any single caller's context.
	fa := &fakeAdapter{
		name:  "github",
		items: []Item{{Title: "repo", URL: "https://example.com/r", Score: 0.9}},
		gate:  make(chan struct{}),
	}
	orch, _ := testOrchestrator(t, fa)

	ctxA, cancelA := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		orch.Enrich(ctxA, "AML.T0051", "Prompt Injection")
	}()
	time.Sleep(50 * time.Millisecond)

	var res Result
	var err error
	survivor := make(chan struct{})
	go func() {
		defer close(survivor)
		res, err = orch.Enrich(context.Background(), "AML.T0051", "Prompt Injection")
	}()
	time.Sleep(50 * time.Millisecond)

	cancelA()
	close(fa.gate)
	<-done
	<-survivor

	if err != nil {
		t.Fatalf("survivor enrich: %v", err)
	}
	if res["github"].Err != nil {
		t.Fatalf("survivor source failed: %v", res["github"].Err)
	}
	if len(res["github"].Items) != 1 {
		t.Errorf("survivor items: got %+v", res["github"])
	}
	if got := fa.calls.Load(); got != 1 {
		t.Errorf("adapter calls: got %d, want 1", got)
	}
}

func TestCached_NothingCachedReturnsNil(t *testing.T) {
	// WHAT: With no rows for any source, the cache-only read reports
	// absence as a nil result rather than a map of empty source results.
	// WHY: Callers distinguish "nothing cached, go fetch" from "cached
	// but empty" by that nil.
	fa := &fakeAdapter{name: "github"}
	orch, _ := testOrchestrator(t, fa)

	res, err := orch.Cached(context.Background(), "AML.T9999")
	if err != nil {
		t.Fatalf("cached: %v", err)
	}
	if res != nil {
		t.Errorf("empty cache: got %v, want nil", res)
	}
	if got := fa.calls.Load(); got != 0 {
		t.Errorf("adapter called %d times on cache-only path", got)
	}
}

func TestCached_ServesExpiredWithoutNetwork(t *testing.T) {
	// WHAT: The cache-only path returns whatever is stored, even expired,
	// and never calls an adapter.
	fa := &fakeAdapter{name: "github"}
	orch, st := testOrchestrator(t, fa)
	ctx := context.Background()

	expired := []*store.CacheItem{{
		TechniqueID: "AML.T0051", Source: "github",
		Title: "old", URL: "https://example.com/old",
		FetchedAt: 1, ExpiresAt: 2,
	}}
	if err := st.ReplaceCacheEntries(ctx, "AML.T0051", "github", expired); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	res, err := orch.Cached(ctx, "AML.T0051")
	if err != nil {
		t.Fatalf("cached: %v", err)
	}
	if len(res["github"].Items) != 1 || res["github"].Items[0].Title != "old" {
		t.Errorf("items: got %+v", res["github"])
	}
	if got := fa.calls.Load(); got != 0 {
		t.Errorf("adapter called %d times on cache-only path", got)
	}
}

func TestKeywordCatalog_Terms(t *testing.T) {
	// WHAT: The technique name leads, curated terms follow, duplicates drop.
	cat, err := loadKeywordCatalog()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}

	terms := cat.Terms("AML.T0051", "LLM Prompt Injection")
	if len(terms) < 2 || terms[0] != "LLM Prompt Injection" {
		t.Errorf("terms: got %v", terms)
	}

	unknown := cat.Terms("AML.T9999", "Mystery Technique")
	if len(unknown) != 1 || unknown[0] != "Mystery Technique" {
		t.Errorf("unknown technique terms: got %v", unknown)
	}
}
