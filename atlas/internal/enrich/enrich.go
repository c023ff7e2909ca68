// Package enrich fetches open-source intelligence about techniques from
// public indexes and keeps the results in a per-source TTL cache.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/hazyhaar/atlasmirror/atlas/internal/store"
)

// ErrRateLimited marks a fetch the remote index refused for quota reasons.
// Adapters return it wrapped so partial results gathered before the refusal
// are kept.
var ErrRateLimited = errors.New("enrich: rate limited by source")

// Item is one intelligence hit from a source, ordered by relevance.
type Item struct {
	Title   string
	URL     string
	Summary string
	Score   float64
}

// Adapter queries one external index for a set of search terms.
type Adapter interface {
	// Name is the stable source identifier stored alongside cached items.
	Name() string
	// TTL is how long cached results from this source stay fresh.
	TTL() time.Duration
	// Search runs the term queries and returns deduplicated items, best
	// first. A rate-limit refusal returns the items gathered so far plus
	// an error wrapping ErrRateLimited.
	Search(ctx context.Context, terms []string) ([]Item, error)
}

// SourceResult is the outcome for one source in an enrichment pass.
type SourceResult struct {
	Items     []*store.CacheItem
	Cached    bool
	FetchedAt int64
	Err       error
}

// Result maps source name to its outcome.
type Result map[string]*SourceResult

// Orchestrator coordinates cache lookups and live fetches across sources.
// Concurrent requests for the same technique and source share one fetch.
type Orchestrator struct {
	store    *store.Store
	adapters []Adapter
	catalog  *keywordCatalog
	logger   *slog.Logger
	group    singleflight.Group
	now      func() time.Time
}

// New builds an Orchestrator over st with the given adapters. A nil logger
// falls back to slog.Default.
func New(st *store.Store, adapters []Adapter, logger *slog.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cat, err := loadKeywordCatalog()
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		store:    st,
		adapters: adapters,
		catalog:  cat,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// SetClock replaces the time source. Test seam.
func (o *Orchestrator) SetClock(now func() time.Time) { o.now = now }

// Enrich returns intelligence for a technique, serving each source from
// cache while fresh and fetching live otherwise. Per-source failures are
// reported in the result, not returned; only context cancellation aborts
// the whole pass.
func (o *Orchestrator) Enrich(ctx context.Context, techniqueID, name string) (Result, error) {
	return o.run(ctx, techniqueID, name, false)
}

// ForceRefresh fetches every source live, ignoring cache freshness.
func (o *Orchestrator) ForceRefresh(ctx context.Context, techniqueID, name string) (Result, error) {
	if err := o.store.ClearCache(ctx, techniqueID); err != nil {
		return nil, fmt.Errorf("clear cache: %w", err)
	}
	return o.run(ctx, techniqueID, name, true)
}

// Cached returns only what the cache already holds, expired or not, with
// no network traffic. A nil result means no source has anything cached, so
// callers can fall through to a live fetch.
func (o *Orchestrator) Cached(ctx context.Context, techniqueID string) (Result, error) {
	res := make(Result, len(o.adapters))
	total := 0
	for _, a := range o.adapters {
		items, err := o.store.CacheEntries(ctx, techniqueID, a.Name())
		if err != nil {
			return nil, fmt.Errorf("cache entries %s: %w", a.Name(), err)
		}
		total += len(items)
		sr := &SourceResult{Items: items, Cached: true}
		if len(items) > 0 {
			sr.FetchedAt = items[0].FetchedAt
		}
		res[a.Name()] = sr
	}
	if total == 0 {
		return nil, nil
	}
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, techniqueID, name string, force bool) (Result, error) {
	terms := o.catalog.Terms(techniqueID, name)
	res := make(Result, len(o.adapters))
	for _, a := range o.adapters {
		res[a.Name()] = &SourceResult{}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range o.adapters {
		a := a
		sr := res[a.Name()]
		g.Go(func() error {
			items, cached, fetchedAt, err := o.source(gctx, a, techniqueID, terms, force)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				o.logger.Warn("enrichment source failed",
					"technique", techniqueID, "source", a.Name(), "error", err)
				sr.Err = err
				return nil
			}
			sr.Items = items
			sr.Cached = cached
			sr.FetchedAt = fetchedAt
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

type sourceOutcome struct {
	items     []*store.CacheItem
	cached    bool
	fetchedAt int64
}

func (o *Orchestrator) source(ctx context.Context, a Adapter, techniqueID string, terms []string, force bool) ([]*store.CacheItem, bool, int64, error) {
	nowMS := o.now().UnixMilli()

	if !force {
		entries, err := o.store.CacheEntries(ctx, techniqueID, a.Name())
		if err != nil {
			return nil, false, 0, fmt.Errorf("cache read: %w", err)
		}
		if len(entries) > 0 && entries[0].ExpiresAt > nowMS {
			return entries, true, entries[0].FetchedAt, nil
		}
	}

	key := techniqueID + "/" + a.Name()
	v, err, _ := o.group.Do(key, func() (any, error) {
		// The flight is shared by every waiter on this key; detach it
		// from the first caller's context so one cancellation cannot
		// fail the others. The adapter's own client timeout still
		// bounds the fetch.
		return o.fetch(context.WithoutCancel(ctx), a, techniqueID, terms)
	})
	if err != nil {
		return nil, false, 0, err
	}
	out := v.(*sourceOutcome)
	return out.items, out.cached, out.fetchedAt, nil
}

func (o *Orchestrator) fetch(ctx context.Context, a Adapter, techniqueID string, terms []string) (*sourceOutcome, error) {
	found, err := a.Search(ctx, terms)
	if err != nil && !errors.Is(err, ErrRateLimited) {
		return nil, err
	}
	if errors.Is(err, ErrRateLimited) {
		o.logger.Warn("enrichment source rate limited, keeping partial results",
			"technique", techniqueID, "source", a.Name(), "items", len(found))
	}

	now := o.now()
	nowMS := now.UnixMilli()
	items := make([]*store.CacheItem, 0, len(found))
	for _, f := range found {
		items = append(items, &store.CacheItem{
			TechniqueID: techniqueID,
			Source:      a.Name(),
			Title:       f.Title,
			URL:         f.URL,
			Summary:     f.Summary,
			Score:       f.Score,
			FetchedAt:   nowMS,
			ExpiresAt:   now.Add(a.TTL()).UnixMilli(),
		})
	}

	// Empty results are not cached, so a transient outage retries on the
	// next request instead of pinning an empty answer for a full TTL.
	if len(items) > 0 {
		if err := o.store.ReplaceCacheEntries(ctx, techniqueID, a.Name(), items); err != nil {
			return nil, fmt.Errorf("cache write: %w", err)
		}
	}
	return &sourceOutcome{items: items, fetchedAt: nowMS}, nil
}

// statusFromResponse maps a quota refusal to ErrRateLimited and any other
// non-2xx status to a plain error.
func statusFromResponse(resp *http.Response, source string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%s: status %d: %w", source, resp.StatusCode, ErrRateLimited)
	}
	return fmt.Errorf("%s: unexpected status %d", source, resp.StatusCode)
}
