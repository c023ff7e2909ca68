package enrich

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	arxivSource     = "arxiv"
	arxivTTL        = 24 * time.Hour
	arxivMaxTerms   = 3
	arxivMaxItems   = 15
	arxivPerTerm    = 10
	arxivMaxSummary = 500
	arxivDefaultAPI = "http://export.arxiv.org/api/query"
)

// ArXiv searches the preprint index over its Atom feed. Papers found by an
// earlier, more specific term outrank papers found only by later terms:
// score = 1.0 - 0.2 * termRank.
type ArXiv struct {
	BaseURL string
	Client  *http.Client
}

func NewArXiv(client *http.Client) *ArXiv {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &ArXiv{BaseURL: arxivDefaultAPI, Client: client}
}

func (a *ArXiv) Name() string       { return arxivSource }
func (a *ArXiv) TTL() time.Duration { return arxivTTL }

type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title   string     `xml:"title"`
	Summary string     `xml:"summary"`
	Links   []atomLink `xml:"link"`
	ID      string     `xml:"id"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

func (e atomEntry) url() string {
	for _, l := range e.Links {
		if l.Rel == "alternate" || l.Rel == "" {
			return l.Href
		}
	}
	return e.ID
}

func (a *ArXiv) Search(ctx context.Context, terms []string) ([]Item, error) {
	if len(terms) > arxivMaxTerms {
		terms = terms[:arxivMaxTerms]
	}
	seen := make(map[string]bool)
	var items []Item
	for rank, term := range terms {
		entries, err := a.searchTerm(ctx, term)
		if err != nil {
			return topK(items, arxivMaxItems), err
		}
		score := 1.0 - 0.2*float64(rank)
		for _, e := range entries {
			u := e.url()
			if u == "" || seen[u] {
				continue
			}
			seen[u] = true
			items = append(items, Item{
				Title:   collapseSpace(e.Title),
				URL:     u,
				Summary: truncate(collapseSpace(e.Summary), arxivMaxSummary),
				Score:   score,
			})
		}
	}
	return topK(items, arxivMaxItems), nil
}

func (a *ArXiv) searchTerm(ctx context.Context, term string) ([]atomEntry, error) {
	q := url.Values{}
	q.Set("search_query", fmt.Sprintf("all:%q", term))
	q.Set("start", "0")
	q.Set("max_results", fmt.Sprint(arxivPerTerm))
	q.Set("sortBy", "relevance")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("arxiv request: %w", err)
	}
	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("arxiv fetch: %w", err)
	}
	defer resp.Body.Close()
	if err := statusFromResponse(resp, arxivSource); err != nil {
		return nil, err
	}

	var feed atomFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("arxiv decode: %w", err)
	}
	return feed.Entries, nil
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate cuts s to at most max bytes, backing up to a rune boundary so
// the stored summary stays valid UTF-8.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
